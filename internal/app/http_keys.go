package app

import (
	"encoding/json"
	"net/http"

	"tally/api/internal/store"
)

func (s *HTTPServer) handleKeys(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method == http.MethodGet {
		keys, err := s.service.ListKeys(r.Context(), userID)
		if err != nil {
			status, message := mapError(err)
			writeError(w, status, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"apiKeys": keys})
		return
	}

	if r.Method == http.MethodPost {
		var body struct {
			Name  string `json:"name"`
			Limit *int   `json:"limit"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if body.Name == "" {
			writeError(w, http.StatusBadRequest, "Name is required")
			return
		}
		if body.Limit != nil && *body.Limit < 0 {
			writeError(w, http.StatusBadRequest, "Limit must be a non-negative integer")
			return
		}
		key, err := s.service.CreateKey(r.Context(), userID, body.Name, body.Limit)
		if err != nil {
			status, message := mapError(err)
			writeError(w, status, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": key})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func (s *HTTPServer) handleKeyByID(w http.ResponseWriter, r *http.Request, userID, keyID string) {
	if r.Method == http.MethodGet {
		key, err := s.service.GetKey(r.Context(), userID, keyID)
		if err != nil {
			status, message := mapError(err)
			writeError(w, status, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"apiKey": key})
		return
	}

	if r.Method == http.MethodPut {
		// limit is tri-state: absent leaves the quota alone, an explicit
		// null clears it, a number replaces it.
		var body struct {
			Name  *string         `json:"name"`
			Limit json.RawMessage `json:"limit"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		upd := store.KeyUpdate{Name: body.Name}
		if len(body.Limit) > 0 {
			upd.SetLimit = true
			if string(body.Limit) != "null" {
				var limit int
				if err := json.Unmarshal(body.Limit, &limit); err != nil || limit < 0 {
					writeError(w, http.StatusBadRequest, "Limit must be a non-negative integer")
					return
				}
				upd.Limit = &limit
			}
		}

		key, err := s.service.UpdateKey(r.Context(), userID, keyID, upd)
		if err != nil {
			status, message := mapError(err)
			writeError(w, status, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": key})
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.service.DeleteKey(r.Context(), userID, keyID); err != nil {
			status, message := mapError(err)
			writeError(w, status, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}
