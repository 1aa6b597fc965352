package app

import (
	"encoding/json"
	"net/http"
	"time"

	"tally/api/internal/store"
)

func (s *HTTPServer) handleProjects(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method == http.MethodGet {
		projects, err := s.service.ListProjects(r.Context(), userID)
		if err != nil {
			status, message := mapError(err)
			writeError(w, status, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
		return
	}

	if r.Method == http.MethodPost {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if body.Name == "" {
			writeError(w, http.StatusBadRequest, "Project name is required")
			return
		}
		project, err := s.service.CreateProject(r.Context(), userID, body.Name)
		if err != nil {
			status, message := mapError(err)
			writeError(w, status, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "project": project})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func (s *HTTPServer) handleProjectByID(w http.ResponseWriter, r *http.Request, userID, projectID string) {
	if r.Method == http.MethodGet {
		project, err := s.service.GetProject(r.Context(), userID, projectID)
		if err != nil {
			status, message := mapError(err)
			writeError(w, status, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"project": project})
		return
	}

	if r.Method == http.MethodPut {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if body.Name == "" {
			writeError(w, http.StatusBadRequest, "Project name is required")
			return
		}
		project, err := s.service.UpdateProject(r.Context(), userID, projectID, body.Name)
		if err != nil {
			status, message := mapError(err)
			writeError(w, status, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "project": project})
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.service.DeleteProject(r.Context(), userID, projectID); err != nil {
			status, message := mapError(err)
			writeError(w, status, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func (s *HTTPServer) handleSections(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method == http.MethodGet {
		sections, err := s.service.ListSections(r.Context(), userID, r.URL.Query().Get("project_id"))
		if err != nil {
			status, message := mapError(err)
			writeError(w, status, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sections": sections})
		return
	}

	if r.Method == http.MethodPost {
		var body struct {
			Name      string `json:"name"`
			ProjectID string `json:"project_id"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if body.Name == "" {
			writeError(w, http.StatusBadRequest, "Section name is required")
			return
		}
		if body.ProjectID == "" {
			writeError(w, http.StatusBadRequest, "Project ID is required")
			return
		}
		section, err := s.service.CreateSection(r.Context(), userID, body.Name, body.ProjectID)
		if err != nil {
			status, message := mapError(err)
			writeError(w, status, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "section": section})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func (s *HTTPServer) handleSectionByID(w http.ResponseWriter, r *http.Request, userID, sectionID string) {
	if r.Method == http.MethodGet {
		section, err := s.service.GetSection(r.Context(), userID, sectionID)
		if err != nil {
			status, message := mapError(err)
			writeError(w, status, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"section": section})
		return
	}

	if r.Method == http.MethodPut {
		var body struct {
			Name      string  `json:"name"`
			ProjectID *string `json:"project_id"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if body.Name == "" {
			writeError(w, http.StatusBadRequest, "Section name is required")
			return
		}
		section, err := s.service.UpdateSection(r.Context(), userID, sectionID, body.Name, body.ProjectID)
		if err != nil {
			status, message := mapError(err)
			writeError(w, status, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "section": section})
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.service.DeleteSection(r.Context(), userID, sectionID); err != nil {
			status, message := mapError(err)
			writeError(w, status, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func (s *HTTPServer) handleTasks(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method == http.MethodGet {
		query := r.URL.Query()
		filter := store.TaskFilter{
			SectionID: query.Get("section_id"),
			ProjectID: query.Get("project_id"),
		}
		if query.Has("parent_task_id") {
			parent := query.Get("parent_task_id")
			filter.ParentTaskID = &parent
		}
		if query.Has("is_completed") {
			completed := query.Get("is_completed") == "true"
			filter.IsCompleted = &completed
		}
		tasks, err := s.service.ListTasks(r.Context(), userID, filter)
		if err != nil {
			status, message := mapError(err)
			writeError(w, status, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
		return
	}

	if r.Method == http.MethodPost {
		var body struct {
			Title        string  `json:"title"`
			SectionID    string  `json:"section_id"`
			ParentTaskID *string `json:"parent_task_id"`
			DueDate      *string `json:"due_date"`
			IsCompleted  bool    `json:"is_completed"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if body.Title == "" {
			writeError(w, http.StatusBadRequest, "Task title is required")
			return
		}
		if body.SectionID == "" {
			writeError(w, http.StatusBadRequest, "Section ID is required")
			return
		}
		dueDate, err := parseDueDate(body.DueDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid due date")
			return
		}
		task, err := s.service.CreateTask(r.Context(), userID, store.Task{
			Title:        body.Title,
			SectionID:    body.SectionID,
			ParentTaskID: body.ParentTaskID,
			DueDate:      dueDate,
			IsCompleted:  body.IsCompleted,
		})
		if err != nil {
			status, message := mapError(err)
			writeError(w, status, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "task": task})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func (s *HTTPServer) handleTaskByID(w http.ResponseWriter, r *http.Request, userID, taskID string) {
	if r.Method == http.MethodGet {
		task, err := s.service.GetTask(r.Context(), userID, taskID)
		if err != nil {
			status, message := mapError(err)
			writeError(w, status, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"task": task})
		return
	}

	if r.Method == http.MethodPut {
		// parent_task_id and due_date are tri-state: absent means keep,
		// null means clear, a value means replace.
		var body struct {
			Title        string          `json:"title"`
			SectionID    *string         `json:"section_id"`
			ParentTaskID json.RawMessage `json:"parent_task_id"`
			DueDate      json.RawMessage `json:"due_date"`
			IsCompleted  *bool           `json:"is_completed"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if body.Title == "" {
			writeError(w, http.StatusBadRequest, "Task title is required")
			return
		}

		upd := store.TaskUpdate{
			Title:       &body.Title,
			SectionID:   body.SectionID,
			IsCompleted: body.IsCompleted,
		}

		if len(body.ParentTaskID) > 0 {
			if string(body.ParentTaskID) == "null" {
				upd.ClearParent = true
			} else {
				var parent string
				if err := json.Unmarshal(body.ParentTaskID, &parent); err != nil {
					writeError(w, http.StatusBadRequest, "Invalid parent task id")
					return
				}
				upd.ParentTaskID = &parent
			}
		}

		if len(body.DueDate) > 0 {
			if string(body.DueDate) == "null" {
				upd.ClearDueDate = true
			} else {
				var raw string
				if err := json.Unmarshal(body.DueDate, &raw); err != nil {
					writeError(w, http.StatusBadRequest, "Invalid due date")
					return
				}
				dueDate, err := parseDueDate(&raw)
				if err != nil {
					writeError(w, http.StatusBadRequest, "Invalid due date")
					return
				}
				upd.DueDate = dueDate
			}
		}

		task, err := s.service.UpdateTask(r.Context(), userID, taskID, upd)
		if err != nil {
			status, message := mapError(err)
			writeError(w, status, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "task": task})
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.service.DeleteTask(r.Context(), userID, taskID); err != nil {
			status, message := mapError(err)
			writeError(w, status, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

// parseDueDate accepts RFC 3339 timestamps or bare dates.
func parseDueDate(raw *string) (*time.Time, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, *raw); err == nil {
		return &parsed, nil
	}
	parsed, err := time.Parse("2006-01-02", *raw)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
