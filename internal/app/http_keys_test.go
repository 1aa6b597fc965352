package app

import (
	"context"
	"net/http"
	"testing"

	"tally/api/internal/store"
)

func TestKeys_RequireSession(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*", nil)

	rr, payload := doRequest(t, server, http.MethodGet, "/api-keys", "", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if payload["error"] != "Unauthorized" {
		t.Errorf("unexpected body %v", payload)
	}
}

func TestKeys_List(t *testing.T) {
	limit := 10
	server := NewHTTPServer(newTestService(&fakeStore{
		listAPIKeysFn: func(_ context.Context, userID string) ([]store.APIKey, error) {
			if userID != "user_a" {
				t.Errorf("expected user_a, got %q", userID)
			}
			return []store.APIKey{
				{ID: "key_2", UserID: userID, Name: "ci", Value: "tally-x", Limit: &limit},
				{ID: "key_1", UserID: userID, Name: "dev", Value: "tally-y"},
			}, nil
		},
	}), "*", nil)

	rr, payload := doRequest(t, server, http.MethodGet, "/api-keys", sessionToken(t, "a@example.com"), "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	keys, ok := payload["apiKeys"].([]any)
	if !ok || len(keys) != 2 {
		t.Fatalf("expected apiKeys array of 2, got %v", payload)
	}
	first, _ := keys[0].(map[string]any)
	if first["id"] != "key_2" || first["limit"] != float64(10) {
		t.Errorf("unexpected first key %v", first)
	}
	second, _ := keys[1].(map[string]any)
	if second["limit"] != nil {
		t.Errorf("unlimited key should serialize limit as null, got %v", second["limit"])
	}
}

func TestKeys_CreateRequiresName(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*", nil)

	rr, payload := doRequest(t, server, http.MethodPost, "/api-keys", sessionToken(t, "a@example.com"), `{"limit":3}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if payload["error"] != "Name is required" {
		t.Errorf("unexpected body %v", payload)
	}
}

func TestKeys_CreateRejectsNegativeLimit(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*", nil)

	rr, _ := doRequest(t, server, http.MethodPost, "/api-keys", sessionToken(t, "a@example.com"), `{"name":"ci","limit":-1}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestKeys_Create(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*", nil)

	rr, payload := doRequest(t, server, http.MethodPost, "/api-keys", sessionToken(t, "a@example.com"), `{"name":"ci","limit":3}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if payload["success"] != true {
		t.Errorf("expected success=true, got %v", payload)
	}
	data, ok := payload["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object, got %v", payload)
	}
	if data["name"] != "ci" || data["limit"] != float64(3) || data["usage"] != float64(0) {
		t.Errorf("unexpected key %v", data)
	}
}

func TestKeys_GetNotFound(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*", nil)

	rr, payload := doRequest(t, server, http.MethodGet, "/api-keys/key_missing", sessionToken(t, "a@example.com"), "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if payload["error"] != "API key not found" {
		t.Errorf("unexpected body %v", payload)
	}
}

func TestKeys_UpdateLimitTriState(t *testing.T) {
	var captured store.KeyUpdate
	server := NewHTTPServer(newTestService(&fakeStore{
		updateAPIKeyFn: func(_ context.Context, _, keyID string, upd store.KeyUpdate) (store.APIKey, error) {
			captured = upd
			return store.APIKey{ID: keyID}, nil
		},
	}), "*", nil)

	token := sessionToken(t, "a@example.com")

	// Absent limit leaves the quota untouched.
	rr, _ := doRequest(t, server, http.MethodPut, "/api-keys/key_1", token, `{"name":"renamed"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if captured.SetLimit || captured.Name == nil || *captured.Name != "renamed" {
		t.Errorf("unexpected update %+v", captured)
	}

	// A number replaces it.
	doRequest(t, server, http.MethodPut, "/api-keys/key_1", token, `{"limit":5}`, nil)
	if !captured.SetLimit || captured.Limit == nil || *captured.Limit != 5 {
		t.Errorf("unexpected update %+v", captured)
	}

	// An explicit null clears it.
	doRequest(t, server, http.MethodPut, "/api-keys/key_1", token, `{"limit":null}`, nil)
	if !captured.SetLimit || captured.Limit != nil {
		t.Errorf("unexpected update %+v", captured)
	}
}

func TestKeys_Delete(t *testing.T) {
	deleted := false
	server := NewHTTPServer(newTestService(&fakeStore{
		deleteAPIKeyFn: func(_ context.Context, userID, keyID string) error {
			deleted = userID == "user_a" && keyID == "key_1"
			return nil
		},
	}), "*", nil)

	rr, payload := doRequest(t, server, http.MethodDelete, "/api-keys/key_1", sessionToken(t, "a@example.com"), "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if payload["success"] != true || !deleted {
		t.Errorf("delete not applied: %v deleted=%v", payload, deleted)
	}
}

func TestKeys_DeleteNotOwned(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*", nil)

	rr, payload := doRequest(t, server, http.MethodDelete, "/api-keys/key_foreign", sessionToken(t, "a@example.com"), "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if payload["error"] != "API key not found" {
		t.Errorf("unexpected body %v", payload)
	}
}
