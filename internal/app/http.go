package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// ipLimiter throttles anonymous endpoints per caller address. A nil limiter
// disables throttling.
type ipLimiter interface {
	Allow(key string) bool
}

type HTTPServer struct {
	service    *Service
	corsOrigin string
	limiter    ipLimiter
}

func NewHTTPServer(service *Service, corsOrigin string, limiter ipLimiter) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, limiter: limiter}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Key-authenticated routes, no session required.
	if r.Method == http.MethodPost && r.URL.Path == "/validate-key" {
		s.handleValidateKey(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/github-summarizer" {
		s.handleSummarize(w, r)
		return
	}

	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)

	switch {
	case len(parts) == 1 && parts[0] == "api-keys":
		s.handleKeys(w, r, userID)
	case len(parts) == 2 && parts[0] == "api-keys":
		s.handleKeyByID(w, r, userID, parts[1])
	case len(parts) == 1 && parts[0] == "projects":
		s.handleProjects(w, r, userID)
	case len(parts) == 2 && parts[0] == "projects":
		s.handleProjectByID(w, r, userID, parts[1])
	case len(parts) == 1 && parts[0] == "sections":
		s.handleSections(w, r, userID)
	case len(parts) == 2 && parts[0] == "sections":
		s.handleSectionByID(w, r, userID, parts[1])
	case len(parts) == 1 && parts[0] == "tasks":
		s.handleTasks(w, r, userID)
	case len(parts) == 2 && parts[0] == "tasks":
		s.handleTaskByID(w, r, userID, parts[1])
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

// handleValidateKey is the check-only path. It reports validity without
// touching the usage counter, so it is throttled per caller address to keep
// it from serving as a free key oracle.
func (s *HTTPServer) handleValidateKey(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow(clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "Too many requests")
		return
	}

	var body struct {
		APIKey string `json:"apiKey"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.APIKey == "" {
		writeError(w, http.StatusBadRequest, "API key is required")
		return
	}

	if err := s.service.ValidateKey(r.Context(), body.APIKey); err != nil {
		var domainErr *DomainError
		if errors.As(err, &domainErr) && domainErr.Status == http.StatusUnauthorized {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Invalid API key"})
			return
		}
		slog.Error("validate key failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Error validating API key")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": "Valid API key"})
}

// handleSummarize meters the presented key before looking at the repository
// URL, so a malformed body still consumes one admission.
func (s *HTTPServer) handleSummarize(w http.ResponseWriter, r *http.Request) {
	secret := strings.TrimSpace(r.Header.Get("x-api-key"))
	if secret == "" {
		writeError(w, http.StatusBadRequest, "API key is required")
		return
	}

	var body struct {
		GithubURL string `json:"githubUrl"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := s.service.AdmitKey(r.Context(), secret); err != nil {
		status, message := mapError(err)
		writeError(w, status, message)
		return
	}

	if body.GithubURL == "" {
		writeError(w, http.StatusBadRequest, "Repository URL is required")
		return
	}

	payload, err := s.service.SummarizeRepo(r.Context(), body.GithubURL)
	if err != nil {
		status, message := mapError(err)
		writeError(w, status, message)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := s.service.UserIDFromToken(r.Context(), bearerToken(r))
	if err != nil {
		status, message := mapError(err)
		writeError(w, status, message)
		return "", false
	}
	return userID, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		slog.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, x-api-key")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// mapError translates service errors into a status and client-safe message.
// Unexpected errors become a generic 500 with the cause logged server-side.
func mapError(err error) (int, string) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Message
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "Not found"
	}
	slog.Error("request failed", "error", err)
	return http.StatusInternalServerError, "Internal server error"
}
