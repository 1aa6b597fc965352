package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"tally/api/internal/auth"
	"tally/api/internal/config"
	"tally/api/internal/github"
	"tally/api/internal/store"
	"tally/api/internal/util"
)

// keySecretPrefix tags every minted credential; the 40-char random suffix
// carries the entropy.
const (
	keySecretPrefix = "tally"
	keySecretLength = 40
)

type dataStore interface {
	Ping(context.Context) error
	GetUserByEmail(context.Context, string) (store.User, error)

	ListAPIKeys(context.Context, string) ([]store.APIKey, error)
	GetAPIKey(context.Context, string, string) (store.APIKey, error)
	InsertAPIKey(context.Context, store.APIKey) (store.APIKey, error)
	UpdateAPIKey(context.Context, string, string, store.KeyUpdate) (store.APIKey, error)
	DeleteAPIKey(context.Context, string, string) error
	LookupAPIKeyIDBySecret(context.Context, string) (string, error)
	AdmitAPIKey(context.Context, string) (string, error)

	ListProjects(context.Context, string) ([]store.Project, error)
	GetProject(context.Context, string, string) (store.Project, error)
	InsertProject(context.Context, store.Project) (store.Project, error)
	UpdateProject(context.Context, string, string, string) (store.Project, error)
	DeleteProject(context.Context, string, string) error

	ListSections(context.Context, string, string) ([]store.Section, error)
	GetSection(context.Context, string, string) (store.Section, error)
	InsertSection(context.Context, store.Section) (store.Section, error)
	UpdateSection(context.Context, string, string, string, *string) (store.Section, error)
	DeleteSection(context.Context, string, string) error

	ListTasks(context.Context, string, store.TaskFilter) ([]store.Task, error)
	GetTask(context.Context, string, string) (store.Task, error)
	InsertTask(context.Context, store.Task) (store.Task, error)
	UpdateTask(context.Context, string, string, store.TaskUpdate) (store.Task, error)
	DeleteTask(context.Context, string, string) error
}

type repoFetcher interface {
	FetchRepo(ctx context.Context, owner, repo string) (github.RepoInfo, error)
}

type repoCache interface {
	Get(ctx context.Context, owner, repo string) (github.RepoInfo, bool)
	Put(ctx context.Context, info github.RepoInfo) error
}

type Service struct {
	cfg    config.Config
	store  dataStore
	github repoFetcher
	cache  repoCache
}

// New wires the service from explicitly constructed collaborators. cache may
// be nil; the summarizer then fetches directly on every call.
func New(cfg config.Config, dataStore dataStore, fetcher repoFetcher, cache repoCache) *Service {
	return &Service{
		cfg:    cfg,
		store:  dataStore,
		github: fetcher,
		cache:  cache,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// UserIDFromToken authenticates a session bearer token and resolves it to a
// user row. A valid token whose email has no user row is a 404, distinct
// from the 401 for a missing or bad token.
func (s *Service) UserIDFromToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", domainError(http.StatusUnauthorized, "Unauthorized")
	}
	email, err := auth.ParseEmail([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return "", domainError(http.StatusUnauthorized, "Unauthorized")
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domainError(http.StatusNotFound, "User not found")
	}
	if err != nil {
		return "", fmt.Errorf("resolve user %s: %w", email, err)
	}
	return user.ID, nil
}

// ── API key registry ──

func (s *Service) ListKeys(ctx context.Context, userID string) ([]store.APIKey, error) {
	return s.store.ListAPIKeys(ctx, userID)
}

func (s *Service) CreateKey(ctx context.Context, userID, name string, limit *int) (store.APIKey, error) {
	key := store.APIKey{
		ID:     util.NewID("key"),
		UserID: userID,
		Name:   name,
		Value:  util.NewSecret(keySecretPrefix, keySecretLength),
		Usage:  0,
		Limit:  limit,
	}
	return s.store.InsertAPIKey(ctx, key)
}

func (s *Service) GetKey(ctx context.Context, userID, keyID string) (store.APIKey, error) {
	key, err := s.store.GetAPIKey(ctx, userID, keyID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.APIKey{}, domainError(http.StatusNotFound, "API key not found")
	}
	if err != nil {
		return store.APIKey{}, err
	}
	return key, nil
}

func (s *Service) UpdateKey(ctx context.Context, userID, keyID string, upd store.KeyUpdate) (store.APIKey, error) {
	key, err := s.store.UpdateAPIKey(ctx, userID, keyID, upd)
	if errors.Is(err, sql.ErrNoRows) {
		return store.APIKey{}, domainError(http.StatusNotFound, "API key not found")
	}
	if err != nil {
		return store.APIKey{}, err
	}
	return key, nil
}

func (s *Service) DeleteKey(ctx context.Context, userID, keyID string) error {
	err := s.store.DeleteAPIKey(ctx, userID, keyID)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "API key not found")
	}
	return err
}

// ── Usage gate ──

// ValidateKey is the check-only path: it confirms the secret exists and
// never touches the usage counter.
func (s *Service) ValidateKey(ctx context.Context, secret string) error {
	_, err := s.store.LookupAPIKeyIDBySecret(ctx, secret)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusUnauthorized, "Invalid API key")
	}
	return err
}

// AdmitKey meters one request against the secret's quota. The increment and
// the quota check happen in one conditional update, so a key with limit N
// admits exactly N requests even under concurrent callers.
func (s *Service) AdmitKey(ctx context.Context, secret string) (string, error) {
	keyID, err := s.store.AdmitAPIKey(ctx, secret)
	if errors.Is(err, store.ErrKeyNotFound) {
		return "", domainError(http.StatusBadRequest, "Invalid API key")
	}
	if errors.Is(err, store.ErrKeyRateLimited) {
		return "", domainError(http.StatusTooManyRequests, "Rate limit exceeded")
	}
	if err != nil {
		return "", err
	}
	return keyID, nil
}

// ── Repository summarizer ──

// SummaryResponse is the wire payload for a generated repository summary.
// The pointer fields serialize as null when the repository has no release,
// homepage, or license.
type SummaryResponse struct {
	Message       string   `json:"message"`
	Summary       string   `json:"summary"`
	CoolFacts     []string `json:"cool_facts"`
	Stars         int      `json:"stars"`
	LatestVersion *string  `json:"latestVersion"`
	WebsiteURL    *string  `json:"websiteUrl"`
	LicenseType   *string  `json:"licenseType"`
}

// SummarizeRepo fetches repository info (through the cache when one is
// configured) and produces the bounded heuristic summary payload.
func (s *Service) SummarizeRepo(ctx context.Context, repoURL string) (SummaryResponse, error) {
	owner, repo, err := github.ParseRepoURL(repoURL)
	if err != nil {
		return SummaryResponse{}, domainError(http.StatusInternalServerError, "Error processing GitHub repository summary")
	}

	info, cached := github.RepoInfo{}, false
	if s.cache != nil {
		info, cached = s.cache.Get(ctx, owner, repo)
	}
	if !cached {
		info, err = s.github.FetchRepo(ctx, owner, repo)
		if err != nil {
			return SummaryResponse{}, domainError(http.StatusInternalServerError, "Error processing GitHub repository summary")
		}
		if s.cache != nil {
			if err := s.cache.Put(ctx, info); err != nil {
				slog.Warn("repo cache write failed", "owner", owner, "repo", repo, "error", err)
			}
		}
	}

	summary := github.Summarize(info.ReadmeContent)
	return SummaryResponse{
		Message:       "GitHub repository summary generated successfully",
		Summary:       summary.Summary,
		CoolFacts:     summary.CoolFacts,
		Stars:         info.Stars,
		LatestVersion: info.LatestVersion,
		WebsiteURL:    info.WebsiteURL,
		LicenseType:   info.LicenseType,
	}, nil
}
