package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"tally/api/internal/auth"
	"tally/api/internal/config"
	"tally/api/internal/github"
	"tally/api/internal/store"
)

const testJWTSecret = "test-secret"

// fakeStore implements dataStore with per-method hooks. Unhooked lookups
// report sql.ErrNoRows so ownership failures are the default.
type fakeStore struct {
	pingFn           func(context.Context) error
	getUserByEmailFn func(context.Context, string) (store.User, error)

	listAPIKeysFn            func(context.Context, string) ([]store.APIKey, error)
	getAPIKeyFn              func(context.Context, string, string) (store.APIKey, error)
	insertAPIKeyFn           func(context.Context, store.APIKey) (store.APIKey, error)
	updateAPIKeyFn           func(context.Context, string, string, store.KeyUpdate) (store.APIKey, error)
	deleteAPIKeyFn           func(context.Context, string, string) error
	lookupAPIKeyIDBySecretFn func(context.Context, string) (string, error)
	admitAPIKeyFn            func(context.Context, string) (string, error)

	listProjectsFn  func(context.Context, string) ([]store.Project, error)
	getProjectFn    func(context.Context, string, string) (store.Project, error)
	insertProjectFn func(context.Context, store.Project) (store.Project, error)
	updateProjectFn func(context.Context, string, string, string) (store.Project, error)
	deleteProjectFn func(context.Context, string, string) error

	listSectionsFn  func(context.Context, string, string) ([]store.Section, error)
	getSectionFn    func(context.Context, string, string) (store.Section, error)
	insertSectionFn func(context.Context, store.Section) (store.Section, error)
	updateSectionFn func(context.Context, string, string, string, *string) (store.Section, error)
	deleteSectionFn func(context.Context, string, string) error

	listTasksFn  func(context.Context, string, store.TaskFilter) ([]store.Task, error)
	getTaskFn    func(context.Context, string, string) (store.Task, error)
	insertTaskFn func(context.Context, store.Task) (store.Task, error)
	updateTaskFn func(context.Context, string, string, store.TaskUpdate) (store.Task, error)
	deleteTaskFn func(context.Context, string, string) error
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{ID: "user_a", Email: email}, nil
}

func (f *fakeStore) ListAPIKeys(ctx context.Context, userID string) ([]store.APIKey, error) {
	if f.listAPIKeysFn != nil {
		return f.listAPIKeysFn(ctx, userID)
	}
	return []store.APIKey{}, nil
}

func (f *fakeStore) GetAPIKey(ctx context.Context, userID, keyID string) (store.APIKey, error) {
	if f.getAPIKeyFn != nil {
		return f.getAPIKeyFn(ctx, userID, keyID)
	}
	return store.APIKey{}, sql.ErrNoRows
}

func (f *fakeStore) InsertAPIKey(ctx context.Context, key store.APIKey) (store.APIKey, error) {
	if f.insertAPIKeyFn != nil {
		return f.insertAPIKeyFn(ctx, key)
	}
	return key, nil
}

func (f *fakeStore) UpdateAPIKey(ctx context.Context, userID, keyID string, upd store.KeyUpdate) (store.APIKey, error) {
	if f.updateAPIKeyFn != nil {
		return f.updateAPIKeyFn(ctx, userID, keyID, upd)
	}
	return store.APIKey{}, sql.ErrNoRows
}

func (f *fakeStore) DeleteAPIKey(ctx context.Context, userID, keyID string) error {
	if f.deleteAPIKeyFn != nil {
		return f.deleteAPIKeyFn(ctx, userID, keyID)
	}
	return sql.ErrNoRows
}

func (f *fakeStore) LookupAPIKeyIDBySecret(ctx context.Context, secret string) (string, error) {
	if f.lookupAPIKeyIDBySecretFn != nil {
		return f.lookupAPIKeyIDBySecretFn(ctx, secret)
	}
	return "", sql.ErrNoRows
}

func (f *fakeStore) AdmitAPIKey(ctx context.Context, secret string) (string, error) {
	if f.admitAPIKeyFn != nil {
		return f.admitAPIKeyFn(ctx, secret)
	}
	return "", store.ErrKeyNotFound
}

func (f *fakeStore) ListProjects(ctx context.Context, userID string) ([]store.Project, error) {
	if f.listProjectsFn != nil {
		return f.listProjectsFn(ctx, userID)
	}
	return []store.Project{}, nil
}

func (f *fakeStore) GetProject(ctx context.Context, userID, projectID string) (store.Project, error) {
	if f.getProjectFn != nil {
		return f.getProjectFn(ctx, userID, projectID)
	}
	return store.Project{}, sql.ErrNoRows
}

func (f *fakeStore) InsertProject(ctx context.Context, project store.Project) (store.Project, error) {
	if f.insertProjectFn != nil {
		return f.insertProjectFn(ctx, project)
	}
	return project, nil
}

func (f *fakeStore) UpdateProject(ctx context.Context, userID, projectID, name string) (store.Project, error) {
	if f.updateProjectFn != nil {
		return f.updateProjectFn(ctx, userID, projectID, name)
	}
	return store.Project{}, sql.ErrNoRows
}

func (f *fakeStore) DeleteProject(ctx context.Context, userID, projectID string) error {
	if f.deleteProjectFn != nil {
		return f.deleteProjectFn(ctx, userID, projectID)
	}
	return sql.ErrNoRows
}

func (f *fakeStore) ListSections(ctx context.Context, userID, projectID string) ([]store.Section, error) {
	if f.listSectionsFn != nil {
		return f.listSectionsFn(ctx, userID, projectID)
	}
	return []store.Section{}, nil
}

func (f *fakeStore) GetSection(ctx context.Context, userID, sectionID string) (store.Section, error) {
	if f.getSectionFn != nil {
		return f.getSectionFn(ctx, userID, sectionID)
	}
	return store.Section{}, sql.ErrNoRows
}

func (f *fakeStore) InsertSection(ctx context.Context, section store.Section) (store.Section, error) {
	if f.insertSectionFn != nil {
		return f.insertSectionFn(ctx, section)
	}
	return section, nil
}

func (f *fakeStore) UpdateSection(ctx context.Context, userID, sectionID, name string, projectID *string) (store.Section, error) {
	if f.updateSectionFn != nil {
		return f.updateSectionFn(ctx, userID, sectionID, name, projectID)
	}
	return store.Section{}, sql.ErrNoRows
}

func (f *fakeStore) DeleteSection(ctx context.Context, userID, sectionID string) error {
	if f.deleteSectionFn != nil {
		return f.deleteSectionFn(ctx, userID, sectionID)
	}
	return sql.ErrNoRows
}

func (f *fakeStore) ListTasks(ctx context.Context, userID string, filter store.TaskFilter) ([]store.Task, error) {
	if f.listTasksFn != nil {
		return f.listTasksFn(ctx, userID, filter)
	}
	return []store.Task{}, nil
}

func (f *fakeStore) GetTask(ctx context.Context, userID, taskID string) (store.Task, error) {
	if f.getTaskFn != nil {
		return f.getTaskFn(ctx, userID, taskID)
	}
	return store.Task{}, sql.ErrNoRows
}

func (f *fakeStore) InsertTask(ctx context.Context, task store.Task) (store.Task, error) {
	if f.insertTaskFn != nil {
		return f.insertTaskFn(ctx, task)
	}
	return task, nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, userID, taskID string, upd store.TaskUpdate) (store.Task, error) {
	if f.updateTaskFn != nil {
		return f.updateTaskFn(ctx, userID, taskID, upd)
	}
	return store.Task{}, sql.ErrNoRows
}

func (f *fakeStore) DeleteTask(ctx context.Context, userID, taskID string) error {
	if f.deleteTaskFn != nil {
		return f.deleteTaskFn(ctx, userID, taskID)
	}
	return sql.ErrNoRows
}

type fakeFetcher struct {
	fetchFn func(ctx context.Context, owner, repo string) (github.RepoInfo, error)
}

func (f *fakeFetcher) FetchRepo(ctx context.Context, owner, repo string) (github.RepoInfo, error) {
	if f.fetchFn != nil {
		return f.fetchFn(ctx, owner, repo)
	}
	return github.RepoInfo{}, nil
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg:    config.Config{JWTSecret: testJWTSecret},
		store:  fs,
		github: &fakeFetcher{},
	}
}

func sessionToken(t *testing.T, email string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testJWTSecret), email, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func TestUserIDFromToken(t *testing.T) {
	svc := newTestService(&fakeStore{
		getUserByEmailFn: func(_ context.Context, email string) (store.User, error) {
			if email != "a@example.com" {
				t.Errorf("expected token email, got %q", email)
			}
			return store.User{ID: "user_a", Email: email, DisplayName: "Ada"}, nil
		},
	})

	userID, err := svc.UserIDFromToken(context.Background(), sessionToken(t, "a@example.com"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "user_a" {
		t.Errorf("expected user_a, got %q", userID)
	}
}

func TestUserIDFromToken_MissingToken(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.UserIDFromToken(context.Background(), "")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestUserIDFromToken_NoUserRow(t *testing.T) {
	svc := newTestService(&fakeStore{
		getUserByEmailFn: func(context.Context, string) (store.User, error) {
			return store.User{}, sql.ErrNoRows
		},
	})

	_, err := svc.UserIDFromToken(context.Background(), sessionToken(t, "ghost@example.com"))
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
	if domainErr.Message != "User not found" {
		t.Errorf("unexpected message %q", domainErr.Message)
	}
}

func TestCreateKey_SecretFormat(t *testing.T) {
	var inserted store.APIKey
	svc := newTestService(&fakeStore{
		insertAPIKeyFn: func(_ context.Context, key store.APIKey) (store.APIKey, error) {
			inserted = key
			return key, nil
		},
	})

	key, err := svc.CreateKey(context.Background(), "user_a", "ci", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(key.Value, "tally-") {
		t.Errorf("secret missing prefix: %q", key.Value)
	}
	suffix := strings.TrimPrefix(key.Value, "tally-")
	if len(suffix) != 40 {
		t.Errorf("expected 40-char suffix, got %d", len(suffix))
	}
	for _, r := range suffix {
		alnum := (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !alnum {
			t.Errorf("suffix contains non-alphanumeric rune %q", r)
		}
	}
	if inserted.Usage != 0 {
		t.Errorf("new key usage should start at 0, got %d", inserted.Usage)
	}
	if !strings.HasPrefix(inserted.ID, "key_") {
		t.Errorf("unexpected key id %q", inserted.ID)
	}
}

func TestValidateKey_NeverMutates(t *testing.T) {
	admitted := 0
	svc := newTestService(&fakeStore{
		lookupAPIKeyIDBySecretFn: func(context.Context, string) (string, error) {
			return "key_1", nil
		},
		admitAPIKeyFn: func(context.Context, string) (string, error) {
			admitted++
			return "key_1", nil
		},
	})

	for i := 0; i < 3; i++ {
		if err := svc.ValidateKey(context.Background(), "tally-abc"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if admitted != 0 {
		t.Errorf("validate must not admit, saw %d admissions", admitted)
	}
}

func TestServiceValidateKey_Invalid(t *testing.T) {
	svc := newTestService(&fakeStore{})

	err := svc.ValidateKey(context.Background(), "tally-nope")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestAdmitKey_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		storeErr   error
		wantStatus int
		wantMsg    string
	}{
		{"invalid key", store.ErrKeyNotFound, http.StatusBadRequest, "Invalid API key"},
		{"rate limited", store.ErrKeyRateLimited, http.StatusTooManyRequests, "Rate limit exceeded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(&fakeStore{
				admitAPIKeyFn: func(context.Context, string) (string, error) {
					return "", tt.storeErr
				},
			})

			_, err := svc.AdmitKey(context.Background(), "tally-abc")
			var domainErr *DomainError
			if !errors.As(err, &domainErr) {
				t.Fatalf("expected DomainError, got %v", err)
			}
			if domainErr.Status != tt.wantStatus || domainErr.Message != tt.wantMsg {
				t.Errorf("got %d %q, want %d %q", domainErr.Status, domainErr.Message, tt.wantStatus, tt.wantMsg)
			}
		})
	}
}

func TestAdmitKey_LimitBoundary(t *testing.T) {
	// Emulates the conditional update: a key with limit 2 admits exactly
	// twice, then rejects.
	usage, limit := 0, 2
	svc := newTestService(&fakeStore{
		admitAPIKeyFn: func(context.Context, string) (string, error) {
			if usage >= limit {
				return "", store.ErrKeyRateLimited
			}
			usage++
			return "key_1", nil
		},
	})

	for i := 0; i < limit; i++ {
		if _, err := svc.AdmitKey(context.Background(), "tally-abc"); err != nil {
			t.Fatalf("admission %d failed: %v", i+1, err)
		}
	}

	_, err := svc.AdmitKey(context.Background(), "tally-abc")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit, got %v", err)
	}
	if usage != limit {
		t.Errorf("usage overshot the limit: %d", usage)
	}
}

type fakeCache struct {
	entries map[string]github.RepoInfo
	puts    int
}

func (f *fakeCache) Get(_ context.Context, owner, repo string) (github.RepoInfo, bool) {
	info, ok := f.entries[owner+"/"+repo]
	return info, ok
}

func (f *fakeCache) Put(_ context.Context, info github.RepoInfo) error {
	f.puts++
	if f.entries == nil {
		f.entries = make(map[string]github.RepoInfo)
	}
	f.entries[info.Owner+"/"+info.Repo] = info
	return nil
}

func TestSummarizeRepo_UsesCache(t *testing.T) {
	fetches := 0
	svc := newTestService(&fakeStore{})
	svc.github = &fakeFetcher{
		fetchFn: func(_ context.Context, owner, repo string) (github.RepoInfo, error) {
			fetches++
			return github.RepoInfo{Owner: owner, Repo: repo, Stars: 7}, nil
		},
	}
	svc.cache = &fakeCache{}

	for i := 0; i < 3; i++ {
		payload, err := svc.SummarizeRepo(context.Background(), "https://github.com/acme/widgets")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if payload.Stars != 7 {
			t.Errorf("expected stars=7, got %d", payload.Stars)
		}
		if payload.Message != "GitHub repository summary generated successfully" {
			t.Errorf("unexpected message %q", payload.Message)
		}
	}

	if fetches != 1 {
		t.Errorf("expected a single upstream fetch, got %d", fetches)
	}
}

func TestSummarizeRepo_BadURL(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.SummarizeRepo(context.Background(), "https://example.com/not-github")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %v", err)
	}
	if domainErr.Message != "Error processing GitHub repository summary" {
		t.Errorf("unexpected message %q", domainErr.Message)
	}
}
