package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Rejection reasons for the usage gate. Callers translate these into the
// wire-level 400/429 responses.
var (
	ErrKeyNotFound    = errors.New("api key not found")
	ErrKeyRateLimited = errors.New("api key rate limited")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUserByEmail resolves an authenticated email to its user row. It never
// creates users; provisioning belongs to the sign-in service.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, avatar_url, created_at
		FROM users
		WHERE email=$1
	`, email).Scan(&user.ID, &user.Email, &user.DisplayName, &user.AvatarURL, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

const apiKeyColumns = `id, user_id, name, value, usage, usage_limit, created_at`

func scanAPIKey(row interface{ Scan(...any) error }) (APIKey, error) {
	var key APIKey
	err := row.Scan(&key.ID, &key.UserID, &key.Name, &key.Value, &key.Usage, &key.Limit, &key.CreatedAt)
	return key, err
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, userID string) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+apiKeyColumns+`
		FROM api_keys
		WHERE user_id=$1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	items := make([]APIKey, 0)
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		items = append(items, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api keys: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetAPIKey(ctx context.Context, userID, keyID string) (APIKey, error) {
	return scanAPIKey(s.db.QueryRowContext(ctx, `
		SELECT `+apiKeyColumns+`
		FROM api_keys
		WHERE id=$1 AND user_id=$2
	`, keyID, userID))
}

func (s *PostgresStore) InsertAPIKey(ctx context.Context, key APIKey) (APIKey, error) {
	item, err := scanAPIKey(s.db.QueryRowContext(ctx, `
		INSERT INTO api_keys (id, user_id, name, value, usage, usage_limit)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+apiKeyColumns+`
	`, key.ID, key.UserID, key.Name, key.Value, key.Usage, key.Limit))
	if err != nil {
		return APIKey{}, fmt.Errorf("insert api key: %w", err)
	}
	return item, nil
}

// UpdateAPIKey applies the fields present in the update and returns the new
// row. SetLimit with a nil Limit clears the quota (unlimited).
func (s *PostgresStore) UpdateAPIKey(ctx context.Context, userID, keyID string, upd KeyUpdate) (APIKey, error) {
	return scanAPIKey(s.db.QueryRowContext(ctx, `
		UPDATE api_keys
		SET name = COALESCE($3::text, name),
		    usage_limit = CASE WHEN $4::boolean THEN $5::integer ELSE usage_limit END
		WHERE id=$1 AND user_id=$2
		RETURNING `+apiKeyColumns+`
	`, keyID, userID, upd.Name, upd.SetLimit, upd.Limit))
}

type KeyUpdate struct {
	Name     *string
	Limit    *int
	SetLimit bool
}

func (s *PostgresStore) DeleteAPIKey(ctx context.Context, userID, keyID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id=$1 AND user_id=$2`, keyID, userID)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete api key rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// LookupAPIKeyIDBySecret is the check-only validation path. It never touches
// the usage counter.
func (s *PostgresStore) LookupAPIKeyIDBySecret(ctx context.Context, secret string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM api_keys WHERE value=$1`, secret).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// AdmitAPIKey validates the secret, checks the quota, and increments usage in
// a single conditional update. Two concurrent admissions at usage=limit-1
// race on the same row; the database serializes them and exactly one wins,
// so a key with limit N admits exactly N requests.
func (s *PostgresStore) AdmitAPIKey(ctx context.Context, secret string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		UPDATE api_keys
		SET usage = usage + 1
		WHERE value=$1 AND (usage_limit IS NULL OR usage < usage_limit)
		RETURNING id
	`, secret).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("admit api key: %w", err)
	}

	// Zero rows means either an unknown secret or an exhausted quota.
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM api_keys WHERE value=$1)`, secret).Scan(&exists); err != nil {
		return "", fmt.Errorf("classify admit rejection: %w", err)
	}
	if !exists {
		return "", ErrKeyNotFound
	}
	return "", ErrKeyRateLimited
}
