package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// migration pairs an up script with its optional down script. The version is
// the shared file stem, e.g. "0001_init" for 0001_init.up.sql.
type migration struct {
	version  string
	upPath   string
	downPath string
}

// loadMigrations discovers *.up.sql/*.down.sql pairs in dir, ordered by
// version. A down script without a matching up script is an error; the
// reverse is allowed.
func loadMigrations(dir string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byVersion := map[string]*migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		var version, direction string
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			version, direction = strings.TrimSuffix(name, ".up.sql"), "up"
		case strings.HasSuffix(name, ".down.sql"):
			version, direction = strings.TrimSuffix(name, ".down.sql"), "down"
		default:
			continue
		}
		m := byVersion[version]
		if m == nil {
			m = &migration{version: version}
			byVersion[version] = m
		}
		if direction == "up" {
			m.upPath = filepath.Join(dir, name)
		} else {
			m.downPath = filepath.Join(dir, name)
		}
	}

	migrations := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.upPath == "" {
			return nil, fmt.Errorf("migration %s has a down script but no up script", m.version)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].version < migrations[j].version })
	return migrations, nil
}

// ApplyMigrations brings the schema up to date, running each pending up
// script in its own transaction and recording it in schema_migrations.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return err
	}

	migrations, err := loadMigrations(migrationsDir)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if migrated, err := isMigrated(ctx, db, m.version); err != nil {
			return err
		} else if migrated {
			continue
		}
		if err := runMigrationScript(ctx, db, m.version, m.upPath,
			`INSERT INTO schema_migrations(version) VALUES($1)`); err != nil {
			return err
		}
	}

	return nil
}

// RollbackLastMigration reverts the most recently applied migration using
// its down script and removes it from schema_migrations.
func RollbackLastMigration(ctx context.Context, db *sql.DB, migrationsDir string) error {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return err
	}

	var version string
	err := db.QueryRowContext(ctx, `SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("no migrations applied")
	}
	if err != nil {
		return fmt.Errorf("find last migration: %w", err)
	}

	migrations, err := loadMigrations(migrationsDir)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version != version {
			continue
		}
		if m.downPath == "" {
			return fmt.Errorf("migration %s has no down script", version)
		}
		return runMigrationScript(ctx, db, m.version, m.downPath,
			`DELETE FROM schema_migrations WHERE version=$1`)
	}
	return fmt.Errorf("applied migration %s not found in %s", version, migrationsDir)
}

func runMigrationScript(ctx context.Context, db *sql.DB, version, path, recordSQL string) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", version, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %s: %w", version, err)
	}

	if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute migration %s: %w", version, err)
	}

	if _, err := tx.ExecContext(ctx, recordSQL, version); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", version, err)
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}
