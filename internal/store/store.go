// Package store is the local authoritative record of projects plus the
// configuration catalogs (providers, flavors, addons, resource tiers,
// settings) backed by SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver registration

	"github.com/codeopen/codeopen/internal/apperr"
)

// schemaVersion is stamped into the database via PRAGMA user_version. A
// database stamped with a higher version was written by a newer binary and
// is refused rather than half-read.
const schemaVersion = 1

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Writes are serialized per database; a single connection sidesteps
	// SQLITE_BUSY under concurrent sagas.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if version > schemaVersion {
		return apperr.New(apperr.KindConfig, "db_migration_required",
			"database schema version %d is newer than this binary supports (%d)", version, schemaVersion)
	}

	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS projects (
			id                TEXT PRIMARY KEY,
			slug              TEXT NOT NULL,
			name              TEXT NOT NULL,
			description       TEXT NOT NULL DEFAULT '',
			forge_repo_id     INTEGER NOT NULL DEFAULT 0,
			forge_owner       TEXT NOT NULL DEFAULT '',
			platform_app_uuid TEXT NOT NULL DEFAULT '',
			container_port    INTEGER NOT NULL DEFAULT 0,
			flavor_id         TEXT NOT NULL DEFAULT '',
			addon_ids         TEXT NOT NULL DEFAULT '[]',
			tier_id           TEXT NOT NULL DEFAULT '',
			status            TEXT NOT NULL,
			status_detail     TEXT NOT NULL DEFAULT '',
			fqdn_url          TEXT NOT NULL DEFAULT '',
			clone_url_public  TEXT NOT NULL DEFAULT '',
			llm_provider_id   TEXT NOT NULL DEFAULT '',
			llm_model_id      TEXT NOT NULL DEFAULT '',
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_projects_slug ON projects(slug);

		CREATE TABLE IF NOT EXISTS providers (
			id                  TEXT PRIMARY KEY,
			kind                TEXT NOT NULL,
			credential_material TEXT NOT NULL DEFAULT '',
			default_model       TEXT NOT NULL DEFAULT '',
			is_default          INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS container_flavors (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			is_default  INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS container_addons (
			id                 TEXT PRIMARY KEY,
			name               TEXT NOT NULL,
			compatible_flavors TEXT NOT NULL DEFAULT '[]',
			ports              TEXT NOT NULL DEFAULT '[]',
			fqdn_prefix        TEXT NOT NULL DEFAULT '',
			requires_gpu       INTEGER NOT NULL DEFAULT 0,
			sort_order         INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS resource_tiers (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			cpu_limit    TEXT NOT NULL DEFAULT '',
			memory_limit TEXT NOT NULL DEFAULT '',
			is_default   INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion)); err != nil {
		return fmt.Errorf("stamping schema version: %w", err)
	}
	return s.seedCatalogs(ctx)
}

// seedCatalogs inserts the default flavor/addon/tier rows on first run so a
// fresh install can create projects immediately. Existing rows are kept.
func (s *Store) seedCatalogs(ctx context.Context) error {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM container_flavors`).Scan(&n); err != nil {
		return fmt.Errorf("counting flavors: %w", err)
	}
	if n > 0 {
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO container_flavors (id, name, description, is_default) VALUES
			('base',  'Base',  'Assistant only', 1),
			('full',  'Full',  'Assistant with desktop tooling', 0);

		INSERT INTO container_addons (id, name, compatible_flavors, ports, fqdn_prefix, requires_gpu, sort_order) VALUES
			('code', 'Code editor', '["base","full"]', '[8443]', 'code', 0, 10),
			('vnc',  'VNC desktop', '["full"]',        '[6080]', 'vnc',  0, 20);

		INSERT INTO resource_tiers (id, name, cpu_limit, memory_limit, is_default) VALUES
			('small',  'Small',  '1',   '1g', 1),
			('medium', 'Medium', '2',   '4g', 0),
			('large',  'Large',  '4',   '8g', 0);
	`)
	if err != nil {
		return fmt.Errorf("seeding catalogs: %w", err)
	}
	return nil
}
