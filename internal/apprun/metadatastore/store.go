// Package metadatastore is the runtime's embedded metadata store: installed
// apps, API keys, and an audit log, backed by SQLite.
package metadatastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const defaultBusyTimeout = 5 * time.Second

// ErrNotFound indicates no row matched the query.
var ErrNotFound = errors.New("metadatastore: not found")

// Store wraps a SQLite database connection for the runtime's own metadata,
// distinct from any app's own storage.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database at path with WAL journaling and
// foreign keys enabled, then applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)",
		path, int(defaultBusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("metadatastore: open: %w", err)
	}
	db.SetConnMaxLifetime(0)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(8)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("metadatastore: ping: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("metadatastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS installed_apps (
			name TEXT PRIMARY KEY,
			entrypoint TEXT NOT NULL,
			manifest_json TEXT NOT NULL,
			installed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			hash TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_used_at DATETIME,
			revoked INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			detail TEXT NOT NULL
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// InstalledApp is one row of the installed_apps table.
type InstalledApp struct {
	Name         string
	Entrypoint   string
	ManifestJSON string
	InstalledAt  time.Time
}

// UpsertInstalledApp records or updates an installed app's manifest.
func (s *Store) UpsertInstalledApp(ctx context.Context, app InstalledApp) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO installed_apps (name, entrypoint, manifest_json)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET entrypoint = excluded.entrypoint, manifest_json = excluded.manifest_json
	`, app.Name, app.Entrypoint, app.ManifestJSON)
	if err != nil {
		return fmt.Errorf("metadatastore: upsert installed app: %w", err)
	}
	return nil
}

// GetInstalledApp looks up one installed app by name.
func (s *Store) GetInstalledApp(ctx context.Context, name string) (*InstalledApp, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, entrypoint, manifest_json, installed_at FROM installed_apps WHERE name = ?`, name)
	var app InstalledApp
	if err := row.Scan(&app.Name, &app.Entrypoint, &app.ManifestJSON, &app.InstalledAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("metadatastore: get installed app: %w", err)
	}
	return &app, nil
}

// ListInstalledApps returns every installed app, ordered by name.
func (s *Store) ListInstalledApps(ctx context.Context) ([]InstalledApp, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, entrypoint, manifest_json, installed_at FROM installed_apps ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("metadatastore: list installed apps: %w", err)
	}
	defer rows.Close()

	var apps []InstalledApp
	for rows.Next() {
		var app InstalledApp
		if err := rows.Scan(&app.Name, &app.Entrypoint, &app.ManifestJSON, &app.InstalledAt); err != nil {
			return nil, fmt.Errorf("metadatastore: scan installed app: %w", err)
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// RecordAudit appends one audit log entry.
func (s *Store) RecordAudit(ctx context.Context, actor, action, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (actor, action, detail) VALUES (?, ?, ?)`, actor, action, detail)
	if err != nil {
		return fmt.Errorf("metadatastore: record audit: %w", err)
	}
	return nil
}
