// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

// Package database implements the persistence collaborator on embedded
// DuckDB: client metric rows, property access grants, and service account
// credential state. The storage and auth coordinators consume it through
// their own narrow interfaces; nothing above this package speaks SQL.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/metricus/internal/config"
	"github.com/tomtom215/metricus/internal/logging"
)

// DB wraps the DuckDB connection and provides data access methods.
type DB struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig
}

// New opens the database file and initializes the schema.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	// Ensure the parent directory exists; DuckDB does not create it.
	if dbDir := filepath.Dir(cfg.Path); dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	// Disable extension auto-install to avoid network stalls in restricted
	// environments; nothing in the schema needs extensions.
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, numThreads, cfg.MaxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn, cfg: cfg}

	if err := db.initialize(); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logging.Warn().Err(closeErr).Msg("Failed to close database after init failure")
		}
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Int("threads", numThreads).Msg("Database opened")
	return db, nil
}

// NewInMemory opens an in-memory database for tests.
func NewInMemory() (*DB, error) {
	conn, err := sql.Open("duckdb", ":memory:?autoinstall_known_extensions=false&autoload_known_extensions=false")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}

	db := &DB{conn: conn, cfg: &config.DatabaseConfig{Path: ":memory:"}}
	if err := db.initialize(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize in-memory database: %w", err)
	}
	return db, nil
}

// initialize creates the schema if it does not exist.
func (db *DB) initialize() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS clients (
			id VARCHAR PRIMARY KEY,
			name VARCHAR NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT current_timestamp
		)`,
		`CREATE TABLE IF NOT EXISTS metrics (
			id UUID PRIMARY KEY,
			client_id VARCHAR NOT NULL,
			metric_name VARCHAR NOT NULL,
			value VARCHAR NOT NULL,
			source_type VARCHAR NOT NULL,
			time_period VARCHAR NOT NULL,
			competitor_id VARCHAR,
			channel VARCHAR,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_client_period
			ON metrics (client_id, time_period)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_client_name
			ON metrics (client_id, metric_name)`,
		`CREATE TABLE IF NOT EXISTS property_access (
			client_id VARCHAR PRIMARY KEY,
			property_id VARCHAR NOT NULL,
			service_account_id VARCHAR NOT NULL,
			verified BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMP NOT NULL DEFAULT current_timestamp
		)`,
		`CREATE TABLE IF NOT EXISTS service_accounts (
			id VARCHAR PRIMARY KEY,
			client_key VARCHAR NOT NULL,
			client_secret VARCHAR NOT NULL,
			access_token VARCHAR,
			refresh_token VARCHAR,
			token_expiry TIMESTAMP
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// UpsertClient creates or renames a client. Used by onboarding and tests.
func (db *DB) UpsertClient(ctx context.Context, id, name string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO clients (id, name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name`,
		id, name, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert client %s: %w", id, err)
	}
	return nil
}

// ClientExists reports whether a client row exists.
func (db *DB) ClientExists(ctx context.Context, clientID string) (bool, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM clients WHERE id = ?`, clientID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check client %s: %w", clientID, err)
	}
	return count > 0, nil
}

// ListClientIDs returns all client IDs, ordered for deterministic iteration.
func (db *DB) ListClientIDs(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id FROM clients ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan client id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
