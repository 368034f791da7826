// Package sqlitestore implements internal/storage.Storage on an embedded
// SQLite file, grounded on the teacher's graph/store/sqlite.go (WAL mode,
// single-writer connection pool, auto-migration on first use). Because
// SQLite serializes all writers through one connection, the outbox claim
// uses the compare-and-set version-column fallback of spec §4.2 rather
// than SELECT ... FOR UPDATE SKIP LOCKED.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/colliery-io/cloacina-sub003/internal/storage"
	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

// Store is a SQLite-backed internal/storage.Storage. One file, one writer.
// Intended for development, single-process deployments, and the test
// suite's default backend.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// Open creates or opens a SQLite-backed store at path (":memory:" for an
// ephemeral database) and runs its schema migration.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlitestore: %s: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS pipelines (
		id TEXT PRIMARY KEY,
		workflow_name TEXT NOT NULL,
		workflow_version TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		completed_at TEXT,
		context TEXT,
		error_summary TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		pipeline_id TEXT NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		attempt INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 1,
		config TEXT,
		started_at TEXT,
		completed_at TEXT,
		retry_at TEXT,
		last_error TEXT,
		recovery_attempts INTEGER NOT NULL DEFAULT 0,
		last_recovery_at TEXT,
		owner TEXT,
		heartbeat_at TEXT,
		version INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_pipeline ON tasks(pipeline_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_retry ON tasks(status, retry_at)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_heartbeat ON tasks(status, heartbeat_at)`,
	`CREATE TABLE IF NOT EXISTS execution_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pipeline_id TEXT NOT NULL,
		task_id TEXT,
		kind TEXT NOT NULL,
		payload TEXT,
		timestamp TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_pipeline ON execution_events(pipeline_id)`,
	`CREATE TABLE IF NOT EXISTS task_outbox (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS registry_blobs (
		id TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS registry_metadata (
		id TEXT PRIMARY KEY,
		blob_id TEXT NOT NULL,
		tenant TEXT NOT NULL,
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		description TEXT,
		author TEXT,
		metadata TEXT,
		created_at TEXT NOT NULL,
		fingerprint TEXT,
		UNIQUE(tenant, name, version)
	)`,
	`CREATE TABLE IF NOT EXISTS signing_keys (
		fingerprint TEXT PRIMARY KEY,
		public_key BLOB NOT NULL,
		private_key_ciphertext BLOB NOT NULL,
		status TEXT NOT NULL,
		revoked_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS trusted_keys (
		org TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		status TEXT NOT NULL,
		PRIMARY KEY (org, fingerprint)
	)`,
	`CREATE TABLE IF NOT EXISTS key_trust_acls (
		parent_org TEXT NOT NULL,
		child_org TEXT NOT NULL,
		status TEXT NOT NULL,
		PRIMARY KEY (parent_org, child_org)
	)`,
	`CREATE TABLE IF NOT EXISTS package_signatures (
		package_hash TEXT PRIMARY KEY,
		signer_fingerprint TEXT NOT NULL,
		signature BLOB NOT NULL,
		signed_at TEXT NOT NULL
	)`,
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return &cloaca.StorageError{Op: "checkOpen", Code: cloaca.StorageCodeConnectionLost, Err: fmt.Errorf("store is closed")}
	}
	return nil
}

// Close closes the underlying database connection. Safe to call more than
// once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Capabilities reports the sqlite backend's feature set: no skip-locked
// support (single writer, CAS fallback used instead), no push notification.
func (s *Store) Capabilities() storage.Capabilities {
	return storage.Capabilities{SkipLocked: false, Notify: false, Backend: "sqlite"}
}

var _ storage.Storage = (*Store)(nil)
