// Package sqlstore implements internal/storage.Storage on MySQL/MariaDB,
// grounded on the teacher's graph/store/mysql.go (connection pooling,
// auto-migration on open, ON DUPLICATE KEY UPDATE upserts). Unlike
// sqlitestore, MySQL's InnoDB engine gives this backend real
// multi-writer concurrency, so the outbox claim uses SELECT ... FOR
// UPDATE SKIP LOCKED (spec §4.2) instead of the compare-and-set
// fallback.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/colliery-io/cloacina-sub003/internal/storage"
	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

// Store is a MySQL-backed internal/storage.Storage. Intended for
// production deployments with multiple executor processes sharing one
// database.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// Open connects to a MySQL/MariaDB database using dsn (the
// go-sql-driver/mysql DSN format: user:pass@tcp(host:port)/dbname?...)
// and runs its schema migration.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
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
		id CHAR(36) PRIMARY KEY,
		workflow_name VARCHAR(255) NOT NULL,
		workflow_version VARCHAR(64) NOT NULL,
		status VARCHAR(32) NOT NULL,
		created_at TIMESTAMP(6) NOT NULL,
		completed_at TIMESTAMP(6) NULL,
		context JSON,
		error_summary TEXT
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id CHAR(36) PRIMARY KEY,
		pipeline_id CHAR(36) NOT NULL,
		name VARCHAR(255) NOT NULL,
		status VARCHAR(32) NOT NULL,
		attempt INT NOT NULL DEFAULT 0,
		max_attempts INT NOT NULL DEFAULT 1,
		config JSON,
		started_at TIMESTAMP(6) NULL,
		completed_at TIMESTAMP(6) NULL,
		retry_at TIMESTAMP(6) NULL,
		last_error TEXT,
		recovery_attempts INT NOT NULL DEFAULT 0,
		last_recovery_at TIMESTAMP(6) NULL,
		owner CHAR(36) NULL,
		heartbeat_at TIMESTAMP(6) NULL,
		version BIGINT NOT NULL DEFAULT 0,
		INDEX idx_tasks_pipeline (pipeline_id),
		INDEX idx_tasks_retry (status, retry_at),
		INDEX idx_tasks_heartbeat (status, heartbeat_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS execution_events (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		pipeline_id CHAR(36) NOT NULL,
		task_id CHAR(36) NULL,
		kind VARCHAR(128) NOT NULL,
		payload JSON,
		timestamp TIMESTAMP(6) NOT NULL,
		INDEX idx_events_pipeline (pipeline_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS task_outbox (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		task_id CHAR(36) NOT NULL UNIQUE,
		created_at TIMESTAMP(6) NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS registry_blobs (
		id CHAR(36) PRIMARY KEY,
		data LONGBLOB NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS registry_metadata (
		id CHAR(36) PRIMARY KEY,
		blob_id CHAR(36) NOT NULL,
		tenant VARCHAR(255) NOT NULL,
		name VARCHAR(255) NOT NULL,
		version VARCHAR(64) NOT NULL,
		description TEXT,
		author VARCHAR(255),
		metadata JSON,
		created_at TIMESTAMP(6) NOT NULL,
		fingerprint VARCHAR(128),
		UNIQUE KEY unique_tenant_name_version (tenant, name, version)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS signing_keys (
		fingerprint VARCHAR(128) PRIMARY KEY,
		public_key VARBINARY(255) NOT NULL,
		private_key_ciphertext VARBINARY(512) NOT NULL,
		status VARCHAR(32) NOT NULL,
		revoked_at TIMESTAMP(6) NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS trusted_keys (
		org VARCHAR(255) NOT NULL,
		fingerprint VARCHAR(128) NOT NULL,
		status VARCHAR(32) NOT NULL,
		PRIMARY KEY (org, fingerprint)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS key_trust_acls (
		parent_org VARCHAR(255) NOT NULL,
		child_org VARCHAR(255) NOT NULL,
		status VARCHAR(32) NOT NULL,
		PRIMARY KEY (parent_org, child_org)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS package_signatures (
		package_hash VARCHAR(128) PRIMARY KEY,
		signer_fingerprint VARCHAR(128) NOT NULL,
		signature VARBINARY(255) NOT NULL,
		signed_at TIMESTAMP(6) NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return &cloaca.StorageError{Op: "checkOpen", Code: cloaca.StorageCodeConnectionLost, Err: fmt.Errorf("store is closed")}
	}
	return nil
}

// Close closes the underlying connection pool. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Stats returns connection-pool statistics for health checks and metrics.
func (s *Store) Stats() sql.DBStats {
	return s.db.Stats()
}

// Capabilities reports the MySQL backend's feature set: SELECT ... FOR
// UPDATE SKIP LOCKED support, no push notification.
func (s *Store) Capabilities() storage.Capabilities {
	return storage.Capabilities{SkipLocked: true, Notify: false, Backend: "mysql"}
}

var _ storage.Storage = (*Store)(nil)
