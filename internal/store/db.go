// Package store implements the engine's durable, single-writer,
// multi-reader property tree: one SQLite database per root directory,
// holding every account and every account's resources.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	syncerrors "github.com/lucidfs/davsync/internal/errors"
	"github.com/lucidfs/davsync/internal/logging"
)

// Store is the durable property tree described by the engine's data
// model. All public mutators either commit atomically and return a
// ChangeSet, or fail without effect.
type Store struct {
	mu        sync.RWMutex
	db        *sql.DB
	logger    logging.Logger
	directory string
}

// Open opens (creating if necessary) the property database rooted at
// directory/db.sqlite, migrating its schema. Open is idempotent: calling
// it again against the same directory attaches to the existing database.
func Open(directory string, logger logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if err := os.MkdirAll(directory, 0700); err != nil {
		return nil, syncerrors.Storage("failed to create store directory", err)
	}

	dbPath := filepath.Join(directory, "db.sqlite")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, syncerrors.Storage("failed to open store database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logger, directory: directory}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, syncerrors.Storage("failed to migrate store schema", err)
	}
	return s, nil
}

// bodyDir returns the body cache directory for an account, creating it if
// necessary. Files here are named by random UUIDs assigned in MoveFile; the
// names are not derived from body contents. Foreign files are tolerated and
// ignored on read.
func (s *Store) bodyDir(accountID string) (string, error) {
	dir := filepath.Join(s.directory, accountID, "bodies")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return syncerrors.Storage("failed to close store database", err)
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	base_url TEXT NOT NULL,
	username TEXT NOT NULL,
	label TEXT,
	created_at INTEGER NOT NULL,
	auth_scheme TEXT NOT NULL DEFAULT 'basic',
	oauth2_config TEXT,
	UNIQUE(base_url, username)
);

CREATE TABLE IF NOT EXISTS resources (
	account_id TEXT NOT NULL,
	path_key TEXT NOT NULL,
	depth INTEGER NOT NULL,
	path_json TEXT NOT NULL,
	is_collection INTEGER NOT NULL,
	version TEXT NOT NULL,
	dirty INTEGER NOT NULL,
	updated INTEGER NOT NULL,
	content_type TEXT,
	content_length INTEGER,
	modified INTEGER,
	file_state INTEGER NOT NULL DEFAULT 0,
	local_path TEXT,
	stored_version TEXT,
	PRIMARY KEY (account_id, path_key),
	FOREIGN KEY (account_id) REFERENCES accounts(id)
);

CREATE INDEX IF NOT EXISTS idx_resources_account_depth ON resources(account_id, depth);
`
