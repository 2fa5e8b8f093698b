package db

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

// Store wraps the SQLite database that caches threads and sync state
type Store struct {
	db *sqlx.DB
}

// connPragmas are applied by the driver to every pooled connection.
// foreign_keys and busy_timeout are per connection in SQLite.
var connPragmas = []string{
	"foreign_keys(1)",
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
}

func dataSourceName(dbPath string) string {
	q := url.Values{}
	for _, p := range connPragmas {
		q.Add("_pragma", p)
	}
	if dbPath == MemoryPath {
		return dbPath + "?" + q.Encode()
	}
	return "file:" + dbPath + "?" + q.Encode()
}

// Open opens (and creates/migrates) the database at the given path
func Open(ctx context.Context, dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("empty database path")
	}
	memory := dbPath == MemoryPath
	if !memory {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
		// Ensure file exists with strict perms
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			f, err := os.OpenFile(dbPath, os.O_CREATE|os.O_RDWR, 0o600)
			if err != nil {
				return nil, fmt.Errorf("create database file: %w", err)
			}
			f.Close()
		}
	}

	db, err := sqlx.Open("sqlite", dataSourceName(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if memory {
		// Every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	// Force one connection now so a bad path or pragma fails here
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

type migration struct {
	version int
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		stmts: []string{`
CREATE TABLE IF NOT EXISTS threads (
  id                TEXT PRIMARY KEY,
  snippet           TEXT NOT NULL DEFAULT '',
  history_id        TEXT,
  last_message_date INTEGER NOT NULL DEFAULT 0,
  unread_count      INTEGER NOT NULL DEFAULT 0,
  fetched_at        INTEGER NOT NULL
);`, `
CREATE INDEX IF NOT EXISTS idx_threads_last_message_date ON threads(last_message_date DESC);`, `
CREATE TABLE IF NOT EXISTS messages (
  id                TEXT PRIMARY KEY,
  thread_id         TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
  from_name         TEXT NOT NULL DEFAULT '',
  from_email        TEXT NOT NULL DEFAULT '',
  to_json           TEXT NOT NULL DEFAULT '[]',
  cc_json           TEXT NOT NULL DEFAULT '[]',
  subject           TEXT NOT NULL DEFAULT '',
  date              INTEGER NOT NULL DEFAULT 0,
  snippet           TEXT NOT NULL DEFAULT '',
  body_plain        TEXT,
  body_html         TEXT,
  label_ids_json    TEXT NOT NULL DEFAULT '[]',
  is_unread         BOOLEAN NOT NULL DEFAULT FALSE,
  sanitized_body    TEXT,
  sanitized_at      INTEGER,
  message_id_header TEXT,
  references_header TEXT,
  owner_email       TEXT NOT NULL DEFAULT ''
);`, `
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, date);`,
		},
	},
	{
		version: 2,
		stmts: []string{`
CREATE TABLE IF NOT EXISTS sync_state (
  key        TEXT PRIMARY KEY,
  value      TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);`,
		},
	},
}

// migrate applies user_version based migrations, one transaction each
func (s *Store) migrate(ctx context.Context) error {
	var ver int
	if err := s.db.GetContext(ctx, &ver, "PRAGMA user_version;"); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= ver {
			continue
		}
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		for _, stmt := range m.stmts {
			if _, err = tx.ExecContext(ctx, stmt); err != nil {
				break
			}
		}
		if err == nil {
			_, err = tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version=%d;", m.version))
		}
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migrate v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		ver = m.version
	}
	return nil
}

// SchemaVersion reports the applied migration version
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var ver int
	err := s.db.GetContext(ctx, &ver, "PRAGMA user_version;")
	return ver, err
}

// Close closes the underlying database
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying handle for use by domain stores
func (s *Store) DB() *sqlx.DB {
	return s.db
}
