package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Well-known sync_state keys
const (
	StateOwnerEmail = "owner_email"
	StateLastSync   = "last_sync"
	// StateHistoryID is the mailbox history id taken before the last good sync
	StateHistoryID = "history_checkpoint"
)

// StateStore keeps small key/value facts about the sync
type StateStore struct {
	db *sqlx.DB
}

// NewStateStore creates a state store from a base store
func NewStateStore(store *Store) *StateStore {
	if store == nil {
		return nil
	}
	return &StateStore{db: store.DB()}
}

// Set upserts a value
func (ss *StateStore) Set(ctx context.Context, key, value string) error {
	if ss == nil || ss.db == nil {
		return fmt.Errorf("state store not initialized")
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("invalid state key")
	}
	_, err := ss.db.ExecContext(ctx, `INSERT INTO sync_state(key, value, updated_at)
VALUES(?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at;
`, key, value, time.Now().Unix())
	return err
}

// Get returns a stored value if present
func (ss *StateStore) Get(ctx context.Context, key string) (string, bool, error) {
	if ss == nil || ss.db == nil {
		return "", false, fmt.Errorf("state store not initialized")
	}
	var out string
	err := ss.db.GetContext(ctx, &out, `SELECT value FROM sync_state WHERE key=?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return out, true, nil
}

// Delete removes a key
func (ss *StateStore) Delete(ctx context.Context, key string) error {
	if ss == nil || ss.db == nil {
		return fmt.Errorf("state store not initialized")
	}
	_, err := ss.db.ExecContext(ctx, `DELETE FROM sync_state WHERE key=?`, key)
	return err
}

// SetTime stores a timestamp in RFC 3339 form
func (ss *StateStore) SetTime(ctx context.Context, key string, t time.Time) error {
	return ss.Set(ctx, key, t.UTC().Format(time.RFC3339))
}

// GetTime reads a timestamp written by SetTime
func (ss *StateStore) GetTime(ctx context.Context, key string) (time.Time, bool, error) {
	v, ok, err := ss.Get(ctx, key)
	if err != nil || !ok {
		return time.Time{}, ok, err
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse %s: %w", key, err)
	}
	return t, true, nil
}
