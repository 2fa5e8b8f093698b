package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ajramos/ebbsync/internal/model"
	"github.com/ajramos/ebbsync/internal/reconcile"
	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("not found")

// PersistMode selects how threads are re-written
type PersistMode string

const (
	// PersistUpdateInPlace upserts thread and message rows
	PersistUpdateInPlace PersistMode = "update-in-place"
	// PersistReplace deletes the thread and re-inserts it, copying sanitized bodies forward
	PersistReplace PersistMode = "replace-copy-forward"
)

// ParsePersistMode accepts the config spelling; empty means update-in-place
func ParsePersistMode(s string) (PersistMode, error) {
	switch PersistMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", PersistUpdateInPlace:
		return PersistUpdateInPlace, nil
	case PersistReplace:
		return PersistReplace, nil
	default:
		return "", fmt.Errorf("unknown persist mode %q", s)
	}
}

// ThreadStore persists threads and their messages
type ThreadStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewThreadStore creates a thread store from a base store
func NewThreadStore(store *Store) *ThreadStore {
	if store == nil {
		return nil
	}
	return &ThreadStore{db: store.DB(), now: time.Now}
}

type threadRow struct {
	ID              string         `db:"id"`
	Snippet         string         `db:"snippet"`
	HistoryID       sql.NullString `db:"history_id"`
	LastMessageDate int64          `db:"last_message_date"`
	UnreadCount     int            `db:"unread_count"`
	FetchedAt       int64          `db:"fetched_at"`
}

type messageRow struct {
	ID               string         `db:"id"`
	ThreadID         string         `db:"thread_id"`
	FromName         string         `db:"from_name"`
	FromEmail        string         `db:"from_email"`
	ToJSON           string         `db:"to_json"`
	CcJSON           string         `db:"cc_json"`
	Subject          string         `db:"subject"`
	Date             int64          `db:"date"`
	Snippet          string         `db:"snippet"`
	BodyPlain        sql.NullString `db:"body_plain"`
	BodyHTML         sql.NullString `db:"body_html"`
	LabelIDsJSON     string         `db:"label_ids_json"`
	IsUnread         bool           `db:"is_unread"`
	SanitizedBody    sql.NullString `db:"sanitized_body"`
	SanitizedAt      sql.NullInt64  `db:"sanitized_at"`
	MessageIDHeader  sql.NullString `db:"message_id_header"`
	ReferencesHeader sql.NullString `db:"references_header"`
	OwnerEmail       string         `db:"owner_email"`
}

const messageColumns = `id, thread_id, from_name, from_email, to_json, cc_json, subject, date, snippet,
  body_plain, body_html, label_ids_json, is_unread, sanitized_body, sanitized_at,
  message_id_header, references_header, owner_email`

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func marshalList(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func toMessageRow(m model.Message, threadID string, sanitized model.Sanitized) (messageRow, error) {
	to, err := marshalList(nonNilAddresses(m.To))
	if err != nil {
		return messageRow{}, fmt.Errorf("encode to: %w", err)
	}
	cc, err := marshalList(nonNilAddresses(m.Cc))
	if err != nil {
		return messageRow{}, fmt.Errorf("encode cc: %w", err)
	}
	labels := m.LabelIDs
	if labels == nil {
		labels = []string{}
	}
	labelJSON, err := marshalList(labels)
	if err != nil {
		return messageRow{}, fmt.Errorf("encode labels: %w", err)
	}

	row := messageRow{
		ID:               m.ID,
		ThreadID:         threadID,
		FromName:         m.From.Name,
		FromEmail:        m.From.Email,
		ToJSON:           to,
		CcJSON:           cc,
		Subject:          m.Subject,
		Date:             unixMilli(m.Date),
		Snippet:          m.Snippet,
		BodyPlain:        nullString(m.BodyPlain),
		BodyHTML:         nullString(m.BodyHTML),
		LabelIDsJSON:     labelJSON,
		IsUnread:         m.IsUnread(),
		MessageIDHeader:  nullString(m.MessageID),
		ReferencesHeader: nullString(m.References),
		OwnerEmail:       m.OwnerEmail,
	}
	if sanitized.Has() {
		row.SanitizedBody = sql.NullString{String: sanitized.Body, Valid: true}
		row.SanitizedAt = sql.NullInt64{Int64: unixMilli(sanitized.At), Valid: true}
	}
	return row, nil
}

func nonNilAddresses(in []model.EmailAddress) []model.EmailAddress {
	if in == nil {
		return []model.EmailAddress{}
	}
	return in
}

func (r messageRow) toModel() (model.Message, error) {
	m := model.Message{
		ID:         r.ID,
		ThreadID:   r.ThreadID,
		From:       model.EmailAddress{Name: r.FromName, Email: r.FromEmail},
		Subject:    r.Subject,
		Date:       fromUnixMilli(r.Date),
		Snippet:    r.Snippet,
		BodyPlain:  r.BodyPlain.String,
		BodyHTML:   r.BodyHTML.String,
		MessageID:  r.MessageIDHeader.String,
		References: r.ReferencesHeader.String,
		OwnerEmail: r.OwnerEmail,
	}
	if err := json.Unmarshal([]byte(r.ToJSON), &m.To); err != nil {
		return model.Message{}, fmt.Errorf("decode to of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.CcJSON), &m.Cc); err != nil {
		return model.Message{}, fmt.Errorf("decode cc of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.LabelIDsJSON), &m.LabelIDs); err != nil {
		return model.Message{}, fmt.Errorf("decode labels of %s: %w", r.ID, err)
	}
	if len(m.To) == 0 {
		m.To = nil
	}
	if len(m.Cc) == 0 {
		m.Cc = nil
	}
	if len(m.LabelIDs) == 0 {
		m.LabelIDs = nil
	}
	if r.SanitizedBody.Valid {
		m.Sanitized = model.PreservedSanitized(r.SanitizedBody.String, fromUnixMilli(r.SanitizedAt.Int64))
	}
	return m, nil
}

// SaveThreads writes threads in one transaction. Stored sanitized bodies are
// carried onto incoming messages unless the incoming message has a fresh one.
func (ts *ThreadStore) SaveThreads(ctx context.Context, threads []model.Thread, mode PersistMode) error {
	if ts == nil || ts.db == nil {
		return fmt.Errorf("thread store not initialized")
	}
	if len(threads) == 0 {
		return nil
	}
	if mode == "" {
		mode = PersistUpdateInPlace
	}
	if mode != PersistUpdateInPlace && mode != PersistReplace {
		return fmt.Errorf("unknown persist mode %q", mode)
	}

	tx, err := ts.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	fetchedAt := ts.now().UnixMilli()
	for _, t := range threads {
		if strings.TrimSpace(t.ID) == "" {
			return fmt.Errorf("thread without id")
		}
		prior, err := storedSanitized(ctx, tx, t)
		if err != nil {
			return err
		}

		if mode == PersistReplace {
			if _, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE id=?`, t.ID); err != nil {
				return fmt.Errorf("delete thread %s: %w", t.ID, err)
			}
		}
		if err := upsertThread(ctx, tx, t, fetchedAt); err != nil {
			return err
		}
		for _, m := range t.Messages {
			resolved := reconcile.ResolveSanitized(prior[m.ID], m.Sanitized)
			row, err := toMessageRow(m, t.ID, resolved)
			if err != nil {
				return err
			}
			if err := upsertMessage(ctx, tx, row); err != nil {
				return err
			}
		}
		if mode == PersistUpdateInPlace {
			if err := pruneMessages(ctx, tx, t); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// storedSanitized reads sanitized bodies already stored for the thread's messages
func storedSanitized(ctx context.Context, tx *sqlx.Tx, t model.Thread) (map[string]model.Sanitized, error) {
	out := make(map[string]model.Sanitized)
	ids := make([]string, 0, len(t.Messages))
	for _, m := range t.Messages {
		ids = append(ids, m.ID)
	}
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`SELECT id, sanitized_body, sanitized_at FROM messages
WHERE id IN (?) AND sanitized_body IS NOT NULL`, ids)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ID   string         `db:"id"`
		Body sql.NullString `db:"sanitized_body"`
		At   sql.NullInt64  `db:"sanitized_at"`
	}
	if err := tx.SelectContext(ctx, &rows, tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("read sanitized bodies of %s: %w", t.ID, err)
	}
	for _, r := range rows {
		out[r.ID] = model.PreservedSanitized(r.Body.String, fromUnixMilli(r.At.Int64))
	}
	return out, nil
}

func upsertThread(ctx context.Context, tx *sqlx.Tx, t model.Thread, fetchedAt int64) error {
	row := threadRow{
		ID:              t.ID,
		Snippet:         t.Snippet,
		HistoryID:       nullString(t.HistoryID),
		LastMessageDate: unixMilli(t.LastMessageDate()),
		UnreadCount:     t.UnreadCount(),
		FetchedAt:       fetchedAt,
	}
	_, err := tx.NamedExecContext(ctx, `INSERT INTO threads(id, snippet, history_id, last_message_date, unread_count, fetched_at)
VALUES(:id, :snippet, :history_id, :last_message_date, :unread_count, :fetched_at)
ON CONFLICT(id) DO UPDATE SET
  snippet=excluded.snippet,
  history_id=excluded.history_id,
  last_message_date=excluded.last_message_date,
  unread_count=excluded.unread_count,
  fetched_at=excluded.fetched_at;`, row)
	if err != nil {
		return fmt.Errorf("upsert thread %s: %w", t.ID, err)
	}
	return nil
}

func upsertMessage(ctx context.Context, tx *sqlx.Tx, row messageRow) error {
	_, err := tx.NamedExecContext(ctx, `INSERT INTO messages(`+messageColumns+`)
VALUES(:id, :thread_id, :from_name, :from_email, :to_json, :cc_json, :subject, :date, :snippet,
  :body_plain, :body_html, :label_ids_json, :is_unread, :sanitized_body, :sanitized_at,
  :message_id_header, :references_header, :owner_email)
ON CONFLICT(id) DO UPDATE SET
  thread_id=excluded.thread_id,
  from_name=excluded.from_name,
  from_email=excluded.from_email,
  to_json=excluded.to_json,
  cc_json=excluded.cc_json,
  subject=excluded.subject,
  date=excluded.date,
  snippet=excluded.snippet,
  body_plain=excluded.body_plain,
  body_html=excluded.body_html,
  label_ids_json=excluded.label_ids_json,
  is_unread=excluded.is_unread,
  sanitized_body=COALESCE(excluded.sanitized_body, messages.sanitized_body),
  sanitized_at=CASE WHEN excluded.sanitized_body IS NULL THEN messages.sanitized_at ELSE excluded.sanitized_at END,
  message_id_header=excluded.message_id_header,
  references_header=excluded.references_header,
  owner_email=excluded.owner_email;`, row)
	if err != nil {
		return fmt.Errorf("upsert message %s: %w", row.ID, err)
	}
	return nil
}

// pruneMessages drops stored messages that are no longer part of the thread
func pruneMessages(ctx context.Context, tx *sqlx.Tx, t model.Thread) error {
	if len(t.Messages) == 0 {
		_, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE thread_id=?`, t.ID)
		return err
	}
	ids := make([]string, 0, len(t.Messages))
	for _, m := range t.Messages {
		ids = append(ids, m.ID)
	}
	query, args, err := sqlx.In(`DELETE FROM messages WHERE thread_id=? AND id NOT IN (?)`, t.ID, ids)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("prune messages of %s: %w", t.ID, err)
	}
	return nil
}

// LoadThreads returns up to limit threads, newest first. limit <= 0 loads all.
func (ts *ThreadStore) LoadThreads(ctx context.Context, limit int) ([]model.Thread, error) {
	if ts == nil || ts.db == nil {
		return nil, fmt.Errorf("thread store not initialized")
	}
	if limit <= 0 {
		limit = -1
	}
	var rows []threadRow
	if err := ts.db.SelectContext(ctx, &rows, `SELECT id, snippet, history_id, last_message_date, unread_count, fetched_at
FROM threads ORDER BY last_message_date DESC, id ASC LIMIT ?`, limit); err != nil {
		return nil, fmt.Errorf("load threads: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	byThread, err := ts.loadMessages(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]model.Thread, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Thread{
			ID:        r.ID,
			Snippet:   r.Snippet,
			HistoryID: r.HistoryID.String,
			Messages:  byThread[r.ID],
		})
	}
	return out, nil
}

func (ts *ThreadStore) loadMessages(ctx context.Context, threadIDs []string) (map[string][]model.Message, error) {
	query, args, err := sqlx.In(`SELECT `+messageColumns+` FROM messages
WHERE thread_id IN (?) ORDER BY date ASC, id ASC`, threadIDs)
	if err != nil {
		return nil, err
	}
	var rows []messageRow
	if err := ts.db.SelectContext(ctx, &rows, ts.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	out := make(map[string][]model.Message, len(threadIDs))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out[r.ThreadID] = append(out[r.ThreadID], m)
	}
	return out, nil
}

// GetThread loads one thread with its messages
func (ts *ThreadStore) GetThread(ctx context.Context, id string) (model.Thread, error) {
	if ts == nil || ts.db == nil {
		return model.Thread{}, fmt.Errorf("thread store not initialized")
	}
	var row threadRow
	err := ts.db.GetContext(ctx, &row, `SELECT id, snippet, history_id, last_message_date, unread_count, fetched_at
FROM threads WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Thread{}, fmt.Errorf("thread %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Thread{}, fmt.Errorf("get thread %s: %w", id, err)
	}
	msgs, err := ts.loadMessages(ctx, []string{id})
	if err != nil {
		return model.Thread{}, err
	}
	return model.Thread{ID: row.ID, Snippet: row.Snippet, HistoryID: row.HistoryID.String, Messages: msgs[id]}, nil
}

// DeleteThread removes a thread; its messages go with it
func (ts *ThreadStore) DeleteThread(ctx context.Context, id string) error {
	if ts == nil || ts.db == nil {
		return fmt.Errorf("thread store not initialized")
	}
	_, err := ts.db.ExecContext(ctx, `DELETE FROM threads WHERE id=?`, id)
	return err
}

// DeleteAll removes every cached thread and message
func (ts *ThreadStore) DeleteAll(ctx context.Context) error {
	if ts == nil || ts.db == nil {
		return fmt.Errorf("thread store not initialized")
	}
	tx, err := ts.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM threads`); err != nil {
		return fmt.Errorf("delete threads: %w", err)
	}
	return tx.Commit()
}

// SaveSanitized stores explicitly produced sanitized content for a message
func (ts *ThreadStore) SaveSanitized(ctx context.Context, messageID, body string, at time.Time) error {
	if ts == nil || ts.db == nil {
		return fmt.Errorf("thread store not initialized")
	}
	if strings.TrimSpace(messageID) == "" || body == "" {
		return fmt.Errorf("invalid sanitized inputs")
	}
	res, err := ts.db.ExecContext(ctx, `UPDATE messages SET sanitized_body=?, sanitized_at=? WHERE id=?`,
		body, unixMilli(at), messageID)
	if err != nil {
		return fmt.Errorf("save sanitized %s: %w", messageID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	return nil
}

// ResetSanitized clears sanitized content; the only way to drop it once stored
func (ts *ThreadStore) ResetSanitized(ctx context.Context, messageID string) error {
	if ts == nil || ts.db == nil {
		return fmt.Errorf("thread store not initialized")
	}
	_, err := ts.db.ExecContext(ctx, `UPDATE messages SET sanitized_body=NULL, sanitized_at=NULL WHERE id=?`, messageID)
	return err
}

// KnownHistory maps every cached thread id to its stored historyId
func (ts *ThreadStore) KnownHistory(ctx context.Context) (map[string]string, error) {
	if ts == nil || ts.db == nil {
		return nil, fmt.Errorf("thread store not initialized")
	}
	var rows []struct {
		ID        string         `db:"id"`
		HistoryID sql.NullString `db:"history_id"`
	}
	if err := ts.db.SelectContext(ctx, &rows, `SELECT id, history_id FROM threads`); err != nil {
		return nil, fmt.Errorf("load history ids: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.ID] = r.HistoryID.String
	}
	return out, nil
}

// Count returns the number of cached threads
func (ts *ThreadStore) Count(ctx context.Context) (int, error) {
	if ts == nil || ts.db == nil {
		return 0, fmt.Errorf("thread store not initialized")
	}
	var n int
	err := ts.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM threads`)
	return n, err
}
