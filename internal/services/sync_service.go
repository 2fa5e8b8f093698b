package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajramos/ebbsync/internal/codec"
	"github.com/ajramos/ebbsync/internal/db"
	"github.com/ajramos/ebbsync/internal/gmail"
	"github.com/ajramos/ebbsync/internal/model"
	"github.com/ajramos/ebbsync/internal/reconcile"
	"github.com/ajramos/ebbsync/internal/sanitize"
	gmailapi "google.golang.org/api/gmail/v1"
)

// Snapshot is the observable state handed to the presentation layer
type Snapshot struct {
	Threads          []model.Thread
	IsRefreshing     bool
	IsSending        bool
	ErrorMessage     string
	SelectedThreadID string
	OwnerEmail       string
}

// SelectedThread returns the selected thread, if it is loaded
func (s Snapshot) SelectedThread() (model.Thread, bool) {
	for _, t := range s.Threads {
		if t.ID == s.SelectedThreadID {
			return t, true
		}
	}
	return model.Thread{}, false
}

// SyncOptions tunes fetching and persistence
type SyncOptions struct {
	Strategy    reconcile.Strategy
	PersistMode db.PersistMode
	Fetch       reconcile.Options
	// LoadLimit caps how many cached threads Load brings into memory; 0 loads all
	LoadLimit int
}

// SyncService owns the in-memory thread collection. Mutations happen under
// mu; network, decode and AI work run outside it.
type SyncService struct {
	gateway MailGateway
	cache   ThreadCache
	state   StateCache
	ai      AIService
	opts    SyncOptions
	logger  *slog.Logger
	now     func() time.Time

	refreshing atomic.Bool
	sending    atomic.Bool

	mu       sync.Mutex
	threads  []model.Thread
	errMsg   string
	selected string
	owner    string
	subs     map[int]chan Snapshot
	nextSub  int
}

// NewSyncService wires the orchestrator. state and ai may be nil.
func NewSyncService(gateway MailGateway, cache ThreadCache, state StateCache, ai AIService, opts SyncOptions, logger *slog.Logger) *SyncService {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Strategy == "" {
		opts.Strategy = reconcile.StrategyIncremental
	}
	if opts.PersistMode == "" {
		opts.PersistMode = db.PersistUpdateInPlace
	}
	return &SyncService{
		gateway: gateway,
		cache:   cache,
		state:   state,
		ai:      ai,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
		subs:    make(map[int]chan Snapshot),
	}
}

// Load rebuilds the in-memory collection from the cache
func (s *SyncService) Load(ctx context.Context) error {
	threads, err := s.cache.LoadThreads(ctx, s.opts.LoadLimit)
	if err != nil {
		return fmt.Errorf("load cached threads: %w", err)
	}
	owner := ""
	if s.state != nil {
		if v, ok, err := s.state.Get(ctx, db.StateOwnerEmail); err == nil && ok {
			owner = v
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads = reconcile.Merge(nil, threads)
	if owner != "" && s.owner == "" {
		s.owner = owner
	}
	s.publishLocked()
	s.logger.Debug("loaded cached threads", "count", len(threads))
	return nil
}

// FetchRecent pulls up to count threads the local collection lacks (or that
// changed) and merges them in. A call while a refresh is running returns
// ErrRefreshInProgress without doing anything.
func (s *SyncService) FetchRecent(ctx context.Context, count int) error {
	if count <= 0 {
		return fmt.Errorf("count must be positive: %w", ErrInvalidInput)
	}
	if !s.refreshing.CompareAndSwap(false, true) {
		return ErrRefreshInProgress
	}

	s.mu.Lock()
	s.errMsg = ""
	known := make(map[string]string, len(s.threads))
	for _, t := range s.threads {
		known[t.ID] = t.HistoryID
	}
	owner := s.owner
	fetchOpts := s.opts.Fetch
	s.publishLocked()
	s.mu.Unlock()

	if email, err := s.gateway.ActiveAccountEmail(ctx); err != nil {
		s.logger.Warn("owner profile unavailable", "error", err)
	} else {
		owner = email
		if s.state != nil {
			if err := s.state.Set(ctx, db.StateOwnerEmail, email); err != nil {
				s.logger.Warn("persist owner email", "error", err)
			}
		}
	}

	start := s.now()
	res, err := reconcile.Fetch(ctx, s.opts.Strategy, s.gateway, known, count, fetchOpts)
	if err != nil {
		s.logger.Error("fetch threads failed", "error", err)
		s.finishRefresh(func() { s.errMsg = gmail.UserMessage(err) })
		return err
	}
	if len(res.Threads) == 0 {
		s.logger.Info("sync found nothing new", "strategy", s.opts.Strategy)
		s.finishRefresh(func() { s.setOwnerLocked(owner) })
		return nil
	}

	incoming, err := decodeThreads(res.Threads, owner)
	if err != nil {
		s.logger.Error("decode threads failed", "error", err)
		s.finishRefresh(func() { s.errMsg = gmail.UserMessage(err) })
		return err
	}

	s.mu.Lock()
	s.threads = reconcile.Merge(s.threads, incoming)
	s.setOwnerLocked(owner)
	s.mu.Unlock()

	persistErr := s.cache.SaveThreads(ctx, incoming, s.opts.PersistMode)
	if persistErr != nil {
		s.logger.Error("persist threads failed", "error", persistErr)
	} else if s.state != nil {
		if err := s.state.SetTime(ctx, db.StateLastSync, s.now()); err != nil {
			s.logger.Warn("persist last sync time", "error", err)
		}
	}

	s.logger.Info("sync finished",
		"fetched", len(incoming),
		"has_more", res.HasMore,
		"strategy", s.opts.Strategy,
		"elapsed", s.now().Sub(start))
	s.finishRefresh(func() {
		if persistErr != nil {
			s.errMsg = "Failed to save threads locally: " + persistErr.Error()
		}
	})
	return nil
}

// finishRefresh clears the refreshing flag, applies fn and publishes, all under mu
func (s *SyncService) finishRefresh(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		fn()
	}
	s.refreshing.Store(false)
	s.publishLocked()
}

func (s *SyncService) setOwnerLocked(owner string) {
	if owner != "" {
		s.owner = owner
	}
}

// decodeThreads converts API threads and cleans the plain body of every message.
// Sanitized content is never touched here.
func decodeThreads(raw []*gmailapi.Thread, owner string) ([]model.Thread, error) {
	out := make([]model.Thread, 0, len(raw))
	for _, t := range raw {
		if t == nil || t.Id == "" {
			return nil, fmt.Errorf("decode thread: empty thread in response")
		}
		th := codec.DecodeThread(t, owner)
		for i, m := range th.Messages {
			if strings.TrimSpace(m.BodyPlain) != "" {
				th.Messages[i].BodyPlain = sanitize.PlainText(m.BodyPlain)
			} else {
				th.Messages[i].BodyPlain = sanitize.HTMLText(m.BodyHTML)
			}
		}
		out = append(out, th)
	}
	return out, nil
}

// RefreshThread refetches one thread. Failures are returned but leave the
// error slot alone.
func (s *SyncService) RefreshThread(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("thread id: %w", ErrInvalidInput)
	}
	raw, err := s.gateway.GetThread(ctx, id)
	if err != nil {
		return fmt.Errorf("refresh thread %s: %w", id, err)
	}

	s.mu.Lock()
	owner := s.owner
	s.mu.Unlock()

	incoming, err := decodeThreads([]*gmailapi.Thread{raw}, owner)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.threads = reconcile.Merge(s.threads, incoming)
	s.mu.Unlock()

	if err := s.cache.SaveThreads(ctx, incoming, s.opts.PersistMode); err != nil {
		s.logger.Warn("persist refreshed thread", "thread", id, "error", err)
	}

	s.mu.Lock()
	s.publishLocked()
	s.mu.Unlock()
	return nil
}

// SanitizeThread runs the AI formatter over messages of the thread that have
// no sanitized body yet and stores the results as fresh content
func (s *SyncService) SanitizeThread(ctx context.Context, id string) error {
	if s.ai == nil || !s.ai.Available() {
		return ErrAIUnavailable
	}
	s.mu.Lock()
	th, ok := s.findLocked(id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("thread %s: %w", id, ErrNotFound)
	}

	items := make(map[string]string)
	for _, m := range th.Messages {
		if m.Sanitized.Has() {
			continue
		}
		text := m.BodyPlain
		if strings.TrimSpace(text) == "" {
			text = m.Snippet
		}
		if strings.TrimSpace(text) != "" {
			items[m.ID] = text
		}
	}
	if len(items) == 0 {
		return nil
	}

	results := s.ai.FormatMany(ctx, items)
	at := s.now()
	fresh := make(map[string]model.Sanitized, len(results))
	for msgID, out := range results {
		// unchanged output means the formatter skipped or failed
		if out != items[msgID] {
			fresh[msgID] = model.FreshSanitized(out, at)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	s.mu.Lock()
	current, ok := s.findLocked(id)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("thread %s: %w", id, ErrNotFound)
	}
	updated := current
	updated.Messages = make([]model.Message, len(current.Messages))
	for i, m := range current.Messages {
		if f, ok := fresh[m.ID]; ok {
			m.Sanitized = f
		}
		updated.Messages[i] = m
	}
	s.threads = reconcile.Merge(s.threads, []model.Thread{updated})
	s.mu.Unlock()

	var persistErr error
	if err := s.cache.SaveThreads(ctx, []model.Thread{updated}, s.opts.PersistMode); err != nil {
		s.logger.Error("persist sanitized thread", "thread", id, "error", err)
		persistErr = err
	}

	s.mu.Lock()
	s.publishLocked()
	s.mu.Unlock()
	s.logger.Info("thread sanitized", "thread", id, "messages", len(fresh))
	return persistErr
}

// SendDraft sends a new message from the account owner
func (s *SyncService) SendDraft(ctx context.Context, draft model.ComposeDraft) error {
	if !draft.CanSend() {
		return ErrInvalidDraft
	}
	return s.send(ctx, func(owner string) (string, []byte, error) {
		raw, err := codec.NewMessage(codec.Envelope{
			From:    model.EmailAddress{Email: owner},
			To:      draft.To,
			Cc:      draft.Cc,
			Subject: draft.Subject,
			Body:    draft.Body,
		})
		return "", raw, err
	})
}

// SendReply answers the last message of the selected thread, then refreshes it
func (s *SyncService) SendReply(ctx context.Context, body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("reply body: %w", ErrInvalidInput)
	}
	s.mu.Lock()
	selected := s.selected
	th, ok := s.findLocked(selected)
	s.mu.Unlock()
	if selected == "" {
		return ErrNoThreadSelected
	}
	if !ok {
		return fmt.Errorf("thread %s: %w", selected, ErrNotFound)
	}
	last, ok := th.LastMessage()
	if !ok {
		return fmt.Errorf("thread %s has no messages: %w", selected, ErrNotFound)
	}

	err := s.send(ctx, func(owner string) (string, []byte, error) {
		to, cc := replyRecipients(last, owner)
		if len(to) == 0 {
			return "", nil, fmt.Errorf("no reply recipient: %w", ErrInvalidDraft)
		}
		subject := last.Subject
		if subject == "" {
			subject = th.Subject()
		}
		raw, err := codec.Reply(codec.Envelope{
			From:    model.EmailAddress{Email: owner},
			To:      to,
			Cc:      cc,
			Subject: subject,
			Body:    body,
		}, codec.Parent{ID: last.ID, MessageID: last.MessageID, References: last.References})
		return th.ID, raw, err
	})
	if err != nil {
		return err
	}
	if err := s.RefreshThread(ctx, th.ID); err != nil {
		s.logger.Warn("refresh after reply", "thread", th.ID, "error", err)
	}
	return nil
}

// replyRecipients answers the sender, or the original recipients when the
// owner wrote the last message
func replyRecipients(last model.Message, owner string) (to, cc []model.EmailAddress) {
	if owner != "" && last.From.Is(owner) {
		return last.To, last.Cc
	}
	return []model.EmailAddress{last.From}, nil
}

func (s *SyncService) send(ctx context.Context, build func(owner string) (threadID string, raw []byte, err error)) error {
	if !s.sending.CompareAndSwap(false, true) {
		return ErrSendInProgress
	}
	s.mu.Lock()
	s.errMsg = ""
	s.publishLocked()
	s.mu.Unlock()

	id, err := func() (string, error) {
		owner, err := s.gateway.ActiveAccountEmail(ctx)
		if err != nil {
			return "", fmt.Errorf("resolve sender: %w", err)
		}
		threadID, raw, err := build(owner)
		if err != nil {
			return "", err
		}
		return s.gateway.Send(ctx, raw, threadID)
	}()

	s.mu.Lock()
	s.sending.Store(false)
	if err != nil {
		s.errMsg = gmail.UserMessage(err)
	}
	s.publishLocked()
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("send failed", "error", err)
		return err
	}
	s.logger.Info("message sent", "id", id)
	return nil
}

// SetLabelFilter limits later refreshes to threads carrying all of ids
func (s *SyncService) SetLabelFilter(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.Fetch.LabelIDs = append([]string(nil), ids...)
}

// SelectThread marks a thread as selected; an empty id clears the selection
func (s *SyncService) SelectThread(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = id
	s.publishLocked()
}

// ClearCache wipes the persistent cache and the in-memory collection
func (s *SyncService) ClearCache(ctx context.Context) error {
	if err := s.cache.DeleteAll(ctx); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads = nil
	s.selected = ""
	s.errMsg = ""
	s.publishLocked()
	return nil
}

// Snapshot returns the current state
func (s *SyncService) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe delivers the current snapshot and every later one. Slow readers
// only see the latest. cancel closes the channel.
func (s *SyncService) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			close(ch)
			s.mu.Unlock()
		})
	}
}

func (s *SyncService) findLocked(id string) (model.Thread, bool) {
	if id == "" {
		return model.Thread{}, false
	}
	for _, t := range s.threads {
		if t.ID == id {
			return t, true
		}
	}
	return model.Thread{}, false
}

func (s *SyncService) snapshotLocked() Snapshot {
	threads := make([]model.Thread, len(s.threads))
	copy(threads, s.threads)
	return Snapshot{
		Threads:          threads,
		IsRefreshing:     s.refreshing.Load(),
		IsSending:        s.sending.Load(),
		ErrorMessage:     s.errMsg,
		SelectedThreadID: s.selected,
		OwnerEmail:       s.owner,
	}
}

func (s *SyncService) publishLocked() {
	if len(s.subs) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
