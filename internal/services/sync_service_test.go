package services

import (
	"context"
	"encoding/base64"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ajramos/ebbsync/internal/db"
	"github.com/ajramos/ebbsync/internal/gmail"
	"github.com/ajramos/ebbsync/internal/model"
	"github.com/ajramos/ebbsync/internal/sanitize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	gmailapi "google.golang.org/api/gmail/v1"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const owner = "me@example.com"

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type sentMessage struct {
	raw      string
	threadID string
}

// fakeGateway serves a fixed mailbox
type fakeGateway struct {
	mu       sync.Mutex
	threads  map[string]*gmailapi.Thread
	order    []string
	ownerErr error
	listErr  error
	sendErr  error
	sent     []sentMessage
	gets     map[string]int
	lastList gmail.ListOptions

	// when set, ListThreads closes entered and waits for release
	entered chan struct{}
	release chan struct{}
}

func newFakeGateway(threads ...*gmailapi.Thread) *fakeGateway {
	g := &fakeGateway{threads: map[string]*gmailapi.Thread{}, gets: map[string]int{}}
	for _, t := range threads {
		g.put(t)
	}
	return g
}

func (g *fakeGateway) put(t *gmailapi.Thread) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.threads[t.Id]; !ok {
		g.order = append(g.order, t.Id)
	}
	g.threads[t.Id] = t
}

func (g *fakeGateway) ListThreads(ctx context.Context, opts gmail.ListOptions) (*gmail.ThreadPage, error) {
	if g.entered != nil {
		close(g.entered)
		<-g.release
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastList = opts
	if g.listErr != nil {
		return nil, g.listErr
	}
	page := &gmail.ThreadPage{}
	for _, id := range g.order {
		t := g.threads[id]
		page.Summaries = append(page.Summaries, gmail.ThreadSummary{ID: id, HistoryID: gmail.FormatHistoryID(t.HistoryId)})
	}
	return page, nil
}

func (g *fakeGateway) GetThread(ctx context.Context, id string) (*gmailapi.Thread, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gets[id]++
	t, ok := g.threads[id]
	if !ok {
		return nil, &gmail.APIError{Status: 404, Message: "not found"}
	}
	return t, nil
}

func (g *fakeGateway) ActiveAccountEmail(ctx context.Context) (string, error) {
	if g.ownerErr != nil {
		return "", g.ownerErr
	}
	return owner, nil
}

func (g *fakeGateway) Send(ctx context.Context, raw []byte, threadID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return "", g.sendErr
	}
	g.sent = append(g.sent, sentMessage{raw: string(raw), threadID: threadID})
	return "sent-1", nil
}

func (g *fakeGateway) getCount(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gets[id]
}

type msgOpt func(*gmailapi.Message)

func withHTML(html string) msgOpt {
	return func(m *gmailapi.Message) {
		m.Payload.MimeType = "text/html"
		m.Payload.Body.Data = base64.URLEncoding.EncodeToString([]byte(html))
	}
}

func withHeader(name, value string) msgOpt {
	return func(m *gmailapi.Message) {
		m.Payload.Headers = append(m.Payload.Headers, &gmailapi.MessagePartHeader{Name: name, Value: value})
	}
}

func apiMessage(id, threadID, from, to, subject, body string, at time.Time, opts ...msgOpt) *gmailapi.Message {
	m := &gmailapi.Message{
		Id:           id,
		ThreadId:     threadID,
		Snippet:      "snippet " + id,
		LabelIds:     []string{"INBOX"},
		InternalDate: at.UnixMilli(),
		Payload: &gmailapi.MessagePart{
			MimeType: "text/plain",
			Headers: []*gmailapi.MessagePartHeader{
				{Name: "From", Value: from},
				{Name: "To", Value: to},
				{Name: "Subject", Value: subject},
				{Name: "Date", Value: at.Format(time.RFC1123Z)},
				{Name: "Message-ID", Value: "<" + id + "@example.com>"},
			},
			Body: &gmailapi.MessagePartBody{Data: base64.URLEncoding.EncodeToString([]byte(body))},
		},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func apiThread(id string, history uint64, msgs ...*gmailapi.Message) *gmailapi.Thread {
	return &gmailapi.Thread{Id: id, HistoryId: history, Messages: msgs}
}

// lunchThread: Alice writes, then replies again with HTML
func lunchThread() *gmailapi.Thread {
	return apiThread("t1", 100,
		apiMessage("m1", "t1", "Alice <alice@example.com>", owner, "Lunch", "Are you free for lunch tomorrow?", base),
		apiMessage("m2", "t1", "Alice <alice@example.com>", owner, "Re: Lunch", "", base.Add(time.Hour),
			withHTML("<p>Let's meet at <b>noon</b> by the fountain.</p>"),
			withHeader("References", "<m1@example.com>")),
	)
}

func reportThread() *gmailapi.Thread {
	return apiThread("t2", 200,
		apiMessage("r1", "t2", "Bob <bob@example.com>", owner, "Weekly report", "Numbers are up this week across teams.", base.Add(-time.Hour)),
	)
}

func newStores(t *testing.T) (*db.ThreadStore, *db.StateStore) {
	t.Helper()
	store, err := db.Open(context.Background(), db.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return db.NewThreadStore(store), db.NewStateStore(store)
}

func newService(t *testing.T, gw *fakeGateway, ai AIService) (*SyncService, *db.ThreadStore, *db.StateStore) {
	t.Helper()
	threads, state := newStores(t)
	return NewSyncService(gw, threads, state, ai, SyncOptions{}, nil), threads, state
}

func ids(ts []model.Thread) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.ID)
	}
	return out
}

func TestFetchRecent_MergesPersistsAndPublishes(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway(reportThread(), lunchThread())
	svc, cache, state := newService(t, gw, nil)
	require.NoError(t, svc.Load(ctx))

	require.NoError(t, svc.FetchRecent(ctx, 10))

	snap := svc.Snapshot()
	assert.False(t, snap.IsRefreshing)
	assert.Empty(t, snap.ErrorMessage)
	assert.Equal(t, owner, snap.OwnerEmail)
	assert.Equal(t, []string{"t1", "t2"}, ids(snap.Threads))

	lunch := snap.Threads[0]
	require.Len(t, lunch.Messages, 2)
	assert.Equal(t, "Let's meet at noon by the fountain.", lunch.Messages[1].BodyPlain)
	assert.False(t, lunch.Messages[0].IsFromOwner())
	assert.False(t, lunch.Messages[1].Sanitized.Has())

	stored, err := cache.LoadThreads(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, ids(stored))

	_, ok, err := state.GetTime(ctx, db.StateLastSync)
	require.NoError(t, err)
	assert.True(t, ok)
	v, _, err := state.Get(ctx, db.StateOwnerEmail)
	require.NoError(t, err)
	assert.Equal(t, owner, v)
}

func TestFetchRecent_IncrementalSkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway(lunchThread(), reportThread())
	svc, _, _ := newService(t, gw, nil)

	require.NoError(t, svc.FetchRecent(ctx, 10))
	require.NoError(t, svc.FetchRecent(ctx, 10))
	assert.Equal(t, 1, gw.getCount("t1"))

	moved := lunchThread()
	moved.HistoryId = 101
	gw.put(moved)
	require.NoError(t, svc.FetchRecent(ctx, 10))
	assert.Equal(t, 2, gw.getCount("t1"))
	assert.Equal(t, 1, gw.getCount("t2"))
}

func TestFetchRecent_RejectsConcurrentRefresh(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway(lunchThread())
	gw.entered = make(chan struct{})
	gw.release = make(chan struct{})
	svc, _, _ := newService(t, gw, nil)

	done := make(chan error, 1)
	go func() { done <- svc.FetchRecent(ctx, 5) }()
	<-gw.entered

	assert.True(t, svc.Snapshot().IsRefreshing)
	assert.ErrorIs(t, svc.FetchRecent(ctx, 5), ErrRefreshInProgress)

	close(gw.release)
	require.NoError(t, <-done)
	snap := svc.Snapshot()
	assert.False(t, snap.IsRefreshing)
	assert.Len(t, snap.Threads, 1)
}

func TestFetchRecent_FailureKeepsPriorState(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway(lunchThread())
	svc, _, _ := newService(t, gw, nil)
	require.NoError(t, svc.FetchRecent(ctx, 10))
	before := svc.Snapshot().Threads

	gw.put(reportThread())
	gw.listErr = &gmail.APIError{Status: 503, Message: "backend error"}
	err := svc.FetchRecent(ctx, 10)

	require.Error(t, err)
	snap := svc.Snapshot()
	assert.Equal(t, before, snap.Threads)
	assert.False(t, snap.IsRefreshing)
	assert.Equal(t, "Gmail servers are temporarily unavailable. Please try again later.", snap.ErrorMessage)

	// the next successful sync clears the slot
	gw.listErr = nil
	require.NoError(t, svc.FetchRecent(ctx, 10))
	assert.Empty(t, svc.Snapshot().ErrorMessage)
}

func TestFetchRecent_AuthFailureMessage(t *testing.T) {
	gw := newFakeGateway()
	gw.listErr = gmail.ErrAuth
	svc, _, _ := newService(t, gw, nil)

	assert.ErrorIs(t, svc.FetchRecent(context.Background(), 3), gmail.ErrAuth)
	assert.Equal(t, "Your session has expired. Please sign in again.", svc.Snapshot().ErrorMessage)
}

func TestFetchRecent_OwnerLookupIsNonFatal(t *testing.T) {
	gw := newFakeGateway(reportThread())
	gw.ownerErr = errors.New("profile down")
	svc, _, _ := newService(t, gw, nil)

	require.NoError(t, svc.FetchRecent(context.Background(), 10))
	snap := svc.Snapshot()
	assert.Len(t, snap.Threads, 1)
	assert.Empty(t, snap.OwnerEmail)
}

func TestFetchRecent_InvalidCount(t *testing.T) {
	svc, _, _ := newService(t, newFakeGateway(), nil)
	assert.ErrorIs(t, svc.FetchRecent(context.Background(), 0), ErrInvalidInput)
}

// MockThreadCache implements ThreadCache for testing
type MockThreadCache struct {
	mock.Mock
}

func (m *MockThreadCache) SaveThreads(ctx context.Context, threads []model.Thread, mode db.PersistMode) error {
	args := m.Called(ctx, threads, mode)
	return args.Error(0)
}

func (m *MockThreadCache) LoadThreads(ctx context.Context, limit int) ([]model.Thread, error) {
	args := m.Called(ctx, limit)
	threads, _ := args.Get(0).([]model.Thread)
	return threads, args.Error(1)
}

func (m *MockThreadCache) DeleteAll(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func TestFetchRecent_PersistFailureIsSurfacedNotFatal(t *testing.T) {
	cache := &MockThreadCache{}
	cache.On("SaveThreads", mock.Anything, mock.Anything, db.PersistReplace).Return(errors.New("disk full"))
	svc := NewSyncService(newFakeGateway(reportThread()), cache, nil, nil, SyncOptions{PersistMode: db.PersistReplace}, nil)

	require.NoError(t, svc.FetchRecent(context.Background(), 10))

	snap := svc.Snapshot()
	assert.Len(t, snap.Threads, 1)
	assert.Contains(t, snap.ErrorMessage, "disk full")
	cache.AssertExpectations(t)
}

func TestFetchRecent_NothingNewSkipsPersist(t *testing.T) {
	cache := &MockThreadCache{}
	cache.On("LoadThreads", mock.Anything, 0).Return([]model.Thread{{
		ID: "t2", HistoryID: "200",
		Messages: []model.Message{{ID: "r1", ThreadID: "t2", Date: base}},
	}}, nil)
	svc := NewSyncService(newFakeGateway(reportThread()), cache, nil, nil, SyncOptions{}, nil)
	require.NoError(t, svc.Load(context.Background()))

	require.NoError(t, svc.FetchRecent(context.Background(), 10))

	assert.Equal(t, []string{"t2"}, ids(svc.Snapshot().Threads))
	cache.AssertNotCalled(t, "SaveThreads", mock.Anything, mock.Anything, mock.Anything)
}

func TestLoad_RestoresCachedThreadsAndOwner(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway(lunchThread(), reportThread())
	svc, cache, state := newService(t, gw, nil)
	require.NoError(t, svc.FetchRecent(ctx, 10))

	restarted := NewSyncService(gw, cache, state, nil, SyncOptions{}, nil)
	require.NoError(t, restarted.Load(ctx))

	snap := restarted.Snapshot()
	assert.Equal(t, []string{"t1", "t2"}, ids(snap.Threads))
	assert.Equal(t, owner, snap.OwnerEmail)
}

// MockLLMProvider implements llm.Provider for testing
type MockLLMProvider struct {
	mock.Mock
}

func (m *MockLLMProvider) Name() string {
	return "mock"
}

func (m *MockLLMProvider) Generate(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func TestSanitizeThread_FreshThenPreservedAcrossRefresh(t *testing.T) {
	ctx := context.Background()
	provider := &MockLLMProvider{}
	provider.On("Generate", mock.Anything, mock.Anything).Return("**formatted**", nil)
	gw := newFakeGateway(lunchThread())
	svc, cache, _ := newService(t, gw, NewAIService(provider, nil, nil))
	require.NoError(t, svc.FetchRecent(ctx, 10))

	require.NoError(t, svc.SanitizeThread(ctx, "t1"))

	th, ok := findThread(svc.Snapshot().Threads, "t1")
	require.True(t, ok)
	for _, m := range th.Messages {
		assert.Equal(t, "**formatted**", m.Sanitized.Body, m.ID)
	}
	provider.AssertNumberOfCalls(t, "Generate", 2)

	// A refetch never carries sanitized bodies; the stored ones must survive
	require.NoError(t, svc.RefreshThread(ctx, "t1"))
	th, _ = findThread(svc.Snapshot().Threads, "t1")
	for _, m := range th.Messages {
		assert.Equal(t, model.SanitizedPreserved, m.Sanitized.State, m.ID)
		assert.Equal(t, "**formatted**", m.Sanitized.Body)
	}
	stored, err := cache.GetThread(ctx, "t1")
	require.NoError(t, err)
	for _, m := range stored.Messages {
		assert.Equal(t, "**formatted**", m.Sanitized.Body)
	}

	// Already sanitized messages are not sent again
	require.NoError(t, svc.SanitizeThread(ctx, "t1"))
	provider.AssertNumberOfCalls(t, "Generate", 2)
}

func TestSanitizeThread_FailureLeavesMessagesUnsanitized(t *testing.T) {
	ctx := context.Background()
	provider := &MockLLMProvider{}
	provider.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("model offline"))
	svc, _, _ := newService(t, newFakeGateway(reportThread()), NewAIService(provider, nil, nil))
	require.NoError(t, svc.FetchRecent(ctx, 10))

	require.NoError(t, svc.SanitizeThread(ctx, "t2"))

	th, _ := findThread(svc.Snapshot().Threads, "t2")
	assert.False(t, th.Messages[0].Sanitized.Has())
}

func TestSanitizeThread_Errors(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t, newFakeGateway(), nil)
	assert.ErrorIs(t, svc.SanitizeThread(ctx, "t1"), ErrAIUnavailable)

	svc, _, _ = newService(t, newFakeGateway(), NewAIService(&MockLLMProvider{}, nil, nil))
	assert.ErrorIs(t, svc.SanitizeThread(ctx, "missing"), ErrNotFound)
}

func findThread(ts []model.Thread, id string) (model.Thread, bool) {
	for _, t := range ts {
		if t.ID == id {
			return t, true
		}
	}
	return model.Thread{}, false
}

func TestSendReply_ChainsHeadersAndRefreshes(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway(lunchThread())
	svc, _, _ := newService(t, gw, nil)
	require.NoError(t, svc.FetchRecent(ctx, 10))

	assert.ErrorIs(t, svc.SendReply(ctx, "Sounds good"), ErrNoThreadSelected)

	svc.SelectThread("t1")
	require.NoError(t, svc.SendReply(ctx, "Sounds good"))

	require.Len(t, gw.sent, 1)
	sent := gw.sent[0]
	assert.Equal(t, "t1", sent.threadID)
	assert.Regexp(t, `(?m)^From: me@example\.com\r$`, sent.raw)
	assert.Regexp(t, `(?m)^To: .*<alice@example\.com>\r$`, sent.raw)
	assert.Contains(t, sent.raw, "Subject: Re: Lunch\r\n")
	assert.Contains(t, sent.raw, "In-Reply-To: <m2@example.com>\r\n")
	assert.Contains(t, sent.raw, "References: <m1@example.com> <m2@example.com>\r\n")
	assert.Equal(t, 2, gw.getCount("t1"), "thread refetched after sending")
	assert.False(t, svc.Snapshot().IsSending)
}

func TestSendReply_OwnerLastMessageGoesToOriginalRecipients(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway(apiThread("t3", 1,
		apiMessage("o1", "t3", "Alice <alice@example.com>", owner, "Plan", "Draft plan attached for review.", base),
		apiMessage("o2", "t3", owner, "Alice <alice@example.com>, carol@example.com", "Re: Plan", "Looks fine to me overall.", base.Add(time.Hour)),
	))
	svc, _, _ := newService(t, gw, nil)
	require.NoError(t, svc.FetchRecent(ctx, 10))
	svc.SelectThread("t3")

	require.NoError(t, svc.SendReply(ctx, "Following up"))

	require.Len(t, gw.sent, 1)
	assert.Regexp(t, `(?m)^To: .*alice@example\.com.*carol@example\.com\r$`, gw.sent[0].raw)
}

func TestSendReply_SendFailureSurfaced(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway(lunchThread())
	svc, _, _ := newService(t, gw, nil)
	require.NoError(t, svc.FetchRecent(ctx, 10))
	svc.SelectThread("t1")
	gw.sendErr = &gmail.APIError{Status: 403}

	require.Error(t, svc.SendReply(ctx, "hello"))
	assert.Equal(t, "Access denied. Check your Gmail permissions.", svc.Snapshot().ErrorMessage)
	assert.Equal(t, 1, gw.getCount("t1"), "no refresh after a failed send")
}

func TestReplyRecipients(t *testing.T) {
	alice := model.EmailAddress{Name: "Alice", Email: "alice@example.com"}
	me := model.EmailAddress{Email: owner}

	to, cc := replyRecipients(model.Message{From: alice, To: []model.EmailAddress{me}}, owner)
	assert.Equal(t, []model.EmailAddress{alice}, to)
	assert.Nil(t, cc)

	to, _ = replyRecipients(model.Message{From: me, To: []model.EmailAddress{alice}}, "ME@example.com")
	assert.Equal(t, []model.EmailAddress{alice}, to)
}

func TestSendDraft(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	svc, _, _ := newService(t, gw, nil)

	assert.ErrorIs(t, svc.SendDraft(ctx, model.ComposeDraft{Subject: "no recipients"}), ErrInvalidDraft)

	err := svc.SendDraft(ctx, model.ComposeDraft{
		To:      []model.EmailAddress{{Email: "bob@example.com"}},
		Subject: "Hello",
		Body:    "First line",
	})
	require.NoError(t, err)
	require.Len(t, gw.sent, 1)
	assert.Empty(t, gw.sent[0].threadID)
	assert.Contains(t, gw.sent[0].raw, "To: bob@example.com\r\n")
	assert.NotContains(t, gw.sent[0].raw, "In-Reply-To")
}

func TestSubscribe_LatestWins(t *testing.T) {
	svc, _, _ := newService(t, newFakeGateway(), nil)

	ch, cancel := svc.Subscribe()
	initial := <-ch
	assert.Empty(t, initial.SelectedThreadID)

	svc.SelectThread("a")
	svc.SelectThread("b")
	latest := <-ch
	assert.Equal(t, "b", latest.SelectedThreadID)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	// publishing after cancel must not block
	svc.SelectThread("c")
}

func TestSubscribe_SeesRefreshLifecycle(t *testing.T) {
	gw := newFakeGateway(reportThread())
	svc, _, _ := newService(t, gw, nil)
	ch, cancel := svc.Subscribe()
	defer cancel()
	<-ch

	var (
		wg   sync.WaitGroup
		seen []Snapshot
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for snap := range ch {
			seen = append(seen, snap)
			if !snap.IsRefreshing && len(snap.Threads) == 1 {
				return
			}
		}
	}()

	require.NoError(t, svc.FetchRecent(context.Background(), 10))
	wg.Wait()
	require.NotEmpty(t, seen)
	assert.False(t, seen[len(seen)-1].IsRefreshing)
}

func TestClearCache(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway(lunchThread())
	svc, cache, _ := newService(t, gw, nil)
	require.NoError(t, svc.FetchRecent(ctx, 10))
	svc.SelectThread("t1")

	require.NoError(t, svc.ClearCache(ctx))

	snap := svc.Snapshot()
	assert.Empty(t, snap.Threads)
	assert.Empty(t, snap.SelectedThreadID)
	n, err := cache.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, ok := snap.SelectedThread()
	assert.False(t, ok)
}

func TestSnapshot_IsACopy(t *testing.T) {
	svc, _, _ := newService(t, newFakeGateway(reportThread(), lunchThread()), nil)
	require.NoError(t, svc.FetchRecent(context.Background(), 10))

	snap := svc.Snapshot()
	sort.Slice(snap.Threads, func(i, j int) bool { return snap.Threads[i].ID > snap.Threads[j].ID })

	assert.Equal(t, []string{"t1", "t2"}, ids(svc.Snapshot().Threads))
}

func TestSetLabelFilter_AppliesToNextRefresh(t *testing.T) {
	gw := newFakeGateway(lunchThread())
	svc, _, _ := newService(t, gw, nil)

	svc.SetLabelFilter([]string{"Label_7"})
	require.NoError(t, svc.FetchRecent(context.Background(), 10))

	gw.mu.Lock()
	defer gw.mu.Unlock()
	assert.Equal(t, []string{"Label_7"}, gw.lastList.LabelIDs)
}

func TestDecodeThreads_CleansByPartType(t *testing.T) {
	raw := []*gmailapi.Thread{
		apiThread("t3", 300,
			apiMessage("p1", "t3", "Bob <bob@example.com>", owner, "Markup", "Use the <b> tag for bold.", base),
			apiMessage("h1", "t3", "Bob <bob@example.com>", owner, "Markup", "", base.Add(time.Minute),
				withHTML("<p>Wrap it in a &lt;div&gt; block</p>")),
		),
	}

	got, err := decodeThreads(raw, owner)

	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0].Messages, 2)
	assert.Equal(t, "Use the <b> tag for bold.", got[0].Messages[0].BodyPlain)
	assert.Equal(t, "Wrap it in a <div> block", got[0].Messages[1].BodyPlain)
	assert.Equal(t, "Wrap it in a <div> block", sanitize.PlainText(got[0].Messages[1].BodyPlain))
}
