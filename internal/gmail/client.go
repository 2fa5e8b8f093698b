package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ajramos/ebbsync/internal/retry"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// TokenProvider supplies a currently valid bearer token. It may block to refresh.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenProviderFunc adapts a function to TokenProvider
type TokenProviderFunc func(ctx context.Context) (string, error)

// Token calls f
func (f TokenProviderFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// Options configures a Client
type Options struct {
	// Endpoint overrides the API base URL (tests point it at httptest)
	Endpoint   string
	UserID     string
	Timeout    time.Duration
	Transport  http.RoundTripper
	Policy     retry.Policy
	Logger     *slog.Logger
	NoBreaker  bool
	BreakerTTL time.Duration
}

// Client is the remote mail gateway. Every call passes through the retry
// executor and a circuit breaker.
type Client struct {
	tokens    TokenProvider
	endpoint  string
	userID    string
	timeout   time.Duration
	transport http.RoundTripper
	exec      *retry.Executor
	breaker   *gobreaker.CircuitBreaker
	logger    *slog.Logger

	mu           sync.Mutex
	profileEmail string
}

// NewClient creates a gateway backed by the Gmail REST API
func NewClient(tokens TokenProvider, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	userID := opts.UserID
	if userID == "" {
		userID = "me"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	c := &Client{
		tokens:    tokens,
		endpoint:  opts.Endpoint,
		userID:    userID,
		timeout:   timeout,
		transport: transport,
		logger:    logger,
	}
	c.exec = retry.NewExecutor(opts.Policy, isRetryable, logger)

	if !opts.NoBreaker {
		ttl := opts.BreakerTTL
		if ttl <= 0 {
			ttl = 30 * time.Second
		}
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "gmail-api",
			MaxRequests: 3,
			Interval:    60 * time.Second,
			Timeout:     ttl,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.ConsecutiveFailures > 5 ||
					(counts.Requests >= 10 && failureRatio >= 0.6)
			},
			// Client errors say nothing about the health of the service
			IsSuccessful: func(err error) bool {
				return err == nil || !retry.IsRetryable(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return c
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrAuth) || errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	return retry.IsRetryable(err)
}

// service builds a Gmail service bound to a freshly obtained token
func (c *Client) service(ctx context.Context) (*gmail.Service, error) {
	if c == nil || c.tokens == nil {
		return nil, fmt.Errorf("gmail client not initialized")
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuth, err)
	}
	if strings.TrimSpace(tok) == "" {
		return nil, fmt.Errorf("%w: empty token", ErrAuth)
	}

	hc := &http.Client{
		Timeout: c.timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok, TokenType: "Bearer"}),
			Base:   c.transport,
		},
	}
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gmail.NewService failed: %w", err)
	}
	return svc, nil
}

// do runs one API call with a fresh token, through the breaker and the retry executor
func do[T any](ctx context.Context, c *Client, name string, fn func(ctx context.Context, svc *gmail.Service) (T, error)) (T, error) {
	res, err := retry.Value(ctx, c.exec, func(ctx context.Context) (T, error) {
		var zero T
		svc, err := c.service(ctx)
		if err != nil {
			return zero, err
		}
		if c.breaker == nil {
			v, err := fn(ctx, svc)
			return v, convertError(err)
		}
		out, err := c.breaker.Execute(func() (interface{}, error) {
			v, err := fn(ctx, svc)
			if err != nil {
				return nil, convertError(err)
			}
			return v, nil
		})
		if err != nil {
			return zero, err
		}
		return out.(T), nil
	})
	if err != nil {
		c.logger.Debug("gmail call failed", "op", name, "error", err)
		return res, fmt.Errorf("%s: %w", name, err)
	}
	return res, nil
}

// ListOptions filters and paginates a thread listing
type ListOptions struct {
	LabelIDs   []string
	Query      string
	PageToken  string
	MaxResults int64
}

// ThreadSummary is the lightweight listing entry for a thread
type ThreadSummary struct {
	ID        string
	Snippet   string
	HistoryID string
}

// ThreadPage is one page of thread summaries
type ThreadPage struct {
	Summaries          []ThreadSummary
	NextPageToken      string
	ResultSizeEstimate int64
}

// ListThreads returns one page of thread summaries
func (c *Client) ListThreads(ctx context.Context, opts ListOptions) (*ThreadPage, error) {
	return do(ctx, c, "list threads", func(ctx context.Context, svc *gmail.Service) (*ThreadPage, error) {
		call := svc.Users.Threads.List(c.userID).Context(ctx)
		if opts.MaxResults > 0 {
			call = call.MaxResults(opts.MaxResults)
		}
		if len(opts.LabelIDs) > 0 {
			call = call.LabelIds(opts.LabelIDs...)
		}
		if opts.Query != "" {
			call = call.Q(opts.Query)
		}
		if opts.PageToken != "" {
			call = call.PageToken(opts.PageToken)
		}
		res, err := call.Do()
		if err != nil {
			return nil, err
		}

		page := &ThreadPage{
			NextPageToken:      res.NextPageToken,
			ResultSizeEstimate: res.ResultSizeEstimate,
		}
		for _, t := range res.Threads {
			if t == nil || t.Id == "" {
				continue
			}
			page.Summaries = append(page.Summaries, ThreadSummary{
				ID:        t.Id,
				Snippet:   t.Snippet,
				HistoryID: FormatHistoryID(t.HistoryId),
			})
		}
		return page, nil
	})
}

// GetThread fetches one thread with full message payloads
func (c *Client) GetThread(ctx context.Context, id string) (*gmail.Thread, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("threadID cannot be empty")
	}
	return do(ctx, c, "get thread", func(ctx context.Context, svc *gmail.Service) (*gmail.Thread, error) {
		return svc.Users.Threads.Get(c.userID, id).Format("full").Context(ctx).Do()
	})
}

// Profile is the authenticated user's mailbox profile
type Profile struct {
	EmailAddress  string
	MessagesTotal int64
	ThreadsTotal  int64
	HistoryID     string
}

// GetProfile fetches the user profile and remembers the account address
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	p, err := do(ctx, c, "get profile", func(ctx context.Context, svc *gmail.Service) (*Profile, error) {
		res, err := svc.Users.GetProfile(c.userID).Context(ctx).Do()
		if err != nil {
			return nil, err
		}
		return &Profile{
			EmailAddress:  res.EmailAddress,
			MessagesTotal: res.MessagesTotal,
			ThreadsTotal:  res.ThreadsTotal,
			HistoryID:     FormatHistoryID(res.HistoryId),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.profileEmail = p.EmailAddress
	c.mu.Unlock()
	return p, nil
}

// ActiveAccountEmail returns the account address, cached after the first profile fetch
func (c *Client) ActiveAccountEmail(ctx context.Context) (string, error) {
	if c == nil {
		return "", fmt.Errorf("gmail client not initialized")
	}
	c.mu.Lock()
	cached := c.profileEmail
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}
	p, err := c.GetProfile(ctx)
	if err != nil {
		return "", err
	}
	return p.EmailAddress, nil
}

// Label is a Gmail label
type Label struct {
	ID   string
	Name string
	Type string
}

// ListLabels returns all labels of the mailbox
func (c *Client) ListLabels(ctx context.Context) ([]Label, error) {
	return do(ctx, c, "list labels", func(ctx context.Context, svc *gmail.Service) ([]Label, error) {
		res, err := svc.Users.Labels.List(c.userID).Context(ctx).Do()
		if err != nil {
			return nil, err
		}
		out := make([]Label, 0, len(res.Labels))
		for _, l := range res.Labels {
			if l == nil {
				continue
			}
			out = append(out, Label{ID: l.Id, Name: l.Name, Type: l.Type})
		}
		return out, nil
	})
}

// Send submits an RFC 2822 message. A non-empty threadID groups it with an
// existing conversation.
func (c *Client) Send(ctx context.Context, raw []byte, threadID string) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("message cannot be empty")
	}
	msg := &gmail.Message{
		Raw:      base64.RawURLEncoding.EncodeToString(raw),
		ThreadId: threadID,
	}
	return do(ctx, c, "send message", func(ctx context.Context, svc *gmail.Service) (string, error) {
		sent, err := svc.Users.Messages.Send(c.userID, msg).Context(ctx).Do()
		if err != nil {
			return "", err
		}
		return sent.Id, nil
	})
}

// HistoryPage is one page of mailbox changes since a history id
type HistoryPage struct {
	// ThreadIDs touched by the changes, first occurrence order
	ThreadIDs         []string
	DeletedMessageIDs []string
	HistoryID         string
	NextPageToken     string
}

// ListHistory returns one page of changes after startHistoryID. Gmail answers
// 404 when the id is older than the history it keeps.
func (c *Client) ListHistory(ctx context.Context, startHistoryID, pageToken string) (*HistoryPage, error) {
	start, err := strconv.ParseUint(strings.TrimSpace(startHistoryID), 10, 64)
	if err != nil || start == 0 {
		return nil, fmt.Errorf("invalid start history id %q", startHistoryID)
	}
	return do(ctx, c, "list history", func(ctx context.Context, svc *gmail.Service) (*HistoryPage, error) {
		call := svc.Users.History.List(c.userID).StartHistoryId(start).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		res, err := call.Do()
		if err != nil {
			return nil, err
		}

		page := &HistoryPage{HistoryID: FormatHistoryID(res.HistoryId), NextPageToken: res.NextPageToken}
		seen := make(map[string]struct{})
		addThread := func(m *gmail.Message) {
			if m == nil || m.ThreadId == "" {
				return
			}
			if _, ok := seen[m.ThreadId]; ok {
				return
			}
			seen[m.ThreadId] = struct{}{}
			page.ThreadIDs = append(page.ThreadIDs, m.ThreadId)
		}
		for _, h := range res.History {
			if h == nil {
				continue
			}
			for _, m := range h.Messages {
				addThread(m)
			}
			for _, a := range h.MessagesAdded {
				if a != nil {
					addThread(a.Message)
				}
			}
			for _, d := range h.MessagesDeleted {
				if d == nil || d.Message == nil {
					continue
				}
				addThread(d.Message)
				page.DeletedMessageIDs = append(page.DeletedMessageIDs, d.Message.Id)
			}
		}
		return page, nil
	})
}

// FormatHistoryID renders the numeric history id; zero means unknown
func FormatHistoryID(id uint64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatUint(id, 10)
}
