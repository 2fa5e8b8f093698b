// Package reconcile decides which remote threads to fetch and merges them
// into the local collection without losing sanitized content.
package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/ajramos/ebbsync/internal/gmail"
	"golang.org/x/sync/errgroup"
	gmailapi "google.golang.org/api/gmail/v1"
)

// ThreadSource is the subset of the gateway the reconciler needs
type ThreadSource interface {
	ListThreads(ctx context.Context, opts gmail.ListOptions) (*gmail.ThreadPage, error)
	GetThread(ctx context.Context, id string) (*gmailapi.Thread, error)
}

// Strategy selects how candidates are picked from the remote listing
type Strategy string

const (
	// StrategyIncremental fetches unknown threads and known ones whose historyId moved
	StrategyIncremental Strategy = "incremental"
	// StrategyAccumulate fetches only threads that are not known at all
	StrategyAccumulate Strategy = "accumulate"
)

// ParseStrategy accepts the config spelling of a strategy; empty means incremental
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyIncremental:
		return StrategyIncremental, nil
	case StrategyAccumulate:
		return StrategyAccumulate, nil
	default:
		return "", fmt.Errorf("unknown fetch strategy %q", s)
	}
}

// Options tune the listing walk
type Options struct {
	LabelIDs    []string
	Query       string
	PageSize    int64
	Concurrency int
}

func (o Options) concurrency() int {
	if o.Concurrency <= 0 {
		return 4
	}
	return o.Concurrency
}

// Result is the outcome of a fetch
type Result struct {
	Threads []*gmailapi.Thread
	// HasMore is true when the target was hit before the listing was exhausted
	HasMore bool
}

// FetchNew pages through the listing and fetches up to target threads whose
// ids are not in known.
func FetchNew(ctx context.Context, src ThreadSource, known map[string]struct{}, target int, opts Options) (*Result, error) {
	return walk(ctx, src, target, opts, func(s gmail.ThreadSummary) bool {
		_, ok := known[s.ID]
		return !ok
	})
}

// FetchChanged pages through the listing and fetches up to target threads that
// are unknown or whose historyId differs from the known one. An empty
// historyId on either side always refetches.
func FetchChanged(ctx context.Context, src ThreadSource, known map[string]string, target int, opts Options) (*Result, error) {
	return walk(ctx, src, target, opts, func(s gmail.ThreadSummary) bool {
		prev, ok := known[s.ID]
		if !ok {
			return true
		}
		return NeedsRefetch(prev, s.HistoryID)
	})
}

// NeedsRefetch compares a stored historyId with a remote one
func NeedsRefetch(known, remote string) bool {
	if known == "" || remote == "" {
		return true
	}
	return known != remote
}

// Fetch dispatches to the strategy; known maps thread id to stored historyId
func Fetch(ctx context.Context, strategy Strategy, src ThreadSource, known map[string]string, target int, opts Options) (*Result, error) {
	switch strategy {
	case StrategyAccumulate:
		ids := make(map[string]struct{}, len(known))
		for id := range known {
			ids[id] = struct{}{}
		}
		return FetchNew(ctx, src, ids, target, opts)
	case StrategyIncremental, "":
		return FetchChanged(ctx, src, known, target, opts)
	default:
		return nil, fmt.Errorf("unknown fetch strategy %q", strategy)
	}
}

func walk(ctx context.Context, src ThreadSource, target int, opts Options, want func(gmail.ThreadSummary) bool) (*Result, error) {
	res := &Result{}
	if target <= 0 {
		return res, nil
	}

	seen := make(map[string]struct{})
	pageToken := ""
	for {
		page, err := src.ListThreads(ctx, gmail.ListOptions{
			LabelIDs:   opts.LabelIDs,
			Query:      opts.Query,
			PageToken:  pageToken,
			MaxResults: opts.PageSize,
		})
		if err != nil {
			return nil, err
		}

		var ids []string
		for _, s := range page.Summaries {
			if _, dup := seen[s.ID]; dup {
				continue
			}
			seen[s.ID] = struct{}{}
			if !want(s) {
				continue
			}
			if len(res.Threads)+len(ids) == target {
				// Target reached with a candidate left over
				res.HasMore = true
				break
			}
			ids = append(ids, s.ID)
		}

		threads, err := fetchAll(ctx, src, ids, opts.concurrency())
		if err != nil {
			return nil, err
		}
		res.Threads = append(res.Threads, threads...)

		if len(res.Threads) >= target {
			if !res.HasMore && page.NextPageToken != "" {
				res.HasMore = true
			}
			return res, nil
		}
		if page.NextPageToken == "" {
			res.HasMore = false
			return res, nil
		}
		pageToken = page.NextPageToken
	}
}

// fetchAll fetches threads concurrently, preserving the order of ids
func fetchAll(ctx context.Context, src ThreadSource, ids []string, limit int) ([]*gmailapi.Thread, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out := make([]*gmailapi.Thread, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, id := range ids {
		g.Go(func() error {
			t, err := src.GetThread(gctx, id)
			if err != nil {
				return fmt.Errorf("fetch thread %s: %w", id, err)
			}
			out[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	threads := out[:0]
	for _, t := range out {
		if t != nil {
			threads = append(threads, t)
		}
	}
	return threads, nil
}
