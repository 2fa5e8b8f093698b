package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ajramos/ebbsync/internal/gmail"
)

// ErrHistoryExpired means the checkpoint is older than the history Gmail keeps
// and a listing walk is needed instead.
var ErrHistoryExpired = errors.New("history checkpoint expired")

// maxHistoryPages bounds the walk when Gmail keeps handing out page tokens
const maxHistoryPages = 100

// HistorySource lists mailbox changes
type HistorySource interface {
	ListHistory(ctx context.Context, startHistoryID, pageToken string) (*gmail.HistoryPage, error)
}

// Changes are the threads touched since a checkpoint
type Changes struct {
	ThreadIDs         []string
	DeletedMessageIDs []string
	// HistoryID is the newest checkpoint; empty when Gmail did not report one
	HistoryID string
}

// ChangedSince walks every history page after since and collects the touched
// thread ids, deduplicated in first-seen order.
func ChangedSince(ctx context.Context, src HistorySource, since string) (*Changes, error) {
	if strings.TrimSpace(since) == "" {
		return nil, fmt.Errorf("empty history checkpoint")
	}
	out := &Changes{}
	seen := make(map[string]struct{})
	token := ""
	for pages := 0; pages < maxHistoryPages; pages++ {
		page, err := src.ListHistory(ctx, since, token)
		if err != nil {
			if gmail.StatusOf(err) == http.StatusNotFound {
				return nil, fmt.Errorf("%w: %v", ErrHistoryExpired, err)
			}
			return nil, err
		}
		for _, id := range page.ThreadIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out.ThreadIDs = append(out.ThreadIDs, id)
		}
		out.DeletedMessageIDs = append(out.DeletedMessageIDs, page.DeletedMessageIDs...)
		if page.HistoryID != "" {
			out.HistoryID = page.HistoryID
		}
		if page.NextPageToken == "" {
			return out, nil
		}
		token = page.NextPageToken
	}
	return out, nil
}
