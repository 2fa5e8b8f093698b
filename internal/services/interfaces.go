package services

import (
	"context"
	"time"

	"github.com/ajramos/ebbsync/internal/db"
	"github.com/ajramos/ebbsync/internal/gmail"
	"github.com/ajramos/ebbsync/internal/model"
	"github.com/ajramos/ebbsync/internal/reconcile"
)

// MailGateway is the remote mailbox the orchestrator syncs against
type MailGateway interface {
	reconcile.ThreadSource
	ActiveAccountEmail(ctx context.Context) (string, error)
	Send(ctx context.Context, raw []byte, threadID string) (string, error)
}

// LabelLister lists mailbox labels
type LabelLister interface {
	ListLabels(ctx context.Context) ([]gmail.Label, error)
}

// ThreadCache is the persistent thread store
type ThreadCache interface {
	SaveThreads(ctx context.Context, threads []model.Thread, mode db.PersistMode) error
	LoadThreads(ctx context.Context, limit int) ([]model.Thread, error)
	DeleteAll(ctx context.Context) error
}

// StateCache keeps small sync bookkeeping values
type StateCache interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, bool, error)
	SetTime(ctx context.Context, key string, t time.Time) error
}

// AIService formats message bodies with an LLM
type AIService interface {
	Available() bool
	Format(ctx context.Context, content string) string
	FormatMany(ctx context.Context, items map[string]string) map[string]string
}

var (
	_ MailGateway = (*gmail.Client)(nil)
	_ LabelLister = (*gmail.Client)(nil)
	_ ThreadCache = (*db.ThreadStore)(nil)
	_ StateCache  = (*db.StateStore)(nil)
	_ AIService   = (*AIServiceImpl)(nil)
)
