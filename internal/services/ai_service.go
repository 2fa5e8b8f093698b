package services

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/ajramos/ebbsync/internal/config"
	"github.com/ajramos/ebbsync/internal/llm"
	"golang.org/x/sync/errgroup"
)

// minFormatLength is the shortest content worth a model round trip
const minFormatLength = 10

var (
	newlineRuns = regexp.MustCompile(`\n{3,}`)
	spaceRuns   = regexp.MustCompile(` {2,}`)
)

// AIServiceImpl implements AIService
type AIServiceImpl struct {
	provider    llm.Provider
	prompt      string
	concurrency int
	logger      *slog.Logger
}

// NewAIService creates a new AI service. A nil provider makes every call a no-op.
func NewAIService(provider llm.Provider, cfg *config.Config, logger *slog.Logger) *AIServiceImpl {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &AIServiceImpl{
		provider:    provider,
		prompt:      config.DefaultFormatPrompt,
		concurrency: 3,
		logger:      logger,
	}
	if cfg != nil {
		s.prompt = cfg.GetFormatPrompt()
		if cfg.LLM.Concurrency > 0 {
			s.concurrency = cfg.LLM.Concurrency
		}
	}
	return s
}

// Available reports whether a provider is configured
func (s *AIServiceImpl) Available() bool {
	return s != nil && s.provider != nil
}

// Format returns the model's rendition of content, or content itself when
// formatting is skipped or fails
func (s *AIServiceImpl) Format(ctx context.Context, content string) string {
	if !s.Available() {
		return content
	}
	cleaned := preprocess(content)
	if len([]rune(cleaned)) <= minFormatLength {
		return content
	}

	out, err := s.provider.Generate(ctx, buildPrompt(s.prompt, cleaned))
	if err != nil {
		s.logger.Warn("ai format failed", "provider", s.provider.Name(), "error", err)
		return content
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return content
	}
	return out
}

// FormatMany formats items concurrently. Every key of items is present in
// the result; a failed item maps to its input.
func (s *AIServiceImpl) FormatMany(ctx context.Context, items map[string]string) map[string]string {
	out := make(map[string]string, len(items))
	if len(items) == 0 {
		return out
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	limit := 1
	if s != nil && s.concurrency > 0 {
		limit = s.concurrency
	}
	g.SetLimit(limit)
	for id, text := range items {
		g.Go(func() error {
			formatted := s.Format(ctx, text)
			mu.Lock()
			out[id] = formatted
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// preprocess collapses blank-line and space runs before the text is sent
func preprocess(s string) string {
	s = newlineRuns.ReplaceAllString(s, "\n\n")
	s = spaceRuns.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// buildPrompt substitutes {{body}} or appends the content in an input block
func buildPrompt(prompt, content string) string {
	if strings.Contains(prompt, "{{body}}") {
		return strings.ReplaceAll(prompt, "{{body}}", content)
	}
	return prompt + "\n\n<input>\n" + content + "\n</input>\n\nOUTPUT:"
}
