package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Settings selects and configures a provider
type Settings struct {
	Provider string
	Endpoint string
	Model    string
	APIKey   string
	Region   string
	Timeout  time.Duration
}

// NewProviderFromConfig creates a Provider from config fields.
// An empty or "none" provider yields a nil Provider and no error.
func NewProviderFromConfig(ctx context.Context, s Settings) (Provider, error) {
	if s.Timeout <= 0 {
		s.Timeout = 60 * time.Second
	}
	switch strings.ToLower(strings.TrimSpace(s.Provider)) {
	case "", "none":
		return nil, nil
	case "ollama":
		return NewClient(s.Endpoint, s.Model, s.Timeout), nil
	case "openrouter":
		return NewOpenRouter(s.Endpoint, s.Model, s.APIKey, s.Timeout)
	case "bedrock":
		return NewBedrock(ctx, s.Region, s.Model, s.Timeout)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", s.Provider)
	}
}
