package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultOpenRouterEndpoint is the chat completions API
	DefaultOpenRouterEndpoint = "https://openrouter.ai/api/v1/chat/completions"
	// DefaultOpenRouterModel is used when no model is configured
	DefaultOpenRouterModel = "meta-llama/llama-3.1-8b-instruct"
)

var (
	ErrInvalidAPIKey = errors.New("invalid API key")
	ErrRateLimited   = errors.New("rate limited by provider")
	ErrUnavailable   = errors.New("provider temporarily unavailable")
)

// OpenRouterClient talks to an OpenAI compatible chat completions API
type OpenRouterClient struct {
	Endpoint string
	Model    string
	APIKey   string
	Title    string

	http *http.Client
}

// NewOpenRouter builds a client; an API key is mandatory
func NewOpenRouter(endpoint, model, apiKey string, timeout time.Duration) (*OpenRouterClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openrouter: %w", ErrInvalidAPIKey)
	}
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultOpenRouterEndpoint
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultOpenRouterModel
	}
	return &OpenRouterClient{
		Endpoint: endpoint,
		Model:    model,
		APIKey:   apiKey,
		Title:    "ebbsync",
		http:     &http.Client{Timeout: timeout},
	}, nil
}

// Name returns provider name
func (o *OpenRouterClient) Name() string { return "openrouter" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate posts the prompt as a single user message
func (o *OpenRouterClient) Generate(ctx context.Context, prompt string) (string, error) {
	data, err := json.Marshal(chatRequest{
		Model:    o.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("encode openrouter request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.Endpoint, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.APIKey)
	req.Header.Set("X-Title", o.Title)

	resp, err := o.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("openrouter request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", fmt.Errorf("openrouter: %w", ErrInvalidAPIKey)
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("openrouter: %w", ErrRateLimited)
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("openrouter: %w (status %d)", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("openrouter returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode openrouter response: %w", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("empty response from openrouter")
	}
	return CleanOutput(out.Choices[0].Message.Content), nil
}
