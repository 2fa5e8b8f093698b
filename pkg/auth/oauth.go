package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
)

// Scopes needed to read threads and send mail
var Scopes = []string{gmailapi.GmailReadonlyScope, gmailapi.GmailSendScope}

// LoadCredentials parses the OAuth client JSON downloaded from Google Cloud Console
func LoadCredentials(path string, scopes ...string) (*oauth2.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read credentials file: %w", err)
	}
	if len(scopes) == 0 {
		scopes = Scopes
	}
	config, err := google.ConfigFromJSON(data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("could not parse credentials file: %w", err)
	}
	return config, nil
}

// Session hands out access tokens, refreshing and persisting them as needed
type Session struct {
	config *oauth2.Config
	store  TokenStore
	logger *slog.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

// NewSession creates a session over the given client config and token store
func NewSession(config *oauth2.Config, store TokenStore, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Session{config: config, store: store, logger: logger}
}

// Token returns a valid access token
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == nil {
		token, err := s.store.Load()
		if err != nil {
			return "", err
		}
		s.token = token
	}
	if s.token.Valid() {
		return s.token.AccessToken, nil
	}
	if s.token.RefreshToken == "" {
		return "", fmt.Errorf("token expired without refresh token: %w", ErrNotAuthenticated)
	}

	fresh, err := s.config.TokenSource(ctx, s.token).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && (re.ErrorCode == "invalid_grant" || strings.Contains(string(re.Body), "invalid_grant")) {
			return "", fmt.Errorf("refresh token revoked: %w", ErrNotAuthenticated)
		}
		return "", fmt.Errorf("token refresh failed: %w", err)
	}
	s.token = fresh
	if err := s.store.Save(fresh); err != nil {
		s.logger.Warn("persist refreshed token", "error", err)
	}
	return fresh.AccessToken, nil
}

// IsAuthenticated reports whether a token is stored and usable or refreshable
func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil {
		token, err := s.store.Load()
		if err != nil {
			return false
		}
		s.token = token
	}
	return s.token.Valid() || s.token.RefreshToken != ""
}

// Logout forgets the cached token and removes it from the store
func (s *Session) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = nil
	return s.store.Delete()
}

// Import stores a token obtained elsewhere and makes it current
func (s *Session) Import(token *oauth2.Token) error {
	if token == nil || (token.AccessToken == "" && token.RefreshToken == "") {
		return fmt.Errorf("token has neither access nor refresh token")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Save(token); err != nil {
		return err
	}
	s.token = token
	return nil
}

// IsNotExist reports a missing credentials file
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
