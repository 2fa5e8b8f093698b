package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const credentialsJSON = `{"installed":{"client_id":"cid","client_secret":"secret","auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token","redirect_uris":["http://localhost"]}}`

func TestLoadCredentials(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "credentials.json")
		require.NoError(t, os.WriteFile(path, []byte(credentialsJSON), 0o600))

		cfg, err := LoadCredentials(path)
		require.NoError(t, err)
		assert.Equal(t, "cid", cfg.ClientID)
		assert.Equal(t, Scopes, cfg.Scopes)
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := LoadCredentials("/nonexistent/credentials.json")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "could not read credentials file")
		assert.True(t, IsNotExist(err))
	})

	t.Run("invalid_json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "credentials.json")
		require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
		_, err := LoadCredentials(path)
		assert.ErrorContains(t, err, "could not parse credentials file")
	})
}

func TestFileStore(t *testing.T) {
	store := FileStore{Path: filepath.Join(t.TempDir(), "dir", "token.json")}

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	tok := &oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer"}
	require.NoError(t, store.Save(tok))
	info, err := os.Stat(store.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "a", got.AccessToken)
	assert.Equal(t, "r", got.RefreshToken)

	require.NoError(t, store.Delete())
	require.NoError(t, store.Delete())
}

func TestKeyringStore(t *testing.T) {
	store := NewKeyringStore(keyring.NewArrayKeyring(nil))

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	require.NoError(t, store.Save(&oauth2.Token{AccessToken: "a"}))
	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "a", got.AccessToken)

	require.NoError(t, store.Delete())
	_, err = store.Load()
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestKeyringStore_Secrets(t *testing.T) {
	store := NewKeyringStore(keyring.NewArrayKeyring(nil))

	_, err := store.LoadSecret(LLMAPIKeySecret)
	assert.ErrorIs(t, err, ErrSecretNotFound)
	assert.Error(t, store.SaveSecret(LLMAPIKeySecret, "  "))

	require.NoError(t, store.SaveSecret(LLMAPIKeySecret, "sk-or-1"))
	require.NoError(t, store.SaveSecret(LLMAPIKeySecret, "sk-or-2"))
	got, err := store.LoadSecret(LLMAPIKeySecret)
	require.NoError(t, err)
	assert.Equal(t, "sk-or-2", got)

	// The token lives under its own key
	_, err = store.Load()
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	require.NoError(t, store.DeleteSecret(LLMAPIKeySecret))
	require.NoError(t, store.DeleteSecret(LLMAPIKeySecret))
	_, err = store.LoadSecret(LLMAPIKeySecret)
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func tokenServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestSession_ValidTokenNoRefresh(t *testing.T) {
	srv, hits := tokenServer(t, http.StatusOK, `{}`)
	store := NewKeyringStore(keyring.NewArrayKeyring(nil))
	require.NoError(t, store.Save(&oauth2.Token{AccessToken: "live", Expiry: time.Now().Add(time.Hour)}))

	s := NewSession(&oauth2.Config{Endpoint: oauth2.Endpoint{TokenURL: srv.URL}}, store, nil)
	tok, err := s.Token(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "live", tok)
	assert.True(t, s.IsAuthenticated())
	assert.Equal(t, int32(0), hits.Load())
}

func TestSession_RefreshesAndPersists(t *testing.T) {
	srv, hits := tokenServer(t, http.StatusOK,
		`{"access_token":"fresh","token_type":"Bearer","expires_in":3600,"refresh_token":"r2"}`)
	store := FileStore{Path: filepath.Join(t.TempDir(), "token.json")}
	require.NoError(t, store.Save(&oauth2.Token{AccessToken: "old", RefreshToken: "r1", Expiry: time.Now().Add(-time.Hour)}))

	s := NewSession(&oauth2.Config{ClientID: "cid", Endpoint: oauth2.Endpoint{TokenURL: srv.URL}}, store, nil)
	tok, err := s.Token(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
	assert.Equal(t, int32(1), hits.Load())

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "fresh", saved.AccessToken)
	assert.Equal(t, "r2", saved.RefreshToken)
}

func TestSession_RevokedRefreshToken(t *testing.T) {
	srv, _ := tokenServer(t, http.StatusBadRequest, `{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`)
	store := NewKeyringStore(keyring.NewArrayKeyring(nil))
	require.NoError(t, store.Save(&oauth2.Token{AccessToken: "old", RefreshToken: "r", Expiry: time.Now().Add(-time.Hour)}))

	s := NewSession(&oauth2.Config{Endpoint: oauth2.Endpoint{TokenURL: srv.URL}}, store, nil)
	_, err := s.Token(context.Background())

	assert.True(t, errors.Is(err, ErrNotAuthenticated), "got %v", err)
}

func TestSession_NotAuthenticated(t *testing.T) {
	s := NewSession(&oauth2.Config{}, NewKeyringStore(keyring.NewArrayKeyring(nil)), nil)

	_, err := s.Token(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.False(t, s.IsAuthenticated())

	expired := NewKeyringStore(keyring.NewArrayKeyring(nil))
	require.NoError(t, expired.Save(&oauth2.Token{AccessToken: "x", Expiry: time.Now().Add(-time.Minute)}))
	s = NewSession(&oauth2.Config{}, expired, nil)
	_, err = s.Token(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	require.NoError(t, s.Logout())
	assert.False(t, s.IsAuthenticated())
}

func TestSession_Import(t *testing.T) {
	store := NewKeyringStore(keyring.NewArrayKeyring(nil))
	s := NewSession(&oauth2.Config{}, store, nil)

	assert.Error(t, s.Import(&oauth2.Token{}))
	assert.Error(t, s.Import(nil))

	require.NoError(t, s.Import(&oauth2.Token{AccessToken: "imported", Expiry: time.Now().Add(time.Hour)}))
	assert.True(t, s.IsAuthenticated())
	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "imported", tok)

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "imported", saved.AccessToken)
}
