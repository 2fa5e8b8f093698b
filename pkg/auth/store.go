package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/99designs/keyring"
	"golang.org/x/oauth2"
)

// ErrNotAuthenticated means no usable token is stored; the user must log in
var ErrNotAuthenticated = errors.New("not authenticated")

// TokenStore persists the OAuth token between runs
type TokenStore interface {
	Load() (*oauth2.Token, error)
	Save(token *oauth2.Token) error
	Delete() error
}

// FileStore keeps the token as JSON on disk
type FileStore struct {
	Path string
}

// Load returns ErrNotAuthenticated when the file does not exist
func (f FileStore) Load() (*oauth2.Token, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotAuthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	token := &oauth2.Token{}
	if err := json.Unmarshal(data, token); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return token, nil
}

// Save writes the token with owner-only permissions
func (f FileStore) Save(token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}
	if err := os.WriteFile(f.Path, data, 0o600); err != nil {
		return fmt.Errorf("could not save OAuth token: %w", err)
	}
	return nil
}

// Delete removes the token file; a missing file is fine
func (f FileStore) Delete() error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

const (
	keyringService = "ebbsync"
	keyringKey     = "gmail-oauth-token"
)

// KeyringStore keeps the token in the OS keychain
type KeyringStore struct {
	ring keyring.Keyring
	key  string
}

// OpenKeyringStore opens the platform keyring, falling back to an encrypted file under dir
func OpenKeyringStore(dir string) (*KeyringStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  filepath.Join(dir, "keyring"),
		FilePasswordFunc:         keyring.FixedStringPrompt("ebbsync-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewKeyringStore(ring), nil
}

// NewKeyringStore wraps an already opened keyring
func NewKeyringStore(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring, key: keyringKey}
}

func (k *KeyringStore) Load() (*oauth2.Token, error) {
	item, err := k.ring.Get(k.key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, ErrNotAuthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("getting credential %q: %w", k.key, err)
	}
	token := &oauth2.Token{}
	if err := json.Unmarshal(item.Data, token); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return token, nil
}

func (k *KeyringStore) Save(token *oauth2.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}
	if err := k.ring.Set(keyring.Item{Key: k.key, Label: "ebbsync Gmail token", Data: data}); err != nil {
		return fmt.Errorf("setting credential %q: %w", k.key, err)
	}
	return nil
}

func (k *KeyringStore) Delete() error {
	if err := k.ring.Remove(k.key); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", k.key, err)
	}
	return nil
}

// LLMAPIKeySecret names the keyring entry holding the LLM provider key
const LLMAPIKeySecret = "llm-api-key"

// ErrSecretNotFound is returned when a keyring entry does not exist
var ErrSecretNotFound = errors.New("secret not found")

// LoadSecret reads a named secret stored next to the token
func (k *KeyringStore) LoadSecret(name string) (string, error) {
	item, err := k.ring.Get(name)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrSecretNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting secret %q: %w", name, err)
	}
	return string(item.Data), nil
}

// SaveSecret stores a named secret, replacing any previous value
func (k *KeyringStore) SaveSecret(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("secret %q cannot be empty", name)
	}
	if err := k.ring.Set(keyring.Item{Key: name, Label: "ebbsync " + name, Data: []byte(value)}); err != nil {
		return fmt.Errorf("setting secret %q: %w", name, err)
	}
	return nil
}

// DeleteSecret removes a named secret; a missing one is fine
func (k *KeyringStore) DeleteSecret(name string) error {
	if err := k.ring.Remove(name); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting secret %q: %w", name, err)
	}
	return nil
}
