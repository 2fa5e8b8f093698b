package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ajramos/ebbsync/internal/config"
	"github.com/ajramos/ebbsync/internal/db"
	"github.com/ajramos/ebbsync/internal/gmail"
	"github.com/ajramos/ebbsync/internal/llm"
	"github.com/ajramos/ebbsync/internal/logging"
	"github.com/ajramos/ebbsync/internal/reconcile"
	"github.com/ajramos/ebbsync/internal/services"
	"github.com/ajramos/ebbsync/pkg/auth"
)

// app holds everything a command needs, built from one config
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	session *auth.Session
	client  *gmail.Client
	store   *db.Store
	threads *db.ThreadStore
	state   *db.StateStore
	labels  *services.LabelServiceImpl
	sync    *services.SyncService

	closers []io.Closer
}

// openApp loads config, applies overrides and wires the services.
// Credentials are optional until a command talks to Gmail.
func openApp(ctx context.Context, configPath string, override func(*config.Config)) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	logger, logCloser, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
		Stderr: os.Stderr,
	})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	session, sessionErr := newSession(cfg, logger)
	if sessionErr != nil {
		logger.Debug("gmail session unavailable", "error", sessionErr)
	}
	a.session = session

	var tokens gmail.TokenProvider = gmail.TokenProviderFunc(func(context.Context) (string, error) {
		return "", fmt.Errorf("%w: %v", gmail.ErrAuth, sessionErr)
	})
	if session != nil {
		tokens = session
	}
	a.client = gmail.NewClient(tokens, gmail.Options{
		Policy:    cfg.Retry.Policy(),
		Logger:    logger,
		NoBreaker: !cfg.Retry.Breaker,
	})
	a.labels = services.NewLabelService(a.client)

	store, err := db.Open(ctx, cfg.CachePath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open cache %s: %w", cfg.CachePath, err)
	}
	a.store = store
	a.closers = append(a.closers, store)
	a.threads = db.NewThreadStore(store)
	a.state = db.NewStateStore(store)

	var ai services.AIService
	if cfg.LLM.Enabled {
		provider, err := llm.NewProviderFromConfig(ctx, llm.Settings{
			Provider: cfg.LLM.Provider,
			Endpoint: cfg.LLM.Endpoint,
			Model:    cfg.LLM.Model,
			APIKey:   llmAPIKey(cfg, logger),
			Region:   cfg.LLM.Region,
			Timeout:  cfg.LLM.Timeout,
		})
		if err != nil {
			logger.Warn("could not initialize LLM provider", "provider", cfg.LLM.Provider, "error", err)
		} else if provider != nil {
			ai = services.NewAIService(provider, cfg, logger)
		}
	}

	strategy, err := reconcile.ParseStrategy(cfg.Sync.Strategy)
	if err != nil {
		a.Close()
		return nil, err
	}
	mode, err := db.ParsePersistMode(cfg.Sync.PersistMode)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.sync = services.NewSyncService(a.client, a.threads, a.state, ai, services.SyncOptions{
		Strategy:    strategy,
		PersistMode: mode,
		Fetch: reconcile.Options{
			LabelIDs:    cfg.Sync.LabelIDs,
			Query:       cfg.Sync.Query,
			PageSize:    cfg.Sync.PageSize,
			Concurrency: cfg.Sync.Concurrency,
		},
	}, logger)

	if err := a.sync.Load(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func newSession(cfg *config.Config, logger *slog.Logger) (*auth.Session, error) {
	oauthCfg, err := auth.LoadCredentials(cfg.Credentials)
	if err != nil {
		if auth.IsNotExist(err) {
			return nil, fmt.Errorf("credentials file not found at %s; download OAuth client credentials from Google Cloud Console and place it there", cfg.Credentials)
		}
		return nil, err
	}
	var store auth.TokenStore = auth.FileStore{Path: cfg.Token}
	if cfg.UseKeyring {
		ks, err := auth.OpenKeyringStore(cfg.Dir)
		if err != nil {
			logger.Warn("keyring unavailable, using token file", "error", err)
		} else {
			store = ks
		}
	}
	return auth.NewSession(oauthCfg, store, logger), nil
}

// secretStore keeps named secrets such as the LLM API key
type secretStore interface {
	LoadSecret(name string) (string, error)
	SaveSecret(name, value string) error
	DeleteSecret(name string) error
}

// openSecretStore is replaced in tests
var openSecretStore = func(dir string) (secretStore, error) {
	ks, err := auth.OpenKeyringStore(dir)
	if err != nil {
		return nil, err
	}
	return ks, nil
}

// llmAPIKey returns the configured key, else the keyring entry when use_keyring is set
func llmAPIKey(cfg *config.Config, logger *slog.Logger) string {
	if cfg.LLM.APIKey != "" || !cfg.UseKeyring {
		return cfg.LLM.APIKey
	}
	secrets, err := openSecretStore(cfg.Dir)
	if err != nil {
		logger.Warn("keyring unavailable for LLM key", "error", err)
		return ""
	}
	key, err := secrets.LoadSecret(auth.LLMAPIKeySecret)
	if err != nil {
		if !errors.Is(err, auth.ErrSecretNotFound) {
			logger.Warn("read LLM key from keyring", "error", err)
		}
		return ""
	}
	return key
}

// requireSession returns the session or a helpful error when credentials are missing
func (a *app) requireSession() (*auth.Session, error) {
	if a.session == nil {
		_, err := newSession(a.cfg, a.logger)
		if err == nil {
			err = errors.New("gmail session unavailable")
		}
		return nil, err
	}
	return a.session, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
	a.closers = nil
}
