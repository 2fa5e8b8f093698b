package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ajramos/ebbsync/internal/retry"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "EBB_"

// SyncConfig controls how threads are fetched and cached
type SyncConfig struct {
	Count       int      `yaml:"count" env:"COUNT"`
	Strategy    string   `yaml:"strategy" env:"STRATEGY"`         // incremental, accumulate
	PersistMode string   `yaml:"persist_mode" env:"PERSIST_MODE"` // update-in-place, replace-copy-forward
	PageSize    int64    `yaml:"page_size" env:"PAGE_SIZE"`
	Concurrency int      `yaml:"concurrency" env:"CONCURRENCY"`
	LabelIDs    []string `yaml:"label_ids" env:"LABEL_IDS" envSeparator:","`
	Query       string   `yaml:"query" env:"QUERY"`
}

// RetryConfig mirrors retry.Policy with config tags
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries" env:"MAX_RETRIES"`
	BaseDelay    time.Duration `yaml:"base_delay" env:"BASE_DELAY"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	JitterFactor float64       `yaml:"jitter_factor" env:"JITTER_FACTOR"`
	Breaker      bool          `yaml:"circuit_breaker" env:"CIRCUIT_BREAKER"`
}

// LLMConfig holds all LLM-related configuration
type LLMConfig struct {
	Enabled     bool          `yaml:"enabled" env:"ENABLED"`
	Provider    string        `yaml:"provider" env:"PROVIDER"` // ollama, openrouter, bedrock
	Model       string        `yaml:"model" env:"MODEL"`
	Endpoint    string        `yaml:"endpoint" env:"ENDPOINT"`
	Region      string        `yaml:"region" env:"REGION"` // For AWS Bedrock
	APIKey      string        `yaml:"api_key" env:"API_KEY"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Concurrency int           `yaml:"concurrency" env:"CONCURRENCY"`

	// Template file path (relative to config dir or absolute)
	FormatTemplate string `yaml:"format_template" env:"FORMAT_TEMPLATE"`
	// Inline prompt override, used when the template file is missing
	FormatPrompt string `yaml:"format_prompt,omitempty" env:"FORMAT_PROMPT"`
}

// LoggingConfig selects level, handler and destination
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"` // text, json
	File   string `yaml:"file" env:"FILE"`
}

// Config holds all configuration for ebbsync
type Config struct {
	Credentials string `yaml:"credentials" env:"CREDENTIALS"`
	Token       string `yaml:"token" env:"TOKEN"`
	CachePath   string `yaml:"cache_path" env:"CACHE_PATH"`
	UseKeyring  bool   `yaml:"use_keyring" env:"USE_KEYRING"`

	Sync    SyncConfig    `yaml:"sync" envPrefix:"SYNC_"`
	Retry   RetryConfig   `yaml:"retry" envPrefix:"RETRY_"`
	LLM     LLMConfig     `yaml:"llm" envPrefix:"LLM_"`
	Logging LoggingConfig `yaml:"logging" envPrefix:"LOG_"`

	// Dir is the directory relative paths resolve against
	Dir string `yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	dir := DefaultConfigDir()
	return &Config{
		Credentials: filepath.Join(dir, "credentials.json"),
		Token:       filepath.Join(dir, "token.json"),
		CachePath:   filepath.Join(dir, "cache", "ebbsync.db"),
		Sync: SyncConfig{
			Count:       10,
			Strategy:    "incremental",
			PersistMode: "update-in-place",
			PageSize:    50,
			Concurrency: 4,
			LabelIDs:    []string{"INBOX"},
		},
		Retry:   DefaultRetryConfig(),
		LLM:     DefaultLLMConfig(),
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Dir:     dir,
	}
}

// DefaultRetryConfig matches retry.DefaultPolicy with the breaker on
func DefaultRetryConfig() RetryConfig {
	p := retry.DefaultPolicy
	return RetryConfig{
		MaxRetries:   p.MaxRetries,
		BaseDelay:    p.BaseDelay,
		MaxDelay:     p.MaxDelay,
		JitterFactor: p.JitterFactor,
		Breaker:      true,
	}
}

// DefaultLLMConfig returns default LLM configuration
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Enabled:        false,
		Provider:       "ollama",
		Model:          "llama3.2:latest",
		Endpoint:       "http://localhost:11434/api/generate",
		Timeout:        60 * time.Second,
		Concurrency:    3,
		FormatTemplate: "templates/ai/format.md",
	}
}

// Policy converts the retry section for the executor
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxRetries:   r.MaxRetries,
		BaseDelay:    r.BaseDelay,
		MaxDelay:     r.MaxDelay,
		JitterFactor: r.JitterFactor,
	}
}

// DefaultConfigDir returns ~/.config/ebbsync
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "ebbsync")
}

// DefaultConfigPath returns the default configuration file path
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// LoadConfig layers defaults, the YAML file, .env files and EBB_* variables.
// A missing config file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		cfg.Dir = filepath.Dir(configPath)
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", configPath, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("read %s: %w", configPath, err)
		}
	}

	// .env never overrides variables already set in the process
	for _, p := range []string{filepath.Join(cfg.Dir, ".env"), ".env"} {
		if _, err := os.Stat(p); err == nil {
			if err := godotenv.Load(p); err != nil {
				return nil, fmt.Errorf("load %s: %w", p, err)
			}
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.Credentials = expandPath(cfg.Credentials)
	cfg.Token = expandPath(cfg.Token)
	cfg.CachePath = expandPath(cfg.CachePath)
	cfg.Logging.File = expandPath(cfg.Logging.File)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a sync
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if c.Sync.Count <= 0 {
		return fmt.Errorf("sync.count must be positive, got %d", c.Sync.Count)
	}
	switch strings.ToLower(c.Sync.Strategy) {
	case "", "incremental", "accumulate":
	default:
		return fmt.Errorf("unknown sync.strategy %q", c.Sync.Strategy)
	}
	switch strings.ToLower(c.Sync.PersistMode) {
	case "", "update-in-place", "replace-copy-forward":
	default:
		return fmt.Errorf("unknown sync.persist_mode %q", c.Sync.PersistMode)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries cannot be negative")
	}
	if c.Retry.JitterFactor < 0 || c.Retry.JitterFactor > 1 {
		return fmt.Errorf("retry.jitter_factor must be within [0,1]")
	}
	if c.LLM.Enabled {
		if strings.TrimSpace(c.LLM.Provider) == "" {
			return fmt.Errorf("LLM is enabled but no provider specified")
		}
		if c.LLM.Provider == "bedrock" && strings.TrimSpace(c.LLM.Model) == "" {
			return fmt.Errorf("bedrock requires llm.model")
		}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown logging.format %q", c.Logging.Format)
	}
	return nil
}

// SaveConfig saves the configuration to a file
func (c *Config) SaveConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// LoadTemplate loads a template with proper priority: file first, then inline, then fallback
func LoadTemplate(baseDir, templatePath, inlinePrompt, fallbackPrompt string) string {
	if strings.TrimSpace(templatePath) != "" {
		fullPath := templatePath
		if !filepath.IsAbs(templatePath) {
			fullPath = filepath.Join(baseDir, templatePath)
		}
		if content, err := os.ReadFile(fullPath); err == nil {
			return strings.TrimSpace(string(content))
		}
	}

	if strings.TrimSpace(inlinePrompt) != "" {
		return inlinePrompt
	}
	return fallbackPrompt
}

// DefaultFormatPrompt asks the model to tidy a message body without commentary
const DefaultFormatPrompt = "Format this email content as clean markdown. Output only the content, no commentary."

// GetFormatPrompt returns the formatter prompt, loading from template file if needed
func (c *Config) GetFormatPrompt() string {
	return LoadTemplate(c.Dir, c.LLM.FormatTemplate, c.LLM.FormatPrompt, DefaultFormatPrompt)
}
