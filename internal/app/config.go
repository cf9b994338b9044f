package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// KeyStorageType selects where the token-encryption key lives.
type KeyStorageType string

const (
	KeyStorageTypeFile    KeyStorageType = "file"
	KeyStorageTypeKeyring KeyStorageType = "keyring"
)

// Default configuration values
const (
	DefaultConfigLogFormat          = LogFormatText
	DefaultConfigKeyStorage         = KeyStorageTypeFile
	DefaultConfigAuthorizeTimeout   = 120 * time.Second
	DefaultConfigRefreshMargin      = 60 * time.Second
	DefaultConfigRefreshMaxAttempts = 4

	keyringService = "agoras-token-key"
)

// StoreConfig locates the encrypted credential store and its key material.
// Both are injected configuration, not hardcoded paths, so tests run against
// an isolated temporary directory with a throwaway key.
type StoreConfig struct {
	// Dir is the root directory holding one encrypted file per credential.
	Dir string `json:"dir" validate:"required"`

	// KeyStorage selects the key provider backend.
	KeyStorage KeyStorageType `json:"key_storage" validate:"required,oneof=file keyring"`

	// KeyFile is the key path for file key storage.
	KeyFile string `json:"key_file,omitempty"`
	// KeyringUser is the account identifier for keyring key storage.
	KeyringUser string `json:"keyring_user,omitempty"`
}

// AuthorizeConfig bounds the interactive authorization flow.
type AuthorizeConfig struct {
	// Timeout for the browser rendezvous.
	Timeout time.Duration `json:"timeout"`
}

// RefreshConfig tunes the refresh engine.
type RefreshConfig struct {
	// SafetyMargin before expiry at which a token counts as stale.
	SafetyMargin time.Duration `json:"safety_margin"`
	// MaxAttempts bounds retries of transient refresh failures.
	MaxAttempts uint `json:"max_attempts"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level      `json:"log_level"`
	LogFormat LogFormat       `json:"log_format" validate:"oneof=text json"`
	Store     StoreConfig     `json:"store"`
	Authorize AuthorizeConfig `json:"authorize"`
	Refresh   RefreshConfig   `json:"refresh"`

	// Headless switches credential resolution to environment-only CI mode.
	Headless bool `json:"headless"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Authorize.Timeout == 0 {
		c.Authorize.Timeout = DefaultConfigAuthorizeTimeout
	}
	if c.Refresh.SafetyMargin == 0 {
		c.Refresh.SafetyMargin = DefaultConfigRefreshMargin
	}
	if c.Refresh.MaxAttempts == 0 {
		c.Refresh.MaxAttempts = DefaultConfigRefreshMaxAttempts
	}
	if c.Store.KeyStorage == "" {
		c.Store.KeyStorage = DefaultConfigKeyStorage
	}

	if c.Store.Dir == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("store.dir required (auto-detect failed: %w)", err)
		}
		c.Store.Dir = filepath.Join(configDir, "agoras", "credentials")
	}

	switch c.Store.KeyStorage {
	case KeyStorageTypeFile:
		if c.Store.KeyFile == "" {
			c.Store.KeyFile = filepath.Join(c.Store.Dir, "key")
		}
	case KeyStorageTypeKeyring:
		if c.Store.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("store.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Store.KeyringUser = currentUser.Username
		}
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	switch c.Store.KeyStorage {
	case KeyStorageTypeFile:
		if c.Store.KeyFile == "" {
			return errors.New("key_file required for file key storage")
		}
	case KeyStorageTypeKeyring:
		if c.Store.KeyringUser == "" {
			return errors.New("keyring_user required for keyring key storage")
		}
	}

	return nil
}
