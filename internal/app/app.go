// Package app wires configuration into the credential subsystem: crypto box,
// token store, authorization orchestrator, refresh engines and resolver.
package app

import (
	"fmt"

	"github.com/agoras-social/agoras/internal/authflow"
	"github.com/agoras-social/agoras/internal/cryptobox"
	"github.com/agoras-social/agoras/internal/refresh"
	"github.com/agoras-social/agoras/internal/resolver"
	"github.com/agoras-social/agoras/internal/tokenstore"
)

// App bundles the constructed credential subsystem for command actions.
type App struct {
	cfg *Config

	Store        tokenstore.Store
	Orchestrator *authflow.Orchestrator
	Resolver     *resolver.Resolver
}

// New constructs the subsystem from configuration. The encryption key is read
// lazily, so creating the App performs no key I/O.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	box, err := newCryptoBox(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to create crypto box: %w", err)
	}

	store, err := tokenstore.NewFileStore(cfg.Store.Dir, box)
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	orchestrator, err := authflow.New(store, authflow.WithTimeout(cfg.Authorize.Timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization orchestrator: %w", err)
	}

	persisted := refresh.New(
		refresh.WithStore(store),
		refresh.WithSafetyMargin(cfg.Refresh.SafetyMargin),
		refresh.WithMaxAttempts(cfg.Refresh.MaxAttempts),
	)
	// Headless records stay in memory; this engine has no store on purpose.
	ephemeral := refresh.New(
		refresh.WithSafetyMargin(cfg.Refresh.SafetyMargin),
		refresh.WithMaxAttempts(cfg.Refresh.MaxAttempts),
	)

	res, err := resolver.New(store, persisted, ephemeral, resolver.WithHeadless(cfg.Headless))
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}

	return &App{
		cfg:          cfg,
		Store:        store,
		Orchestrator: orchestrator,
		Resolver:     res,
	}, nil
}

// newCryptoBox builds the AEAD layer with the configured key backend.
func newCryptoBox(cfg StoreConfig) (*cryptobox.Box, error) {
	var (
		provider cryptobox.KeyProvider
		err      error
	)
	switch cfg.KeyStorage {
	case KeyStorageTypeFile:
		provider, err = cryptobox.NewFileKeyProvider(cfg.KeyFile)
	case KeyStorageTypeKeyring:
		provider, err = cryptobox.NewKeyringKeyProvider(keyringService, cfg.KeyringUser)
	default:
		return nil, fmt.Errorf("unsupported key storage type: %s", cfg.KeyStorage)
	}
	if err != nil {
		return nil, err
	}
	return cryptobox.New(provider)
}
