// Package refresh lazily revalidates credentials before use.
//
// The engine is the only component that performs token refresh calls. It is
// safe to invoke concurrently from independent processes: the whole
// read-refresh-write sequence for one (platform, identifier) runs under the
// store's advisory file lock, and within a process concurrent callers
// coalesce onto one flight. Refresh tokens can be single-use, so the process
// that loses the lock race re-reads the winner's result instead of burning an
// already-rotated token.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/agoras-social/agoras/internal/credential"
	"github.com/agoras-social/agoras/internal/platforms"
	"github.com/agoras-social/agoras/internal/tokenstore"
)

// DefaultSafetyMargin is subtracted from the recorded expiry: a token inside
// the margin is treated as stale even though it is technically still valid.
const DefaultSafetyMargin = 60 * time.Second

// DefaultMaxAttempts bounds retries of transient refresh failures.
const DefaultMaxAttempts = 4

// Option configures an Engine.
type Option func(*Engine)

// WithStore enables persistence: refreshed records are written back and the
// sequence runs under the store's cross-process lock. Without a store the
// engine refreshes in memory only, which is what headless/CI mode needs.
func WithStore(store tokenstore.Store) Option {
	return func(e *Engine) { e.store = store }
}

// WithHTTPClient sets the client used for refresh calls.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Engine) { e.client = client }
}

// WithSafetyMargin overrides the freshness margin.
func WithSafetyMargin(margin time.Duration) Option {
	return func(e *Engine) { e.margin = margin }
}

// WithMaxAttempts bounds transient-failure retries.
func WithMaxAttempts(n uint) Option {
	return func(e *Engine) { e.maxAttempts = n }
}

// WithClock injects the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithEndpointFor overrides how the token endpoint for a platform is found.
// Tests point this at an httptest server.
func WithEndpointFor(fn func(credential.Platform) (oauth2.Endpoint, error)) Option {
	return func(e *Engine) { e.endpointFor = fn }
}

// Engine ensures a credential is fresh before any authenticated field leaves
// the resolver.
type Engine struct {
	store       tokenstore.Store
	client      *http.Client
	margin      time.Duration
	maxAttempts uint
	now         func() time.Time
	endpointFor func(credential.Platform) (oauth2.Endpoint, error)

	group singleflight.Group
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		client:      &http.Client{Timeout: 30 * time.Second},
		margin:      DefaultSafetyMargin,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
		endpointFor: registryEndpoint,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EnsureFresh returns a credential whose access token is valid for at least
// the safety margin, refreshing and persisting it when necessary.
//
// Non-expiring credentials return unchanged without any network call, as do
// credentials still inside the margin. A provider verdict that the grant is
// gone surfaces as a terminal RevokedError; network trouble is retried with
// exponential backoff before surfacing as a TransientError.
func (e *Engine) EnsureFresh(ctx context.Context, rec *credential.Credential) (*credential.Credential, error) {
	if rec.State == credential.StateRevoked {
		return nil, &credential.RevokedError{Platform: rec.Platform, Identifier: rec.Identifier}
	}
	if rec.FreshAt(e.now(), e.margin) {
		return rec, nil
	}
	if !rec.Refreshable() {
		// Expired with no refresh material: only a new authorization helps.
		return nil, &credential.RevokedError{
			Platform:   rec.Platform,
			Identifier: rec.Identifier,
			Cause:      errors.New("access token expired and no refresh token is stored"),
		}
	}

	key := string(rec.Platform) + "/" + rec.Identifier
	fresh, err, _ := e.group.Do(key, func() (any, error) {
		return e.refreshLocked(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	return fresh.(*credential.Credential), nil
}

// refreshLocked serializes the read-refresh-write sequence across processes
// and re-checks stored state after winning the lock.
func (e *Engine) refreshLocked(ctx context.Context, rec *credential.Credential) (*credential.Credential, error) {
	if e.store != nil {
		release, err := e.store.Lock(ctx, rec.Platform, rec.Identifier)
		if err != nil {
			return nil, err
		}
		defer func() { _ = release() }()

		// A concurrent process may have refreshed while we waited. Reuse its
		// result; refreshing again would spend a possibly rotated token.
		stored, err := e.store.Load(ctx, rec.Platform, rec.Identifier)
		switch {
		case err == nil:
			if stored.State == credential.StateRevoked {
				return nil, &credential.RevokedError{Platform: rec.Platform, Identifier: rec.Identifier}
			}
			if stored.FreshAt(e.now(), e.margin) {
				return stored, nil
			}
			rec = stored
		case errors.Is(err, credential.ErrNotFound):
			// In-memory record with persistence enabled but nothing stored
			// yet; proceed with what we have.
		default:
			return nil, err
		}
	}

	return e.refresh(ctx, rec)
}

// refresh performs the network call and state transition.
func (e *Engine) refresh(ctx context.Context, rec *credential.Credential) (*credential.Credential, error) {
	slog.InfoContext(ctx, "refreshing access token", "credential", rec.Redacted())

	token, err := e.callTokenEndpoint(ctx, rec)
	if err != nil {
		if isGrantGone(err) {
			return nil, e.markRevoked(ctx, rec, err)
		}
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response.StatusCode < 500 {
			// A 4xx verdict that is not about the grant itself (wrong scope,
			// disabled app). Retrying or re-authorizing will not fix it, and
			// calling it a network error would misdirect the user.
			return nil, &credential.ExchangeError{
				Platform: rec.Platform,
				Status:   retrieveErr.Response.StatusCode,
				Detail:   retrieveErr.ErrorCode,
			}
		}
		return nil, &credential.TransientError{Platform: rec.Platform, Identifier: rec.Identifier, Cause: err}
	}

	updated := *rec
	updated.AccessToken = token.AccessToken
	if token.RefreshToken != "" && token.RefreshToken != rec.RefreshToken {
		// Provider rotated the refresh token; the old one is dead.
		updated.RefreshToken = token.RefreshToken
	}
	if !token.Expiry.IsZero() {
		updated.ExpiresAt = token.Expiry.UTC()
	}
	updated.State = credential.StateAuthenticated
	updated.UpdatedAt = e.now().UTC()

	if e.store != nil {
		if err := e.store.Save(ctx, &updated); err != nil {
			return nil, fmt.Errorf("persisting refreshed credential for %s: %w", updated.Redacted(), err)
		}
	}

	return &updated, nil
}

// callTokenEndpoint exchanges the refresh token, retrying transient failures
// with exponential backoff. Provider verdicts (4xx) are permanent.
func (e *Engine) callTokenEndpoint(ctx context.Context, rec *credential.Credential) (*oauth2.Token, error) {
	endpoint, err := e.endpointFor(rec.Platform)
	if err != nil {
		return nil, err
	}

	cfg := &oauth2.Config{
		ClientID:     rec.ClientID,
		ClientSecret: rec.ClientSecret,
		Endpoint:     endpoint,
	}
	oauthCtx := context.WithValue(ctx, oauth2.HTTPClient, e.client)

	operation := func() (*oauth2.Token, error) {
		token, err := cfg.TokenSource(oauthCtx, &oauth2.Token{RefreshToken: rec.RefreshToken}).Token()
		if err != nil {
			var retrieveErr *oauth2.RetrieveError
			if errors.As(err, &retrieveErr) && retrieveErr.Response.StatusCode < 500 {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return token, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(e.maxAttempts),
	)
}

// markRevoked records the terminal state (kept on disk for diagnostics, never
// deleted automatically) and returns the terminal error.
func (e *Engine) markRevoked(ctx context.Context, rec *credential.Credential, cause error) error {
	revoked := *rec
	revoked.State = credential.StateRevoked
	revoked.UpdatedAt = e.now().UTC()

	if e.store != nil {
		if err := e.store.Save(ctx, &revoked); err != nil {
			slog.ErrorContext(ctx, "failed to persist revoked state", "credential", rec.Redacted(), "error", err)
		}
	}

	return &credential.RevokedError{Platform: rec.Platform, Identifier: rec.Identifier, Cause: cause}
}

// registryEndpoint resolves the platform's declared token endpoint.
func registryEndpoint(p credential.Platform) (oauth2.Endpoint, error) {
	spec, err := platforms.Lookup(p)
	if err != nil {
		return oauth2.Endpoint{}, err
	}
	if spec.OAuth2 == nil {
		return oauth2.Endpoint{}, fmt.Errorf("platform %s has no refreshable token endpoint", p)
	}
	return spec.OAuth2.Endpoint, nil
}

// isGrantGone reports whether the provider said the grant itself is invalid,
// as opposed to a transport failure.
func isGrantGone(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return false
	}
	switch retrieveErr.ErrorCode {
	case "invalid_grant", "invalid_client", "unauthorized_client":
		return true
	}
	// 400/401 without a parseable error code still means the provider
	// rejected the grant material.
	return retrieveErr.ErrorCode == "" &&
		(retrieveErr.Response.StatusCode == http.StatusBadRequest ||
			retrieveErr.Response.StatusCode == http.StatusUnauthorized)
}
