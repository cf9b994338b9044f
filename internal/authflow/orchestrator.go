package authflow

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cli/browser"

	"github.com/agoras-social/agoras/internal/credential"
	"github.com/agoras-social/agoras/internal/platforms"
	"github.com/agoras-social/agoras/internal/tokenstore"
)

// DefaultAuthorizeTimeout bounds the wait for the browser rendezvous.
const DefaultAuthorizeTimeout = 120 * time.Second

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithHTTPClient sets the client used for token exchanges and validation
// calls.
func WithHTTPClient(client *http.Client) Option {
	return func(o *Orchestrator) { o.client = client }
}

// WithTimeout overrides the browser rendezvous timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = timeout }
}

// WithBrowserOpener replaces the system browser launcher. Tests use this to
// drive the callback themselves.
func WithBrowserOpener(open func(url string) error) Option {
	return func(o *Orchestrator) { o.openBrowser = open }
}

// WithCallbackPort overrides the platform's fixed callback port for both the
// local bind and the advertised redirect URI. Tests use this to avoid
// fixed-port collisions.
func WithCallbackPort(port int) Option {
	return func(o *Orchestrator) { o.portOverride = port }
}

// Orchestrator drives one authorize invocation to completion or failure. It
// never leaves a partially written credential behind: the store is touched
// exactly once, after the protocol flow fully succeeds.
type Orchestrator struct {
	store        tokenstore.Store
	client       *http.Client
	timeout      time.Duration
	openBrowser  func(url string) error
	portOverride int
}

// New creates an Orchestrator persisting into the given store.
func New(store tokenstore.Store, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("missing token store")
	}
	o := &Orchestrator{
		store:       store,
		client:      &http.Client{Timeout: 30 * time.Second},
		timeout:     DefaultAuthorizeTimeout,
		openBrowser: browser.OpenURL,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Authorize runs the platform's protocol flow with the given resolved inputs
// and persists the resulting credential. Concurrent authorize runs for the
// same (platform, identifier) serialize on the store's advisory lock; two
// listeners cannot share one fixed port and two writes would race.
func (o *Orchestrator) Authorize(ctx context.Context, spec *platforms.Spec, inputs platforms.Fields) (*credential.Credential, error) {
	identifier := inputs[spec.IdentifierField]
	if identifier == "" {
		f, _ := spec.Field(spec.IdentifierField)
		return nil, &credential.ValidationError{
			Platform: spec.Platform,
			Field:    spec.IdentifierField,
			Flag:     f.Flag,
			EnvVar:   f.EnvVar,
		}
	}

	release, err := o.store.Lock(ctx, spec.Platform, identifier)
	if err != nil {
		return nil, err
	}
	defer func() { _ = release() }()

	slog.InfoContext(ctx, "starting authorization",
		"platform", spec.Platform, "identifier", identifier, "protocol", spec.Protocol)

	var rec *credential.Credential
	switch spec.Protocol {
	case credential.ProtocolOAuth2AuthCode:
		rec, err = o.authorizeOAuth2(ctx, spec, identifier, inputs)
	case credential.ProtocolOAuth1a:
		rec, err = o.authorizeOAuth1a(ctx, spec, identifier, inputs)
	case credential.ProtocolBotToken, credential.ProtocolAPIToken:
		rec, err = o.authorizeStatic(ctx, spec, identifier, inputs)
	default:
		err = fmt.Errorf("unsupported protocol %q for %s", spec.Protocol, spec.Platform)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.State = credential.StateAuthenticated

	if err := o.store.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("persisting credential for %s: %w", rec.Redacted(), err)
	}

	slog.InfoContext(ctx, "authorization complete", "credential", rec.Redacted())
	return rec, nil
}

// callbackPort returns the port to bind, honoring the test override.
func (o *Orchestrator) callbackPort(fixed int) int {
	if o.portOverride != 0 {
		return o.portOverride
	}
	return fixed
}
