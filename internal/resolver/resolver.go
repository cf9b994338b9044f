// Package resolver merges CLI flags, stored credentials and environment
// variables into the flat field map a platform module consumes.
//
// Precedence, highest first: explicit CLI flag, stored (and freshly
// refreshed) credential, declared environment variable. A single invocation
// can therefore override one field while still drawing long-lived secrets
// from the store. Resolution is uniform across platforms because it is driven
// entirely by the declarative field tables in the platforms package.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/agoras-social/agoras/internal/credential"
	"github.com/agoras-social/agoras/internal/platforms"
	"github.com/agoras-social/agoras/internal/refresh"
	"github.com/agoras-social/agoras/internal/tokenstore"
)

// FlagLookup reports the value of an explicitly set CLI flag. Unset flags
// must return ok=false so lower-precedence sources apply.
type FlagLookup func(flag string) (value string, ok bool)

// NoFlags is a FlagLookup for contexts without CLI flags.
func NoFlags(string) (string, bool) { return "", false }

// Option configures a Resolver.
type Option func(*Resolver)

// WithHeadless switches the resolver to CI mode: all credential material
// comes from environment variables, nothing touches the store.
func WithHeadless(headless bool) Option {
	return func(r *Resolver) { r.headless = headless }
}

// WithEnvLookup injects the environment source for tests.
func WithEnvLookup(lookup func(string) (string, bool)) Option {
	return func(r *Resolver) { r.lookupEnv = lookup }
}

// Resolver resolves the named credential fields a platform module requires.
type Resolver struct {
	store     tokenstore.Store
	persisted *refresh.Engine
	ephemeral *refresh.Engine
	headless  bool
	lookupEnv func(string) (string, bool)
}

// New creates a Resolver over the given store and refresh engines. The
// persisted engine writes refreshed records back; the ephemeral one is used
// for headless in-memory records and must have no store attached.
func New(store tokenstore.Store, persisted, ephemeral *refresh.Engine, opts ...Option) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("missing token store")
	}
	if persisted == nil || ephemeral == nil {
		return nil, errors.New("missing refresh engine")
	}
	r := &Resolver{
		store:     store,
		persisted: persisted,
		ephemeral: ephemeral,
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve returns values for the required fields of the platform, refreshing
// the backing credential first when any required field depends on it. Every
// unresolvable field fails with a ValidationError naming the exact flag and
// environment variable; a required credential-backed field with no stored
// credential fails with a MissingCredentialError instead.
func (r *Resolver) Resolve(ctx context.Context, platform credential.Platform, identifierHint string, required []string, flags FlagLookup) (platforms.Fields, error) {
	spec, err := platforms.Lookup(platform)
	if err != nil {
		return nil, err
	}
	if flags == nil {
		flags = NoFlags
	}

	identifier := r.resolveIdentifier(ctx, spec, identifierHint, flags)

	rec, err := r.loadCredential(ctx, spec, identifier, required)
	if err != nil {
		return nil, err
	}

	if rec != nil && requiresCredential(spec, required) {
		engine := r.persisted
		if r.headless {
			engine = r.ephemeral
		}
		rec, err = engine.EnsureFresh(ctx, rec)
		if err != nil {
			return nil, err
		}
	}

	values := make(platforms.Fields, len(required))
	for _, name := range required {
		f, ok := spec.Field(name)
		if !ok {
			return nil, fmt.Errorf("%s: platform module required unknown field %q", platform, name)
		}

		if v, ok := flags(f.Flag); ok && v != "" {
			values[name] = v
			continue
		}
		if rec != nil && f.CredentialKey != "" {
			if v := credentialValue(rec, f.CredentialKey); v != "" {
				values[name] = v
				continue
			}
		}
		if v, ok := r.lookupEnv(f.EnvVar); ok && v != "" {
			values[name] = v
			continue
		}

		if f.CredentialKey != "" && rec == nil {
			return nil, &credential.MissingCredentialError{Platform: platform, Identifier: identifier}
		}
		return nil, &credential.ValidationError{Platform: platform, Field: name, Flag: f.Flag, EnvVar: f.EnvVar}
	}

	return values, nil
}

// resolveIdentifier picks the account identifier: explicit flag, then caller
// hint, then environment, then the sole stored credential if there is exactly
// one.
func (r *Resolver) resolveIdentifier(ctx context.Context, spec *platforms.Spec, hint string, flags FlagLookup) string {
	f, _ := spec.Field(spec.IdentifierField)
	if v, ok := flags(f.Flag); ok && v != "" {
		return v
	}
	if hint != "" {
		return hint
	}
	if v, ok := r.lookupEnv(f.EnvVar); ok && v != "" {
		return v
	}
	if r.headless {
		return ""
	}
	if identifiers, err := r.store.List(ctx, spec.Platform); err == nil && len(identifiers) == 1 {
		return identifiers[0]
	}
	return ""
}

// loadCredential obtains the backing record: from the store normally, or
// synthesized from environment variables in headless mode. A nil record with
// nil error means resolution continues from flags and environment alone.
func (r *Resolver) loadCredential(ctx context.Context, spec *platforms.Spec, identifier string, required []string) (*credential.Credential, error) {
	if !requiresCredential(spec, required) {
		return nil, nil
	}

	if r.headless {
		return r.environmentCredential(spec, identifier)
	}

	if identifier == "" {
		return nil, nil
	}

	rec, err := r.store.Load(ctx, spec.Platform, identifier)
	switch {
	case err == nil:
		return rec, nil
	case errors.Is(err, credential.ErrNotFound):
		return nil, nil
	default:
		// Corruption and I/O failures fail closed; a damaged credential is
		// never treated as merely absent.
		return nil, err
	}
}

// environmentCredential builds the synthetic in-memory record headless/CI
// mode runs on. It is never written to the store: no local file is assumed to
// exist or be writable in a pipeline.
func (r *Resolver) environmentCredential(spec *platforms.Spec, identifier string) (*credential.Credential, error) {
	env := func(name string) string {
		v, _ := r.lookupEnv(name)
		return v
	}

	rec := &credential.Credential{
		Platform:   spec.Platform,
		Identifier: identifier,
		Protocol:   spec.Protocol,
		State:      credential.StateAuthenticated,
	}

	for _, f := range spec.Fields {
		v := env(f.EnvVar)
		if v == "" {
			continue
		}
		switch f.CredentialKey {
		case platforms.CredKeyAccessToken:
			rec.AccessToken = v
		case platforms.CredKeyRefreshToken:
			rec.RefreshToken = v
		case platforms.CredKeyTokenSecret:
			rec.TokenSecret = v
		case platforms.CredKeyClientID:
			rec.ClientID = v
		case platforms.CredKeyClientSecret:
			rec.ClientSecret = v
		}
	}
	if rec.Identifier == "" {
		rec.Identifier = env(mustField(spec, spec.IdentifierField).EnvVar)
	}

	if rec.AccessToken == "" && rec.RefreshToken == "" {
		return nil, nil
	}

	// No access token yet but refresh material present: predate the expiry
	// so the engine performs an immediate refresh.
	if rec.AccessToken == "" && rec.Refreshable() {
		rec.ExpiresAt = time.Unix(1, 0).UTC()
	}

	slog.Debug("using environment credential", "credential", rec.Redacted())
	return rec, nil
}

// requiresCredential reports whether any required field can come from a
// stored credential.
func requiresCredential(spec *platforms.Spec, required []string) bool {
	for _, name := range required {
		if f, ok := spec.Field(name); ok && f.CredentialKey != "" {
			return true
		}
	}
	return false
}

// credentialValue maps a declarative credential key onto the record field.
func credentialValue(rec *credential.Credential, key string) string {
	switch key {
	case platforms.CredKeyAccessToken:
		return rec.AccessToken
	case platforms.CredKeyRefreshToken:
		return rec.RefreshToken
	case platforms.CredKeyTokenSecret:
		return rec.TokenSecret
	case platforms.CredKeyClientID:
		return rec.ClientID
	case platforms.CredKeyClientSecret:
		return rec.ClientSecret
	case platforms.CredKeyIdentifier:
		return rec.Identifier
	}
	return ""
}

func mustField(spec *platforms.Spec, name string) platforms.FieldSpec {
	f, _ := spec.Field(name)
	return f
}
