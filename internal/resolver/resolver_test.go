package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/agoras-social/agoras/internal/credential"
	"github.com/agoras-social/agoras/internal/cryptobox"
	"github.com/agoras-social/agoras/internal/refresh"
	"github.com/agoras-social/agoras/internal/tokenstore"
)

func newTestStore(t *testing.T) tokenstore.Store {
	t.Helper()

	dir := t.TempDir()
	provider, err := cryptobox.NewFileKeyProvider(filepath.Join(dir, "key"))
	if err != nil {
		t.Fatalf("NewFileKeyProvider: %v", err)
	}
	box, err := cryptobox.New(provider)
	if err != nil {
		t.Fatalf("cryptobox.New: %v", err)
	}
	store, err := tokenstore.NewFileStore(filepath.Join(dir, "credentials"), box)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return store
}

// env builds an environment lookup from a map.
func env(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

// setFlags builds a FlagLookup reporting only the given flags as set.
func setFlags(flags map[string]string) FlagLookup {
	return func(name string) (string, bool) {
		v, ok := flags[name]
		return v, ok
	}
}

func newTestResolver(t *testing.T, store tokenstore.Store, opts ...Option) *Resolver {
	t.Helper()

	persisted := refresh.New(refresh.WithStore(store))
	ephemeral := refresh.New()
	r, err := New(store, persisted, ephemeral, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func saveDiscordCredential(t *testing.T, store tokenstore.Store, channel, token string) {
	t.Helper()

	now := time.Now().UTC()
	err := store.Save(context.Background(), &credential.Credential{
		Platform:    credential.PlatformDiscord,
		Identifier:  channel,
		Protocol:    credential.ProtocolBotToken,
		AccessToken: token,
		State:       credential.StateAuthenticated,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestResolvePrecedence(t *testing.T) {
	required := []string{"bot_token", "channel_id"}

	tests := []struct {
		name      string
		stored    string // stored token, empty for none
		flags     map[string]string
		envVars   map[string]string
		wantToken string
	}{
		{
			name:      "flag beats credential and environment",
			stored:    "stored-token",
			flags:     map[string]string{"bot-token": "flag-token", "channel-id": "chan-1"},
			envVars:   map[string]string{"DISCORD_BOT_TOKEN": "env-token"},
			wantToken: "flag-token",
		},
		{
			name:      "credential beats environment",
			stored:    "stored-token",
			flags:     map[string]string{"channel-id": "chan-1"},
			envVars:   map[string]string{"DISCORD_BOT_TOKEN": "env-token"},
			wantToken: "stored-token",
		},
		{
			name:      "environment fills credential gaps",
			flags:     map[string]string{"channel-id": "chan-1"},
			envVars:   map[string]string{"DISCORD_BOT_TOKEN": "env-token"},
			wantToken: "env-token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			if tt.stored != "" {
				saveDiscordCredential(t, store, "chan-1", tt.stored)
			}
			r := newTestResolver(t, store, WithEnvLookup(env(tt.envVars)))

			values, err := r.Resolve(context.Background(), credential.PlatformDiscord, "", required, setFlags(tt.flags))
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if values["bot_token"] != tt.wantToken {
				t.Fatalf("bot_token = %q, want %q", values["bot_token"], tt.wantToken)
			}
			if values["channel_id"] != "chan-1" {
				t.Fatalf("channel_id = %q", values["channel_id"])
			}
		})
	}
}

func TestResolveSoleStoredIdentifier(t *testing.T) {
	store := newTestStore(t)
	saveDiscordCredential(t, store, "only-channel", "stored-token")
	r := newTestResolver(t, store, WithEnvLookup(env(nil)))

	// No flag, no hint, no env: the single stored credential identifies itself.
	values, err := r.Resolve(context.Background(), credential.PlatformDiscord, "", []string{"bot_token", "channel_id"}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if values["channel_id"] != "only-channel" || values["bot_token"] != "stored-token" {
		t.Fatalf("values = %v", values)
	}
}

func TestResolveMissingCredential(t *testing.T) {
	store := newTestStore(t)
	r := newTestResolver(t, store, WithEnvLookup(env(nil)))

	_, err := r.Resolve(context.Background(), credential.PlatformDiscord, "chan-1", []string{"bot_token", "channel_id"}, nil)

	var missing *credential.MissingCredentialError
	if !errors.As(err, &missing) {
		t.Fatalf("Resolve = %v, want MissingCredentialError", err)
	}
	if missing.Platform != credential.PlatformDiscord || missing.Identifier != "chan-1" {
		t.Fatalf("error = %+v", missing)
	}
}

func TestResolveMissingFieldNamesSources(t *testing.T) {
	store := newTestStore(t)
	saveDiscordCredential(t, store, "chan-1", "stored-token")
	r := newTestResolver(t, store, WithEnvLookup(env(nil)))

	// server_id has no credential key, no flag set, no env var: the error
	// must tell the user exactly where to supply it.
	_, err := r.Resolve(context.Background(), credential.PlatformDiscord, "chan-1", []string{"bot_token", "server_id"}, nil)

	var verr *credential.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Resolve = %v, want ValidationError", err)
	}
	if verr.Field != "server_id" || verr.Flag != "server-id" || verr.EnvVar != "DISCORD_SERVER_ID" {
		t.Fatalf("error = %+v", verr)
	}
}

func TestResolveRefreshesExpiredCredential(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "refreshed-access",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer tokenSrv.Close()

	store := newTestStore(t)
	now := time.Now().UTC()
	err := store.Save(context.Background(), &credential.Credential{
		Platform:     credential.PlatformFacebook,
		Identifier:   "page-1",
		Protocol:     credential.ProtocolOAuth2AuthCode,
		AccessToken:  "stale-access",
		RefreshToken: "refresh-token",
		ClientID:     "client",
		ClientSecret: "secret",
		ExpiresAt:    now.Add(-time.Hour),
		State:        credential.StateAuthenticated,
		CreatedAt:    now.Add(-24 * time.Hour),
		UpdatedAt:    now.Add(-24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	endpoint := func(credential.Platform) (oauth2.Endpoint, error) {
		return oauth2.Endpoint{TokenURL: tokenSrv.URL}, nil
	}
	persisted := refresh.New(refresh.WithStore(store), refresh.WithEndpointFor(endpoint))
	ephemeral := refresh.New(refresh.WithEndpointFor(endpoint))
	r, err := New(store, persisted, ephemeral, WithEnvLookup(env(nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	values, err := r.Resolve(context.Background(), credential.PlatformFacebook, "page-1", []string{"object_id", "access_token"}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if values["access_token"] != "refreshed-access" {
		t.Fatalf("access_token = %q, want refreshed token", values["access_token"])
	}

	stored, err := store.Load(context.Background(), credential.PlatformFacebook, "page-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if stored.AccessToken != "refreshed-access" {
		t.Fatalf("stored access token = %q, refresh was not persisted", stored.AccessToken)
	}
}

func TestResolveHeadlessUsesEnvironmentOnly(t *testing.T) {
	store := newTestStore(t)
	// A stored credential exists, but headless mode must never read it.
	saveDiscordCredential(t, store, "chan-1", "stored-token")

	r := newTestResolver(t, store,
		WithHeadless(true),
		WithEnvLookup(env(map[string]string{
			"DISCORD_BOT_TOKEN":  "ci-token",
			"DISCORD_CHANNEL_ID": "chan-1",
		})),
	)

	values, err := r.Resolve(context.Background(), credential.PlatformDiscord, "", []string{"bot_token", "channel_id"}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if values["bot_token"] != "ci-token" {
		t.Fatalf("bot_token = %q, want the environment token", values["bot_token"])
	}
}

func TestResolveHeadlessRefreshTokenOnly(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "minted-access",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer tokenSrv.Close()

	store := newTestStore(t)
	endpoint := func(credential.Platform) (oauth2.Endpoint, error) {
		return oauth2.Endpoint{TokenURL: tokenSrv.URL}, nil
	}
	persisted := refresh.New(refresh.WithStore(store), refresh.WithEndpointFor(endpoint))
	ephemeral := refresh.New(refresh.WithEndpointFor(endpoint))
	r, err := New(store, persisted, ephemeral,
		WithHeadless(true),
		WithEnvLookup(env(map[string]string{
			"AGORAS_FACEBOOK_REFRESH_TOKEN": "pipeline-refresh",
			"FACEBOOK_CLIENT_ID":            "client",
			"FACEBOOK_CLIENT_SECRET":        "secret",
			"FACEBOOK_OBJECT_ID":            "page-1",
		})),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Only refresh material in the environment: the resolver must mint an
	// access token without touching the store.
	values, err := r.Resolve(context.Background(), credential.PlatformFacebook, "", []string{"object_id", "access_token"}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if values["access_token"] != "minted-access" {
		t.Fatalf("access_token = %q, want minted token", values["access_token"])
	}
	if values["object_id"] != "page-1" {
		t.Fatalf("object_id = %q", values["object_id"])
	}

	if _, err := store.Load(context.Background(), credential.PlatformFacebook, "page-1"); !errors.Is(err, credential.ErrNotFound) {
		t.Fatalf("Load = %v, headless mode must not persist anything", err)
	}
}
