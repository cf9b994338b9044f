// Package platforms declares, per platform, the authentication protocol, the
// OAuth endpoints and loopback callback binding, the static-token validation
// call, and the credential field table consumed by the resolver.
//
// Everything here is data. Resolution, authorization and refresh are generic
// over these specs, so adding a platform means adding one table entry, not
// new branching code.
package platforms

import (
	"fmt"
	"strings"

	"golang.org/x/oauth2"

	"github.com/agoras-social/agoras/internal/credential"
)

// Credential keys a FieldSpec may reference. The resolver maps them onto
// fields of a stored, refreshed credential record.
const (
	CredKeyAccessToken  = "access_token"
	CredKeyRefreshToken = "refresh_token"
	CredKeyTokenSecret  = "token_secret"
	CredKeyClientID     = "client_id"
	CredKeyClientSecret = "client_secret"
	CredKeyIdentifier   = "identifier"
)

// FieldSpec declares one credential field a platform module can require:
// where its CLI flag and environment variable live, and whether a stored
// credential can satisfy it.
type FieldSpec struct {
	// Name is the canonical field name platform modules use.
	Name string
	// Flag is the CLI flag (without leading dashes).
	Flag string
	// EnvVar is the environment variable consulted last in precedence.
	EnvVar string
	// CredentialKey names the credential record field that satisfies this
	// field, empty if the field never comes from stored state.
	CredentialKey string
	// Secret fields are prompted with hidden input and never logged.
	Secret bool
}

// OAuth2Spec configures an authorization-code flow.
type OAuth2Spec struct {
	Endpoint     oauth2.Endpoint
	Scopes       []string
	CallbackPort int
	CallbackPath string
	// UsePKCE adds an S256 code challenge to the authorization request.
	UsePKCE bool
}

// RedirectURL returns the fixed loopback redirect URI registered with the
// provider.
func (o *OAuth2Spec) RedirectURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", o.CallbackPort, o.CallbackPath)
}

// OAuth1Spec configures the three-legged OAuth 1.0a handshake.
type OAuth1Spec struct {
	RequestTokenURL string
	AuthorizeURL    string
	AccessTokenURL  string
	CallbackPort    int
	CallbackPath    string
}

// CallbackURL returns the fixed loopback callback URI.
func (o *OAuth1Spec) CallbackURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", o.CallbackPort, o.CallbackPath)
}

// ValidationSpec configures the lightweight call that checks a static
// bot/API token before it is persisted.
type ValidationSpec struct {
	// URL may reference resolved fields as {field_name}; {token} is the
	// candidate token itself.
	URL string
	// AuthorizationHeader, if non-empty, is sent with {token} substituted
	// (e.g. "Bot {token}" or "Bearer {token}").
	AuthorizationHeader string
}

// Spec is one platform's declarative description.
type Spec struct {
	Platform credential.Platform
	Protocol credential.Protocol

	OAuth2   *OAuth2Spec
	OAuth1   *OAuth1Spec
	Validate *ValidationSpec

	// Fields is the full field table for the platform.
	Fields []FieldSpec

	// IdentifierField names the field that scopes the credential within the
	// platform (account id, channel id, phone number id, ...).
	IdentifierField string

	// AuthorizeFields must resolve before an authorize run can start.
	AuthorizeFields []string
	// PostFields must resolve before a posting action can run.
	PostFields []string
}

// Field returns the spec for a named field.
func (s *Spec) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// RefreshTokenEnvVar returns the distinguished headless-mode refresh token
// variable for the platform.
func RefreshTokenEnvVar(p credential.Platform) string {
	return "AGORAS_" + strings.ToUpper(string(p)) + "_REFRESH_TOKEN"
}

// envVar builds the conventional <PLATFORM>_<FIELD> variable name.
func envVar(p credential.Platform, field string) string {
	return strings.ToUpper(string(p)) + "_" + strings.ToUpper(field)
}

// flagName builds the conventional flag name for a field.
func flagName(field string) string {
	return strings.ReplaceAll(field, "_", "-")
}

// field constructs a non-secret FieldSpec with conventional flag/env naming.
func field(p credential.Platform, name, credKey string) FieldSpec {
	return FieldSpec{
		Name:          name,
		Flag:          flagName(name),
		EnvVar:        envVar(p, name),
		CredentialKey: credKey,
	}
}

// secret constructs a secret FieldSpec with conventional flag/env naming.
func secret(p credential.Platform, name, credKey string) FieldSpec {
	f := field(p, name, credKey)
	f.Secret = true
	return f
}

// oauth2Fields is the field table shared by every authorization-code
// platform: client pair, account identifier, and the token material a stored
// credential carries. The refresh token env var is the distinguished
// AGORAS_<PLATFORM>_REFRESH_TOKEN used by headless mode.
func oauth2Fields(p credential.Platform, identifierField string) []FieldSpec {
	refresh := secret(p, CredKeyRefreshToken, CredKeyRefreshToken)
	refresh.EnvVar = RefreshTokenEnvVar(p)
	return []FieldSpec{
		field(p, CredKeyClientID, CredKeyClientID),
		secret(p, CredKeyClientSecret, CredKeyClientSecret),
		field(p, identifierField, CredKeyIdentifier),
		secret(p, CredKeyAccessToken, CredKeyAccessToken),
		refresh,
	}
}

// Registry holds the spec of every supported platform, keyed by platform.
var Registry = map[credential.Platform]*Spec{
	credential.PlatformX: {
		Platform: credential.PlatformX,
		Protocol: credential.ProtocolOAuth1a,
		OAuth1: &OAuth1Spec{
			RequestTokenURL: "https://api.twitter.com/oauth/request_token",
			AuthorizeURL:    "https://api.twitter.com/oauth/authorize",
			AccessTokenURL:  "https://api.twitter.com/oauth/access_token",
			CallbackPort:    8462,
			CallbackPath:    "/callback",
		},
		Fields: []FieldSpec{
			field(credential.PlatformX, "api_key", ""),
			secret(credential.PlatformX, "api_secret", ""),
			field(credential.PlatformX, "account", CredKeyIdentifier),
			secret(credential.PlatformX, CredKeyAccessToken, CredKeyAccessToken),
			secret(credential.PlatformX, CredKeyTokenSecret, CredKeyTokenSecret),
		},
		IdentifierField: "account",
		AuthorizeFields: []string{"api_key", "api_secret"},
		PostFields:      []string{"api_key", "api_secret", CredKeyAccessToken, CredKeyTokenSecret},
	},

	credential.PlatformFacebook: {
		Platform: credential.PlatformFacebook,
		Protocol: credential.ProtocolOAuth2AuthCode,
		OAuth2: &OAuth2Spec{
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://www.facebook.com/v20.0/dialog/oauth",
				TokenURL: "https://graph.facebook.com/v20.0/oauth/access_token",
			},
			Scopes:       []string{"pages_manage_posts", "pages_read_engagement"},
			CallbackPort: 8463,
			CallbackPath: "/callback",
		},
		Fields:          oauth2Fields(credential.PlatformFacebook, "object_id"),
		IdentifierField: "object_id",
		AuthorizeFields: []string{CredKeyClientID, CredKeyClientSecret, "object_id"},
		PostFields:      []string{"object_id", CredKeyAccessToken},
	},

	credential.PlatformInstagram: {
		Platform: credential.PlatformInstagram,
		Protocol: credential.ProtocolOAuth2AuthCode,
		OAuth2: &OAuth2Spec{
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://api.instagram.com/oauth/authorize",
				TokenURL: "https://api.instagram.com/oauth/access_token",
			},
			Scopes:       []string{"instagram_business_basic", "instagram_business_content_publish"},
			CallbackPort: 8464,
			CallbackPath: "/callback",
		},
		Fields:          oauth2Fields(credential.PlatformInstagram, "account_id"),
		IdentifierField: "account_id",
		AuthorizeFields: []string{CredKeyClientID, CredKeyClientSecret, "account_id"},
		PostFields:      []string{"account_id", CredKeyAccessToken},
	},

	credential.PlatformLinkedIn: {
		Platform: credential.PlatformLinkedIn,
		Protocol: credential.ProtocolOAuth2AuthCode,
		OAuth2: &OAuth2Spec{
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://www.linkedin.com/oauth/v2/authorization",
				TokenURL: "https://www.linkedin.com/oauth/v2/accessToken",
			},
			Scopes:       []string{"w_member_social", "openid", "profile"},
			CallbackPort: 8465,
			CallbackPath: "/callback",
		},
		Fields:          oauth2Fields(credential.PlatformLinkedIn, "author_id"),
		IdentifierField: "author_id",
		AuthorizeFields: []string{CredKeyClientID, CredKeyClientSecret, "author_id"},
		PostFields:      []string{"author_id", CredKeyAccessToken},
	},

	credential.PlatformDiscord: {
		Platform: credential.PlatformDiscord,
		Protocol: credential.ProtocolBotToken,
		Validate: &ValidationSpec{
			URL:                 "https://discord.com/api/v10/users/@me",
			AuthorizationHeader: "Bot {token}",
		},
		Fields: []FieldSpec{
			secret(credential.PlatformDiscord, "bot_token", CredKeyAccessToken),
			field(credential.PlatformDiscord, "server_id", ""),
			field(credential.PlatformDiscord, "channel_id", CredKeyIdentifier),
		},
		IdentifierField: "channel_id",
		AuthorizeFields: []string{"bot_token", "channel_id"},
		PostFields:      []string{"bot_token", "channel_id"},
	},

	credential.PlatformYouTube: {
		Platform: credential.PlatformYouTube,
		Protocol: credential.ProtocolOAuth2AuthCode,
		OAuth2: &OAuth2Spec{
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://accounts.google.com/o/oauth2/auth",
				TokenURL: "https://oauth2.googleapis.com/token",
			},
			Scopes:       []string{"https://www.googleapis.com/auth/youtube.upload"},
			CallbackPort: 8466,
			CallbackPath: "/callback",
			UsePKCE:      true,
		},
		Fields:          oauth2Fields(credential.PlatformYouTube, "channel_id"),
		IdentifierField: "channel_id",
		AuthorizeFields: []string{CredKeyClientID, CredKeyClientSecret, "channel_id"},
		PostFields:      []string{"channel_id", CredKeyAccessToken},
	},

	credential.PlatformTikTok: {
		Platform: credential.PlatformTikTok,
		Protocol: credential.ProtocolOAuth2AuthCode,
		OAuth2: &OAuth2Spec{
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://www.tiktok.com/v2/auth/authorize/",
				TokenURL: "https://open.tiktokapis.com/v2/oauth/token/",
			},
			Scopes:       []string{"video.publish"},
			CallbackPort: 8467,
			CallbackPath: "/callback",
			UsePKCE:      true,
		},
		Fields:          oauth2Fields(credential.PlatformTikTok, "account_id"),
		IdentifierField: "account_id",
		AuthorizeFields: []string{CredKeyClientID, CredKeyClientSecret, "account_id"},
		PostFields:      []string{"account_id", CredKeyAccessToken},
	},

	credential.PlatformThreads: {
		Platform: credential.PlatformThreads,
		Protocol: credential.ProtocolOAuth2AuthCode,
		OAuth2: &OAuth2Spec{
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://threads.net/oauth/authorize",
				TokenURL: "https://graph.threads.net/oauth/access_token",
			},
			Scopes:       []string{"threads_basic", "threads_content_publish"},
			CallbackPort: 8468,
			CallbackPath: "/callback",
		},
		Fields:          oauth2Fields(credential.PlatformThreads, "account_id"),
		IdentifierField: "account_id",
		AuthorizeFields: []string{CredKeyClientID, CredKeyClientSecret, "account_id"},
		PostFields:      []string{"account_id", CredKeyAccessToken},
	},

	credential.PlatformTelegram: {
		Platform: credential.PlatformTelegram,
		Protocol: credential.ProtocolBotToken,
		Validate: &ValidationSpec{
			URL: "https://api.telegram.org/bot{token}/getMe",
		},
		Fields: []FieldSpec{
			secret(credential.PlatformTelegram, "bot_token", CredKeyAccessToken),
			field(credential.PlatformTelegram, "chat_id", CredKeyIdentifier),
		},
		IdentifierField: "chat_id",
		AuthorizeFields: []string{"bot_token", "chat_id"},
		PostFields:      []string{"bot_token", "chat_id"},
	},

	credential.PlatformWhatsApp: {
		Platform: credential.PlatformWhatsApp,
		Protocol: credential.ProtocolAPIToken,
		Validate: &ValidationSpec{
			URL:                 "https://graph.facebook.com/v20.0/{phone_number_id}",
			AuthorizationHeader: "Bearer {token}",
		},
		Fields: []FieldSpec{
			secret(credential.PlatformWhatsApp, CredKeyAccessToken, CredKeyAccessToken),
			field(credential.PlatformWhatsApp, "phone_number_id", CredKeyIdentifier),
			field(credential.PlatformWhatsApp, "recipient", ""),
		},
		IdentifierField: "phone_number_id",
		AuthorizeFields: []string{CredKeyAccessToken, "phone_number_id"},
		PostFields:      []string{CredKeyAccessToken, "phone_number_id", "recipient"},
	},
}

// Lookup returns the spec for a platform.
func Lookup(p credential.Platform) (*Spec, error) {
	spec, ok := Registry[p]
	if !ok {
		return nil, fmt.Errorf("no platform spec for %q", p)
	}
	return spec, nil
}
