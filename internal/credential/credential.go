// Package credential defines the persisted unit of authentication state and
// the error taxonomy shared by the storage, authorization and refresh layers.
//
// A Credential is scoped by (Platform, Identifier) so one platform can hold
// several accounts side by side. Its lifecycle is a small state machine:
//
//	UNAUTHENTICATED → AUTHORIZING → AUTHENTICATED → NEEDS_REFRESH → REFRESHING
//	                                     ↑__________________|            |
//	                                     |________________________ REVOKED
//
// REVOKED is terminal; only a fresh authorization pass leaves it. Credentials
// are destroyed exclusively by explicit user deletion so revoked records stay
// available for diagnostics.
package credential

import (
	"fmt"
	"time"
)

// Platform identifies a supported posting target.
type Platform string

const (
	PlatformX         Platform = "x"
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformDiscord   Platform = "discord"
	PlatformYouTube   Platform = "youtube"
	PlatformTikTok    Platform = "tiktok"
	PlatformThreads   Platform = "threads"
	PlatformTelegram  Platform = "telegram"
	PlatformWhatsApp  Platform = "whatsapp"
)

// Platforms lists every supported platform in stable order.
func Platforms() []Platform {
	return []Platform{
		PlatformX, PlatformFacebook, PlatformInstagram, PlatformLinkedIn,
		PlatformDiscord, PlatformYouTube, PlatformTikTok, PlatformThreads,
		PlatformTelegram, PlatformWhatsApp,
	}
}

// ParsePlatform converts a user-supplied platform name.
func ParsePlatform(s string) (Platform, error) {
	for _, p := range Platforms() {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

// Protocol identifies the authentication variant a credential was produced by.
type Protocol string

const (
	ProtocolOAuth1a        Protocol = "oauth1a"
	ProtocolOAuth2AuthCode Protocol = "oauth2_auth_code"
	ProtocolBotToken       Protocol = "bot_token"
	ProtocolAPIToken       Protocol = "api_token"
)

// State is a credential lifecycle state.
//
// Only AUTHENTICATED and REVOKED are ever persisted: a credential record is
// written once its authorization flow fully succeeds and rewritten when a
// refresh verdict kills the grant. The remaining states name the transient
// phases of the lifecycle (no stored record yet, an authorize run in flight,
// a stale token on its way through the refresh engine); they exist for
// display and diagnostics, never on disk.
type State string

const (
	StateUnauthenticated State = "UNAUTHENTICATED"
	StateAuthorizing     State = "AUTHORIZING"
	StateAuthenticated   State = "AUTHENTICATED"
	StateNeedsRefresh    State = "NEEDS_REFRESH"
	StateRefreshing      State = "REFRESHING"
	StateRevoked         State = "REVOKED"
)

// Credential is the unit of persisted authentication state. It only ever
// exists in plaintext in memory; the token store encrypts it before it
// touches disk.
type Credential struct {
	Platform   Platform `json:"platform"`
	Identifier string   `json:"identifier"`
	Protocol   Protocol `json:"protocol"`

	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`

	// TokenSecret carries the OAuth 1.0a access token secret. Unused by
	// every other protocol.
	TokenSecret string `json:"token_secret,omitempty"`

	// ClientID and ClientSecret accompany RefreshToken; a refresh call
	// needs all three.
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`

	// ExpiresAt zero means the token does not expire (oauth1a, bot and API
	// tokens, some long-lived OAuth2 grants).
	ExpiresAt time.Time `json:"expires_at,omitzero"`

	Scopes []string `json:"scopes,omitempty"`
	State  State    `json:"state"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expiring reports whether the credential carries an expiry at all.
func (c *Credential) Expiring() bool {
	return !c.ExpiresAt.IsZero()
}

// FreshAt reports whether the access token is still usable at the given
// instant, leaving the safety margin before the recorded expiry.
func (c *Credential) FreshAt(now time.Time, margin time.Duration) bool {
	if !c.Expiring() {
		return true
	}
	return now.Before(c.ExpiresAt.Add(-margin))
}

// Refreshable reports whether the credential carries the material a refresh
// call needs.
func (c *Credential) Refreshable() bool {
	return c.RefreshToken != "" && c.ClientID != "" && c.ClientSecret != ""
}

// Validate enforces the record invariants before a credential is persisted.
func (c *Credential) Validate() error {
	if _, err := ParsePlatform(string(c.Platform)); err != nil {
		return err
	}
	if c.Identifier == "" {
		return fmt.Errorf("credential for %s has no identifier", c.Platform)
	}
	switch c.Protocol {
	case ProtocolOAuth1a, ProtocolOAuth2AuthCode, ProtocolBotToken, ProtocolAPIToken:
	default:
		return fmt.Errorf("unknown protocol %q", c.Protocol)
	}
	if c.State == StateAuthenticated && c.AccessToken == "" {
		return fmt.Errorf("%s/%s: authenticated credential without access token", c.Platform, c.Identifier)
	}
	if c.RefreshToken != "" && (c.ClientID == "" || c.ClientSecret == "") {
		return fmt.Errorf("%s/%s: refresh token requires client_id and client_secret", c.Platform, c.Identifier)
	}
	return nil
}

// Redacted returns a loggable description that never includes secret material.
func (c *Credential) Redacted() string {
	return fmt.Sprintf("%s/%s (%s, %s)", c.Platform, c.Identifier, c.Protocol, c.State)
}
