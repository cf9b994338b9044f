package credential

import (
	"errors"
	"fmt"
)

// Sentinel errors for the credential subsystem. Callers branch with
// errors.Is; the typed errors below carry the platform/identifier context
// needed for remediation text.
var (
	// ErrNotFound means no credential is stored for (platform, identifier).
	ErrNotFound = errors.New("credential not found")

	// ErrRevoked means the provider rejected the stored grant; the record is
	// kept for diagnostics but only a fresh authorization clears the state.
	ErrRevoked = errors.New("credential revoked")

	// ErrTransient marks retry-exhausted network failures during refresh.
	ErrTransient = errors.New("transient refresh failure")

	// ErrCorrupted marks a token file that failed to decrypt or deserialize.
	ErrCorrupted = errors.New("credential storage corrupted")

	// ErrCSRFMismatch marks a callback whose state did not match the nonce.
	ErrCSRFMismatch = errors.New("oauth state mismatch")

	// ErrAuthorizationTimeout marks a browser flow that never called back.
	ErrAuthorizationTimeout = errors.New("authorization timed out")

	// ErrPortInUse marks a callback port that could not be bound.
	ErrPortInUse = errors.New("callback port in use")
)

// ValidationError reports a required field that resolved from no source. It
// names the exact flag and environment variable the user can set.
type ValidationError struct {
	Platform Platform
	Field    string
	Flag     string
	EnvVar   string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Platform, e.Reason)
	}
	msg := fmt.Sprintf("%s: missing required field %q", e.Platform, e.Field)
	switch {
	case e.Flag != "" && e.EnvVar != "":
		msg += fmt.Sprintf(" (set --%s or %s)", e.Flag, e.EnvVar)
	case e.Flag != "":
		msg += fmt.Sprintf(" (set --%s)", e.Flag)
	case e.EnvVar != "":
		msg += fmt.Sprintf(" (set %s)", e.EnvVar)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// MissingCredentialError means an action needed a stored credential that was
// never authorized.
type MissingCredentialError struct {
	Platform   Platform
	Identifier string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("%s/%s: not authorized yet, run `agoras %s authorize`",
		e.Platform, e.Identifier, e.Platform)
}

func (e *MissingCredentialError) Unwrap() error { return ErrNotFound }

// RevokedError is terminal: the provider invalidated the grant and the user
// must re-authorize.
type RevokedError struct {
	Platform   Platform
	Identifier string
	Cause      error
}

func (e *RevokedError) Error() string {
	return fmt.Sprintf("%s/%s: authorization revoked or expired, run `agoras %s authorize` again",
		e.Platform, e.Identifier, e.Platform)
}

func (e *RevokedError) Unwrap() error { return ErrRevoked }

// TransientError wraps a network/timeout failure that survived bounded
// retries during refresh.
type TransientError struct {
	Platform   Platform
	Identifier string
	Cause      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s/%s: network error during token refresh: %v", e.Platform, e.Identifier, e.Cause)
}

func (e *TransientError) Unwrap() error { return ErrTransient }

// CorruptionError means a stored token file exists but cannot be decrypted or
// decoded. It is never treated as an absent credential: silently falling back
// to a fresh browser flow would hide the damage from the user.
type CorruptionError struct {
	Platform   Platform
	Identifier string
	Path       string
	Cause      error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("%s/%s: stored credential at %s is corrupted (%v), delete it and run `agoras %s authorize` again",
		e.Platform, e.Identifier, e.Path, e.Cause, e.Platform)
}

func (e *CorruptionError) Unwrap() error { return ErrCorrupted }

// ExchangeError means the provider rejected a token request on its merits:
// the authorization code, the client credentials, or a refresh attempt that
// failed for reasons other than a dead grant (wrong scope, disabled app).
type ExchangeError struct {
	Platform Platform
	Status   int
	Detail   string
}

func (e *ExchangeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: token exchange rejected with status %d", e.Platform, e.Status)
	}
	return fmt.Sprintf("%s: token exchange rejected with status %d: %s", e.Platform, e.Status, e.Detail)
}

// Exit codes for the CLI surface. Stable so automation can branch on them.
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitValidation    = 2
	ExitNotAuthorized = 3
	ExitRevoked       = 4
	ExitNetwork       = 5
)

// ExitCode maps an error to the process exit code contract.
func ExitCode(err error) int {
	var verr *ValidationError
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrNotFound):
		return ExitNotAuthorized
	case errors.Is(err, ErrRevoked), errors.Is(err, ErrCorrupted):
		return ExitRevoked
	case errors.Is(err, ErrTransient):
		return ExitNetwork
	case errors.As(err, &verr):
		return ExitValidation
	default:
		return ExitFailure
	}
}
