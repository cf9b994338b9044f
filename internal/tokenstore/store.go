package tokenstore

import (
	"context"

	"github.com/agoras-social/agoras/internal/credential"
)

// Store reads and writes credential records in persistent storage.
type Store interface {
	// Save persists the record, overwriting any existing credential for the
	// same (platform, identifier). The write is atomic.
	Save(ctx context.Context, rec *credential.Credential) error

	// Load returns the stored record. Returns an error wrapping
	// credential.ErrNotFound if no credential exists, and a
	// *credential.CorruptionError if the file cannot be decrypted or decoded.
	Load(ctx context.Context, platform credential.Platform, identifier string) (*credential.Credential, error)

	// List returns the identifiers of every stored credential for a platform.
	List(ctx context.Context, platform credential.Platform) ([]string, error)

	// Delete removes the stored credential. Deleting an absent credential is
	// not an error.
	Delete(ctx context.Context, platform credential.Platform, identifier string) error

	// Lock acquires the cross-process advisory lock for (platform,
	// identifier), blocking until it is held or the context ends. The
	// returned release function must be called exactly once.
	Lock(ctx context.Context, platform credential.Platform, identifier string) (release func() error, err error)
}
