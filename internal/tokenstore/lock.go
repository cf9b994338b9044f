package tokenstore

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"

	"github.com/agoras-social/agoras/internal/credential"
)

const (
	lockExt = ".lock"

	// lockRetryInterval bounds how often a waiting process re-attempts the
	// advisory lock.
	lockRetryInterval = 100 * time.Millisecond
)

// Lock acquires the advisory file lock colocated with the credential file.
//
// Refresh tokens can be single-use: two processes racing through the
// read-refresh-write sequence would leave one of them holding an
// already-rotated token. Holding this lock across the whole sequence makes
// the loser re-read the winner's result instead of refreshing again. The same
// lock serializes concurrent authorize runs for one (platform, identifier).
func (s *FileStore) Lock(ctx context.Context, platform credential.Platform, identifier string) (func() error, error) {
	lock := flock.New(s.Path(platform, identifier) + lockExt)

	locked, err := lock.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return nil, fmt.Errorf("acquiring credential lock for %s/%s: %w", platform, identifier, err)
	}
	if !locked {
		return nil, fmt.Errorf("credential lock for %s/%s not acquired", platform, identifier)
	}

	return lock.Unlock, nil
}
