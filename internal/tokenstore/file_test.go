package tokenstore

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/agoras-social/agoras/internal/credential"
	"github.com/agoras-social/agoras/internal/cryptobox"
)

func newTestStore(t *testing.T) *FileStore {
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
	store, err := NewFileStore(filepath.Join(dir, "credentials"), box)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return store
}

func testCredential(platform credential.Platform, identifier string) *credential.Credential {
	return &credential.Credential{
		Platform:    platform,
		Identifier:  identifier,
		Protocol:    credential.ProtocolOAuth2AuthCode,
		AccessToken: "access-" + identifier,
		State:       credential.StateAuthenticated,
		ExpiresAt:   time.Now().Add(time.Hour).UTC(),
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testCredential(credential.PlatformFacebook, "page-123")
	rec.RefreshToken = "refresh"
	rec.ClientID = "client"
	rec.ClientSecret = "secret"

	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load(ctx, credential.PlatformFacebook, "page-123")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.AccessToken != rec.AccessToken || loaded.RefreshToken != rec.RefreshToken {
		t.Fatalf("loaded tokens differ: got %+v", loaded)
	}
	if loaded.State != credential.StateAuthenticated {
		t.Fatalf("state = %s, want AUTHENTICATED", loaded.State)
	}
}

func TestSaveOverwritesExisting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testCredential(credential.PlatformLinkedIn, "acct")
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rec.AccessToken = "rotated"
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save (overwrite): %v", err)
	}

	loaded, err := store.Load(ctx, credential.PlatformLinkedIn, "acct")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.AccessToken != "rotated" {
		t.Fatalf("AccessToken = %q, want rotated", loaded.AccessToken)
	}
}

func TestLoadMissingReturnsNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load(context.Background(), credential.PlatformDiscord, "nope")
	if !errors.Is(err, credential.ErrNotFound) {
		t.Fatalf("Load = %v, want ErrNotFound", err)
	}
}

func TestFileOnDiskIsCiphertext(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testCredential(credential.PlatformTelegram, "chat-1")
	rec.AccessToken = "super-secret-bot-token"
	rec.Protocol = credential.ProtocolBotToken
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := os.ReadFile(store.Path(credential.PlatformTelegram, "chat-1"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if bytes.Contains(raw, []byte("super-secret-bot-token")) || bytes.Contains(raw, []byte("access_token")) {
		t.Fatal("credential file contains plaintext material")
	}

	info, err := os.Stat(store.Path(credential.PlatformTelegram, "chat-1"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Fatalf("credential file permissions = %04o, want 0600", perm)
	}
}

func TestCorruptedFileReturnsCorruptionError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testCredential(credential.PlatformYouTube, "chan-1")
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	path := store.Path(credential.PlatformYouTube, "chan-1")

	tests := []struct {
		name    string
		corrupt func(t *testing.T)
	}{
		{name: "flipped byte", corrupt: func(t *testing.T) {
			raw, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			raw[len(raw)-1] ^= 0x01
			if err := os.WriteFile(path, raw, 0600); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
		}},
		{name: "garbage content", corrupt: func(t *testing.T) {
			if err := os.WriteFile(path, []byte("not ciphertext at all"), 0600); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
		}},
		{name: "empty file", corrupt: func(t *testing.T) {
			if err := os.WriteFile(path, nil, 0600); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.Save(ctx, rec); err != nil {
				t.Fatalf("Save: %v", err)
			}
			tt.corrupt(t)

			_, err := store.Load(ctx, credential.PlatformYouTube, "chan-1")
			if !errors.Is(err, credential.ErrCorrupted) {
				t.Fatalf("Load = %v, want ErrCorrupted", err)
			}
			var corruption *credential.CorruptionError
			if !errors.As(err, &corruption) {
				t.Fatalf("Load error %T lacks corruption context", err)
			}
			// Corruption must never look like an absent credential.
			if errors.Is(err, credential.ErrNotFound) {
				t.Fatal("corruption error also matches ErrNotFound")
			}
		})
	}
}

func TestListReturnsPlatformIdentifiers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"page-1", "page-2"} {
		if err := store.Save(ctx, testCredential(credential.PlatformFacebook, id)); err != nil {
			t.Fatalf("Save(%s): %v", id, err)
		}
	}
	if err := store.Save(ctx, testCredential(credential.PlatformThreads, "acct-9")); err != nil {
		t.Fatalf("Save(threads): %v", err)
	}

	identifiers, err := store.List(ctx, credential.PlatformFacebook)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	slices.Sort(identifiers)
	want := []string{"page-1", "page-2"}
	if !slices.Equal(identifiers, want) {
		t.Fatalf("List = %v, want %v", identifiers, want)
	}
}

func TestDeleteRemovesCredential(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testCredential(credential.PlatformTikTok, "acct")
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Delete(ctx, credential.PlatformTikTok, "acct"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Load(ctx, credential.PlatformTikTok, "acct"); !errors.Is(err, credential.ErrNotFound) {
		t.Fatalf("Load after delete = %v, want ErrNotFound", err)
	}

	// Deleting again is not an error.
	if err := store.Delete(ctx, credential.PlatformTikTok, "acct"); err != nil {
		t.Fatalf("Delete (absent): %v", err)
	}
}

func TestLockSerializesHolders(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	release, err := store.Lock(ctx, credential.PlatformX, "handle")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	// A second acquisition must not proceed while the first is held.
	acquired := make(chan struct{})
	go func() {
		second, err := store.Lock(ctx, credential.PlatformX, "handle")
		if err != nil {
			t.Errorf("second Lock: %v", err)
			close(acquired)
			return
		}
		close(acquired)
		_ = second()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first held")
	case <-time.After(300 * time.Millisecond):
	}

	if err := release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second lock never acquired after release")
	}
}
