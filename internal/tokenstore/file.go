package tokenstore

import (
	"context"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agoras-social/agoras/internal/credential"
	"github.com/agoras-social/agoras/internal/cryptobox"
)

const credExt = ".cred"

// filenameEncoding makes identifiers filesystem-safe while staying
// reversible, so List can recover identifiers without decrypting anything.
var filenameEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// FileStore is the encrypted file-per-credential store. The root directory
// and crypto box are injected so tests run against an isolated temp directory
// with a throwaway key.
type FileStore struct {
	root string
	box  *cryptobox.Box
}

// Compile-time check that FileStore implements Store.
var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore rooted at dir, creating it with 0700
// permissions if it does not exist.
func NewFileStore(dir string, box *cryptobox.Box) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("store directory cannot be empty")
	}
	if box == nil {
		return nil, errors.New("missing crypto box")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &FileStore{root: dir, box: box}, nil
}

// Path returns the credential file path for (platform, identifier).
func (s *FileStore) Path(platform credential.Platform, identifier string) string {
	name := string(platform) + "." + filenameEncoding.EncodeToString([]byte(identifier)) + credExt
	return filepath.Join(s.root, name)
}

// Save persists the record encrypted, via temp file and rename.
func (s *FileStore) Save(ctx context.Context, rec *credential.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("refusing to persist invalid credential: %w", err)
	}

	plaintext, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}

	ciphertext, err := s.box.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("encrypting credential: %w", err)
	}

	// Temp file in the same directory so the rename stays on one filesystem.
	tempFile, err := os.CreateTemp(s.root, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	defer func() { _ = os.Remove(tempName) }()

	if err := tempFile.Chmod(0600); err != nil {
		_ = tempFile.Close()
		return err
	}
	if _, err := tempFile.Write(ciphertext); err != nil {
		_ = tempFile.Close()
		return err
	}
	if err := ctx.Err(); err != nil {
		_ = tempFile.Close()
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	return os.Rename(tempName, s.Path(rec.Platform, rec.Identifier))
}

// Load reads and decrypts the stored record.
func (s *FileStore) Load(ctx context.Context, platform credential.Platform, identifier string) (*credential.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := s.Path(platform, identifier)
	ciphertext, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &credential.MissingCredentialError{Platform: platform, Identifier: identifier}
	}
	if err != nil {
		return nil, err
	}

	plaintext, err := s.box.Open(ciphertext)
	if err != nil {
		return nil, &credential.CorruptionError{Platform: platform, Identifier: identifier, Path: path, Cause: err}
	}

	rec := &credential.Credential{}
	if err := json.Unmarshal(plaintext, rec); err != nil {
		return nil, &credential.CorruptionError{Platform: platform, Identifier: identifier, Path: path, Cause: err}
	}
	if rec.Platform != platform || rec.Identifier != identifier {
		return nil, &credential.CorruptionError{
			Platform:   platform,
			Identifier: identifier,
			Path:       path,
			Cause:      fmt.Errorf("record identity %s/%s does not match file name", rec.Platform, rec.Identifier),
		}
	}
	return rec, nil
}

// List returns the identifiers of stored credentials for the platform,
// recovered from file names alone.
func (s *FileStore) List(ctx context.Context, platform credential.Platform) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}

	prefix := string(platform) + "."
	var identifiers []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, credExt) {
			continue
		}
		encoded := strings.TrimSuffix(strings.TrimPrefix(name, prefix), credExt)
		identifier, err := filenameEncoding.DecodeString(encoded)
		if err != nil {
			// Foreign file in the store directory; not ours to report.
			continue
		}
		identifiers = append(identifiers, string(identifier))
	}
	return identifiers, nil
}

// Delete removes the credential file and its lock file.
func (s *FileStore) Delete(ctx context.Context, platform credential.Platform, identifier string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := s.Path(platform, identifier)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.Remove(path + lockExt); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
