// Package cryptobox encrypts credential records at rest.
//
// Sealing uses XChaCha20-Poly1305, an AEAD construction, so a tampered or
// truncated file fails authentication instead of decrypting to garbage. The
// 32-byte key comes from a KeyProvider: either a permission-restricted local
// file created on first use, or the OS-native keyring.
package cryptobox

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrDecrypt marks ciphertext that failed authentication or is malformed.
// Callers translate it into the storage corruption taxonomy.
var ErrDecrypt = errors.New("decryption failed")

// KeySize is the required key length in bytes.
const KeySize = chacha20poly1305.KeySize

// KeyProvider supplies the symmetric key material. Implementations create the
// key on first use.
type KeyProvider interface {
	Key() ([]byte, error)
}

// Box seals and opens byte blobs with a key from the provider. The key is
// fetched lazily so constructing a Box performs no I/O.
type Box struct {
	provider KeyProvider
}

// New creates a Box backed by the given key provider.
func New(provider KeyProvider) (*Box, error) {
	if provider == nil {
		return nil, errors.New("missing key provider")
	}
	return &Box{provider: provider}, nil
}

// Seal encrypts plaintext. The random nonce is prepended to the ciphertext.
func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	aead, err := b.aead()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts ciphertext produced by Seal. Any authentication failure,
// including truncation, returns an error wrapping ErrDecrypt.
func (b *Box) Open(ciphertext []byte) ([]byte, error) {
	aead, err := b.aead()
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext shorter than nonce", ErrDecrypt)
	}

	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

func (b *Box) aead() (cipher.AEAD, error) {
	key, err := b.provider.Key()
	if err != nil {
		return nil, fmt.Errorf("obtaining encryption key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	return chacha20poly1305.NewX(key)
}

// FileKeyProvider stores the key in a local file with owner-only permissions.
type FileKeyProvider struct {
	path string
}

// Compile-time check that FileKeyProvider implements KeyProvider.
var _ KeyProvider = (*FileKeyProvider)(nil)

// NewFileKeyProvider creates a provider for the given key file path, creating
// parent directories with 0700 permissions if needed.
func NewFileKeyProvider(path string) (*FileKeyProvider, error) {
	if path == "" {
		return nil, errors.New("key file path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	return &FileKeyProvider{path: path}, nil
}

// Key returns the stored key, generating and persisting a fresh random key on
// first use. Refuses keys readable by group or others.
func (p *FileKeyProvider) Key() ([]byte, error) {
	info, err := os.Stat(p.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return p.generate()
	case err != nil:
		return nil, err
	}

	if info.Mode().Perm()&0077 != 0 {
		return nil, fmt.Errorf("insecure permissions on key file %s: %04o (expected 0600)", p.path, info.Mode().Perm())
	}

	key, err := os.ReadFile(p.path)
	if err != nil {
		return nil, err
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("key file %s has %d bytes, expected %d", p.path, len(key), KeySize)
	}
	return key, nil
}

func (p *FileKeyProvider) generate() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}

	// Temp file + rename so a concurrent first use never reads a partial key.
	tempFile, err := os.CreateTemp(filepath.Dir(p.path), "*.tmp")
	if err != nil {
		return nil, err
	}
	tempName := tempFile.Name()
	defer func() { _ = os.Remove(tempName) }()

	if err := tempFile.Chmod(0600); err != nil {
		_ = tempFile.Close()
		return nil, err
	}
	if _, err := tempFile.Write(key); err != nil {
		_ = tempFile.Close()
		return nil, err
	}
	if err := tempFile.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(tempName, p.path); err != nil {
		return nil, err
	}
	return key, nil
}

// KeyringKeyProvider stores the key in the OS-native credential manager
// (macOS Keychain, Windows Credential Manager, Linux Secret Service).
type KeyringKeyProvider struct {
	service string
	user    string
}

// Compile-time check that KeyringKeyProvider implements KeyProvider.
var _ KeyProvider = (*KeyringKeyProvider)(nil)

// NewKeyringKeyProvider creates a keyring-backed provider under the given
// service and user identifiers.
func NewKeyringKeyProvider(service, user string) (*KeyringKeyProvider, error) {
	if service == "" {
		return nil, errors.New("keyring service cannot be empty")
	}
	if user == "" {
		return nil, errors.New("keyring user cannot be empty")
	}
	return &KeyringKeyProvider{service: service, user: user}, nil
}

// Key returns the stored key, generating one on first use. The key is kept
// base64-encoded because keyring backends expect printable secrets.
func (p *KeyringKeyProvider) Key() ([]byte, error) {
	encoded, err := keyring.Get(p.service, p.user)
	if errors.Is(err, keyring.ErrNotFound) {
		key := make([]byte, KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating key: %w", err)
		}
		if err := keyring.Set(p.service, p.user, base64.StdEncoding.EncodeToString(key)); err != nil {
			return nil, fmt.Errorf("storing key in keyring: %w", err)
		}
		return key, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading key from keyring: %w", err)
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding keyring key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("keyring key has %d bytes, expected %d", len(key), KeySize)
	}
	return key, nil
}
