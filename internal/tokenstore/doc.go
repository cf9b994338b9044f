// Package tokenstore persists encrypted credential records, one file per
// (platform, identifier) pair, under a single root directory.
//
// Records pass through the cryptobox AEAD on every write and read; the store
// never puts plaintext secrets on disk. Writes are atomic (temp file plus
// rename) so a cancelled or crashed run cannot leave a partially written
// credential. A file that exists but fails to decrypt or decode surfaces as a
// CorruptionError, distinct from an absent credential, so the user is told to
// re-authorize instead of being silently dropped into a fresh browser flow.
//
// Each credential file has a colocated advisory lock file used to serialize
// cross-process read-refresh-write sequences and concurrent authorize runs.
package tokenstore
