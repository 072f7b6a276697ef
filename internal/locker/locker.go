// Package locker turns a user passphrase into a verifiable identity and a
// symmetric encryption key. It owns the on-disk salt and verification hash;
// the derived key itself is never persisted anywhere.
package locker

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"keylocker/internal/crypto"
	"keylocker/internal/fsutil"
)

const (
	// SaltFile and HashFile are the identity files inside the locker dir.
	SaltFile = "salt"
	HashFile = "hash"

	// SaltSize is the salt length in bytes (128 bits).
	SaltSize = 16

	verifyHashSize = 32
	masterKeySize  = 32

	// Argon2id parameters are fixed constants so derivation is repeatable
	// across versions. Changing them would orphan every existing locker.
	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
)

// Domain-separation labels: the stored verification hash must never equal
// the encryption key, or the hash file would leak the key.
var (
	infoEncrypt = []byte("keylocker/encrypt/v1")
	infoVerify  = []byte("keylocker/verify/v1")
)

var (
	// ErrAlreadyInitialized indicates an identity already exists on disk.
	ErrAlreadyInitialized = errors.New("locker: already initialized")
	// ErrNotInitialized indicates no identity exists yet.
	ErrNotInitialized = errors.New("locker: not initialized")
	// ErrInvalidPassphrase indicates the passphrase failed verification.
	ErrInvalidPassphrase = errors.New("locker: invalid passphrase")
)

// IsInitialized reports whether an identity exists in dir.
func IsInitialized(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, SaltFile))
	return err == nil
}

// Initialize creates a fresh identity in dir: it generates a random salt,
// persists the salt and the passphrase verification hash, and returns the
// derived encryption key. The caller owns the key and must crypto.Zero it.
func Initialize(dir, passphrase string) ([]byte, error) {
	if IsInitialized(dir) {
		return nil, ErrAlreadyInitialized
	}
	if err := fsutil.EnsureDirectory(dir); err != nil {
		return nil, err
	}

	salt, err := crypto.RandomBytes(SaltSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key, verifyHash, err := derive(passphrase, salt)
	if err != nil {
		return nil, err
	}

	if err := fsutil.AtomicWriteFile(filepath.Join(dir, SaltFile), salt, fsutil.DefaultFilePermissions); err != nil {
		crypto.Zero(key)
		return nil, fmt.Errorf("failed to write salt: %w", err)
	}
	if err := fsutil.AtomicWriteFile(filepath.Join(dir, HashFile), verifyHash, fsutil.DefaultFilePermissions); err != nil {
		crypto.Zero(key)
		os.Remove(filepath.Join(dir, SaltFile))
		return nil, fmt.Errorf("failed to write verification hash: %w", err)
	}

	return key, nil
}

// Unlock verifies the passphrase against the stored identity and returns
// the derived encryption key. Verification happens before any decryption
// is attempted; a wrong passphrase never yields a key.
func Unlock(dir, passphrase string) ([]byte, error) {
	salt, err := os.ReadFile(filepath.Join(dir, SaltFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotInitialized
		}
		return nil, fmt.Errorf("failed to read salt: %w", err)
	}
	storedHash, err := os.ReadFile(filepath.Join(dir, HashFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotInitialized
		}
		return nil, fmt.Errorf("failed to read verification hash: %w", err)
	}

	key, verifyHash, err := derive(passphrase, salt)
	if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare(verifyHash, storedHash) != 1 {
		crypto.Zero(key)
		return nil, ErrInvalidPassphrase
	}

	return key, nil
}

// Reset removes the identity files. Used by forced re-initialization; the
// store encrypted under the old key becomes unreadable, which the caller
// must have confirmed.
func Reset(dir string) error {
	for _, name := range []string{SaltFile, HashFile} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}

// derive runs the memory-hard KDF once and expands the result into the
// encryption key and the verification hash via HKDF.
func derive(passphrase string, salt []byte) (key, verifyHash []byte, err error) {
	master := argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, masterKeySize)
	defer crypto.Zero(master)

	key = make([]byte, crypto.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, infoEncrypt), key); err != nil {
		return nil, nil, fmt.Errorf("key expansion failed: %w", err)
	}

	verifyHash = make([]byte, verifyHashSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, infoVerify), verifyHash); err != nil {
		crypto.Zero(key)
		return nil, nil, fmt.Errorf("hash expansion failed: %w", err)
	}

	return key, verifyHash, nil
}
