// Package crypto is the authenticated-encryption primitive for the locker.
// It wraps XChaCha20-Poly1305 with a fresh random nonce per call; callers
// persist the nonce alongside the ciphertext and are responsible for
// scrubbing any plaintext they receive.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the size of the symmetric key in bytes.
	KeySize = chacha20poly1305.KeySize
	// NonceSize is the size of the nonce in bytes (24 for XChaCha20).
	NonceSize = chacha20poly1305.NonceSizeX
)

// ErrAuthenticationFailed indicates a wrong key or tampered ciphertext.
// It is the only decryption error: there is no partial decryption.
var ErrAuthenticationFailed = errors.New("crypto: authentication failed")

// Encrypt seals plaintext under key with a fresh random nonce. The nonce
// is returned separately and must be stored next to the ciphertext; it is
// never reused for the same key.
func Encrypt(key, plaintext []byte) (ciphertext, nonce []byte, err error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid key: %w", err)
	}

	nonce = make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext = aead.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt opens ciphertext sealed by Encrypt. The returned plaintext is
// owned by the caller, who must Zero it after use.
func Decrypt(key, ciphertext, nonce []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("invalid key: %w", err)
	}
	if len(nonce) != NonceSize {
		return nil, ErrAuthenticationFailed
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

// Zero overwrites b with zeros. Sensitive buffers (keys, plaintext) go
// through here before they are dropped.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}
