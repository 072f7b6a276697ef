package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func testKey() []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = 0x42
	}
	return key
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	key := testKey()

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"simple text", []byte("hello world")},
		{"empty", []byte("")},
		{"binary data", []byte{0x00, 0x01, 0x02, 0xff, 0xfe, 0xfd}},
		{"long text", bytes.Repeat([]byte("secret "), 1000)},
		{"special chars", []byte("!@#$%^&*()_+-={}[]|\\:\";<>?,./")},
		{"unicode", []byte("Clé secrète: 日本語 🔐")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, nonce, err := Encrypt(key, tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}

			if bytes.Equal(ciphertext, tt.plaintext) && len(tt.plaintext) > 0 {
				t.Error("ciphertext equals plaintext")
			}
			if len(nonce) != NonceSize {
				t.Errorf("nonce length = %d, want %d", len(nonce), NonceSize)
			}

			plaintext, err := Decrypt(key, ciphertext, nonce)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(plaintext, tt.plaintext) {
				t.Errorf("roundtrip = %q, want %q", plaintext, tt.plaintext)
			}
		})
	}
}

func TestEncryptNonceUniqueness(t *testing.T) {
	key := testKey()
	plaintext := []byte("same value")

	const n = 10000
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		_, nonce, err := Encrypt(key, plaintext)
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		if seen[string(nonce)] {
			t.Fatalf("nonce reused after %d encryptions", i)
		}
		seen[string(nonce)] = true
	}
}

func TestEncryptDifferentCiphertexts(t *testing.T) {
	key := testKey()
	plaintext := []byte("same value")

	ct1, _, err := Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	ct2, _, err := Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if bytes.Equal(ct1, ct2) {
		t.Error("same plaintext encrypted to identical ciphertext")
	}
}

func TestDecryptWrongKey(t *testing.T) {
	key := testKey()
	wrongKey := make([]byte, KeySize)
	for i := range wrongKey {
		wrongKey[i] = 0x99
	}

	ciphertext, nonce, err := Encrypt(key, []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if _, err := Decrypt(wrongKey, ciphertext, nonce); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("Decrypt() with wrong key error = %v, want ErrAuthenticationFailed", err)
	}
}

func TestDecryptTamperDetection(t *testing.T) {
	key := testKey()
	ciphertext, nonce, err := Encrypt(key, []byte("secret value"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	// Flipping any bit of the ciphertext must fail authentication.
	for i := range ciphertext {
		tampered := bytes.Clone(ciphertext)
		tampered[i] ^= 0x01
		if _, err := Decrypt(key, tampered, nonce); !errors.Is(err, ErrAuthenticationFailed) {
			t.Fatalf("Decrypt() with byte %d tampered error = %v, want ErrAuthenticationFailed", i, err)
		}
	}

	// Same for the nonce.
	for i := range nonce {
		tampered := bytes.Clone(nonce)
		tampered[i] ^= 0x01
		if _, err := Decrypt(key, ciphertext, tampered); !errors.Is(err, ErrAuthenticationFailed) {
			t.Fatalf("Decrypt() with nonce byte %d tampered error = %v, want ErrAuthenticationFailed", i, err)
		}
	}
}

func TestDecryptTruncatedInputs(t *testing.T) {
	key := testKey()
	ciphertext, nonce, err := Encrypt(key, []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	tests := []struct {
		name       string
		ciphertext []byte
		nonce      []byte
	}{
		{"empty ciphertext", nil, nonce},
		{"truncated ciphertext", ciphertext[:len(ciphertext)-1], nonce},
		{"short nonce", ciphertext, nonce[:NonceSize-1]},
		{"empty nonce", ciphertext, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decrypt(key, tt.ciphertext, tt.nonce); !errors.Is(err, ErrAuthenticationFailed) {
				t.Errorf("Decrypt() error = %v, want ErrAuthenticationFailed", err)
			}
		})
	}
}

func TestEncryptInvalidKey(t *testing.T) {
	if _, _, err := Encrypt([]byte("short"), []byte("data")); err == nil {
		t.Error("Encrypt() with short key succeeded, want error")
	}
}

func TestZero(t *testing.T) {
	b := []byte("sensitive")
	Zero(b)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d not zeroed: %v", i, v)
		}
	}
}

func TestRandomBytes(t *testing.T) {
	a, err := RandomBytes(16)
	if err != nil {
		t.Fatalf("RandomBytes() error = %v", err)
	}
	b, err := RandomBytes(16)
	if err != nil {
		t.Fatalf("RandomBytes() error = %v", err)
	}
	if len(a) != 16 || len(b) != 16 {
		t.Fatalf("lengths = %d, %d, want 16", len(a), len(b))
	}
	if bytes.Equal(a, b) {
		t.Error("two random draws are identical")
	}
}
