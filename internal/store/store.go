// Package store is the persistent, encrypted collection of named secrets.
// The whole store lives in a single encrypted-at-rest file: each secret
// value is sealed individually with its own nonce, and the serialized
// document is sealed again in one outer envelope. Every mutation rewrites
// the file atomically, so a crash mid-write never corrupts the previous
// valid store.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"keylocker/internal/crypto"
	"keylocker/internal/fsutil"
)

// StoreFile is the encrypted store file name inside the locker directory.
const StoreFile = "secrets.enc"

const documentVersion = 1

var (
	// ErrCorruptStore indicates the store file failed authentication:
	// wrong key or tampering. Never retried.
	ErrCorruptStore = errors.New("store: corrupt store file")
	// ErrDuplicateSecret indicates an add without explicit overwrite hit
	// an existing name.
	ErrDuplicateSecret = errors.New("store: secret already exists")
	// ErrNotFound indicates the named secret is absent or expired.
	ErrNotFound = errors.New("store: secret not found")
	// ErrEmptyName rejects the empty string as a secret name.
	ErrEmptyName = errors.New("store: secret name must not be empty")
)

// Secret is one encrypted record. Ciphertext and Nonce travel together;
// the nonce is fresh for every encryption and never reused.
type Secret struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Ciphertext []byte     `json:"ciphertext"`
	Nonce      []byte     `json:"nonce"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the secret's expiry has passed.
func (s *Secret) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// ParseExpiryDays converts a day count like "30" into an absolute expiry
// timestamp. Empty input means no expiry.
func ParseExpiryDays(days string) (*time.Time, error) {
	days = strings.TrimSpace(days)
	if days == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(days)
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("store: expiry must be a positive number of days, got %q", days)
	}
	t := time.Now().Add(time.Duration(n) * 24 * time.Hour)
	return &t, nil
}

// Metadata is the non-sensitive view of a secret used by listings.
type Metadata struct {
	Name      string
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// DaysUntilExpiration returns the number of whole days remaining, or
// false when the secret never expires. Negative values mean expired.
func (m Metadata) DaysUntilExpiration(now time.Time) (int, bool) {
	if m.ExpiresAt == nil {
		return 0, false
	}
	return int(m.ExpiresAt.Sub(now).Hours() / 24), true
}

// document is the serialized store layout inside the outer envelope.
type document struct {
	Version int                `json:"version"`
	Secrets map[string]*Secret `json:"secrets"`
}

// Store is a decrypted view over the store file. It holds the derived key
// for sealing values; the key is owned by the caller, who zeroizes it.
type Store struct {
	dir     string
	key     []byte
	secrets map[string]*Secret
}

// Load decrypts the store file in dir with key. A missing file yields an
// empty store: first use must not require a separate create step.
func Load(dir string, key []byte) (*Store, error) {
	st := &Store{
		dir:     dir,
		key:     key,
		secrets: make(map[string]*Secret),
	}

	raw, err := os.ReadFile(st.path())
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}

	if len(raw) < crypto.NonceSize {
		return nil, ErrCorruptStore
	}
	nonce, ciphertext := raw[:crypto.NonceSize], raw[crypto.NonceSize:]

	plaintext, err := crypto.Decrypt(key, ciphertext, nonce)
	if err != nil {
		return nil, ErrCorruptStore
	}
	defer crypto.Zero(plaintext)

	var doc document
	if err := json.Unmarshal(plaintext, &doc); err != nil {
		return nil, ErrCorruptStore
	}
	if doc.Secrets != nil {
		st.secrets = doc.Secrets
	}

	return st, nil
}

// Path returns the store file path.
func (st *Store) Path() string {
	return st.path()
}

func (st *Store) path() string {
	return filepath.Join(st.dir, StoreFile)
}

// Add seals value under a fresh nonce and persists the store. Without
// overwrite, an existing non-expired name is rejected with
// ErrDuplicateSecret and the store is left untouched.
func (st *Store) Add(name, value string, expiresAt *time.Time, overwrite bool) error {
	if name == "" {
		return ErrEmptyName
	}
	if existing, ok := st.secrets[name]; ok && !overwrite && !existing.Expired(time.Now()) {
		return fmt.Errorf("%w: %s", ErrDuplicateSecret, name)
	}

	ciphertext, nonce, err := crypto.Encrypt(st.key, []byte(value))
	if err != nil {
		return fmt.Errorf("failed to encrypt secret: %w", err)
	}

	secret := &Secret{
		ID:         uuid.New().String(),
		Name:       name,
		Ciphertext: ciphertext,
		Nonce:      nonce,
		CreatedAt:  time.Now().UTC(),
		ExpiresAt:  expiresAt,
	}

	if err := st.persist(map[string]*Secret{name: secret}, nil); err != nil {
		return err
	}
	st.secrets[name] = secret
	return nil
}

// Remove deletes the named secret and persists the store.
func (st *Store) Remove(name string) error {
	if _, ok := st.secrets[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := st.persist(nil, []string{name}); err != nil {
		return err
	}
	delete(st.secrets, name)
	return nil
}

// List returns metadata for all non-expired secrets, sorted by name.
// Values stay encrypted.
func (st *Store) List() []Metadata {
	now := time.Now()
	out := make([]Metadata, 0, len(st.secrets))
	for _, s := range st.secrets {
		if s.Expired(now) {
			continue
		}
		out = append(out, Metadata{
			Name:      s.Name,
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get decrypts a single secret value. Absent and expired names both
// report ErrNotFound; expired records stay on disk until the next
// persisting mutation compacts them away.
func (st *Store) Get(name string) (string, error) {
	s, ok := st.secrets[name]
	if !ok || s.Expired(time.Now()) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	plaintext, err := crypto.Decrypt(st.key, s.Ciphertext, s.Nonce)
	if err != nil {
		return "", err
	}
	value := string(plaintext)
	crypto.Zero(plaintext)
	return value, nil
}

// ExportAll decrypts every non-expired secret into a name->value map.
// Used by shell export and for priming the agent cache.
func (st *Store) ExportAll() (map[string]string, error) {
	now := time.Now()
	out := make(map[string]string, len(st.secrets))
	for name, s := range st.secrets {
		if s.Expired(now) {
			continue
		}
		plaintext, err := crypto.Decrypt(st.key, s.Ciphertext, s.Nonce)
		if err != nil {
			return nil, err
		}
		out[name] = string(plaintext)
		crypto.Zero(plaintext)
	}
	return out, nil
}

// Len returns the number of non-expired secrets.
func (st *Store) Len() int {
	return len(st.List())
}

// persist serializes the store with upserts applied and removals plus all
// expired records dropped (write compaction), seals it in a fresh outer
// envelope, and writes it atomically. The in-memory map is only updated
// by the caller after persist succeeds: a failed write leaves both the
// file and the live view unchanged.
func (st *Store) persist(upserts map[string]*Secret, removals []string) error {
	now := time.Now()
	doc := document{
		Version: documentVersion,
		Secrets: make(map[string]*Secret, len(st.secrets)+len(upserts)),
	}
	for name, s := range st.secrets {
		if s.Expired(now) {
			continue
		}
		doc.Secrets[name] = s
	}
	for name, s := range upserts {
		doc.Secrets[name] = s
	}
	for _, name := range removals {
		delete(doc.Secrets, name)
	}

	plaintext, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to serialize store: %w", err)
	}
	defer crypto.Zero(plaintext)

	ciphertext, nonce, err := crypto.Encrypt(st.key, plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt store: %w", err)
	}

	envelope := make([]byte, 0, len(nonce)+len(ciphertext))
	envelope = append(envelope, nonce...)
	envelope = append(envelope, ciphertext...)

	return fsutil.AtomicWriteFile(st.path(), envelope, fsutil.DefaultFilePermissions)
}
