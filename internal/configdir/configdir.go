package configdir

import (
	"os"
	"path/filepath"
)

const defaultDirName = "keylocker"

// LockerDir resolves the locker directory respecting overrides.
// Default is ~/.config/keylocker; KEYLOCKER_CONFIG_DIR takes precedence.
func LockerDir() (string, error) {
	if env := os.Getenv("KEYLOCKER_CONFIG_DIR"); env != "" {
		if abs, err := filepath.Abs(env); err == nil {
			return abs, nil
		}
		return env, nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, defaultDirName), nil
}

// EnsureLockerDir creates the locker directory with owner-only permissions
// and returns its path. Everything in it (salt, hash, store, socket, pid)
// is private to the owning user.
func EnsureLockerDir() (string, error) {
	dir, err := LockerDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}
