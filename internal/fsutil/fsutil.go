package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirPermissions is the permission for locker directories.
	DefaultDirPermissions = 0o700
	// DefaultFilePermissions is the permission for locker files.
	DefaultFilePermissions = 0o600
)

// AtomicWriteFile writes data to a file atomically: it writes to a temp
// file in the same directory, fsyncs it, and renames it over the target.
// Rename within one filesystem is atomic, so a crash mid-write leaves the
// previous file intact. This is a hard requirement for the secrets store,
// not an optimization.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmpFile, err := os.CreateTemp(dir, ".klk-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		os.Remove(tmpPath)
	}()

	if err := tmpFile.Chmod(perm); err != nil {
		return fmt.Errorf("failed to set temp file permissions: %w", err)
	}
	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}

	// Durability of the rename itself is best-effort.
	_ = syncDir(dir)
	return nil
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// EnsureDirectory creates the directory with owner-only permissions if it
// doesn't exist.
func EnsureDirectory(path string) error {
	if err := os.MkdirAll(path, DefaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}
