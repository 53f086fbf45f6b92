// Package utils holds small filesystem helpers shared across the
// gateway's ambient stack. SecureTempFile backs the atomic
// write-then-rename pattern used for the heartbeat/health file in
// cmd/zephyrgated, so a reader never observes a partially written file.
package utils

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SecureTempFile creates a temporary file with a random, unpredictable
// name and owner-only permissions in dir (the system temp directory if
// dir is empty). The caller is responsible for writing, closing, and
// either renaming or removing it.
func SecureTempFile(dir, pattern string) (*os.File, error) {
	if dir == "" {
		dir = os.TempDir()
	}

	randomBytes := make([]byte, 8)
	if _, err := rand.Read(randomBytes); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	randomSuffix := fmt.Sprintf("%x", randomBytes)

	filename := fmt.Sprintf("%s_%s_%s", pattern, time.Now().Format("20060102_150405"), randomSuffix)
	path := filepath.Join(dir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create secure temp file: %w", err)
	}

	return file, nil
}

// CleanupTempFile removes a file this package created, refusing to
// touch anything outside a temp directory.
func CleanupTempFile(path string) error {
	if path == "" {
		return nil
	}

	if !isInTempDir(path) {
		return fmt.Errorf("refusing to remove file outside temp directory: %s", path)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove temp file: %w", err)
	}

	return nil
}

func isInTempDir(path string) bool {
	tempDir := os.TempDir()
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	absTempDir, err := filepath.Abs(tempDir)
	if err != nil {
		return false
	}
	return filepath.HasPrefix(absPath, absTempDir)
}
