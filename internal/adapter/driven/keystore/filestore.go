package keystore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/ericfisherdev/chatvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SecretStore = (*FileSecretStore)(nil)

// FileSecretStore keeps each secret in <dir>/<alias>.key for hosts without an OS
// keyring. The directory must be 0700 and files 0600; looser permissions are refused.
type FileSecretStore struct {
	dir string
}

// NewFileSecretStore creates a FileSecretStore rooted at dir.
func NewFileSecretStore(dir string) *FileSecretStore {
	return &FileSecretStore{dir: dir}
}

// Get reads the secret stored under alias.
func (f *FileSecretStore) Get(alias string) (string, error) {
	path := f.path(alias)

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", driven.ErrSecretNotFound
	}
	if err != nil {
		return "", fmt.Errorf("stat key file: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		return "", fmt.Errorf("key file %s has insecure permissions %o: fix with chmod 600", path, mode)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read key file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Set atomically writes the secret under alias.
func (f *FileSecretStore) Set(alias, secret string) error {
	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	info, err := os.Stat(f.dir)
	if err != nil {
		return fmt.Errorf("stat key directory: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		return fmt.Errorf("key directory %s has insecure permissions %o: fix with chmod 700", f.dir, mode)
	}

	path := f.path(alias)
	if err := atomic.WriteFile(path, strings.NewReader(secret)); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("chmod key file: %w", err)
	}
	return nil
}

// Delete removes the secret under alias. Deleting a missing secret is not an error.
func (f *FileSecretStore) Delete(alias string) error {
	if err := os.Remove(f.path(alias)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete key file: %w", err)
	}
	return nil
}

func (f *FileSecretStore) path(alias string) string {
	return filepath.Join(f.dir, filepath.Base(alias)+".key")
}
