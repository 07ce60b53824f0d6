package keystore

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/ericfisherdev/chatvault/internal/domain/port/driven"
)

func TestOSKeyring_SetGetDelete(t *testing.T) {
	keyring.MockInit()
	store := NewOSKeyring("")

	_, err := store.Get("missing")
	assert.ErrorIs(t, err, driven.ErrSecretNotFound)

	require.NoError(t, store.Set("alias", "value"))
	got, err := store.Get("alias")
	require.NoError(t, err)
	assert.Equal(t, "value", got)

	require.NoError(t, store.Delete("alias"))
	require.NoError(t, store.Delete("alias"), "deleting a missing secret should not error")

	_, err = store.Get("alias")
	assert.ErrorIs(t, err, driven.ErrSecretNotFound)
}

func TestFileSecretStore_SetGetDelete(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	store := NewFileSecretStore(dir)

	_, err := store.Get(KeyAlias)
	assert.ErrorIs(t, err, driven.ErrSecretNotFound)

	require.NoError(t, store.Set(KeyAlias, "00ff"))
	got, err := store.Get(KeyAlias)
	require.NoError(t, err)
	assert.Equal(t, "00ff", got)

	require.NoError(t, store.Set(KeyAlias, "11ee"))
	got, err = store.Get(KeyAlias)
	require.NoError(t, err)
	assert.Equal(t, "11ee", got)

	require.NoError(t, store.Delete(KeyAlias))
	require.NoError(t, store.Delete(KeyAlias))
}

func TestFileSecretStore_Permissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX permissions only")
	}

	dir := filepath.Join(t.TempDir(), "keys")
	store := NewFileSecretStore(dir)
	require.NoError(t, store.Set(KeyAlias, "secret"))

	info, err := os.Stat(filepath.Join(dir, KeyAlias+".key"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, os.Chmod(filepath.Join(dir, KeyAlias+".key"), 0o644))
	_, err = store.Get(KeyAlias)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure permissions")
}

func TestFileSecretStore_BacksCipher(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")

	encrypted, err := NewCipher(NewFileSecretStore(dir)).Encrypt("sk-or-v1-file")
	require.NoError(t, err)

	decrypted, err := NewCipher(NewFileSecretStore(dir)).Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "sk-or-v1-file", decrypted)
}
