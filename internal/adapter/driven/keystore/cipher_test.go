package keystore

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/ericfisherdev/chatvault/internal/domain/port/driven"
)

// memSecrets is an in-memory SecretStore with optional forced errors.
type memSecrets struct {
	values map[string]string
	getErr error
	delErr error
	sets   int
}

func newMemSecrets() *memSecrets {
	return &memSecrets{values: map[string]string{}}
}

func (m *memSecrets) Get(alias string) (string, error) {
	if m.getErr != nil {
		return "", m.getErr
	}
	v, ok := m.values[alias]
	if !ok {
		return "", driven.ErrSecretNotFound
	}
	return v, nil
}

func (m *memSecrets) Set(alias, secret string) error {
	m.sets++
	m.values[alias] = secret
	return nil
}

func (m *memSecrets) Delete(alias string) error {
	if m.delErr != nil {
		return m.delErr
	}
	delete(m.values, alias)
	return nil
}

func TestCipher_RoundTrip(t *testing.T) {
	c := NewCipher(newMemSecrets())

	for _, plaintext := range []string{
		"sk-or-v1-0123456789abcdef",
		"sk-or-vv-ключ-с-юникодом",
		"a",
		strings.Repeat("x", 4096),
	} {
		encrypted, err := c.Encrypt(plaintext)
		require.NoError(t, err)
		require.True(t, IsAESEncrypted(encrypted))

		payload, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(encrypted, aesTag))
		require.NoError(t, err)
		assert.Len(t, payload, nonceSize+len(plaintext)+tagSize)
		// Short plaintexts can collide with random ciphertext bytes by chance.
		if len(plaintext) >= 8 {
			assert.False(t, bytes.Contains(payload, []byte(plaintext)))
			assert.NotContains(t, encrypted, plaintext)
		}

		decrypted, err := c.Decrypt(encrypted)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestCipher_FreshNoncePerCall(t *testing.T) {
	c := NewCipher(newMemSecrets())

	first, err := c.Encrypt("sk-or-v1-same")
	require.NoError(t, err)
	second, err := c.Encrypt("sk-or-v1-same")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestCipher_KeyCreatedOnceAndReused(t *testing.T) {
	secrets := newMemSecrets()

	encrypted, err := NewCipher(secrets).Encrypt("sk-or-v1-persist")
	require.NoError(t, err)
	assert.Equal(t, 1, secrets.sets)
	require.Len(t, secrets.values[KeyAlias], keySize*2)

	// A new Cipher over the same store reads the persisted key.
	decrypted, err := NewCipher(secrets).Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "sk-or-v1-persist", decrypted)
	assert.Equal(t, 1, secrets.sets)
}

func TestCipher_LegacyBase64(t *testing.T) {
	c := NewCipher(newMemSecrets())
	legacy := base64.StdEncoding.EncodeToString([]byte("sk-or-v1-legacy-key"))

	assert.True(t, IsBase64Encoded(legacy))
	assert.False(t, IsAESEncrypted(legacy))
	assert.True(t, c.NeedsUpgrade(legacy))

	decrypted, err := c.Decrypt(legacy)
	require.NoError(t, err)
	assert.Equal(t, "sk-or-v1-legacy-key", decrypted)
}

func TestCipher_TamperedCiphertextFails(t *testing.T) {
	c := NewCipher(newMemSecrets())
	encrypted, err := c.Encrypt("sk-or-v1-tamper")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(encrypted, aesTag))
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := aesTag + base64.StdEncoding.EncodeToString(raw)

	_, err = c.Decrypt(tampered)
	assert.ErrorIs(t, err, driven.ErrDecryption)
}

func TestCipher_UnrecognizedFormatFails(t *testing.T) {
	c := NewCipher(newMemSecrets())

	for _, input := range []string{"sk-or-v1-plaintext", "not base64!", "chacha:AAAA", aesTag + "@@@"} {
		_, err := c.Decrypt(input)
		assert.ErrorIs(t, err, driven.ErrDecryption, input)
	}
}

func TestCipher_DecryptWithoutKeyDoesNotCreateOne(t *testing.T) {
	writer := NewCipher(newMemSecrets())
	encrypted, err := writer.Encrypt("sk-or-v1-orphan")
	require.NoError(t, err)

	empty := newMemSecrets()
	_, err = NewCipher(empty).Decrypt(encrypted)

	assert.ErrorIs(t, err, driven.ErrDecryption)
	assert.Zero(t, empty.sets)
}

func TestCipher_CorruptStoredKey(t *testing.T) {
	secrets := newMemSecrets()
	secrets.values[KeyAlias] = "deadbeef"

	_, err := NewCipher(secrets).Encrypt("sk-or-v1-x")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt")
	assert.Equal(t, "deadbeef", secrets.values[KeyAlias], "corrupt key must not be replaced")
}

func TestCipher_SecretStoreUnavailable(t *testing.T) {
	secrets := newMemSecrets()
	secrets.getErr = errors.New("dbus: no session bus")

	_, err := NewCipher(secrets).Encrypt("sk-or-v1-x")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "read encryption key")
}

func TestCipher_DestroyKey(t *testing.T) {
	secrets := newMemSecrets()
	c := NewCipher(secrets)

	encrypted, err := c.Encrypt("sk-or-v1-before")
	require.NoError(t, err)
	oldKey := secrets.values[KeyAlias]

	require.NoError(t, c.DestroyKey())
	assert.NotContains(t, secrets.values, KeyAlias)

	_, err = c.Decrypt(encrypted)
	assert.ErrorIs(t, err, driven.ErrDecryption, "cached key must be dropped too")

	_, err = c.Encrypt("sk-or-v1-after")
	require.NoError(t, err)
	assert.NotEqual(t, oldKey, secrets.values[KeyAlias])

	// Destroying twice is fine.
	require.NoError(t, c.DestroyKey())
	require.NoError(t, c.DestroyKey())
}

func TestCipher_DestroyKeyFailure(t *testing.T) {
	secrets := newMemSecrets()
	secrets.delErr = errors.New("keychain locked")
	c := NewCipher(secrets)
	_, err := c.Encrypt("sk-or-v1-x")
	require.NoError(t, err)

	err = c.DestroyKey()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete encryption key")
	assert.Contains(t, secrets.values, KeyAlias)
}

func TestFormatPredicates(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		aes    bool
		base64 bool
	}{
		{name: "empty", input: ""},
		{name: "plain key", input: "sk-or-v1-abc"},
		{name: "legacy base64", input: base64.StdEncoding.EncodeToString([]byte("hello")), base64: true},
		{name: "unpadded base64", input: "aGVsbG8"},
		{name: "binary base64", input: base64.StdEncoding.EncodeToString([]byte{0xff, 0xfe, 0xfd}), base64: false},
		{name: "tag with short body", input: aesTag + base64.StdEncoding.EncodeToString([]byte("short"))},
		{name: "tag with full body", input: aesTag + base64.StdEncoding.EncodeToString(make([]byte, nonceSize+tagSize)), aes: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.aes, IsAESEncrypted(tt.input))
			assert.Equal(t, tt.base64, IsBase64Encoded(tt.input))
		})
	}
}

func TestCipher_WithMockOSKeyring(t *testing.T) {
	keyring.MockInit()
	store := NewOSKeyring("chatvault-test")

	c := NewCipher(store)
	encrypted, err := c.Encrypt("sk-or-vv-through-keyring")
	require.NoError(t, err)

	stored, err := store.Get(KeyAlias)
	require.NoError(t, err)
	assert.Len(t, stored, keySize*2)

	decrypted, err := NewCipher(store).Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "sk-or-vv-through-keyring", decrypted)
}
