// Package keystore implements credential encryption with the key held in a platform
// secure-credential store rather than in the database.
package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/ericfisherdev/chatvault/internal/domain/port/driven"
)

// KeyAlias is the fixed alias of the AES key in the secure store.
const KeyAlias = "credential-encryption-key"

const (
	aesTag    = "aes256gcm:"
	keySize   = 32
	nonceSize = 12
	tagSize   = 16
)

// Compile-time interface satisfaction check.
var _ driven.Cipher = (*Cipher)(nil)

// Cipher encrypts API keys with AES-256-GCM. Output is aesTag followed by
// base64(nonce || ciphertext || tag). The key is created on first Encrypt and
// cached after the first successful load.
type Cipher struct {
	secrets driven.SecretStore

	mu  sync.Mutex
	key []byte
}

// NewCipher creates a Cipher whose key lives in secrets.
func NewCipher(secrets driven.SecretStore) *Cipher {
	return &Cipher{secrets: secrets}
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	key, err := c.loadKey(true)
	if err != nil {
		return "", err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return aesTag + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Legacy plain-base64 values are decoded
// as UTF-8 for backward compatibility.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	if !strings.HasPrefix(ciphertext, aesTag) {
		if IsBase64Encoded(ciphertext) {
			decoded, _ := base64.StdEncoding.DecodeString(ciphertext)
			return string(decoded), nil
		}
		return "", fmt.Errorf("%w: unrecognized format", driven.ErrDecryption)
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, aesTag))
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode: %v", driven.ErrDecryption, err)
	}
	if len(data) < nonceSize+tagSize {
		return "", fmt.Errorf("%w: ciphertext too short", driven.ErrDecryption)
	}

	key, err := c.loadKey(false)
	if err != nil {
		return "", err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", driven.ErrDecryption, err)
	}
	return string(plaintext), nil
}

// NeedsUpgrade reports whether s is stored in the legacy encoding.
func (c *Cipher) NeedsUpgrade(s string) bool {
	return !IsAESEncrypted(s) && IsBase64Encoded(s)
}

// IsAESEncrypted reports whether s has the AES-GCM envelope produced by Encrypt.
// It does not attempt decryption.
func IsAESEncrypted(s string) bool {
	if !strings.HasPrefix(s, aesTag) {
		return false
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, aesTag))
	return err == nil && len(data) >= nonceSize+tagSize
}

// IsBase64Encoded reports whether s is a legacy plain-base64 value: padded standard
// base64 without the algorithm tag, decoding to valid UTF-8.
func IsBase64Encoded(s string) bool {
	if s == "" || len(s)%4 != 0 || strings.HasPrefix(s, aesTag) {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return false
	}
	return utf8.Valid(decoded)
}

// DestroyKey deletes the key from the secure store and drops the cached copy.
// A missing key is not an error.
func (c *Cipher) DestroyKey() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.secrets.Delete(KeyAlias); err != nil && !errors.Is(err, driven.ErrSecretNotFound) {
		return fmt.Errorf("delete encryption key: %w", err)
	}
	c.key = nil
	return nil
}

// loadKey returns the cached key, reading it from the secure store on first use.
// When create is true a missing key is generated and stored.
func (c *Cipher) loadKey(create bool) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.key != nil {
		return c.key, nil
	}

	encoded, err := c.secrets.Get(KeyAlias)
	switch {
	case errors.Is(err, driven.ErrSecretNotFound):
		if !create {
			return nil, fmt.Errorf("%w: encryption key missing from secure store", driven.ErrDecryption)
		}
		key := make([]byte, keySize)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, fmt.Errorf("rand key: %w", err)
		}
		if err := c.secrets.Set(KeyAlias, hex.EncodeToString(key)); err != nil {
			return nil, fmt.Errorf("store encryption key: %w", err)
		}
		c.key = key
		return key, nil
	case err != nil:
		return nil, fmt.Errorf("read encryption key: %w", err)
	}

	key, err := hex.DecodeString(strings.TrimSpace(encoded))
	if err != nil || len(key) != keySize {
		// Never regenerate here: a new key would orphan every stored ciphertext.
		return nil, fmt.Errorf("stored encryption key is corrupt (want %d hex-encoded bytes)", keySize)
	}
	c.key = key
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}
