package driven

// Cipher protects API key material at rest.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	// Decrypt returns ErrDecryption (wrapped) when the value cannot be authenticated.
	// Legacy plain-base64 values decode without error.
	Decrypt(ciphertext string) (string, error)
	// NeedsUpgrade reports whether a stored value uses a legacy encoding and should be
	// re-encrypted.
	NeedsUpgrade(ciphertext string) bool
	// DestroyKey removes the encryption key from the secure store. Values sealed
	// under it can no longer be decrypted; the next Encrypt creates a new key.
	DestroyKey() error
}

// SecretStore is the platform secure-credential facility holding the encryption key.
type SecretStore interface {
	// Get returns ErrSecretNotFound when nothing is stored under alias.
	Get(alias string) (string, error)
	Set(alias, secret string) error
	Delete(alias string) error
}
