package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// PinLength is the number of digits in a device PIN.
const PinLength = 4

// CredentialRecord holds one provider's API key together with the device PIN hash.
// APIKey is plaintext at the domain boundary; the storage adapter encrypts it at rest.
// Every record on a device carries the same PinHash.
type CredentialRecord struct {
	ID         int64
	Provider   Provider
	APIKey     string
	PinHash    string
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// IsComplete reports whether the record has both a key and a PIN hash.
func (r *CredentialRecord) IsComplete() bool {
	return r != nil && r.APIKey != "" && r.PinHash != ""
}

// HashPin returns the lowercase hex SHA-256 digest of pin.
func HashPin(pin string) string {
	sum := sha256.Sum256([]byte(pin))
	return hex.EncodeToString(sum[:])
}

// IsValidPin reports whether pin consists of exactly PinLength ASCII digits.
func IsValidPin(pin string) bool {
	if len(pin) != PinLength {
		return false
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return false
		}
	}
	return true
}

// KeyFingerprint returns the first 8 hex characters of the SHA-256 of apiKey, for
// correlating log lines without exposing the key.
func KeyFingerprint(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:4])
}
