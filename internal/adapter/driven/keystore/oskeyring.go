package keystore

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/ericfisherdev/chatvault/internal/domain/port/driven"
)

// DefaultService is the keyring service name secrets are filed under.
const DefaultService = "chatvault"

// Compile-time interface satisfaction check.
var _ driven.SecretStore = (*OSKeyring)(nil)

// OSKeyring stores secrets in the operating system keyring (Secret Service on Linux,
// Keychain on macOS, Credential Manager on Windows).
type OSKeyring struct {
	service string
}

// NewOSKeyring creates an OSKeyring under the given service name.
func NewOSKeyring(service string) *OSKeyring {
	if service == "" {
		service = DefaultService
	}
	return &OSKeyring{service: service}
}

// Get returns the secret stored under alias.
func (k *OSKeyring) Get(alias string) (string, error) {
	secret, err := keyring.Get(k.service, alias)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", driven.ErrSecretNotFound
	}
	if err != nil {
		return "", fmt.Errorf("keyring get %q: %w", alias, err)
	}
	return secret, nil
}

// Set stores or replaces the secret under alias.
func (k *OSKeyring) Set(alias, secret string) error {
	if err := keyring.Set(k.service, alias, secret); err != nil {
		return fmt.Errorf("keyring set %q: %w", alias, err)
	}
	return nil
}

// Delete removes the secret under alias. Deleting a missing secret is not an error.
func (k *OSKeyring) Delete(alias string) error {
	err := keyring.Delete(k.service, alias)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete %q: %w", alias, err)
	}
	return nil
}
