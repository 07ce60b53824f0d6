package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/chatvault/internal/domain/model"
)

// ErrDecryption is returned when stored key material fails authentication or has an
// unrecognised format.
var ErrDecryption = errors.New("decrypt credential")

// ErrSecretNotFound is returned by a SecretStore when no secret exists under the alias.
var ErrSecretNotFound = errors.New("secret not found")

// CredentialStore defines the driven port for multi-provider credential persistence.
// The adapter is responsible for encryption; this interface carries plaintext keys.
// All records on a device share one PIN hash.
type CredentialStore interface {
	// SaveAuth upserts the record for provider. When records of other providers
	// exist, their pin hash is binding and replaces pinHash.
	SaveAuth(ctx context.Context, provider model.Provider, apiKey, pinHash string) error

	// ChangePin replaces the pin hash on every record in one transaction.
	ChangePin(ctx context.Context, pinHash string) error

	// GetAuth returns the record for provider, or the most-recently-used record when
	// provider is empty. Returns (nil, nil) if none exists.
	GetAuth(ctx context.Context, provider model.Provider) (*model.CredentialRecord, error)

	// GetAPIKey, GetPinHash and GetProvider project the most-recently-used record.
	// They return zero values when no record exists.
	GetAPIKey(ctx context.Context) (string, error)
	GetPinHash(ctx context.Context) (string, error)
	GetProvider(ctx context.Context) (model.Provider, error)

	// VerifyPin reports whether pin matches the stored hash. Mismatch and absence
	// both return (false, nil); an unreachable store returns an error.
	VerifyPin(ctx context.Context, pin string) (bool, error)

	// HasAuth reports whether at least one complete record exists.
	HasAuth(ctx context.Context) (bool, error)

	// ClearAuth deletes every record and the key that encrypted them. Succeeds
	// when none exist.
	ClearAuth(ctx context.Context) error

	// TouchLastUsed stamps the provider's record as used now.
	TouchLastUsed(ctx context.Context, provider model.Provider) error

	// ListProviders returns the providers that have a stored record.
	ListProviders(ctx context.Context) ([]model.Provider, error)
}
