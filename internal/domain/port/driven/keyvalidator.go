package driven

import (
	"context"

	"github.com/ericfisherdev/chatvault/internal/domain/model"
)

// KeyValidator checks a submitted API key against its provider without persisting anything.
type KeyValidator interface {
	DetectProvider(apiKey string) model.Provider
	// ValidateAPIKey never returns an error; failures are described by the result.
	ValidateAPIKey(ctx context.Context, apiKey string) model.ValidationResult
}
