package driven

import (
	"context"

	"github.com/ericfisherdev/chatvault/internal/domain/model"
)

// ChatClient is the authenticated runtime client handed to chat and history consumers
// after a successful login.
type ChatClient interface {
	Provider() model.Provider
	GetModels(ctx context.Context, forceRefresh bool) ([]model.ModelInfo, error)
	SendMessage(ctx context.Context, message, modelID string) (*model.ChatResult, error)
	// GetBalance returns a display string, or model.BalanceUnavailable on failure.
	GetBalance(ctx context.Context, forceRefresh bool) string
	Close()
}
