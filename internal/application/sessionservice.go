package application

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ericfisherdev/chatvault/internal/domain/model"
	"github.com/ericfisherdev/chatvault/internal/domain/port/driven"
)

// ClientFactory builds an authenticated chat client for provider and apiKey.
type ClientFactory func(provider model.Provider, apiKey string) (driven.ChatClient, error)

const (
	msgUnlocked   = "Unlocked"
	msgClientInit = "Failed to initialise API client"
)

// SessionStatus describes the device's enrollment and the live session.
type SessionStatus struct {
	Authenticated bool
	Unlocked      bool
	Provider      model.Provider   // Most-recently-used provider; empty when unenrolled.
	Providers     []model.Provider // Providers with a stored key.
}

// SessionService drives AuthService and installs the resulting chat client in a
// ChatClientProvider. Raw API keys stay inside this service; outcomes it returns
// never carry one.
type SessionService struct {
	auth      *AuthService
	store     driven.CredentialStore
	clients   *ChatClientProvider
	newClient ClientFactory
	logger    *slog.Logger
}

// NewSessionService creates a new SessionService with the required dependencies.
func NewSessionService(auth *AuthService, store driven.CredentialStore, clients *ChatClientProvider, newClient ClientFactory, logger *slog.Logger) *SessionService {
	return &SessionService{
		auth:      auth,
		store:     store,
		clients:   clients,
		newClient: newClient,
		logger:    logger,
	}
}

// Status reports enrollment and whether a client is installed. Storage failures
// degrade to an unauthenticated status.
func (s *SessionService) Status(ctx context.Context) SessionStatus {
	st := SessionStatus{
		Authenticated: s.auth.IsAuthenticated(ctx),
		Unlocked:      s.clients.HasClient(),
		Providers:     []model.Provider{},
	}
	if !st.Authenticated {
		return st
	}

	if p, err := s.store.GetProvider(ctx); err != nil {
		s.logger.Warn("read current provider", "error", err)
	} else {
		st.Provider = p
	}
	if ps, err := s.store.ListProviders(ctx); err != nil {
		s.logger.Warn("list providers", "error", err)
	} else {
		st.Providers = ps
	}
	return st
}

// Enroll runs first login and installs a client. The new PIN is returned in Message.
// The PIN is already stored when client construction fails, so that failure is
// logged and the outcome stays successful.
func (s *SessionService) Enroll(ctx context.Context, apiKey, pin string) model.AuthOutcome {
	out := s.auth.HandleFirstLogin(ctx, apiKey, pin)
	if !out.Success {
		return out
	}
	if e := s.install(apiKey); e != nil {
		s.logger.Warn("enrolled without a live client", "error", e)
	}
	return out
}

// Unlock verifies pin and installs a client for the most-recently-used key.
func (s *SessionService) Unlock(ctx context.Context, pin string) model.AuthOutcome {
	out := s.auth.HandlePinLogin(ctx, pin)
	if !out.Success {
		return out
	}

	apiKey := out.Message
	if e := s.install(apiKey); e != nil {
		return model.FailedOutcome(e)
	}

	provider := model.DetectProvider(apiKey)
	if err := s.store.TouchLastUsed(ctx, provider); err != nil {
		s.logger.Warn("record credential use", "provider", provider, "error", err)
	}

	return model.AuthOutcome{Success: true, Message: msgUnlocked, Balance: out.Balance}
}

// LoginWithKey accepts or rotates a key and installs a client for it. When the
// device was unenrolled, Message carries the generated PIN.
func (s *SessionService) LoginWithKey(ctx context.Context, apiKey string) model.AuthOutcome {
	out := s.auth.HandleAPIKeyLogin(ctx, apiKey)
	if !out.Success {
		return out
	}
	if e := s.install(apiKey); e != nil {
		s.logger.Warn("key stored without a live client", "error", e)
	}
	return out
}

// ChangePin replaces the shared PIN.
func (s *SessionService) ChangePin(ctx context.Context, currentPin, newPin string) model.AuthOutcome {
	return s.auth.ChangePin(ctx, currentPin, newPin)
}

// Reset deletes every credential and drops the live client.
func (s *SessionService) Reset(ctx context.Context) bool {
	ok := s.auth.HandleReset(ctx)
	if ok {
		s.clients.Clear()
	}
	return ok
}

// Lock drops the live client without touching stored credentials.
func (s *SessionService) Lock() {
	s.clients.Clear()
}

// Client returns the installed chat client, or nil when locked.
func (s *SessionService) Client() driven.ChatClient {
	return s.clients.Get()
}

func (s *SessionService) install(apiKey string) *model.Error {
	apiKey = strings.TrimSpace(apiKey)
	provider := model.DetectProvider(apiKey)
	client, err := s.newClient(provider, apiKey)
	if err != nil {
		s.logger.Error("build chat client", "provider", provider, "error", err)
		return model.NewError(model.KindTransport, model.ReasonNone, msgClientInit, err)
	}
	s.clients.Replace(client)
	s.logger.Info("chat client installed", "provider", provider, "key", model.KeyFingerprint(apiKey))
	return nil
}
