// Package application holds the use cases behind the driving adapters: credential
// enrollment and unlock, and the runtime chat client handed out after login.
package application

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/ericfisherdev/chatvault/internal/domain/model"
	"github.com/ericfisherdev/chatvault/internal/domain/port/driven"
)

// User-facing outcome messages.
const (
	msgKeyEmpty           = "API key cannot be empty"
	msgPinFormat          = "Invalid PIN format. PIN must be exactly 4 digits"
	msgVerifyPin          = "Error verifying PIN"
	msgInvalidPin         = "Invalid PIN"
	msgRetrieveKey        = "Error retrieving API key"
	msgAuthNotFound       = "Authentication data not found"
	msgCheckExisting      = "Error checking existing authentication"
	msgKeyUpdated         = "API key updated successfully"
	msgSaveFailed         = "Failed to save authentication data to database"
	msgVerifySaved        = "Error verifying saved authentication data"
	msgPinChanged         = "PIN changed successfully"
	msgPinUnchanged       = "New PIN must differ from the current PIN"
	msgValidationFallback = "API key validation failed"
	msgAlreadyEnrolled    = "This device is already enrolled. Unlock with your PIN, add keys with API key login, or change the PIN"
)

// PIN range for generated PINs, inclusive.
const (
	minPin = 1000
	maxPin = 9999
)

// AuthService is the enrollment and unlock state machine. A device is Unenrolled
// while no credential record exists and Enrolled afterwards; nothing else is
// persisted, so state is re-derived from the store on every call.
//
// Handle* methods never return errors. Every failure becomes an AuthOutcome with
// Success false, a classified Message and a *model.Error in Err. Calls are
// serialised per service instance so multi-step flows do not interleave.
type AuthService struct {
	store     driven.CredentialStore
	validator driven.KeyValidator
	logger    *slog.Logger
	random    io.Reader

	mu sync.Mutex
}

// NewAuthService creates a new AuthService with the required dependencies.
func NewAuthService(store driven.CredentialStore, validator driven.KeyValidator, logger *slog.Logger) *AuthService {
	return &AuthService{
		store:     store,
		validator: validator,
		logger:    logger,
		random:    rand.Reader,
	}
}

// IsAuthenticated reports whether at least one complete credential record exists.
// A storage failure is logged and reported as false.
func (s *AuthService) IsAuthenticated(ctx context.Context) bool {
	ok, err := s.store.HasAuth(ctx)
	if err != nil {
		s.logger.Error("check authentication state", "error", err)
		return false
	}
	return ok
}

// HandleFirstLogin validates apiKey, persists it under pin (or a generated PIN when
// pin is empty) and returns the PIN in Message.
func (s *AuthService) HandleFirstLogin(ctx context.Context, apiKey, pin string) model.AuthOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pin != "" && !model.IsValidPin(pin) {
		return model.FailedOutcome(model.NewError(model.KindInput, model.ReasonFormat, msgPinFormat, nil))
	}

	apiKey = strings.TrimSpace(apiKey)
	res, failed := s.validateKey(ctx, apiKey)
	if failed != nil {
		return model.FailedOutcome(failed)
	}
	return s.enroll(ctx, res.Provider, apiKey, res, pin)
}

// HandlePinLogin verifies pin and returns the most-recently-used API key in Message.
// The key is meant for building a client and must not be displayed.
func (s *AuthService) HandlePinLogin(ctx context.Context, pin string) model.AuthOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !model.IsValidPin(pin) {
		return model.FailedOutcome(model.NewError(model.KindInput, model.ReasonFormat, msgPinFormat, nil))
	}

	ok, err := s.store.VerifyPin(ctx, pin)
	if err != nil {
		s.logger.Error("verify pin", "error", err)
		return model.FailedOutcome(model.NewError(model.KindStorage, model.ReasonNone, msgVerifyPin, err))
	}
	if !ok {
		// No record and wrong PIN look the same to the caller.
		s.logger.Info("pin rejected")
		return model.FailedOutcome(model.NewError(model.KindValidation, model.ReasonMismatch, msgInvalidPin, nil))
	}

	apiKey, err := s.store.GetAPIKey(ctx)
	if err != nil {
		s.logger.Error("retrieve api key", "error", err)
		return model.FailedOutcome(model.NewError(model.KindStorage, model.ReasonNone, msgRetrieveKey, err))
	}
	if apiKey == "" {
		return model.FailedOutcome(model.NewError(model.KindStorage, model.ReasonNotFound, msgAuthNotFound, nil))
	}

	s.logger.Info("pin login succeeded", "provider", model.DetectProvider(apiKey), "key", model.KeyFingerprint(apiKey))
	return model.AuthOutcome{Success: true, Message: apiKey}
}

// HandleAPIKeyLogin accepts a key from a returning user or rotates a key. When a
// record already exists the shared PIN is kept; otherwise the device is enrolled
// with a generated PIN, returned in Message.
func (s *AuthService) HandleAPIKeyLogin(ctx context.Context, apiKey string) model.AuthOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	apiKey = strings.TrimSpace(apiKey)
	res, failed := s.validateKey(ctx, apiKey)
	if failed != nil {
		return model.FailedOutcome(failed)
	}

	exists, err := s.store.HasAuth(ctx)
	if err != nil {
		s.logger.Error("check existing authentication", "error", err)
		return model.FailedOutcome(model.NewError(model.KindStorage, model.ReasonNone, msgCheckExisting, err))
	}
	if !exists {
		s.logger.Info("no existing credentials, enrolling", "provider", res.Provider)
		return s.enroll(ctx, res.Provider, apiKey, res, "")
	}

	pinHash, err := s.store.GetPinHash(ctx)
	if err != nil {
		s.logger.Error("read shared pin hash", "error", err)
		return model.FailedOutcome(model.NewError(model.KindStorage, model.ReasonNone, msgCheckExisting, err))
	}
	if pinHash == "" {
		return model.FailedOutcome(model.NewError(model.KindStorage, model.ReasonNotFound, msgCheckExisting, nil))
	}

	if err := s.store.SaveAuth(ctx, res.Provider, apiKey, pinHash); err != nil {
		s.logger.Error("save rotated api key", "provider", res.Provider, "error", err)
		return model.FailedOutcome(model.NewError(model.KindStorage, model.ReasonNone, msgSaveFailed, err))
	}

	s.logger.Info("api key updated", "provider", res.Provider, "key", model.KeyFingerprint(apiKey))
	return model.AuthOutcome{Success: true, Message: msgKeyUpdated, Balance: res.Message}
}

// HandleReset deletes every credential record. It returns false only when the
// delete itself fails or the store still reports credentials afterwards; a failed
// recheck is treated as success since the delete already went through.
func (s *AuthService) HandleReset(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.ClearAuth(ctx); err != nil {
		s.logger.Error("clear credentials", "error", err)
		return false
	}

	exists, err := s.store.HasAuth(ctx)
	if err != nil {
		s.logger.Warn("verify reset", "error", err)
		return true
	}
	if exists {
		s.logger.Error("credentials still present after reset")
		return false
	}

	s.logger.Info("credentials reset")
	return true
}

// ChangePin replaces the shared PIN after verifying the current one.
func (s *AuthService) ChangePin(ctx context.Context, currentPin, newPin string) model.AuthOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !model.IsValidPin(currentPin) || !model.IsValidPin(newPin) {
		return model.FailedOutcome(model.NewError(model.KindInput, model.ReasonFormat, msgPinFormat, nil))
	}
	if currentPin == newPin {
		return model.FailedOutcome(model.NewError(model.KindInput, model.ReasonFormat, msgPinUnchanged, nil))
	}

	ok, err := s.store.VerifyPin(ctx, currentPin)
	if err != nil {
		s.logger.Error("verify pin", "error", err)
		return model.FailedOutcome(model.NewError(model.KindStorage, model.ReasonNone, msgVerifyPin, err))
	}
	if !ok {
		return model.FailedOutcome(model.NewError(model.KindValidation, model.ReasonMismatch, msgInvalidPin, nil))
	}

	if err := s.store.ChangePin(ctx, model.HashPin(newPin)); err != nil {
		s.logger.Error("change pin", "error", err)
		return model.FailedOutcome(model.NewError(model.KindStorage, model.ReasonNone, msgSaveFailed, err))
	}

	s.logger.Info("pin changed")
	return model.AuthOutcome{Success: true, Message: msgPinChanged}
}

// validateKey runs the shared key checks: non-empty, known prefix, live key and a
// non-negative balance.
func (s *AuthService) validateKey(ctx context.Context, apiKey string) (model.ValidationResult, *model.Error) {
	if apiKey == "" {
		return model.ValidationResult{}, model.NewError(model.KindInput, model.ReasonFormat, msgKeyEmpty, nil)
	}

	provider := s.validator.DetectProvider(apiKey)
	if !provider.IsKnown() {
		return model.ValidationResult{}, model.NewError(model.KindInput, model.ReasonFormat, model.KeyFormatMessage, nil)
	}

	res := s.validator.ValidateAPIKey(ctx, apiKey)
	if !res.IsValid {
		s.logger.Info("api key rejected", "provider", provider, "key", model.KeyFingerprint(apiKey), "reason", res.Message)
		return res, validationError(res)
	}
	if res.Provider == "" {
		res.Provider = provider
	}

	if res.Balance < 0 {
		msg := fmt.Sprintf("Insufficient balance: %.2f. Top up your account to continue", res.Balance)
		return res, model.NewError(model.KindValidation, model.ReasonNegativeBalance, msg, nil)
	}

	return res, nil
}

// enroll persists a validated key under pin, generating one when pin is empty,
// and confirms the write by re-reading the store.
func (s *AuthService) enroll(ctx context.Context, provider model.Provider, apiKey string, res model.ValidationResult, pin string) model.AuthOutcome {
	// An enrolled device keeps its shared PIN, so a fresh one would never unlock.
	enrolled, err := s.store.HasAuth(ctx)
	if err != nil {
		s.logger.Error("check existing authentication", "error", err)
		return model.FailedOutcome(model.NewError(model.KindStorage, model.ReasonNone, msgCheckExisting, err))
	}
	if enrolled {
		s.logger.Info("enrollment refused, device already enrolled", "provider", provider)
		return model.FailedOutcome(model.NewError(model.KindInput, model.ReasonAlreadyEnrolled, msgAlreadyEnrolled, nil))
	}

	if pin == "" {
		generated, err := s.generatePin()
		if err != nil {
			s.logger.Error("generate pin", "error", err)
			return model.FailedOutcome(model.NewError(model.KindStorage, model.ReasonNone, msgSaveFailed, err))
		}
		pin = generated
	}

	if err := s.store.SaveAuth(ctx, provider, apiKey, model.HashPin(pin)); err != nil {
		s.logger.Error("save credentials", "provider", provider, "error", err)
		return model.FailedOutcome(model.NewError(model.KindStorage, model.ReasonNone, msgSaveFailed, err))
	}

	ok, err := s.store.HasAuth(ctx)
	if err != nil || !ok {
		s.logger.Error("verify saved credentials", "provider", provider, "found", ok, "error", err)
		return model.FailedOutcome(model.NewError(model.KindStorage, model.ReasonMismatch, msgVerifySaved, err))
	}

	s.logger.Info("enrollment completed", "provider", provider, "key", model.KeyFingerprint(apiKey))
	return model.AuthOutcome{Success: true, Message: pin, Balance: res.Message}
}

// generatePin draws a PIN uniformly from [minPin, maxPin]. Draws at or above the
// largest multiple of the span are rejected so that no PIN is favoured.
func (s *AuthService) generatePin() (string, error) {
	const span = maxPin - minPin + 1
	const limit = (1 << 16) / span * span

	buf := make([]byte, 2)
	for {
		if _, err := io.ReadFull(s.random, buf); err != nil {
			return "", fmt.Errorf("draw pin: %w", err)
		}
		if v := int(binary.BigEndian.Uint16(buf)); v < limit {
			return strconv.Itoa(minPin + v%span), nil
		}
	}
}

// validationError returns the validator's tagged error, or builds one from its
// message when the validator supplied none.
func validationError(res model.ValidationResult) *model.Error {
	var e *model.Error
	if errors.As(res.Err, &e) {
		return e
	}
	msg := res.Message
	if msg == "" {
		msg = msgValidationFallback
	}
	return model.NewError(model.KindValidation, model.ReasonNone, msg, res.Err)
}
