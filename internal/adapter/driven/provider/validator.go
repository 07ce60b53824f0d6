package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ericfisherdev/chatvault/internal/domain/model"
	"github.com/ericfisherdev/chatvault/internal/domain/port/driven"
)

// DefaultValidateTimeout bounds a single key validation request.
const DefaultValidateTimeout = 10 * time.Second

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 10 << 20

// Compile-time interface satisfaction check.
var _ driven.KeyValidator = (*Validator)(nil)

// BaseURLs holds the configured base URL of each provider. Empty fields fall back
// to the defaults.
type BaseURLs struct {
	OpenRouter string
	VSEGPT     string
}

// For returns the configured base URL of provider.
func (b BaseURLs) For(provider model.Provider) string {
	if provider == model.ProviderVSEGPT {
		return b.VSEGPT
	}
	return b.OpenRouter
}

// Validator checks API keys against the provider's balance endpoint.
type Validator struct {
	httpClient *http.Client
	bases      BaseURLs
	logger     *slog.Logger
}

// NewValidator creates a Validator whose requests time out after timeout.
func NewValidator(bases BaseURLs, timeout time.Duration, logger *slog.Logger) *Validator {
	if timeout <= 0 {
		timeout = DefaultValidateTimeout
	}
	return NewValidatorWithHTTPClient(&http.Client{Timeout: timeout}, bases, logger)
}

// NewValidatorWithHTTPClient creates a Validator with a custom http.Client.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewValidatorWithHTTPClient(httpClient *http.Client, bases BaseURLs, logger *slog.Logger) *Validator {
	return &Validator{httpClient: httpClient, bases: bases, logger: logger}
}

// DetectProvider classifies apiKey by prefix.
func (v *Validator) DetectProvider(apiKey string) model.Provider {
	return model.DetectProvider(apiKey)
}

// ValidateAPIKey performs one authenticated balance request. A negative balance is
// reported as valid; rejecting it is the caller's business rule.
func (v *Validator) ValidateAPIKey(ctx context.Context, apiKey string) model.ValidationResult {
	apiKey = strings.TrimSpace(apiKey)
	provider := model.DetectProvider(apiKey)
	if !provider.IsKnown() {
		return model.FailedValidation("", model.NewError(model.KindInput, model.ReasonFormat, model.KeyFormatMessage, nil))
	}

	endpoints, err := ResolveEndpoints(provider, v.bases.For(provider))
	if err != nil {
		return model.FailedValidation(provider, model.NewError(model.KindTransport, model.ReasonNetwork, "Network error", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoints.Balance, nil)
	if err != nil {
		return model.FailedValidation(provider, model.NewError(model.KindTransport, model.ReasonNetwork, "Network error", err))
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		e := classifyTransportError(err)
		v.logger.Warn("key validation request failed", "provider", provider, "reason", e.Reason, "error", err)
		return model.FailedValidation(provider, e)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		e := classifyTransportError(err)
		return model.FailedValidation(provider, e)
	}

	if e := classifyStatus(resp.StatusCode); e != nil {
		v.logger.Info("key rejected", "provider", provider, "status", resp.StatusCode)
		return model.FailedValidation(provider, e)
	}

	balance, ok := extractBalance(provider, body)
	if !ok {
		e := model.NewError(model.KindResponse, model.ReasonNone, "Unexpected balance response", nil)
		return model.FailedValidation(provider, e)
	}

	v.logger.Debug("key validated", "provider", provider, "balance", balance)
	return model.ValidationResult{
		IsValid:  true,
		Message:  FormatAmount(balance),
		Balance:  balance,
		Provider: provider,
	}
}

// FormatAmount formats a balance to 2 decimals.
func FormatAmount(balance float64) string {
	return fmt.Sprintf("%.2f", balance)
}

// classifyStatus maps a non-2xx status to a tagged error; nil for 2xx.
func classifyStatus(status int) *model.Error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return model.NewError(model.KindValidation, model.ReasonUnauthorized, "Invalid API key", nil)
	case status == http.StatusTooManyRequests:
		return model.NewError(model.KindTransport, model.ReasonRateLimit, "Rate limit exceeded", nil)
	default:
		return model.NewError(model.KindTransport, model.ReasonServer, "Server error", nil).WithStatus(status)
	}
}

// classifyTransportError separates timeouts from other network failures.
func classifyTransportError(err error) *model.Error {
	if isTimeout(err) {
		return model.NewError(model.KindTransport, model.ReasonTimeout, "Request timeout", err)
	}
	return model.NewError(model.KindTransport, model.ReasonNetwork, "Network error", err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
