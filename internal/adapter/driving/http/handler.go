// Package httphandler is the local JSON API over the session use cases.
package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ericfisherdev/chatvault/internal/application"
	"github.com/ericfisherdev/chatvault/internal/domain/model"
	"github.com/ericfisherdev/chatvault/internal/domain/port/driven"
)

// maxRequestBody caps JSON request bodies.
const maxRequestBody = 64 << 10

// Session is the subset of application.SessionService the API drives.
type Session interface {
	Status(ctx context.Context) application.SessionStatus
	Enroll(ctx context.Context, apiKey, pin string) model.AuthOutcome
	Unlock(ctx context.Context, pin string) model.AuthOutcome
	LoginWithKey(ctx context.Context, apiKey string) model.AuthOutcome
	ChangePin(ctx context.Context, currentPin, newPin string) model.AuthOutcome
	Reset(ctx context.Context) bool
	Lock()
	Client() driven.ChatClient
}

// Compile-time interface satisfaction check.
var _ Session = (*application.SessionService)(nil)

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	session Session
	logger  *slog.Logger
	now     func() time.Time
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(session Session, logger *slog.Logger) *Handler {
	return &Handler{
		session: session,
		logger:  logger,
		now:     time.Now,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging, recovery and no-store middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)

	mux.HandleFunc("GET /api/v1/auth/status", h.AuthStatus)
	mux.HandleFunc("POST /api/v1/auth/enroll", h.Enroll)
	mux.HandleFunc("POST /api/v1/auth/pin", h.Unlock)
	mux.HandleFunc("POST /api/v1/auth/key", h.LoginWithKey)
	mux.HandleFunc("POST /api/v1/auth/pin/change", h.ChangePin)
	mux.HandleFunc("POST /api/v1/auth/lock", h.Lock)
	mux.HandleFunc("POST /api/v1/auth/reset", h.Reset)

	mux.HandleFunc("GET /api/v1/models", h.requireClient(h.ListModels))
	mux.HandleFunc("GET /api/v1/balance", h.requireClient(h.Balance))
	mux.HandleFunc("POST /api/v1/chat", h.requireClient(h.Chat))

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = noStoreMiddleware(wrapped)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   h.now().UTC().Format(time.RFC3339),
	})
}

// AuthStatus reports enrollment and whether the session is unlocked.
func (h *Handler) AuthStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toAuthStatusResponse(h.session.Status(r.Context())))
}

// Enroll performs first login and returns the PIN.
func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	out := h.session.Enroll(r.Context(), req.APIKey, req.PIN)
	if !out.Success {
		h.writeOutcomeError(w, out)
		return
	}

	writeJSON(w, http.StatusCreated, EnrollResponse{
		PIN:      out.Message,
		Balance:  out.Balance,
		Provider: string(model.DetectProvider(req.APIKey)),
	})
}

// Unlock verifies the PIN and opens a session. The stored key is never returned.
func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	var req UnlockRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	out := h.session.Unlock(r.Context(), req.PIN)
	if !out.Success {
		h.writeOutcomeError(w, out)
		return
	}

	writeJSON(w, http.StatusOK, toAuthStatusResponse(h.session.Status(r.Context())))
}

// LoginWithKey accepts or rotates an API key and opens a session.
func (h *Handler) LoginWithKey(w http.ResponseWriter, r *http.Request) {
	var req KeyLoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	out := h.session.LoginWithKey(r.Context(), req.APIKey)
	if !out.Success {
		h.writeOutcomeError(w, out)
		return
	}

	resp := KeyLoginResponse{
		Balance:  out.Balance,
		Provider: string(model.DetectProvider(req.APIKey)),
	}
	// Message holds a PIN when this call enrolled the device.
	if model.IsValidPin(out.Message) {
		resp.PIN = out.Message
	} else {
		resp.Message = out.Message
	}
	writeJSON(w, http.StatusOK, resp)
}

// ChangePin replaces the shared PIN.
func (h *Handler) ChangePin(w http.ResponseWriter, r *http.Request) {
	var req ChangePinRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	out := h.session.ChangePin(r.Context(), req.CurrentPIN, req.NewPIN)
	if !out.Success {
		h.writeOutcomeError(w, out)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: out.Message})
}

// Lock closes the session without touching stored credentials.
func (h *Handler) Lock(w http.ResponseWriter, _ *http.Request) {
	h.session.Lock()
	w.WriteHeader(http.StatusNoContent)
}

// Reset deletes every stored credential and closes the session.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	if !h.session.Reset(r.Context()) {
		writeError(w, http.StatusInternalServerError, "failed to reset authentication data")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListModels returns the provider's model catalogue. ?refresh=1 bypasses the memo.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request, client driven.ChatClient) {
	models, err := client.GetModels(r.Context(), wantRefresh(r))
	if err != nil {
		h.writeClientError(w, "list models", err)
		return
	}

	resp := make([]ModelResponse, 0, len(models))
	for _, m := range models {
		resp = append(resp, toModelResponse(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Balance returns the formatted account balance. ?refresh=1 bypasses the cache.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request, client driven.ChatClient) {
	balance := client.GetBalance(r.Context(), wantRefresh(r))
	writeJSON(w, http.StatusOK, BalanceResponse{
		Provider:  string(client.Provider()),
		Balance:   balance,
		Available: balance != model.BalanceUnavailable,
	})
}

// Chat sends a single message and returns the reply.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request, client driven.ChatClient) {
	var req ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := client.SendMessage(r.Context(), req.Message, req.Model)
	if err != nil {
		h.writeClientError(w, "send message", err)
		return
	}
	writeJSON(w, http.StatusOK, toChatResponse(res))
}

// requireClient answers 401 until a session has been opened.
func (h *Handler) requireClient(next func(http.ResponseWriter, *http.Request, driven.ChatClient)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := h.session.Client()
		if client == nil {
			writeError(w, http.StatusUnauthorized, "session locked: unlock with PIN or API key")
			return
		}
		next(w, r, client)
	}
}

func (h *Handler) writeOutcomeError(w http.ResponseWriter, out model.AuthOutcome) {
	writeJSON(w, statusFor(out.Err), OutcomeErrorResponse{
		Error:  out.Message,
		Kind:   string(model.KindOf(out.Err)),
		Reason: string(model.ReasonOf(out.Err)),
	})
}

func (h *Handler) writeClientError(w http.ResponseWriter, op string, err error) {
	var e *model.Error
	if !errors.As(err, &e) {
		h.logger.Error(op, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Warn(op, "kind", e.Kind, "reason", e.Reason, "error", err)
	writeJSON(w, statusFor(e), OutcomeErrorResponse{
		Error:  e.Text(),
		Kind:   string(e.Kind),
		Reason: string(e.Reason),
	})
}

// statusFor maps a tagged error onto an HTTP status.
func statusFor(err error) int {
	switch model.KindOf(err) {
	case model.KindInput:
		if model.ReasonOf(err) == model.ReasonAlreadyEnrolled {
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case model.KindValidation:
		switch model.ReasonOf(err) {
		case model.ReasonUnauthorized, model.ReasonMismatch:
			return http.StatusUnauthorized
		case model.ReasonNegativeBalance:
			return http.StatusPaymentRequired
		default:
			return http.StatusUnprocessableEntity
		}
	case model.KindTransport:
		switch model.ReasonOf(err) {
		case model.ReasonRateLimit:
			return http.StatusTooManyRequests
		case model.ReasonTimeout:
			return http.StatusGatewayTimeout
		default:
			return http.StatusBadGateway
		}
	case model.KindResponse:
		return http.StatusBadGateway
	case model.KindStorage:
		if model.ReasonOf(err) == model.ReasonNotFound {
			return http.StatusNotFound
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a bounded JSON body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func wantRefresh(r *http.Request) bool {
	v := r.URL.Query().Get("refresh")
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
