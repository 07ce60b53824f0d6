package httphandler

import (
	"encoding/json"
	"net/http"

	"github.com/ericfisherdev/chatvault/internal/application"
	"github.com/ericfisherdev/chatvault/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// OutcomeErrorResponse is the error body of a failed auth flow or provider call.
type OutcomeErrorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// AuthStatusResponse is the JSON representation of the session state.
type AuthStatusResponse struct {
	Authenticated bool     `json:"authenticated"`
	Unlocked      bool     `json:"unlocked"`
	Provider      string   `json:"provider,omitempty"`
	Providers     []string `json:"providers"`
}

// EnrollRequest is the JSON body for the enroll endpoint. PIN is optional.
type EnrollRequest struct {
	APIKey string `json:"api_key"`
	PIN    string `json:"pin,omitempty"`
}

// EnrollResponse carries the PIN the user must remember.
type EnrollResponse struct {
	PIN      string `json:"pin"`
	Balance  string `json:"balance"`
	Provider string `json:"provider"`
}

// UnlockRequest is the JSON body for the PIN login endpoint.
type UnlockRequest struct {
	PIN string `json:"pin"`
}

// KeyLoginRequest is the JSON body for the API key login endpoint.
type KeyLoginRequest struct {
	APIKey string `json:"api_key"`
}

// KeyLoginResponse reports a key login. PIN is set only when the call enrolled
// the device.
type KeyLoginResponse struct {
	Message  string `json:"message,omitempty"`
	PIN      string `json:"pin,omitempty"`
	Balance  string `json:"balance"`
	Provider string `json:"provider"`
}

// ChangePinRequest is the JSON body for the PIN change endpoint.
type ChangePinRequest struct {
	CurrentPIN string `json:"current_pin"`
	NewPIN     string `json:"new_pin"`
}

// MessageResponse is a plain status message.
type MessageResponse struct {
	Message string `json:"message"`
}

// PricingResponse is the JSON representation of model pricing.
type PricingResponse struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

// ModelResponse is the JSON representation of a catalogue entry.
type ModelResponse struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	ContextLength int             `json:"context_length,omitempty"`
	Pricing       PricingResponse `json:"pricing"`
}

// BalanceResponse is the JSON representation of the account balance.
type BalanceResponse struct {
	Provider  string `json:"provider"`
	Balance   string `json:"balance"`
	Available bool   `json:"available"`
}

// ChatRequest is the JSON body for the chat endpoint.
type ChatRequest struct {
	Message string `json:"message"`
	Model   string `json:"model"`
}

// UsageResponse is the JSON representation of token usage.
type UsageResponse struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the JSON representation of a completion.
type ChatResponse struct {
	Model   string        `json:"model"`
	Content string        `json:"content"`
	Usage   UsageResponse `json:"usage"`
}

func toAuthStatusResponse(st application.SessionStatus) AuthStatusResponse {
	providers := make([]string, 0, len(st.Providers))
	for _, p := range st.Providers {
		providers = append(providers, string(p))
	}
	return AuthStatusResponse{
		Authenticated: st.Authenticated,
		Unlocked:      st.Unlocked,
		Provider:      string(st.Provider),
		Providers:     providers,
	}
}

func toModelResponse(m model.ModelInfo) ModelResponse {
	return ModelResponse{
		ID:            m.ID,
		Name:          m.Name,
		Description:   m.Description,
		ContextLength: m.ContextLength,
		Pricing: PricingResponse{
			Prompt:     m.Pricing.Prompt,
			Completion: m.Pricing.Completion,
		},
	}
}

func toChatResponse(res *model.ChatResult) ChatResponse {
	return ChatResponse{
		Model:   res.Model,
		Content: res.Content,
		Usage: UsageResponse{
			PromptTokens:     res.Usage.PromptTokens,
			CompletionTokens: res.Usage.CompletionTokens,
			TotalTokens:      res.Usage.TotalTokens,
		},
	}
}
