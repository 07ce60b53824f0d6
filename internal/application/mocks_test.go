package application_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ericfisherdev/chatvault/internal/domain/model"
	"github.com/ericfisherdev/chatvault/internal/domain/port/driven"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var errStore = errors.New("database is locked")

// mockStore is an in-memory CredentialStore that follows the shared-PIN rules of
// the SQLite adapter. The *Err fields force failures of the matching operation.
type mockStore struct {
	mu      sync.Mutex
	records map[model.Provider]*model.CredentialRecord
	order   []model.Provider // Most-recently-used last.

	saveErr   error
	hasErr    error
	verifyErr error
	getKeyErr error
	clearErr  error
	changeErr error

	// hasAuthOverride, when set, replaces HasAuth's answer.
	hasAuthOverride *bool
	saveCalls       int
}

func newMockStore() *mockStore {
	return &mockStore{records: make(map[model.Provider]*model.CredentialRecord)}
}

var _ driven.CredentialStore = (*mockStore)(nil)

func (m *mockStore) touch(p model.Provider) {
	for i, q := range m.order {
		if q == p {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.order = append(m.order, p)
}

func (m *mockStore) current() *model.CredentialRecord {
	if len(m.order) == 0 {
		return nil
	}
	return m.records[m.order[len(m.order)-1]]
}

func (m *mockStore) SaveAuth(_ context.Context, provider model.Provider, apiKey, pinHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCalls++
	if m.saveErr != nil {
		return m.saveErr
	}
	for p, r := range m.records {
		if p != provider {
			pinHash = r.PinHash
			break
		}
	}
	m.records[provider] = &model.CredentialRecord{Provider: provider, APIKey: apiKey, PinHash: pinHash}
	for _, r := range m.records {
		r.PinHash = pinHash
	}
	m.touch(provider)
	return nil
}

func (m *mockStore) ChangePin(_ context.Context, pinHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.changeErr != nil {
		return m.changeErr
	}
	for _, r := range m.records {
		r.PinHash = pinHash
	}
	return nil
}

func (m *mockStore) GetAuth(_ context.Context, provider model.Provider) (*model.CredentialRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var r *model.CredentialRecord
	if provider == "" {
		r = m.current()
	} else {
		r = m.records[provider]
	}
	if r == nil {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *mockStore) GetAPIKey(ctx context.Context) (string, error) {
	if m.getKeyErr != nil {
		return "", m.getKeyErr
	}
	r, _ := m.GetAuth(ctx, "")
	if r == nil {
		return "", nil
	}
	return r.APIKey, nil
}

func (m *mockStore) GetPinHash(ctx context.Context) (string, error) {
	r, _ := m.GetAuth(ctx, "")
	if r == nil {
		return "", nil
	}
	return r.PinHash, nil
}

func (m *mockStore) GetProvider(ctx context.Context) (model.Provider, error) {
	r, _ := m.GetAuth(ctx, "")
	if r == nil {
		return "", nil
	}
	return r.Provider, nil
}

func (m *mockStore) VerifyPin(ctx context.Context, pin string) (bool, error) {
	if m.verifyErr != nil {
		return false, m.verifyErr
	}
	hash, _ := m.GetPinHash(ctx)
	return hash != "" && hash == model.HashPin(pin), nil
}

func (m *mockStore) HasAuth(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasErr != nil {
		return false, m.hasErr
	}
	if m.hasAuthOverride != nil {
		return *m.hasAuthOverride, nil
	}
	return len(m.records) > 0, nil
}

func (m *mockStore) ClearAuth(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clearErr != nil {
		return m.clearErr
	}
	m.records = make(map[model.Provider]*model.CredentialRecord)
	m.order = nil
	return nil
}

func (m *mockStore) TouchLastUsed(_ context.Context, provider model.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[provider]; ok {
		m.touch(provider)
	}
	return nil
}

func (m *mockStore) ListProviders(_ context.Context) ([]model.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Provider{}
	for p := range m.records {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// stubValidator answers every validation with result, filling in the provider.
type stubValidator struct {
	result model.ValidationResult
	calls  atomic.Int32
}

var _ driven.KeyValidator = (*stubValidator)(nil)

func validBalance(balance float64, message string) *stubValidator {
	return &stubValidator{result: model.ValidationResult{IsValid: true, Balance: balance, Message: message}}
}

func (v *stubValidator) DetectProvider(apiKey string) model.Provider {
	return model.DetectProvider(apiKey)
}

func (v *stubValidator) ValidateAPIKey(_ context.Context, apiKey string) model.ValidationResult {
	v.calls.Add(1)
	res := v.result
	res.Provider = model.DetectProvider(apiKey)
	return res
}

// mockChatClient records Close calls.
type mockChatClient struct {
	provider model.Provider
	apiKey   string
	closed   atomic.Int32
}

var _ driven.ChatClient = (*mockChatClient)(nil)

func (c *mockChatClient) Provider() model.Provider { return c.provider }

func (c *mockChatClient) GetModels(_ context.Context, _ bool) ([]model.ModelInfo, error) {
	return []model.ModelInfo{{ID: "test/model", Name: "Test"}}, nil
}

func (c *mockChatClient) SendMessage(_ context.Context, message, modelID string) (*model.ChatResult, error) {
	return &model.ChatResult{Model: modelID, Content: "echo: " + message}, nil
}

func (c *mockChatClient) GetBalance(_ context.Context, _ bool) string { return "$1.00" }

func (c *mockChatClient) Close() { c.closed.Add(1) }
