package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gregjones/httpcache"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	"github.com/ericfisherdev/chatvault/internal/domain/model"
	"github.com/ericfisherdev/chatvault/internal/domain/port/driven"
)

// BalanceUnavailable is returned by GetBalance when the balance cannot be fetched.
const BalanceUnavailable = model.BalanceUnavailable

// Request defaults.
const (
	DefaultRequestTimeout = 60 * time.Second
	DefaultMaxTokens      = 1000
	DefaultTemperature    = 0.7
)

const (
	maxAttempts      = 3
	defaultRetryBase = 300 * time.Millisecond
	maxRetryAfter    = 30 * time.Second
	balanceTTL       = time.Minute

	attributionReferer = "https://github.com/ericfisherdev/chatvault"
	attributionTitle   = "chatvault"
)

// Compile-time interface satisfaction check.
var _ driven.ChatClient = (*Client)(nil)

// Options configures a Client. Zero values select the defaults.
type Options struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// Client is the authenticated runtime client for one provider and API key.
// It is safe for concurrent use.
type Client struct {
	provider       model.Provider
	apiKey         string
	endpoints      Endpoints
	httpClient     *http.Client
	idle           interface{ CloseIdleConnections() }
	requestTimeout time.Duration
	retryBase      time.Duration
	logger         *slog.Logger
	now            func() time.Time

	group singleflight.Group

	mu        sync.Mutex
	models    []model.ModelInfo
	balance   string
	balanceAt time.Time

	closed atomic.Bool
}

// NewClient creates a Client with the following transport stack:
//  1. httpcache (in-memory conditional request caching for the models catalogue)
//  2. a dedicated net/http transport whose idle connections are released by Close
func NewClient(provider model.Provider, apiKey string, opts Options, logger *slog.Logger) (*Client, error) {
	base := http.DefaultTransport.(*http.Transport).Clone()
	cacheTransport := httpcache.NewMemoryCacheTransport()
	cacheTransport.Transport = base

	c, err := NewClientWithHTTPClient(&http.Client{Transport: cacheTransport}, provider, apiKey, opts, logger)
	if err != nil {
		return nil, err
	}
	c.idle = base
	return c, nil
}

// NewClientWithHTTPClient creates a Client with a custom http.Client.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, provider model.Provider, apiKey string, opts Options, logger *slog.Logger) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("create client: api key is required")
	}

	endpoints, err := ResolveEndpoints(provider, opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return &Client{
		provider:       provider,
		apiKey:         apiKey,
		endpoints:      endpoints,
		httpClient:     httpClient,
		idle:           httpClient,
		requestTimeout: timeout,
		retryBase:      defaultRetryBase,
		logger:         logger.With("provider", provider),
		now:            time.Now,
	}, nil
}

// Provider returns the provider this client talks to.
func (c *Client) Provider() model.Provider {
	return c.provider
}

// GetModels returns the model catalogue, fetching it on first use or when forceRefresh is set.
func (c *Client) GetModels(ctx context.Context, forceRefresh bool) ([]model.ModelInfo, error) {
	if !forceRefresh {
		c.mu.Lock()
		cached := c.models
		c.mu.Unlock()
		if cached != nil {
			return cloneModels(cached), nil
		}
	}

	v, err := c.shared(ctx, "models", func(ctx context.Context) (any, error) {
		return c.fetchModels(ctx)
	})
	if err != nil {
		return nil, err
	}
	return cloneModels(v.([]model.ModelInfo)), nil
}

// shared runs fetch once for all concurrent callers of key. The fetch does not
// inherit any caller's cancellation, so one caller giving up cannot fail the
// others; each attempt is still bounded by requestTimeout. A caller whose ctx
// ends stops waiting and gets the cancellation error.
func (c *Client) shared(ctx context.Context, key string, fetch func(context.Context) (any, error)) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return fetch(detached)
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, classifyTransportError(ctx.Err())
	}
}

func (c *Client) fetchModels(ctx context.Context) ([]model.ModelInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, c.endpoints.Models, nil)
	if err != nil {
		return nil, err
	}
	if e := resp.statusError(); e != nil {
		return nil, e
	}

	models, ok := extractModels(resp.body)
	if !ok {
		return nil, model.NewError(model.KindResponse, model.ReasonNone, "Unexpected models response", nil)
	}

	c.mu.Lock()
	c.models = models
	c.mu.Unlock()

	c.logger.Debug("models fetched", "count", len(models))
	return models, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

// SendMessage sends a single-turn chat completion and returns the assistant reply.
func (c *Client) SendMessage(ctx context.Context, message, modelID string) (*model.ChatResult, error) {
	if strings.TrimSpace(message) == "" {
		return nil, model.NewError(model.KindInput, model.ReasonFormat, "Message cannot be empty", nil)
	}
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return nil, model.NewError(model.KindInput, model.ReasonFormat, "Model cannot be empty", nil)
	}

	payload, err := json.Marshal(chatRequest{
		Model:       modelID,
		Messages:    []chatMessage{{Role: "user", Content: message}},
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, c.endpoints.Chat, payload)
	if err != nil {
		return nil, err
	}
	if e := resp.statusError(); e != nil {
		return nil, e
	}

	content, ok := extractContent(resp.body)
	if !ok {
		return nil, model.NewError(model.KindResponse, model.ReasonNone, "Unexpected response format", nil)
	}

	result := &model.ChatResult{
		Model:   modelID,
		Content: content,
		Usage:   extractUsage(resp.body),
	}
	if m := gjson.GetBytes(resp.body, "model").String(); m != "" {
		result.Model = m
	}

	c.logger.Debug("chat completion received", "model", result.Model, "total_tokens", result.Usage.TotalTokens)
	return result, nil
}

// GetBalance returns the formatted account balance, cached for one minute.
// Any failure yields BalanceUnavailable; failures are not cached.
func (c *Client) GetBalance(ctx context.Context, forceRefresh bool) string {
	if !forceRefresh {
		c.mu.Lock()
		cached, at := c.balance, c.balanceAt
		c.mu.Unlock()
		if cached != "" && c.now().Sub(at) < balanceTTL {
			return cached
		}
	}

	v, err := c.shared(ctx, "balance", func(ctx context.Context) (any, error) {
		return c.fetchBalance(ctx)
	})
	if err != nil {
		c.logger.Warn("balance unavailable", "error", err)
		return BalanceUnavailable
	}
	return v.(string)
}

func (c *Client) fetchBalance(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, c.endpoints.Balance, nil)
	if err != nil {
		return "", err
	}
	if e := resp.statusError(); e != nil {
		return "", e
	}

	amount, ok := extractBalance(c.provider, resp.body)
	if !ok {
		return "", model.NewError(model.KindResponse, model.ReasonNone, "Unexpected balance response", nil)
	}
	display := FormatBalance(c.provider, amount)

	c.mu.Lock()
	c.balance = display
	c.balanceAt = c.now()
	c.mu.Unlock()
	return display, nil
}

// FormatBalance renders amount in the provider's account currency.
func FormatBalance(provider model.Provider, amount float64) string {
	if provider == model.ProviderVSEGPT {
		return fmt.Sprintf("%.2f₽", amount)
	}
	return fmt.Sprintf("$%.2f", amount)
}

// Close marks the client closed and releases idle connections. Requests issued
// afterwards fail without reaching the network.
func (c *Client) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.idle.CloseIdleConnections()
	c.logger.Debug("client closed")
}

// response is a fully read HTTP response.
type response struct {
	method string
	path   string
	status int
	header http.Header
	body   []byte
}

// statusError converts a non-2xx response into a tagged error with the status embedded.
func (r *response) statusError() *model.Error {
	e := classifyStatus(r.status)
	if e == nil {
		return nil
	}
	e.Status = r.status
	e.Err = fmt.Errorf("%s %s: %s", r.method, r.path, snippet(r.body))
	return e
}

// do runs a request under the retry policy:
//   - at most maxAttempts attempts, each bounded by requestTimeout;
//   - 5xx is retried for every method, 429 only for GET;
//   - a per-attempt timeout counts as an attempt and is retried;
//   - Retry-After is honoured, otherwise the wait is retryBase × attempt;
//   - a closed client or connection stops immediately.
//
// When retries are exhausted on a status, the last response is returned.
func (c *Client) do(ctx context.Context, method, rawURL string, payload []byte) (*response, error) {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if c.closed.Load() {
			return nil, model.NewError(model.KindTransport, model.ReasonClosed, "Client is closed", lastErr)
		}

		resp, err := c.attempt(ctx, method, rawURL, payload)
		if err != nil {
			if ctx.Err() != nil {
				return nil, classifyTransportError(ctx.Err())
			}
			if c.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil, model.NewError(model.KindTransport, model.ReasonClosed, "Client is closed", err)
			}
			e := classifyTransportError(err)
			if e.Reason != model.ReasonTimeout || attempt == maxAttempts {
				return nil, e
			}
			lastErr = e
			c.logger.Warn("request timed out, retrying", "method", method, "attempt", attempt)
			if err := c.wait(ctx, c.retryBase*time.Duration(attempt)); err != nil {
				return nil, classifyTransportError(err)
			}
			continue
		}

		if !retryable(method, resp.status) || attempt == maxAttempts {
			return resp, nil
		}

		delay := c.retryDelay(resp.header, attempt)
		c.logger.Warn("retrying request",
			"method", method,
			"path", resp.path,
			"status", resp.status,
			"attempt", attempt,
			"delay", delay,
		)
		if err := c.wait(ctx, delay); err != nil {
			return nil, classifyTransportError(err)
		}
	}

	// Unreachable: the loop returns on its last attempt.
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, method, rawURL string, payload []byte) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.provider == model.ProviderOpenRouter {
		req.Header.Set("HTTP-Referer", attributionReferer)
		req.Header.Set("X-Title", attributionTitle)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &response{
		method: method,
		path:   req.URL.Path,
		status: resp.StatusCode,
		header: resp.Header,
		body:   data,
	}, nil
}

func retryable(method string, status int) bool {
	if status >= 500 && status <= 599 {
		return true
	}
	return status == http.StatusTooManyRequests && method == http.MethodGet
}

// retryDelay honours Retry-After given in seconds or as an HTTP date.
func (c *Client) retryDelay(header http.Header, attempt int) time.Duration {
	fallback := c.retryBase * time.Duration(attempt)

	v := strings.TrimSpace(header.Get("Retry-After"))
	if v == "" {
		return fallback
	}

	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		d = time.Duration(secs) * time.Second
	} else if t, err := http.ParseTime(v); err == nil {
		d = t.Sub(c.now())
	} else {
		return fallback
	}

	if d < 0 {
		d = 0
	}
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}

func (c *Client) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func cloneModels(in []model.ModelInfo) []model.ModelInfo {
	out := make([]model.ModelInfo, len(in))
	copy(out, in)
	return out
}

// snippet returns a short, single-line excerpt of a response body for error causes.
func snippet(body []byte) string {
	const limit = 200
	s := strings.Join(strings.Fields(string(body)), " ")
	if len(s) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	if s == "" {
		return "(empty body)"
	}
	return s
}

