package token

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/radio-trainer/internal/observability"
	"github.com/lexiqai/radio-trainer/internal/resilience"
)

// Client fetches tokens from the broker's POST /token/{provider} endpoints
type Client struct {
	baseURL string
	http    *http.Client
	retry   *resilience.RetryConfig
	log     zerolog.Logger

	maxFailures  int
	resetTimeout time.Duration
	onBreaker    func(provider string, from, to resilience.CircuitState)

	mu       sync.Mutex
	breakers map[string]*resilience.CircuitBreaker
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithRetry sets the retry policy for retryable failures
func WithRetry(cfg *resilience.RetryConfig) ClientOption {
	return func(c *Client) { c.retry = cfg }
}

// WithCircuitBreaker sets the per-provider breaker thresholds
func WithCircuitBreaker(maxFailures int, resetTimeout time.Duration) ClientOption {
	return func(c *Client) {
		c.maxFailures = maxFailures
		c.resetTimeout = resetTimeout
	}
}

// WithBreakerHook is called on every breaker transition
func WithBreakerHook(fn func(provider string, from, to resilience.CircuitState)) ClientOption {
	return func(c *Client) { c.onBreaker = fn }
}

// NewClient creates a broker client for baseURL
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		http:         &http.Client{Timeout: 10 * time.Second},
		retry:        resilience.DefaultRetryConfig(),
		log:          observability.Component("token_client"),
		maxFailures:  5,
		resetTimeout: 30 * time.Second,
		breakers:     make(map[string]*resilience.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Breaker returns the circuit breaker guarding provider
func (c *Client) Breaker(provider string) *resilience.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	cb, ok := c.breakers[provider]
	if !ok {
		cb = resilience.NewCircuitBreaker("token_"+provider, c.maxFailures, c.resetTimeout)
		cb.OnStateChange = func(name string, from, to resilience.CircuitState) {
			observability.UpdateCircuitBreakerState(name, int(to))
			if c.onBreaker != nil {
				c.onBreaker(provider, from, to)
			}
		}
		c.breakers[provider] = cb
	}
	return cb
}

// Fetch requests a token for provider
func (c *Client) Fetch(ctx context.Context, provider, sessionID string) (Token, error) {
	start := time.Now()
	cb := c.Breaker(provider)

	var tok Token
	err := cb.Call(func() error {
		return resilience.Retry(ctx, func() error {
			var err error
			tok, err = c.fetchOnce(ctx, provider, sessionID)
			return err
		}, c.retry, isRetryable)
	})

	observability.RecordTokenRequest(provider, err == nil, time.Since(start))
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			observability.IncrementCircuitBreakerFailures(cb.Name())
		}
		c.log.Warn().Err(err).Str("provider", provider).Msg("token fetch failed")
		return Token{}, fmt.Errorf("fetch %s token: %w", provider, err)
	}
	return tok, nil
}

func (c *Client) fetchOnce(ctx context.Context, provider, sessionID string) (Token, error) {
	body, err := json.Marshal(map[string]string{"sessionId": sessionID})
	if err != nil {
		return Token{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/token/"+provider, bytes.NewReader(body))
	if err != nil {
		return Token{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Token{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Token{}, &StatusError{Provider: provider, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := tok.Validate(); err != nil {
		return Token{}, err
	}
	return tok, nil
}

func isRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	if errors.Is(err, ErrMalformed) || errors.Is(err, context.Canceled) {
		return false
	}
	return resilience.IsRetryableNetworkError(err)
}
