// Package broker mints short-lived provider credentials so browsers and CLI
// clients never see the long-lived API keys.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/radio-trainer/internal/config"
	"github.com/lexiqai/radio-trainer/internal/observability"
	"github.com/lexiqai/radio-trainer/internal/resilience"
	"github.com/lexiqai/radio-trainer/internal/stt"
	"github.com/lexiqai/radio-trainer/internal/token"
)

// ErrUnknownProvider is returned for providers the broker cannot mint for.
var ErrUnknownProvider = errors.New("unknown provider")

// Config holds upstream endpoints and credentials
type Config struct {
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIRealtimeURL string
	OpenAIModel       string

	ElevenLabsAPIKey      string
	ElevenLabsBaseURL     string
	ElevenLabsRealtimeURL string
	ElevenLabsTokenTTL    time.Duration

	RequestTimeout      time.Duration
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
}

// ConfigFrom maps service configuration onto a broker Config
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		OpenAIAPIKey:          cfg.OpenAIAPIKey,
		OpenAIBaseURL:         cfg.OpenAIBaseURL,
		OpenAIRealtimeURL:     cfg.OpenAIRealtimeURL,
		OpenAIModel:           cfg.OpenAIModel,
		ElevenLabsAPIKey:      cfg.ElevenLabsAPIKey,
		ElevenLabsBaseURL:     cfg.ElevenLabsBaseURL,
		ElevenLabsRealtimeURL: cfg.ElevenLabsRealtimeURL,
		ElevenLabsTokenTTL:    time.Duration(cfg.ElevenLabsTokenTTL) * time.Second,
		RequestTimeout:        cfg.ConnectTimeout(),
		BreakerMaxFailures:    cfg.CircuitBreakerMaxFailures,
		BreakerResetTimeout:   time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second,
	}
}

// Minter calls the upstream token endpoints. It satisfies token.Source so a
// server can hand tokens to in-process sessions without an HTTP hop.
type Minter struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger
	now        func() time.Time

	// OnBreakerChange, when set, observes every upstream breaker transition.
	OnBreakerChange func(provider string, open bool)

	mu       sync.Mutex
	breakers map[string]*resilience.CircuitBreaker
}

var _ token.Source = (*Minter)(nil)

// NewMinter creates a Minter
func NewMinter(cfg Config) *Minter {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.ElevenLabsTokenTTL <= 0 {
		cfg.ElevenLabsTokenTTL = 15 * time.Minute
	}
	if cfg.BreakerResetTimeout <= 0 {
		cfg.BreakerResetTimeout = 30 * time.Second
	}
	return &Minter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		log:        observability.Component("broker"),
		now:        time.Now,
		breakers:   make(map[string]*resilience.CircuitBreaker),
	}
}

// Providers lists what Mint accepts
func (m *Minter) Providers() []string {
	return []string{stt.ProviderOpenAI, stt.ProviderElevenLabs}
}

// Breaker returns the breaker guarding a provider's mint endpoint
func (m *Minter) Breaker(provider string) *resilience.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	cb, ok := m.breakers[provider]
	if !ok {
		cb = resilience.NewCircuitBreaker("mint_"+provider, m.cfg.BreakerMaxFailures, m.cfg.BreakerResetTimeout)
		cb.OnStateChange = func(name string, from, to resilience.CircuitState) {
			observability.UpdateCircuitBreakerState(name, int(to))
			m.log.Warn().Str("provider", provider).Str("from", from.String()).Str("to", to.String()).Msg("mint circuit breaker changed state")
			if m.OnBreakerChange != nil {
				m.OnBreakerChange(provider, to == resilience.StateOpen)
			}
		}
		m.breakers[provider] = cb
	}
	return cb
}

// Fetch implements token.Source
func (m *Minter) Fetch(ctx context.Context, provider, sessionID string) (token.Token, error) {
	return m.Mint(ctx, provider)
}

// Mint obtains a fresh upstream token for provider
func (m *Minter) Mint(ctx context.Context, provider string) (token.Token, error) {
	var mint func(context.Context) (token.Token, error)
	switch provider {
	case stt.ProviderOpenAI:
		mint = m.mintOpenAI
	case stt.ProviderElevenLabs:
		mint = m.mintElevenLabs
	default:
		return token.Token{}, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}

	start := time.Now()
	cb := m.Breaker(provider)

	var tok token.Token
	err := cb.Call(func() error {
		var err error
		tok, err = mint(ctx)
		return err
	})

	observability.RecordTokenRequest("mint_"+provider, err == nil, time.Since(start))
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			observability.IncrementCircuitBreakerFailures(cb.Name())
		}
		return token.Token{}, err
	}
	return tok, nil
}

type openAISessionRequest struct {
	Model      string   `json:"model"`
	Modalities []string `json:"modalities"`
}

type openAISessionResponse struct {
	ID           string `json:"id"`
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"` // seconds
	} `json:"client_secret"`
}

func (m *Minter) mintOpenAI(ctx context.Context) (token.Token, error) {
	if m.cfg.OpenAIAPIKey == "" {
		return token.Token{}, errors.New("openai api key not configured")
	}

	body, err := json.Marshal(openAISessionRequest{Model: m.cfg.OpenAIModel, Modalities: []string{"text"}})
	if err != nil {
		return token.Token{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	data, err := m.post(ctx, stt.ProviderOpenAI, strings.TrimRight(m.cfg.OpenAIBaseURL, "/")+"/v1/realtime/sessions", body, func(h http.Header) {
		h.Set("Authorization", "Bearer "+m.cfg.OpenAIAPIKey)
	})
	if err != nil {
		return token.Token{}, err
	}

	var resp openAISessionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return token.Token{}, fmt.Errorf("%w: %v", token.ErrMalformed, err)
	}

	tok := token.Token{
		Token:        resp.ClientSecret.Value,
		ExpiresAt:    resp.ClientSecret.ExpiresAt * 1000,
		WebsocketURL: m.openAIWebsocketURL(),
	}
	if err := tok.Validate(); err != nil {
		return token.Token{}, err
	}
	m.log.Debug().Str("session", resp.ID).Msg("minted openai realtime session")
	return tok, nil
}

func (m *Minter) openAIWebsocketURL() string {
	if m.cfg.OpenAIModel == "" {
		return m.cfg.OpenAIRealtimeURL
	}
	sep := "?"
	if strings.Contains(m.cfg.OpenAIRealtimeURL, "?") {
		sep = "&"
	}
	return m.cfg.OpenAIRealtimeURL + sep + "model=" + neturl.QueryEscape(m.cfg.OpenAIModel)
}

type elevenLabsTokenResponse struct {
	Token string `json:"token"`
}

func (m *Minter) mintElevenLabs(ctx context.Context) (token.Token, error) {
	if m.cfg.ElevenLabsAPIKey == "" {
		return token.Token{}, errors.New("elevenlabs api key not configured")
	}

	data, err := m.post(ctx, stt.ProviderElevenLabs, strings.TrimRight(m.cfg.ElevenLabsBaseURL, "/")+"/v1/single-use-token/realtime_scribe", nil, func(h http.Header) {
		h.Set("xi-api-key", m.cfg.ElevenLabsAPIKey)
	})
	if err != nil {
		return token.Token{}, err
	}

	var resp elevenLabsTokenResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return token.Token{}, fmt.Errorf("%w: %v", token.ErrMalformed, err)
	}

	tok := token.Token{
		Token:        resp.Token,
		ExpiresAt:    m.now().Add(m.cfg.ElevenLabsTokenTTL).UnixMilli(),
		WebsocketURL: m.cfg.ElevenLabsRealtimeURL,
	}
	if err := tok.Validate(); err != nil {
		return token.Token{}, err
	}
	return tok, nil
}

func (m *Minter) post(ctx context.Context, provider, url string, body []byte, auth func(http.Header)) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	auth(req.Header)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &token.StatusError{Provider: provider, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}
