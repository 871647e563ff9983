package stt

import (
	"fmt"
	"time"
)

// ConnectionState is the websocket lifecycle of one adapter
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateClosed       ConnectionState = "closed"
	StateError        ConnectionState = "error"
)

// Terminal reports whether no further transitions happen without a new Connect
func (s ConnectionState) Terminal() bool {
	return s == StateDisconnected || s == StateClosed || s == StateError
}

// Status is the transcription progress of a provider within one attempt
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusListening  Status = "listening"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
	StatusTimeout    Status = "timeout"
)

// Terminal reports whether the provider will not change status on its own
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusTimeout
}

// WordTiming is one recognised word. Times are milliseconds from the first
// audio chunk sent.
type WordTiming struct {
	Word       string   `json:"word"`
	StartMs    int64    `json:"startMs"`
	EndMs      int64    `json:"endMs"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// TranscriptState is the accumulated text for one attempt
type TranscriptState struct {
	Interim   string `json:"interimText"`
	Committed string `json:"committedText"`
	Final     string `json:"finalText"`
	IsFinal   bool   `json:"isFinal"`
}

// Config is the per-adapter connection configuration
type Config struct {
	URL   string
	Token string

	ConnectTimeout time.Duration
	WriteTimeout   time.Duration

	// MaxReconnectAttempts bounds reconnects; a negative value disables them.
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	JitterFactor         float64

	SampleRate int
	Language   string
	// Model is the OpenAI input transcription model.
	Model     string
	ServerVAD bool
}

// DefaultConfig returns the connection defaults
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:       10 * time.Second,
		WriteTimeout:         5 * time.Second,
		MaxReconnectAttempts: 3,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    10 * time.Second,
		JitterFactor:         0.2,
		SampleRate:           16000,
		Language:             "en",
		Model:                "whisper-1",
	}
}

// Merge returns c with every non-zero field of patch applied
func (c Config) Merge(patch Config) Config {
	if patch.URL != "" {
		c.URL = patch.URL
	}
	if patch.Token != "" {
		c.Token = patch.Token
	}
	if patch.ConnectTimeout != 0 {
		c.ConnectTimeout = patch.ConnectTimeout
	}
	if patch.WriteTimeout != 0 {
		c.WriteTimeout = patch.WriteTimeout
	}
	if patch.MaxReconnectAttempts != 0 {
		c.MaxReconnectAttempts = patch.MaxReconnectAttempts
	}
	if patch.ReconnectBaseDelay != 0 {
		c.ReconnectBaseDelay = patch.ReconnectBaseDelay
	}
	if patch.ReconnectMaxDelay != 0 {
		c.ReconnectMaxDelay = patch.ReconnectMaxDelay
	}
	if patch.JitterFactor != 0 {
		c.JitterFactor = patch.JitterFactor
	}
	if patch.SampleRate != 0 {
		c.SampleRate = patch.SampleRate
	}
	if patch.Language != "" {
		c.Language = patch.Language
	}
	if patch.Model != "" {
		c.Model = patch.Model
	}
	if patch.ServerVAD {
		c.ServerVAD = true
	}
	return c
}

// ProviderError is an error reported by, or about, one provider
type ProviderError struct {
	Provider string
	Type     string
	Code     string
	Message  string
	Fatal    bool
}

func (e *ProviderError) Error() string {
	switch {
	case e.Code != "":
		return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Code)
	case e.Type != "":
		return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Type)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}
