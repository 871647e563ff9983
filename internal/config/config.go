package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the radio trainer
type Config struct {
	// Server configuration
	Port           string `envconfig:"PORT" default:"8080"`
	GRPCHealthPort string `envconfig:"GRPC_HEALTH_PORT" default:""` // empty disables the gRPC health server
	AllowedOrigins string `envconfig:"ALLOWED_ORIGINS" default:"*"` // comma separated CORS origins
	MaxConcurrent  int    `envconfig:"MAX_CONCURRENT_REQUESTS" default:"32"`

	// Question bank and rubric
	QuestionBankPath string `envconfig:"QUESTION_BANK_PATH" default:"configs/questions.json"`
	RubricPath       string `envconfig:"RUBRIC_PATH" default:""` // optional YAML rubric

	// Token broker (used by clients that fetch tokens over HTTP)
	TokenBrokerURL string `envconfig:"TOKEN_BROKER_URL" default:"http://localhost:8080"`

	// OpenAI Realtime configuration
	OpenAIAPIKey             string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL            string `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com"`
	OpenAIRealtimeURL        string `envconfig:"OPENAI_REALTIME_URL" default:"wss://api.openai.com/v1/realtime"`
	OpenAIModel              string `envconfig:"OPENAI_REALTIME_MODEL" default:"gpt-4o-realtime-preview"`
	OpenAITranscriptionModel string `envconfig:"OPENAI_TRANSCRIPTION_MODEL" default:"whisper-1"`
	OpenAIServerVAD          bool   `envconfig:"OPENAI_SERVER_VAD" default:"false"`

	// ElevenLabs Realtime configuration
	ElevenLabsAPIKey      string `envconfig:"ELEVENLABS_API_KEY"`
	ElevenLabsBaseURL     string `envconfig:"ELEVENLABS_BASE_URL" default:"https://api.elevenlabs.io"`
	ElevenLabsRealtimeURL string `envconfig:"ELEVENLABS_REALTIME_URL" default:"wss://api.elevenlabs.io/v1/speech-to-text/realtime"`
	ElevenLabsLanguage    string `envconfig:"ELEVENLABS_LANGUAGE" default:"en"`
	ElevenLabsTokenTTL    int    `envconfig:"ELEVENLABS_TOKEN_TTL" default:"900"` // seconds

	// Audio processing configuration
	SampleRate         int     `envconfig:"SAMPLE_RATE" default:"16000"`         // Hz sent to providers
	ChunkSamples       int     `envconfig:"CHUNK_SAMPLES" default:"4096"`        // samples per frame
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold for VAD
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"10"`      // Frames of silence to mark speech end

	// Recording lifecycle (milliseconds)
	ConnectTimeoutMs      int `envconfig:"CONNECT_TIMEOUT_MS" default:"10000"`
	MaxRecordingMs        int `envconfig:"MAX_RECORDING_MS" default:"30000"`
	FinalizationTimeoutMs int `envconfig:"FINALIZATION_TIMEOUT_MS" default:"4000"`

	// Rough cost estimate, USD per audio minute
	OpenAICostPerMinute     float64 `envconfig:"OPENAI_COST_PER_MINUTE" default:"0.006"`
	ElevenLabsCostPerMinute float64 `envconfig:"ELEVENLABS_COST_PER_MINUTE" default:"0.0067"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int     `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int     `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int     `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Token fetch attempts
	RetryInitialBackoff        int     `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int     `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"3"`         // Websocket reconnects per attempt
	ReconnectBackoff           int     `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Base reconnect delay in milliseconds
	ReconnectMaxBackoff        int     `envconfig:"RECONNECT_MAX_BACKOFF" default:"10000"`      // Reconnect delay cap in milliseconds
	ReconnectJitter            float64 `envconfig:"RECONNECT_JITTER" default:"0.2"`             // ± fraction of the delay

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration for the server: .env first if present, then the
// environment. Both provider API keys are required.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	cfg, err := process()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateProviderKeys(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadClient loads configuration for tools that only talk to a token broker
// and therefore need no provider API keys.
func LoadClient() (*Config, error) {
	_ = godotenv.Load()
	return process()
}

func process() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, errors.New("SAMPLE_RATE must be positive"))
	}
	if c.ChunkSamples <= 0 {
		errs = append(errs, errors.New("CHUNK_SAMPLES must be positive"))
	}
	if c.ConnectTimeoutMs <= 0 {
		errs = append(errs, errors.New("CONNECT_TIMEOUT_MS must be positive"))
	}
	if c.MaxRecordingMs <= 0 {
		errs = append(errs, errors.New("MAX_RECORDING_MS must be positive"))
	}
	if c.FinalizationTimeoutMs <= 0 {
		errs = append(errs, errors.New("FINALIZATION_TIMEOUT_MS must be positive"))
	}
	if c.ReconnectMaxAttempts < 0 {
		errs = append(errs, errors.New("RECONNECT_MAX_ATTEMPTS must not be negative"))
	}
	if c.ReconnectJitter < 0 || c.ReconnectJitter > 1 {
		errs = append(errs, errors.New("RECONNECT_JITTER must be within [0,1]"))
	}
	return errors.Join(errs...)
}

// ValidateProviderKeys requires the API keys the token broker mints with.
func (c *Config) ValidateProviderKeys() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.ElevenLabsAPIKey == "" {
		return fmt.Errorf("ELEVENLABS_API_KEY is required")
	}
	return nil
}

// Origins splits AllowedOrigins into a trimmed list.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// ConnectTimeout is the websocket open + configure deadline.
func (c *Config) ConnectTimeout() time.Duration { return ms(c.ConnectTimeoutMs) }

// MaxRecording is the hard ceiling on one capture.
func (c *Config) MaxRecording() time.Duration { return ms(c.MaxRecordingMs) }

// FinalizationTimeout bounds the wait for providers after stop.
func (c *Config) FinalizationTimeout() time.Duration { return ms(c.FinalizationTimeoutMs) }

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
