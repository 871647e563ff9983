package trainer

import (
	"context"
	"fmt"
	"time"

	"github.com/lexiqai/radio-trainer/internal/audio"
	"github.com/lexiqai/radio-trainer/internal/config"
	"github.com/lexiqai/radio-trainer/internal/scoring"
	"github.com/lexiqai/radio-trainer/internal/stt"
	"github.com/lexiqai/radio-trainer/internal/token"
)

// Adapter is the part of an STT adapter the orchestrator drives.
// *stt.Adapter implements it.
type Adapter interface {
	Name() string
	Configure(patch stt.Config)
	Connect(ctx context.Context) error
	State() stt.ConnectionState
	SendAudio(chunk []byte) error
	EndAudio() error
	Transcript() stt.TranscriptState
	Words() []stt.WordTiming
	On(t stt.EventType, fn stt.Handler) stt.Subscription
	Dispose()
}

var _ Adapter = (*stt.Adapter)(nil)

// AdapterFactory builds an unconnected adapter for provider
type AdapterFactory func(provider string, cfg stt.Config) (Adapter, error)

// DefaultAdapterFactory builds the realtime websocket adapters
func DefaultAdapterFactory(provider string, cfg stt.Config) (Adapter, error) {
	switch provider {
	case stt.ProviderOpenAI:
		return stt.NewOpenAIAdapter(cfg), nil
	case stt.ProviderElevenLabs:
		return stt.NewElevenLabsAdapter(cfg), nil
	}
	return nil, fmt.Errorf("no adapter for provider %q", provider)
}

// Dependencies are the collaborators an orchestrator calls into
type Dependencies struct {
	Tokens     token.Source
	Microphone audio.Microphone
	// NewAdapter defaults to DefaultAdapterFactory.
	NewAdapter AdapterFactory
}

// Options tune one orchestrator
type Options struct {
	Providers []string

	SampleRate   int
	ChunkSamples int
	Constraints  audio.Constraints
	VAD          *audio.VADConfig

	MaxRecording        time.Duration
	FinalizationTimeout time.Duration

	// CostPerMinute is USD per audio minute, per provider.
	CostPerMinute map[string]float64

	// STT is the base adapter configuration; URL and token come per attempt.
	STT    stt.Config
	Rubric scoring.Rubric
}

// DefaultOptions returns options for both providers with the stock limits
func DefaultOptions() Options {
	return Options{
		Providers:           []string{stt.ProviderOpenAI, stt.ProviderElevenLabs},
		SampleRate:          audio.DefaultTargetRate,
		ChunkSamples:        audio.DefaultChunkSamples,
		Constraints:         audio.DefaultConstraints(),
		VAD:                 audio.DefaultVADConfig(),
		MaxRecording:        30 * time.Second,
		FinalizationTimeout: 4 * time.Second,
		CostPerMinute: map[string]float64{
			stt.ProviderOpenAI:     0.006,
			stt.ProviderElevenLabs: 0.0067,
		},
		STT:    stt.DefaultConfig(),
		Rubric: scoring.DefaultRubric(),
	}
}

// OptionsFromConfig maps service configuration onto Options
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	opts.SampleRate = cfg.SampleRate
	opts.ChunkSamples = cfg.ChunkSamples
	opts.Constraints.SampleRate = cfg.SampleRate
	opts.VAD = &audio.VADConfig{
		EnergyThreshold: cfg.VADEnergyThreshold,
		SilenceFrames:   cfg.VADSilenceFrames,
		FrameSize:       cfg.SampleRate / 50,
	}
	opts.MaxRecording = cfg.MaxRecording()
	opts.FinalizationTimeout = cfg.FinalizationTimeout()
	opts.CostPerMinute = map[string]float64{
		stt.ProviderOpenAI:     cfg.OpenAICostPerMinute,
		stt.ProviderElevenLabs: cfg.ElevenLabsCostPerMinute,
	}

	reconnects := cfg.ReconnectMaxAttempts
	if reconnects == 0 {
		reconnects = -1
	}
	opts.STT = opts.STT.Merge(stt.Config{
		ConnectTimeout:       cfg.ConnectTimeout(),
		MaxReconnectAttempts: reconnects,
		ReconnectBaseDelay:   time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
		ReconnectMaxDelay:    time.Duration(cfg.ReconnectMaxBackoff) * time.Millisecond,
		JitterFactor:         cfg.ReconnectJitter,
		SampleRate:           cfg.SampleRate,
		Language:             cfg.ElevenLabsLanguage,
		Model:                cfg.OpenAITranscriptionModel,
		ServerVAD:            cfg.OpenAIServerVAD,
	})
	return opts
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if len(o.Providers) == 0 {
		o.Providers = def.Providers
	}
	if o.SampleRate <= 0 {
		o.SampleRate = def.SampleRate
	}
	if o.ChunkSamples <= 0 {
		o.ChunkSamples = def.ChunkSamples
	}
	if o.Constraints == (audio.Constraints{}) {
		o.Constraints = def.Constraints
	}
	if o.VAD == nil {
		o.VAD = def.VAD
	}
	if o.MaxRecording <= 0 {
		o.MaxRecording = def.MaxRecording
	}
	if o.FinalizationTimeout <= 0 {
		o.FinalizationTimeout = def.FinalizationTimeout
	}
	if o.CostPerMinute == nil {
		o.CostPerMinute = def.CostPerMinute
	}
	o.STT = stt.DefaultConfig().Merge(o.STT)
	if len(o.Rubric.CallsignTokens) == 0 {
		o.Rubric = def.Rubric
	}
	return o
}
