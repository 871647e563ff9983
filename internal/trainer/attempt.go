package trainer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/radio-trainer/internal/audio"
	"github.com/lexiqai/radio-trainer/internal/bank"
	"github.com/lexiqai/radio-trainer/internal/observability"
)

// attempt is one recording: its microphone stream, adapters and timers.
// Fields below the marker are guarded by Orchestrator.mu.
type attempt struct {
	id       string
	question bank.Question
	log      zerolog.Logger
	metrics  *observability.RecordingMetrics
	chunker  *audio.Chunker
	vad      *audio.VADDetector

	capturedUs atomic.Int64

	micMu       sync.Mutex
	stream      audio.Stream
	micReleased bool

	stopOnce sync.Once
	stopCh   chan struct{}
	pumpDone chan struct{}

	// guarded by Orchestrator.mu
	providers  []string
	adapters   map[string]Adapter
	pumping    bool
	stopped    bool
	drained    bool            // chunker tail flushed after stop
	ended      map[string]bool // end of audio sent on the current connection
	timedOut   map[string]bool // last connect timed out; cleared on connect
	done       bool
	maxTimer   *time.Timer
	finalTimer *time.Timer
}

func newAttempt(id string, q bank.Question, opts Options, log zerolog.Logger) *attempt {
	return &attempt{
		id:        id,
		question:  q,
		log:       log.With().Str("attempt_id", id).Logger(),
		metrics:   observability.NewRecordingMetrics(id),
		chunker:   audio.NewChunker(opts.SampleRate, opts.ChunkSamples),
		vad:       audio.NewVADDetector(opts.VAD),
		stopCh:    make(chan struct{}),
		pumpDone:  make(chan struct{}),
		providers: opts.Providers,
		adapters:  make(map[string]Adapter, len(opts.Providers)),
		ended:     make(map[string]bool, len(opts.Providers)),
		timedOut:  make(map[string]bool, len(opts.Providers)),
	}
}

// setStream hands the opened stream to the attempt. It returns false when
// the microphone was already released, in which case the caller owns s.
func (a *attempt) setStream(s audio.Stream) bool {
	a.micMu.Lock()
	defer a.micMu.Unlock()
	if a.micReleased {
		return false
	}
	a.stream = s
	return true
}

// releaseMic closes the capture stream exactly once
func (a *attempt) releaseMic() {
	a.micMu.Lock()
	defer a.micMu.Unlock()
	if a.micReleased {
		return
	}
	a.micReleased = true
	if a.stream == nil {
		return
	}
	if err := a.stream.Close(); err != nil {
		a.log.Warn().Err(err).Msg("closing microphone stream")
	}
	a.metrics.RecordStop()
}

func (a *attempt) signalStop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
}

func (a *attempt) stopTimers() {
	if a.maxTimer != nil {
		a.maxTimer.Stop()
	}
	if a.finalTimer != nil {
		a.finalTimer.Stop()
	}
}

// adapterList returns the registered adapters in provider order; the caller
// holds Orchestrator.mu.
func (a *attempt) adapterList() []Adapter {
	out := make([]Adapter, 0, len(a.adapters))
	for _, p := range a.providers {
		if ad, ok := a.adapters[p]; ok {
			out = append(out, ad)
		}
	}
	return out
}

func (a *attempt) addCaptured(samples, rate int) {
	if rate <= 0 {
		return
	}
	a.capturedUs.Add(int64(samples) * int64(time.Second/time.Microsecond) / int64(rate))
}

// durationMs is the length of audio captured so far
func (a *attempt) durationMs() int64 {
	return a.capturedUs.Load() / 1000
}
