package gateway

import (
	"context"
	"sync"

	"github.com/lexiqai/radio-trainer/internal/audio"
)

// remoteMicrophone turns binary websocket frames into an audio.Stream. The
// browser owns the real device; a failure to open it is reported in the
// start command and surfaces here as a MicError.
type remoteMicrophone struct {
	depth int

	mu     sync.Mutex
	rate   int
	kind   audio.MicErrorKind
	failed bool
	stream *audio.PushStream
}

func newRemoteMicrophone(depth int) *remoteMicrophone {
	return &remoteMicrophone{depth: depth, rate: audio.DefaultTargetRate}
}

// arm sets what the next Open returns
func (m *remoteMicrophone) arm(sampleRate int, micError string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sampleRate > 0 {
		m.rate = sampleRate
	}
	m.failed = micError != ""
	m.kind = audio.ParseMicErrorKind(micError)
}

func (m *remoteMicrophone) Open(ctx context.Context, _ audio.Constraints) (audio.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failed {
		return nil, &audio.MicError{Kind: m.kind}
	}
	m.stream = audio.NewPushStream(m.rate, m.depth)
	return m.stream, nil
}

// push forwards one binary frame; it reports false when no stream is open
// or the frame was dropped.
func (m *remoteMicrophone) push(pcm []byte) bool {
	samples, err := audio.BytesToSamples(pcm)
	if err != nil || len(samples) == 0 {
		return false
	}
	m.mu.Lock()
	s := m.stream
	m.mu.Unlock()
	if s == nil {
		return false
	}
	return s.Push(samples)
}
