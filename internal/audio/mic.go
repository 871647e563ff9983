package audio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"
)

// MicErrorKind classifies why a microphone could not be opened
type MicErrorKind string

const (
	MicPermissionDenied MicErrorKind = "permission_denied"
	MicDeviceNotFound   MicErrorKind = "device_not_found"
	MicUnsupported      MicErrorKind = "unsupported"
	MicUnknown          MicErrorKind = "unknown"
)

// ParseMicErrorKind maps a client-reported kind to a MicErrorKind
func ParseMicErrorKind(s string) MicErrorKind {
	switch k := MicErrorKind(s); k {
	case MicPermissionDenied, MicDeviceNotFound, MicUnsupported:
		return k
	}
	return MicUnknown
}

// MicError is returned by Microphone.Open
type MicError struct {
	Kind MicErrorKind
	Err  error
}

func (e *MicError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("microphone: %s", e.Kind)
	}
	return fmt.Sprintf("microphone: %s: %v", e.Kind, e.Err)
}

func (e *MicError) Unwrap() error { return e.Err }

// Constraints requested when opening a microphone
type Constraints struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultConstraints is mono capture with the usual voice processing enabled
func DefaultConstraints() Constraints {
	return Constraints{
		SampleRate:       DefaultTargetRate,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Frame is one block of captured mono samples
type Frame struct {
	Samples    []int16
	SampleRate int
}

// Stream delivers captured frames until closed. Frames is closed when the
// source ends or Close is called.
type Stream interface {
	Frames() <-chan Frame
	SampleRate() int
	Close() error
}

// Microphone opens capture streams
type Microphone interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// PushStream is a Stream fed by the caller, used for audio arriving over a
// network connection.
type PushStream struct {
	rate   int
	frames chan Frame
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewPushStream creates a stream buffering up to depth frames
func NewPushStream(sampleRate, depth int) *PushStream {
	if depth <= 0 {
		depth = 64
	}
	return &PushStream{
		rate:   sampleRate,
		frames: make(chan Frame, depth),
		done:   make(chan struct{}),
	}
}

// Push enqueues samples. It returns false once the stream is closed or when
// the buffer is full and the frame was dropped.
func (s *PushStream) Push(samples []int16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.frames <- Frame{Samples: samples, SampleRate: s.rate}:
		return true
	default:
		return false
	}
}

func (s *PushStream) Frames() <-chan Frame { return s.frames }

func (s *PushStream) SampleRate() int { return s.rate }

// Done is closed when the stream is closed
func (s *PushStream) Done() <-chan struct{} { return s.done }

// Close ends the stream; repeated calls are no-ops
func (s *PushStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.frames)
	close(s.done)
	return nil
}

// FileMicrophone replays a raw PCM16 mono file as if it were captured live
type FileMicrophone struct {
	Path       string
	SampleRate int
	// FrameDuration is the capture block length; zero means 20ms.
	FrameDuration time.Duration
	// Realtime paces frames by FrameDuration instead of emitting at once.
	Realtime bool
}

// Open reads the file and starts emitting frames
func (m *FileMicrophone) Open(ctx context.Context, _ Constraints) (Stream, error) {
	data, err := os.ReadFile(m.Path)
	if err != nil {
		kind := MicUnknown
		switch {
		case errors.Is(err, fs.ErrNotExist):
			kind = MicDeviceNotFound
		case errors.Is(err, fs.ErrPermission):
			kind = MicPermissionDenied
		}
		return nil, &MicError{Kind: kind, Err: err}
	}
	samples, err := BytesToSamples(data)
	if err != nil {
		return nil, &MicError{Kind: MicUnsupported, Err: err}
	}

	rate := m.SampleRate
	if rate <= 0 {
		rate = DefaultTargetRate
	}
	dur := m.FrameDuration
	if dur <= 0 {
		dur = 20 * time.Millisecond
	}
	per := max(1, int(int64(rate)*int64(dur)/int64(time.Second)))

	s := NewPushStream(rate, len(samples)/per+2)
	go m.replay(ctx, s, samples, per, dur)
	return s, nil
}

func (m *FileMicrophone) replay(ctx context.Context, s *PushStream, samples []int16, per int, dur time.Duration) {
	defer s.Close()

	var tick <-chan time.Time
	if m.Realtime {
		t := time.NewTicker(dur)
		defer t.Stop()
		tick = t.C
	}

	for off := 0; off < len(samples); off += per {
		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
				return
			case <-s.Done():
				return
			}
		}
		end := min(off+per, len(samples))
		if !s.Push(samples[off:end]) {
			return
		}
	}
}
