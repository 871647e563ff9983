package trainer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lexiqai/radio-trainer/internal/audio"
	"github.com/lexiqai/radio-trainer/internal/bank"
	"github.com/lexiqai/radio-trainer/internal/observability"
	"github.com/lexiqai/radio-trainer/internal/scoring"
	"github.com/lexiqai/radio-trainer/internal/stt"
	"github.com/lexiqai/radio-trainer/internal/token"
)

const taxiRequest = "Tower, this is Alpha One, request taxi to runway two seven"

func testBank() *bank.QuestionBank {
	return &bank.QuestionBank{
		Name:    "test",
		Version: "1",
		Questions: []bank.Question{
			{
				ID:                   "taxi",
				Prompt:               "Request taxi",
				Options:              [bank.OptionCount]string{taxiRequest, "Tower, Alpha One, ready", "Alpha One, taxi", "Roger"},
				CorrectIndex:         0,
				ExpectedSpokenAnswer: taxiRequest,
				StructureMode:        scoring.ModeFull,
			},
			{
				ID:                   "ack",
				Prompt:               "Acknowledge",
				Options:              [bank.OptionCount]string{"Roger", "Wilco", "Affirm", "Negative"},
				ExpectedSpokenAnswer: "Roger, holding short, Alpha One",
				StructureMode:        scoring.ModeAckShort,
			},
		},
	}
}

// fakeAdapter stands in for a realtime STT socket. Events go through a real
// stt.Bus and stt.Tracker. Dispose keeps handlers so late deliveries can be
// observed.
type fakeAdapter struct {
	name    string
	bus     *stt.Bus
	tracker *stt.Tracker

	connectErr     error
	connectTimeout bool
	gate           <-chan struct{}
	entered        func()
	onConnect      func(*fakeAdapter)
	onEnd          func(*fakeAdapter)

	mu       sync.Mutex
	cfg      stt.Config
	state    stt.ConnectionState
	bytes    int
	ended    int
	disposed int
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Configure(patch stt.Config) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = f.cfg.Merge(patch)
}

func (f *fakeAdapter) Connect(ctx context.Context) error {
	if f.entered != nil {
		f.entered()
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.connectTimeout {
		err := errors.New("connect timed out")
		f.emit(stt.Event{Type: stt.EventTimeout, Err: err})
		f.setState(stt.StateError)
		return err
	}
	if f.connectErr != nil {
		f.setState(stt.StateError)
		return f.connectErr
	}
	f.setState(stt.StateConnected)
	if f.onConnect != nil {
		f.onConnect(f)
	}
	return nil
}

func (f *fakeAdapter) setState(s stt.ConnectionState) {
	f.mu.Lock()
	prev := f.state
	f.state = s
	f.mu.Unlock()
	f.emit(stt.Event{Type: stt.EventConnectionStateChange, State: s, Previous: prev})
}

func (f *fakeAdapter) State() stt.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeAdapter) SendAudio(chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bytes += len(chunk)
	return nil
}

func (f *fakeAdapter) EndAudio() error {
	f.mu.Lock()
	f.ended++
	fn := f.onEnd
	f.mu.Unlock()
	if fn != nil {
		fn(f)
	}
	return nil
}

func (f *fakeAdapter) Transcript() stt.TranscriptState { return f.tracker.State() }

func (f *fakeAdapter) Words() []stt.WordTiming { return f.tracker.Words() }

func (f *fakeAdapter) On(t stt.EventType, fn stt.Handler) stt.Subscription { return f.bus.On(t, fn) }

func (f *fakeAdapter) Dispose() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disposed++
	f.state = stt.StateClosed
}

func (f *fakeAdapter) emit(events ...stt.Event) {
	for _, e := range events {
		e.Provider = f.name
		f.bus.Emit(e)
	}
}

func (f *fakeAdapter) counts() (bytes, ended, disposed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bytes, f.ended, f.disposed
}

// say emits one word timing per word, stepMs apart, then the final transcript.
func say(transcript string, stepMs int64) func(*fakeAdapter) {
	return func(f *fakeAdapter) {
		for i, w := range strings.Fields(transcript) {
			start := int64(i) * stepMs
			f.emit(f.tracker.AddWord(stt.WordTiming{Word: w, StartMs: start, EndMs: start + stepMs})...)
		}
		f.emit(f.tracker.Finalize(transcript)...)
	}
}

type script struct {
	connectErr     error
	connectTimeout bool
	gate           <-chan struct{} // Connect blocks until closed
	onConnect      func(*fakeAdapter)
	onEnd          func(*fakeAdapter)
}

type countingStream struct {
	*audio.PushStream
	closes atomic.Int32
}

func (s *countingStream) Close() error {
	s.closes.Add(1)
	return s.PushStream.Close()
}

type fakeMic struct {
	stream audio.Stream
	err    error
	opens  atomic.Int32
}

func (m *fakeMic) Open(ctx context.Context, _ audio.Constraints) (audio.Stream, error) {
	m.opens.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return m.stream, nil
}

type fakeTokens struct {
	errs  map[string]error
	calls atomic.Int32
}

func (f *fakeTokens) Fetch(ctx context.Context, provider, sessionID string) (token.Token, error) {
	f.calls.Add(1)
	if err := f.errs[provider]; err != nil {
		return token.Token{}, err
	}
	return token.Token{Token: "tok_" + provider, WebsocketURL: "wss://" + provider + ".test/realtime"}, nil
}

type harness struct {
	orch       *Orchestrator
	stream     *countingStream
	mic        *fakeMic
	tokens     *fakeTokens
	connecting atomic.Int32

	mu       sync.Mutex
	scripts  map[string]script
	adapters map[string]*fakeAdapter
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()

	h := &harness{
		stream:   &countingStream{PushStream: audio.NewPushStream(audio.DefaultTargetRate, 128)},
		tokens:   &fakeTokens{errs: map[string]error{}},
		scripts:  map[string]script{},
		adapters: map[string]*fakeAdapter{},
	}
	h.mic = &fakeMic{stream: h.stream}
	h.orch = New(Dependencies{Tokens: h.tokens, Microphone: h.mic, NewAdapter: h.newAdapter}, opts)
	require.NoError(t, h.orch.LoadBank(testBank()))
	t.Cleanup(func() { _ = h.orch.Close() })
	return h
}

func (h *harness) script(provider string, s script) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scripts[provider] = s
}

func (h *harness) newAdapter(provider string, cfg stt.Config) (Adapter, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.scripts[provider]
	f := &fakeAdapter{
		name:       provider,
		bus:        stt.NewBus(observability.GetLogger()),
		tracker:    stt.NewTracker(),
		connectErr:     s.connectErr,
		connectTimeout: s.connectTimeout,
		gate:           s.gate,
		entered:        func() { h.connecting.Add(1) },
		onConnect:      s.onConnect,
		onEnd:          s.onEnd,
		cfg:            cfg,
		state:          stt.StateDisconnected,
	}
	h.adapters[provider] = f
	return f, nil
}

func (h *harness) adapter(provider string) *fakeAdapter {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.adapters[provider]
}

// speak pushes n frames of 100ms tone at 16kHz
func (h *harness) speak(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.True(t, h.stream.Push(tone(1600)))
	}
}

func (h *harness) waitRecording(t *testing.T, want RecordingState) Session {
	t.Helper()
	var snap Session
	require.Eventually(t, func() bool {
		snap = h.orch.Snapshot()
		return snap.Recording == want
	}, 3*time.Second, 5*time.Millisecond, "recording never reached %s", want)
	return snap
}

func tone(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = 3000
		} else {
			out[i] = -3000
		}
	}
	return out
}
