package trainer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/radio-trainer/internal/bank"
	"github.com/lexiqai/radio-trainer/internal/observability"
)

var (
	ErrNoBank              = errors.New("trainer: no question bank loaded")
	ErrRecordingInProgress = errors.New("trainer: recording in progress")
	ErrClosed              = errors.New("trainer: orchestrator closed")
	ErrInvalidQuestion     = errors.New("trainer: question index out of range")
	ErrInvalidChoice       = errors.New("trainer: choice out of range")
	ErrNoTranscript        = errors.New("trainer: no transcript to score")
)

// Orchestrator is the single entry point for a training session. Session
// state is only mutated here, either by the public methods or by adapter
// events routed through the current attempt.
type Orchestrator struct {
	deps Dependencies
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	bank    *bank.QuestionBank
	state   state
	attempt *attempt
	closed  bool

	subs    map[int]func(Session)
	nextSub int

	notify   chan struct{}
	stopped  chan struct{}
	loopDone chan struct{}
}

// New creates an orchestrator with no bank loaded
func New(deps Dependencies, opts Options) *Orchestrator {
	if deps.NewAdapter == nil {
		deps.NewAdapter = DefaultAdapterFactory
	}
	opts = opts.withDefaults()

	id := uuid.NewString()
	o := &Orchestrator{
		deps:     deps,
		opts:     opts,
		log:      observability.WithCorrelationID(id).With().Str("component", "trainer").Logger(),
		subs:     make(map[int]func(Session)),
		notify:   make(chan struct{}, 1),
		stopped:  make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	o.state = state{id: id, selectedChoice: NoChoice, recording: RecordingIdle}
	o.state.resetResults(opts.Providers)

	go o.publishLoop()
	return o
}

// Providers returns the provider ids in fan-out order
func (o *Orchestrator) Providers() []string {
	return append([]string(nil), o.opts.Providers...)
}

// Snapshot returns a copy of the current session
func (o *Orchestrator) Snapshot() Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.snapshot()
}

// Bank returns the loaded question bank, or nil
func (o *Orchestrator) Bank() *bank.QuestionBank {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.bank
}

// LoadBank installs b and moves to its first question. Any active attempt
// is aborted first.
func (o *Orchestrator) LoadBank(b *bank.QuestionBank) error {
	if b.Len() == 0 {
		return fmt.Errorf("%w: bank has no questions", ErrInvalidQuestion)
	}
	o.abortAttempt()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	o.bank = b
	o.resetLocked(0)
	o.mu.Unlock()

	o.log.Info().Str("bank", b.Name).Str("version", b.Version).Int("questions", b.Len()).Msg("question bank loaded")
	o.signal()
	return nil
}

// Navigate moves to question index, disposing any attempt in flight
func (o *Orchestrator) Navigate(index int) error {
	o.mu.Lock()
	switch {
	case o.closed:
		o.mu.Unlock()
		return ErrClosed
	case o.bank == nil:
		o.mu.Unlock()
		return ErrNoBank
	case index < 0 || index >= o.bank.Len():
		o.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrInvalidQuestion, index)
	}
	o.mu.Unlock()

	o.abortAttempt()

	o.mu.Lock()
	o.resetLocked(index)
	o.mu.Unlock()
	o.signal()
	return nil
}

// SelectChoice records the option the trainee picked; NoChoice clears it
func (o *Orchestrator) SelectChoice(choice int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case o.closed:
		return ErrClosed
	case o.bank == nil:
		return ErrNoBank
	case choice < NoChoice || choice >= bank.OptionCount:
		return fmt.Errorf("%w: %d", ErrInvalidChoice, choice)
	case o.state.recording.Active():
		return ErrRecordingInProgress
	}
	o.state.selectedChoice = choice
	o.bumpLocked()
	return nil
}

// Subscribe registers fn for session updates and returns a function that
// removes it. Updates are delivered on one goroutine and coalesced, so fn
// always sees the latest state but may skip intermediate versions or see
// the same version twice.
func (o *Orchestrator) Subscribe(fn func(Session)) func() {
	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn
	o.mu.Unlock()

	o.signal()
	return func() {
		o.mu.Lock()
		delete(o.subs, id)
		o.mu.Unlock()
	}
}

// Close aborts any attempt and stops update delivery
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.abortAttempt()
	close(o.stopped)
	<-o.loopDone

	o.mu.Lock()
	clear(o.subs)
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) resetLocked(index int) {
	o.state.questionIndex = index
	o.state.selectedChoice = NoChoice
	o.state.recording = RecordingIdle
	o.state.attemptID = ""
	o.state.speaking = false
	o.state.inputLevel = 0
	o.state.lastError = ""
	o.state.resetResults(o.opts.Providers)
	o.state.version++
}

// bumpLocked records a change; the caller holds o.mu.
func (o *Orchestrator) bumpLocked() {
	o.state.version++
	o.signal()
}

func (o *Orchestrator) signal() {
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) publishLoop() {
	defer close(o.loopDone)

	for {
		select {
		case <-o.stopped:
			return
		case <-o.notify:
		}

		o.mu.Lock()
		snap := o.state.snapshot()
		subs := make([]func(Session), 0, len(o.subs))
		for _, fn := range o.subs {
			subs = append(subs, fn)
		}
		o.mu.Unlock()

		for _, fn := range subs {
			o.deliver(fn, snap)
		}
	}
}

func (o *Orchestrator) deliver(fn func(Session), s Session) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error().Interface("panic", r).Msg("session subscriber panicked")
		}
	}()
	fn(s)
}
