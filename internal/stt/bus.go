package stt

import (
	"sync"

	"github.com/rs/zerolog"
)

// EventType names what an Event carries
type EventType string

const (
	EventConnectionStateChange EventType = "connection_state_change"
	EventTranscriptInterim     EventType = "transcript_interim"
	EventTranscriptCommitted   EventType = "transcript_committed"
	EventTranscriptFinal       EventType = "transcript_final"
	EventWordTiming            EventType = "word_timing"
	EventError                 EventType = "error"
	EventTimeout               EventType = "timeout"
	EventAudioLevel            EventType = "audio_level"
)

// Event is emitted by an adapter. Only the fields relevant to Type are set.
type Event struct {
	Type     EventType
	Provider string

	// connection_state_change
	State    ConnectionState
	Previous ConnectionState

	// transcript_*: the interim text, the whole committed text, or the final text
	Text string

	// word_timing
	Word        *WordTiming
	FillerCount int

	// error, timeout
	Err   error
	Fatal bool

	// audio_level
	Speaking bool
	Level    float64
}

// Handler receives events
type Handler func(Event)

// Subscription identifies a registered handler
type Subscription uint64

type subscriber struct {
	id Subscription
	fn Handler
}

// Bus is a topic to handlers publish/subscribe registry. A panicking
// handler is logged and does not stop delivery to the others.
type Bus struct {
	log zerolog.Logger

	mu       sync.RWMutex
	next     Subscription
	handlers map[EventType][]subscriber
}

// NewBus creates an empty bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{log: log, handlers: make(map[EventType][]subscriber)}
}

// On registers fn for events of type t
func (b *Bus) On(t EventType, fn Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.handlers[t] = append(b.handlers[t], subscriber{id: b.next, fn: fn})
	return b.next
}

// Off removes a handler; it reports whether one was registered
func (b *Bus) Off(sub Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for t, subs := range b.handlers {
		for i, s := range subs {
			if s.id == sub {
				b.handlers[t] = append(subs[:i:i], subs[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Clear drops every handler
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.handlers)
}

// Len returns the number of handlers registered for t
func (b *Bus) Len(t EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[t])
}

// Emit delivers e to the handlers registered at the time of the call
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	subs := b.handlers[e.Type]
	snapshot := make([]subscriber, len(subs))
	copy(snapshot, subs)
	b.mu.RUnlock()

	for _, s := range snapshot {
		b.deliver(s, e)
	}
}

func (b *Bus) deliver(s subscriber, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Interface("panic", r).
				Str("event", string(e.Type)).
				Uint64("subscription", uint64(s.id)).
				Msg("event handler panicked")
		}
	}()
	s.fn(e)
}
