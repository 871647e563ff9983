package stt

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lexiqai/radio-trainer/internal/text"
)

// Tracker accumulates transcript text and word timings for one attempt.
// Every mutator returns the events it implies; once the final transcript is
// set, mutators are no-ops.
type Tracker struct {
	mu sync.Mutex

	state   TranscriptState
	words   []WordTiming
	seen    map[string]struct{}
	fillers int

	status    Status
	sessionID string

	audioStart time.Time
	audioEnd   time.Time
}

// NewTracker creates an idle tracker
func NewTracker() *Tracker {
	return &Tracker{seen: make(map[string]struct{}), status: StatusIdle}
}

// SetInterim replaces the interim text
func (t *Tracker) SetInterim(s string) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.IsFinal {
		return nil
	}
	t.state.Interim = strings.TrimSpace(s)
	return []Event{{Type: EventTranscriptInterim, Text: t.state.Interim}}
}

// AppendInterim extends the interim text with a streamed delta
func (t *Tracker) AppendInterim(delta string) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.IsFinal || delta == "" {
		return nil
	}
	t.state.Interim += delta
	return []Event{{Type: EventTranscriptInterim, Text: t.state.Interim}}
}

// Commit appends a settled segment to the committed text and clears the
// interim text. An empty segment commits the current interim text.
func (t *Tracker) Commit(segment string) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.IsFinal {
		return nil
	}
	segment = strings.TrimSpace(segment)
	if segment == "" {
		segment = strings.TrimSpace(t.state.Interim)
	}
	t.state.Interim = ""
	if segment == "" {
		return nil
	}
	t.state.Committed = joinText(t.state.Committed, segment)
	return []Event{{Type: EventTranscriptCommitted, Text: t.state.Committed}}
}

// Finalize sets the final transcript. An empty argument falls back to the
// committed text, then to the interim text.
func (t *Tracker) Finalize(final string) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.IsFinal {
		return nil
	}
	final = strings.TrimSpace(final)
	if final == "" {
		final = t.state.Committed
	}
	if final == "" {
		final = strings.TrimSpace(t.state.Interim)
	}
	t.state.Final = final
	t.state.IsFinal = true
	t.state.Interim = ""
	t.status = StatusCompleted
	return []Event{{Type: EventTranscriptFinal, Text: final}}
}

// AddWord records a word timing unless an identical one was already seen
func (t *Tracker) AddWord(w WordTiming) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	w.Word = strings.TrimSpace(w.Word)
	if t.state.IsFinal || w.Word == "" {
		return nil
	}
	if w.EndMs < w.StartMs {
		w.EndMs = w.StartMs
	}
	key := fmt.Sprintf("%s|%d|%d", w.Word, w.StartMs, w.EndMs)
	if _, dup := t.seen[key]; dup {
		return nil
	}
	t.seen[key] = struct{}{}
	t.words = append(t.words, w)
	if text.IsFillerWord(w.Word) {
		t.fillers++
	}
	word := w
	return []Event{{Type: EventWordTiming, Word: &word, FillerCount: t.fillers}}
}

// State returns a copy of the transcript state
func (t *Tracker) State() TranscriptState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Words returns a copy of the accepted word timings
func (t *Tracker) Words() []WordTiming {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]WordTiming, len(t.words))
	copy(out, t.words)
	return out
}

// FillerCount is the live count of filler words among accepted timings
func (t *Tracker) FillerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fillers
}

// Status returns the provider status
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// SetStatus changes the provider status. Completed is sticky.
func (t *Tracker) SetStatus(s Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusCompleted {
		return
	}
	t.status = s
}

// SessionID returns the provider-assigned session id, if any
func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// SetSessionID stores the provider-assigned session id
func (t *Tracker) SetSessionID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessionID = id
}

// MarkAudio notes that audio was sent at ts
func (t *Tracker) MarkAudio(ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.audioStart.IsZero() {
		t.audioStart = ts
	}
	t.audioEnd = ts
}

// AudioDuration is the time between the first and last audio chunk
func (t *Tracker) AudioDuration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.audioStart.IsZero() {
		return 0
	}
	return t.audioEnd.Sub(t.audioStart)
}

// Reset clears everything accumulated
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = TranscriptState{}
	t.words = nil
	clear(t.seen)
	t.fillers = 0
	t.status = StatusIdle
	t.sessionID = ""
	t.audioStart = time.Time{}
	t.audioEnd = time.Time{}
}

// SyntheticWords spreads the words of s evenly over duration. Providers
// without word timings use this as an approximation.
func SyntheticWords(s string, duration time.Duration, confidence float64) []WordTiming {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}
	per := max(1, duration.Milliseconds()/int64(len(fields)))
	out := make([]WordTiming, len(fields))
	for i, f := range fields {
		c := confidence
		out[i] = WordTiming{
			Word:       f,
			StartMs:    int64(i) * per,
			EndMs:      int64(i+1) * per,
			Confidence: &c,
		}
	}
	return out
}

func joinText(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}
