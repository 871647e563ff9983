// Package trainer owns the training session state and the orchestrator that
// records one utterance, streams it to every STT provider and scores the
// transcripts.
package trainer

import (
	"slices"

	"github.com/lexiqai/radio-trainer/internal/scoring"
	"github.com/lexiqai/radio-trainer/internal/stt"
	"github.com/lexiqai/radio-trainer/internal/text"
)

// RecordingState is the lifecycle of one recording attempt
type RecordingState string

const (
	RecordingIdle       RecordingState = "idle"
	RecordingListening  RecordingState = "listening"
	RecordingProcessing RecordingState = "processing"
	RecordingCompleted  RecordingState = "completed"
)

// Active reports whether an attempt is capturing or finalizing
func (r RecordingState) Active() bool {
	return r == RecordingListening || r == RecordingProcessing
}

// NoChoice is the SelectedChoice of a session where no option was picked
const NoChoice = -1

// ProviderResult is everything one provider produced for the current attempt
type ProviderResult struct {
	Status          stt.Status          `json:"status"`
	Connection      stt.ConnectionState `json:"connection"`
	Transcript      stt.TranscriptState `json:"transcript"`
	Words           []stt.WordTiming    `json:"words"`
	DurationMs      int64               `json:"durationMs"`
	LiveFillerCount int                 `json:"liveFillerCount"`
	Fillers         []text.FillerCount  `json:"fillers,omitempty"`
	Metrics         *scoring.Metrics    `json:"metrics,omitempty"`
	Breakdown       *scoring.Breakdown  `json:"breakdown,omitempty"`
	CostUSD         *float64            `json:"costUsd,omitempty"`
	Errors          []string            `json:"errors"`
}

func newProviderResult() *ProviderResult {
	return &ProviderResult{
		Status:     stt.StatusIdle,
		Connection: stt.StateDisconnected,
		Words:      []stt.WordTiming{},
		Errors:     []string{},
	}
}

// Text returns the best transcript available: final, committed, then interim
func (r *ProviderResult) Text() string {
	switch {
	case r.Transcript.IsFinal:
		return r.Transcript.Final
	case r.Transcript.Committed != "":
		return r.Transcript.Committed
	}
	return r.Transcript.Interim
}

func (r *ProviderResult) clone() ProviderResult {
	c := *r
	c.Words = slices.Clone(r.Words)
	c.Fillers = slices.Clone(r.Fillers)
	c.Errors = slices.Clone(r.Errors)
	if r.Metrics != nil {
		m := *r.Metrics
		c.Metrics = &m
	}
	if r.Breakdown != nil {
		b := *r.Breakdown
		c.Breakdown = &b
	}
	if r.CostUSD != nil {
		v := *r.CostUSD
		c.CostUSD = &v
	}
	return c
}

// Session is a point-in-time copy of the training state. Version increases
// with every change.
type Session struct {
	ID             string                    `json:"id"`
	AttemptID      string                    `json:"attemptId,omitempty"`
	QuestionIndex  int                       `json:"questionIndex"`
	SelectedChoice int                       `json:"selectedChoice"`
	Recording      RecordingState            `json:"recording"`
	Results        map[string]ProviderResult `json:"results"`
	Speaking       bool                      `json:"speaking"`
	InputLevel     float64                   `json:"inputLevel"`
	LastError      string                    `json:"lastError,omitempty"`
	Version        uint64                    `json:"version"`
}

// Result returns the result for provider
func (s Session) Result(provider string) (ProviderResult, bool) {
	r, ok := s.Results[provider]
	return r, ok
}

// state is the mutable form of Session held by the orchestrator
type state struct {
	id             string
	attemptID      string
	questionIndex  int
	selectedChoice int
	recording      RecordingState
	results        map[string]*ProviderResult
	speaking       bool
	inputLevel     float64
	lastError      string
	version        uint64
}

func (s *state) resetResults(providers []string) {
	s.results = make(map[string]*ProviderResult, len(providers))
	for _, p := range providers {
		s.results[p] = newProviderResult()
	}
}

func (s *state) snapshot() Session {
	out := Session{
		ID:             s.id,
		AttemptID:      s.attemptID,
		QuestionIndex:  s.questionIndex,
		SelectedChoice: s.selectedChoice,
		Recording:      s.recording,
		Results:        make(map[string]ProviderResult, len(s.results)),
		Speaking:       s.speaking,
		InputLevel:     s.inputLevel,
		LastError:      s.lastError,
		Version:        s.version,
	}
	for p, r := range s.results {
		out.Results[p] = r.clone()
	}
	return out
}
