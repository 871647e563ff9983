// Package scoring turns a transcript, its word timings and the question
// context into reproducible 0-100 scores for clarity, pace and structure.
package scoring

import (
	"fmt"
	"math"

	"github.com/lexiqai/radio-trainer/internal/text"
)

// Mode selects the radio-call rubric used by the structure scorer.
type Mode string

const (
	ModeFull           Mode = "full"
	ModeAckShort       Mode = "ack_short"
	ModeClarifyRequest Mode = "clarify_request"
)

// ParseMode maps the bank's structureMode value onto a Mode.
// An empty value means ModeFull.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeFull:
		return ModeFull, nil
	case ModeAckShort, ModeClarifyRequest:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown structure mode %q", s)
}

// Word is the timing evidence the pace scorer needs for one word.
type Word struct {
	Text    string `json:"word"`
	StartMs int64  `json:"startMs"`
	EndMs   int64  `json:"endMs"`
}

// Metrics are the four published scores for one provider's transcript.
type Metrics struct {
	Clarity   int `json:"clarity"`
	Pace      int `json:"pace"`
	Structure int `json:"structure"`
	Overall   int `json:"overall"`
}

// Breakdown explains how each score was reached.
type Breakdown struct {
	Clarity   ClarityBreakdown   `json:"clarity"`
	Pace      PaceBreakdown      `json:"pace"`
	Structure StructureBreakdown `json:"structure"`
}

type ClarityBreakdown struct {
	Similarity    float64            `json:"similarity"`
	Transcript    string             `json:"transcript"`
	Expected      string             `json:"expected"`
	Fillers       []text.FillerCount `json:"fillers"`
	FillerCount   int                `json:"fillerCount"`
	FillerPenalty int                `json:"fillerPenalty"`
}

type PaceBreakdown struct {
	WordCount        int   `json:"wordCount"`
	DurationMs       int64 `json:"durationMs"`
	WPM              int   `json:"wpm"`
	PauseCount       int   `json:"pauseCount"`
	LongPauseCount   int   `json:"longPauseCount"`
	WPMPenalty       int   `json:"wpmPenalty"`
	PausePenalty     int   `json:"pausePenalty"`
	LongPausePenalty int   `json:"longPausePenalty"`
}

// ClosingType classifies the closing phrase of a transmission.
type ClosingType string

const (
	ClosingNone    ClosingType = "none"
	ClosingOver    ClosingType = "over"
	ClosingOut     ClosingType = "out"
	ClosingInvalid ClosingType = "invalid"
)

// Penalty is one deduction applied by the structure scorer.
type Penalty struct {
	Reason string `json:"reason"`
	Points int    `json:"points"`
}

type StructureBreakdown struct {
	Mode            Mode        `json:"mode"`
	Receiver        string      `json:"receiver,omitempty"`
	Sender          string      `json:"sender,omitempty"`
	IntentPresent   bool        `json:"intentPresent"`
	KeywordsFound   []string    `json:"keywordsFound,omitempty"`
	KeywordsMissing []string    `json:"keywordsMissing,omitempty"`
	Closing         ClosingType `json:"closing"`
	ClosingCount    int         `json:"closingCount"`
	ClosingAtEnd    bool        `json:"closingAtEnd"`
	SayAgain        bool        `json:"sayAgain"`
	Penalties       []Penalty   `json:"penalties"`
	Violations      []string    `json:"violations"`
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

// round rounds half up, so 70.5 becomes 71.
func round(v float64) int {
	return int(math.Floor(v + 0.5))
}
