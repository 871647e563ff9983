package scoring

import (
	"github.com/lexiqai/radio-trainer/internal/text"
)

const (
	clarityWeight   = 0.40
	paceWeight      = 0.30
	structureWeight = 0.30
)

// Overall combines the three sub-scores. Each input is clamped to [0,100]
// before weighting.
func Overall(clarity, pace, structure int) int {
	c := clamp(float64(clarity))
	p := clamp(float64(pace))
	s := clamp(float64(structure))
	return round(clamp(clarityWeight*c + paceWeight*p + structureWeight*s))
}

// Evidence is everything the engine needs to score one transcript.
type Evidence struct {
	Transcript string
	Expected   string
	Words      []Word
	DurationMs int64
	Mode       Mode
	Keywords   []string
}

// Result is the output of Evaluate.
type Result struct {
	Metrics   Metrics            `json:"metrics"`
	Breakdown Breakdown          `json:"breakdown"`
	Fillers   []text.FillerCount `json:"fillers"`
}

// Evaluate runs all three scorers over ev and combines them.
func Evaluate(ev Evidence, rubric Rubric) Result {
	clarity, cb := Clarity(ev.Transcript, ev.Expected)
	pace, pb := Pace(ev.Words, ev.Transcript, ev.DurationMs)
	structure, sb := Structure(ev.Transcript, ev.Mode, ev.Keywords, rubric)

	return Result{
		Metrics: Metrics{
			Clarity:   clarity,
			Pace:      pace,
			Structure: structure,
			Overall:   Overall(clarity, pace, structure),
		},
		Breakdown: Breakdown{Clarity: cb, Pace: pb, Structure: sb},
		Fillers:   cb.Fillers,
	}
}
