package scoring

import (
	"strings"

	"github.com/lexiqai/radio-trainer/internal/text"
)

const (
	fillerPenaltyEach = 5
	fillerPenaltyCap  = 25
)

var closingSuffixes = []string{"over and out", "over", "out"}

// Clarity compares the transcript with the expected answer and deducts for
// filler words. A trailing closing phrase is ignored on both sides; the
// structure scorer owns it.
func Clarity(transcript, expected string) (int, ClarityBreakdown) {
	got := stripClosing(text.Normalize(transcript))
	want := stripClosing(text.Normalize(expected))

	fillers := text.DetectFillers(transcript)
	count := text.TotalFillers(fillers)
	penalty := min(fillerPenaltyCap, count*fillerPenaltyEach)

	similarity := text.Similarity(got, want)
	score := round(clamp(similarity*100 - float64(penalty)))

	return score, ClarityBreakdown{
		Similarity:    similarity,
		Transcript:    got,
		Expected:      want,
		Fillers:       fillers,
		FillerCount:   count,
		FillerPenalty: penalty,
	}
}

func stripClosing(normalized string) string {
	for _, sfx := range closingSuffixes {
		if normalized == sfx {
			return ""
		}
		if strings.HasSuffix(normalized, " "+sfx) {
			return strings.TrimSuffix(normalized, " "+sfx)
		}
	}
	return normalized
}
