package scoring

import (
	"strings"
)

const (
	minWPM           = 120
	maxWPM           = 160
	wpmPenaltyCap    = 40
	pauseGapMs       = 700
	longPauseGapMs   = 1500
	pausePenaltyEach = 3
	longPenaltyEach  = 5
	pausePenaltyCap  = 30
)

// Pace scores speaking rate and hesitation. Word count comes from the timings
// when there are any, otherwise from the transcript itself.
func Pace(words []Word, transcript string, durationMs int64) (int, PaceBreakdown) {
	wordCount := len(words)
	if wordCount == 0 {
		wordCount = len(strings.Fields(transcript))
	}

	wpm := 0
	if durationMs > 0 {
		wpm = round(float64(wordCount) / float64(durationMs) * 60000)
	}

	var pauses, longPauses int
	for i := 1; i < len(words); i++ {
		gap := words[i].StartMs - words[i-1].EndMs
		switch {
		case gap > longPauseGapMs:
			longPauses++
		case gap > pauseGapMs:
			pauses++
		}
	}

	wpmPenalty := 0
	switch {
	case wpm < minWPM:
		wpmPenalty = min(minWPM-wpm, wpmPenaltyCap)
	case wpm > maxWPM:
		wpmPenalty = min(wpm-maxWPM, wpmPenaltyCap)
	}
	pausePenalty := min(pauses*pausePenaltyEach, pausePenaltyCap)
	longPausePenalty := min(longPauses*longPenaltyEach, pausePenaltyCap)

	score := round(clamp(100 - float64(wpmPenalty+pausePenalty+longPausePenalty)))
	return score, PaceBreakdown{
		WordCount:        wordCount,
		DurationMs:       durationMs,
		WPM:              wpm,
		PauseCount:       pauses,
		LongPauseCount:   longPauses,
		WPMPenalty:       wpmPenalty,
		PausePenalty:     pausePenalty,
		LongPausePenalty: longPausePenalty,
	}
}
