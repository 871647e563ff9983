package text

import (
	"regexp"
	"sort"
	"strings"
)

// FillerLexicon is the fixed list of disfluencies penalized by the clarity
// scorer. Order matters: it breaks ties when counts are equal.
var FillerLexicon = []string{
	"um",
	"uh",
	"er",
	"erm",
	"ah",
	"hmm",
	"like",
	"you know",
	"i mean",
	"basically",
	"actually",
	"literally",
	"sort of",
	"kind of",
}

// FillerCount is the number of occurrences of one filler in a transcript.
type FillerCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

var fillerPatterns = compileFillers(FillerLexicon)

func compileFillers(words []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, len(words))
	for i, w := range words {
		parts := strings.Fields(w)
		for j := range parts {
			parts[j] = regexp.QuoteMeta(parts[j])
		}
		patterns[i] = regexp.MustCompile(`(?i)\b` + strings.Join(parts, `\s+`) + `\b`)
	}
	return patterns
}

// DetectFillers counts whole-word and whole-phrase filler matches in s.
// The result is sorted by count, highest first; it is empty when nothing matched.
func DetectFillers(s string) []FillerCount {
	counts := make([]FillerCount, 0)
	for i, re := range fillerPatterns {
		if n := len(re.FindAllStringIndex(s, -1)); n > 0 {
			counts = append(counts, FillerCount{Word: FillerLexicon[i], Count: n})
		}
	}
	sort.SliceStable(counts, func(i, j int) bool {
		return counts[i].Count > counts[j].Count
	})
	return counts
}

// TotalFillers sums the counts returned by DetectFillers.
func TotalFillers(counts []FillerCount) int {
	total := 0
	for _, c := range counts {
		total += c.Count
	}
	return total
}

// IsFillerWord reports whether a single transcribed word is one of the
// single-word fillers, ignoring case, punctuation and drawn-out endings
// ("ummm", "uhh"). It backs the live counter shown while recording.
func IsFillerWord(word string) bool {
	w := Normalize(word)
	if w == "" || strings.Contains(w, " ") {
		return false
	}
	for _, f := range FillerLexicon {
		if strings.Contains(f, " ") || !strings.HasPrefix(w, f) {
			continue
		}
		last := f[len(f)-1:]
		if strings.Trim(w[len(f):], last) == "" {
			return true
		}
	}
	return false
}
