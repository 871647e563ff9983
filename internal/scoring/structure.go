package scoring

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lexiqai/radio-trainer/internal/text"
)

const phonetic = `alpha|alfa|bravo|charlie|delta|echo|foxtrot|golf|hotel|india|juliett?|kilo|lima|mike|november|oscar|papa|quebec|romeo|sierra|tango|uniform|victor|whiskey|x-?ray|yankee|zulu`

const spokenDigit = `zero|one|two|three|four|five|six|seven|eight|nine|niner|\d+`

var (
	thisIsPattern   = regexp.MustCompile(`(?i)\bthis\s+is\s+[\p{L}\p{N}-]+`)
	callsignPattern = regexp.MustCompile(`(?i)\b[a-z]{1,3}-?\d{1,4}[a-z]{0,2}\b`)
	phoneticPattern = regexp.MustCompile(`(?i)\b(?:` + phonetic + `)(?:[\s,-]+(?:` + phonetic + `|` + spokenDigit + `))+\b`)
)

// Structure checks the transmission for the elements a radio call needs in
// the given mode and deducts the mode's penalties for each one missing.
func Structure(transcript string, mode Mode, keywords []string, rubric Rubric) (int, StructureBreakdown) {
	if mode == "" {
		mode = ModeFull
	}
	lower := strings.ToLower(transcript)
	words, punctuated := tokens(transcript)

	b := StructureBreakdown{Mode: mode, Closing: ClosingNone}

	receiverPos := -1
	for _, tok := range rubric.CallsignTokens {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}
		if i := indexFold(transcript, tok); i >= 0 && (receiverPos < 0 || i < receiverPos) {
			receiverPos = i
			b.Receiver = tok
		}
	}

	senderPos := -1
	if loc := thisIsPattern.FindStringIndex(transcript); loc != nil {
		senderPos = loc[0]
		b.Sender = transcript[loc[0]:loc[1]]
	} else {
		for _, re := range []*regexp.Regexp{callsignPattern, phoneticPattern} {
			if loc := re.FindStringIndex(transcript); loc != nil && (senderPos < 0 || loc[0] < senderPos) {
				senderPos = loc[0]
				b.Sender = transcript[loc[0]:loc[1]]
			}
		}
	}

	if len(keywords) > 0 {
		for _, kw := range keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				b.KeywordsFound = append(b.KeywordsFound, kw)
			} else {
				b.KeywordsMissing = append(b.KeywordsMissing, kw)
			}
		}
		b.IntentPresent = len(b.KeywordsFound)*2 >= len(keywords)
	} else {
		b.IntentPresent = len(words) > 2
	}

	closings := findClosings(words, punctuated)
	b.ClosingCount = len(closings)
	if len(closings) > 0 {
		last := closings[len(closings)-1]
		b.Closing = last.kind
		for _, c := range closings {
			if c.kind == ClosingInvalid {
				b.Closing = ClosingInvalid
			}
		}
		b.ClosingAtEnd = last.end >= len(words)-2
	}

	normalized := strings.Join(words, " ")
	for _, phrase := range rubric.SayAgainPhrases {
		if p := text.Normalize(phrase); p != "" && strings.Contains(normalized, p) {
			b.SayAgain = true
			break
		}
	}

	penalize := func(reason string, points int) {
		b.Penalties = append(b.Penalties, Penalty{Reason: reason, Points: points})
	}
	hasClosing := b.Closing != ClosingNone

	switch mode {
	case ModeAckShort:
		if !b.IntentPresent {
			penalize("Missing acknowledgement content", 50)
		}
		if !hasClosing {
			penalize("Missing closing phrase (over/out)", 50)
		}
	case ModeClarifyRequest:
		if receiverPos < 0 {
			penalize("Missing receiver callsign", 30)
		}
		if !b.SayAgain {
			penalize(`Missing "say again" request`, 40)
		}
		if !hasClosing {
			penalize("Missing closing phrase (over/out)", 30)
		}
	default:
		if receiverPos < 0 {
			penalize("Missing receiver callsign", 20)
		}
		if senderPos < 0 {
			penalize("Missing sender identification", 20)
		}
		if !b.IntentPresent {
			penalize("Missing or incomplete intent", 30)
		}
		if !hasClosing {
			penalize("Missing closing phrase (over/out)", 20)
		}
		if receiverPos >= 0 && senderPos >= 0 && receiverPos > senderPos {
			penalize("Receiver callsign should come before sender identification", 10)
		}
		if hasClosing && !b.ClosingAtEnd {
			penalize("Closing phrase should end the transmission", 10)
		}
		if b.Closing == ClosingInvalid {
			penalize(`"Over and out" is contradictory; use "over" or "out"`, 10)
		}
		if b.ClosingCount > 1 {
			penalize("Multiple closing phrases", 5)
		}
	}

	total := 0
	b.Violations = make([]string, 0, len(b.Penalties))
	for _, p := range b.Penalties {
		total += p.Points
		b.Violations = append(b.Violations, p.Reason)
	}
	if b.Penalties == nil {
		b.Penalties = []Penalty{}
	}
	return round(clamp(100 - float64(total))), b
}

type closing struct {
	kind ClosingType
	end  int // index of the closing's last word
}

// tokens splits transcript into normalized words and reports, per word,
// whether punctuation follows it in the raw text.
func tokens(transcript string) ([]string, []bool) {
	var words []string
	var punct []bool
	for _, f := range strings.Fields(transcript) {
		w := text.Normalize(f)
		if w == "" {
			if len(punct) > 0 {
				punct[len(punct)-1] = true
			}
			continue
		}
		last, _ := utf8.DecodeLastRuneInString(f)
		words = append(words, w)
		punct = append(punct, !unicode.IsLetter(last) && !unicode.IsNumber(last))
	}
	return words, punct
}

// findClosings returns the closing phrases. A closing is among the last two
// words or followed by punctuation; "fly over the field" has none.
func findClosings(words []string, punctuated []bool) []closing {
	var out []closing
	closes := func(end int) bool {
		return end >= len(words)-2 || punctuated[end]
	}
	for i := 0; i < len(words); i++ {
		switch words[i] {
		case "over":
			if i+2 < len(words) && words[i+1] == "and" && words[i+2] == "out" && closes(i+2) {
				out = append(out, closing{kind: ClosingInvalid, end: i + 2})
				i += 2
				continue
			}
			if closes(i) {
				out = append(out, closing{kind: ClosingOver, end: i})
			}
		case "out":
			if closes(i) {
				out = append(out, closing{kind: ClosingOut, end: i})
			}
		}
	}
	return out
}

// indexFold is strings.Index under Unicode case folding. The result is a byte
// offset into s.
func indexFold(s, substr string) int {
	n := utf8.RuneCountInString(substr)
	for i := range s {
		end, count := i, 0
		for end < len(s) && count < n {
			_, size := utf8.DecodeRuneInString(s[end:])
			end += size
			count++
		}
		if count < n {
			return -1
		}
		if strings.EqualFold(s[i:end], substr) {
			return i
		}
	}
	return -1
}
