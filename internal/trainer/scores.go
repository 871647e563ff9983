package trainer

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/lexiqai/radio-trainer/internal/scoring"
	"github.com/lexiqai/radio-trainer/internal/stt"
)

const emptyTranscript = "empty transcript, scoring skipped"

// scoreLocked scores the final transcript of r once and marks the provider
// completed. An empty transcript leaves the provider in error.
func (o *Orchestrator) scoreLocked(att *attempt, provider string, r *ProviderResult) {
	if r.Metrics != nil {
		return
	}
	transcript := strings.TrimSpace(r.Transcript.Final)
	if transcript == "" {
		r.Status = stt.StatusError
		if !slices.Contains(r.Errors, emptyTranscript) {
			r.Errors = append(r.Errors, emptyTranscript)
		}
		return
	}

	duration := att.durationMs()
	if duration <= 0 && len(r.Words) > 0 {
		duration = r.Words[len(r.Words)-1].EndMs
	}
	expected, _ := o.bank.ExpectedAnswer(o.state.questionIndex, o.state.selectedChoice)

	res := scoring.Evaluate(scoring.Evidence{
		Transcript: transcript,
		Expected:   expected,
		Words:      toScoringWords(r.Words),
		DurationMs: duration,
		Mode:       att.question.Mode(),
		Keywords:   att.question.ExpectedKeywords,
	}, o.opts.Rubric)

	r.DurationMs = duration
	r.Metrics = &res.Metrics
	r.Breakdown = &res.Breakdown
	r.Fillers = res.Fillers
	if rate, ok := o.opts.CostPerMinute[provider]; ok {
		cost := rate * float64(duration) / float64(time.Minute/time.Millisecond)
		r.CostUSD = &cost
	}
	r.Status = stt.StatusCompleted

	att.log.Info().
		Str("provider", provider).
		Int("clarity", res.Metrics.Clarity).
		Int("pace", res.Metrics.Pace).
		Int("structure", res.Metrics.Structure).
		Int("overall", res.Metrics.Overall).
		Msg("transcript scored")
}

// ComputeScores returns the scores of provider's transcript for the current
// question and selected choice. Completed providers return their stored
// scores; otherwise the best available text is scored without changing the
// session.
func (o *Orchestrator) ComputeScores(provider string) (scoring.Metrics, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.bank == nil {
		return scoring.Metrics{}, ErrNoBank
	}
	r, ok := o.state.results[provider]
	if !ok {
		return scoring.Metrics{}, fmt.Errorf("unknown provider %q", provider)
	}
	if r.Metrics != nil {
		return *r.Metrics, nil
	}
	transcript := strings.TrimSpace(r.Text())
	if transcript == "" {
		return scoring.Metrics{}, ErrNoTranscript
	}

	q, ok := o.bank.Question(o.state.questionIndex)
	if !ok {
		return scoring.Metrics{}, fmt.Errorf("%w: %d", ErrInvalidQuestion, o.state.questionIndex)
	}
	var duration int64
	if o.attempt != nil {
		duration = o.attempt.durationMs()
	}
	if duration <= 0 && len(r.Words) > 0 {
		duration = r.Words[len(r.Words)-1].EndMs
	}
	expected, _ := o.bank.ExpectedAnswer(o.state.questionIndex, o.state.selectedChoice)

	res := scoring.Evaluate(scoring.Evidence{
		Transcript: transcript,
		Expected:   expected,
		Words:      toScoringWords(r.Words),
		DurationMs: duration,
		Mode:       q.Mode(),
		Keywords:   q.ExpectedKeywords,
	}, o.opts.Rubric)
	return res.Metrics, nil
}

func toScoringWords(words []stt.WordTiming) []scoring.Word {
	out := make([]scoring.Word, len(words))
	for i, w := range words {
		out[i] = scoring.Word{Text: w.Word, StartMs: w.StartMs, EndMs: w.EndMs}
	}
	return out
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
