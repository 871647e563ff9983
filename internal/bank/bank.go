// Package bank loads and validates question banks.
package bank

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/lexiqai/radio-trainer/internal/scoring"
)

// ErrInvalidBank is returned when a bank fails validation
var ErrInvalidBank = errors.New("invalid question bank")

// OptionCount is the number of answer options every question carries
const OptionCount = 4

// Question is one immutable training scenario
type Question struct {
	ID                   string              `json:"id"`
	Prompt               string              `json:"prompt"`
	Options              [OptionCount]string `json:"options"`
	CorrectIndex         int                 `json:"correctIndex"`
	ExpectedSpokenAnswer string              `json:"expectedSpokenAnswer,omitempty"`
	StructureMode        scoring.Mode        `json:"structureMode,omitempty"`
	ExpectedKeywords     []string            `json:"expectedKeywords,omitempty"`
}

// Mode returns the structure mode, defaulting to full
func (q Question) Mode() scoring.Mode {
	if q.StructureMode == "" {
		return scoring.ModeFull
	}
	return q.StructureMode
}

// QuestionBank is a named, versioned list of questions
type QuestionBank struct {
	Name      string     `json:"name"`
	Version   string     `json:"version"`
	Questions []Question `json:"questions"`
}

// Len returns the number of questions
func (b *QuestionBank) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Questions)
}

// Question returns the question at i
func (b *QuestionBank) Question(i int) (Question, bool) {
	if i < 0 || i >= b.Len() {
		return Question{}, false
	}
	return b.Questions[i], true
}

// ExpectedAnswer resolves the text a spoken answer is compared against: the
// selected option when choice is in range, else the question's
// expectedSpokenAnswer. The bool is false when i is out of range.
func (b *QuestionBank) ExpectedAnswer(i, choice int) (string, bool) {
	q, ok := b.Question(i)
	if !ok {
		return "", false
	}
	if choice >= 0 && choice < OptionCount {
		return q.Options[choice], true
	}
	return q.ExpectedSpokenAnswer, true
}

// ValidationResult lists blocking errors and non-blocking warnings
type ValidationResult struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Valid reports whether no errors were found
func (r ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// Err returns nil for a valid result, else ErrInvalidBank with every error.
func (r ValidationResult) Err() error {
	if r.Valid() {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidBank, strings.Join(r.Errors, "; "))
}

// Load reads and validates the bank at path
func Load(path string) (*QuestionBank, ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ValidationResult{}, fmt.Errorf("read question bank %q: %w", path, err)
	}
	return Parse(data)
}
