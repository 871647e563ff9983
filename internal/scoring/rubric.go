package scoring

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rubric holds the configurable vocabulary of the structure scorer.
type Rubric struct {
	// CallsignTokens are substrings that identify the station being called.
	CallsignTokens []string `yaml:"callsign_tokens"`
	// SayAgainPhrases satisfy the clarify_request mode's repeat request.
	SayAgainPhrases []string `yaml:"say_again_phrases"`
}

// DefaultRubric returns the vocabulary used when no rubric file is configured.
func DefaultRubric() Rubric {
	return Rubric{
		CallsignTokens: []string{
			"tower", "ground", "approach", "center", "centre", "control",
			"radio", "base", "command", "dispatch",
			"station",
		},
		SayAgainPhrases: []string{"say again"},
	}
}

// LoadRubric reads a YAML rubric from path. Lists left out of the file keep
// their defaults.
func LoadRubric(path string) (Rubric, error) {
	f, err := os.Open(path)
	if err != nil {
		return Rubric{}, fmt.Errorf("rubric: open %q: %w", path, err)
	}
	defer f.Close()

	r, err := LoadRubricFromReader(f)
	if err != nil {
		return Rubric{}, fmt.Errorf("rubric: parse %q: %w", path, err)
	}
	return r, nil
}

// LoadRubricFromReader decodes a YAML rubric from r, rejecting unknown keys.
func LoadRubricFromReader(r io.Reader) (Rubric, error) {
	var rub Rubric
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&rub); err != nil && !errors.Is(err, io.EOF) {
		return Rubric{}, fmt.Errorf("decode yaml: %w", err)
	}

	def := DefaultRubric()
	if rub.CallsignTokens == nil {
		rub.CallsignTokens = def.CallsignTokens
	}
	if rub.SayAgainPhrases == nil {
		rub.SayAgainPhrases = def.SayAgainPhrases
	}
	if err := rub.Validate(); err != nil {
		return Rubric{}, err
	}
	return rub, nil
}

// Validate reports every blank or empty list entry at once.
func (r Rubric) Validate() error {
	var errs []error
	if len(r.CallsignTokens) == 0 {
		errs = append(errs, errors.New("callsign_tokens must not be empty"))
	}
	for i, tok := range r.CallsignTokens {
		if strings.TrimSpace(tok) == "" {
			errs = append(errs, fmt.Errorf("callsign_tokens[%d] is blank", i))
		}
	}
	if len(r.SayAgainPhrases) == 0 {
		errs = append(errs, errors.New("say_again_phrases must not be empty"))
	}
	return errors.Join(errs...)
}
