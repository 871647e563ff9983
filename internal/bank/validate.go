package bank

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/lexiqai/radio-trainer/internal/text"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "bank://questions.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func bankSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("parse schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add resource: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// Validate checks raw bank JSON without keeping the parsed bank
func Validate(data []byte) ValidationResult {
	_, res, _ := Parse(data)
	return res
}

// Parse validates raw bank JSON against the schema and the semantic rules
// and decodes it. A bank is returned only when the result has no errors.
func Parse(data []byte) (*QuestionBank, ValidationResult, error) {
	res := ValidationResult{Errors: []string{}, Warnings: []string{}}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("invalid JSON: %v", err))
		return nil, res, res.Err()
	}

	schema, err := bankSchema()
	if err != nil {
		return nil, res, err
	}
	if err := schema.Validate(doc); err != nil {
		res.Errors = append(res.Errors, schemaMessages(err)...)
		return nil, res, res.Err()
	}

	var b QuestionBank
	if err := json.Unmarshal(data, &b); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("decode: %v", err))
		return nil, res, res.Err()
	}

	checkSemantics(&b, &res)
	if !res.Valid() {
		return nil, res, res.Err()
	}
	return &b, res, nil
}

// schemaMessages flattens a schema error into one line per failing location.
func schemaMessages(err error) []string {
	var out []string
	for _, line := range strings.Split(err.Error(), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "- ") {
			continue
		}
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "at ")
		out = append(out, line)
	}
	if len(out) == 0 {
		out = append(out, err.Error())
	}
	return out
}

func checkSemantics(b *QuestionBank, res *ValidationResult) {
	seen := make(map[string]int, len(b.Questions))
	for i, q := range b.Questions {
		where := fmt.Sprintf("questions[%d]", i)

		if first, dup := seen[q.ID]; dup {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: duplicate id %q (first used by questions[%d])", where, q.ID, first))
		} else {
			seen[q.ID] = i
		}

		for j, opt := range q.Options {
			if strings.TrimSpace(opt) == "" {
				res.Errors = append(res.Errors, fmt.Sprintf("%s.options[%d] is blank", where, j))
			}
		}

		if q.ExpectedSpokenAnswer == "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s (%s): no expectedSpokenAnswer, clarity uses the selected option only", where, q.ID))
		}
		if q.StructureMode == "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s (%s): no structureMode, defaulting to full", where, q.ID))
		}
		if len(q.ExpectedKeywords) == 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s (%s): no expectedKeywords, intent falls back to word count", where, q.ID))
			continue
		}

		reference := text.Normalize(q.ExpectedSpokenAnswer + " " + q.Options[q.CorrectIndex])
		for _, kw := range q.ExpectedKeywords {
			if !strings.Contains(reference, text.Normalize(kw)) {
				res.Warnings = append(res.Warnings, fmt.Sprintf("%s (%s): keyword %q does not appear in the expected answer", where, q.ID, kw))
			}
		}
	}
}
