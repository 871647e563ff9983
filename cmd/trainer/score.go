package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lexiqai/radio-trainer/internal/bank"
	"github.com/lexiqai/radio-trainer/internal/scoring"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score a typed transcript against a bank question",
	RunE: func(cmd *cobra.Command, args []string) error {
		bankPath, _ := cmd.Flags().GetString("bank")
		rubricPath, _ := cmd.Flags().GetString("rubric")
		index, _ := cmd.Flags().GetInt("question")
		choice, _ := cmd.Flags().GetInt("choice")
		transcript, _ := cmd.Flags().GetString("transcript")
		durationMs, _ := cmd.Flags().GetInt64("duration-ms")
		asJSON, _ := cmd.Flags().GetBool("json")

		if strings.TrimSpace(transcript) == "" {
			return fmt.Errorf("--transcript is required")
		}

		b, _, err := bank.Load(bankPath)
		if err != nil {
			return err
		}
		q, ok := b.Question(index)
		if !ok {
			return fmt.Errorf("question %d out of range (bank has %d)", index, b.Len())
		}
		expected, _ := b.ExpectedAnswer(index, choice)

		rubric, err := loadRubric(rubricPath)
		if err != nil {
			return err
		}

		res := scoring.Evaluate(scoring.Evidence{
			Transcript: transcript,
			Expected:   expected,
			DurationMs: durationMs,
			Mode:       q.Mode(),
			Keywords:   q.ExpectedKeywords,
		}, rubric)

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}

		fmt.Printf("Question:  %s (%s)\n", q.ID, q.Mode())
		fmt.Printf("Expected:  %s\n", expected)
		printMetrics(res.Metrics)
		for _, p := range res.Breakdown.Structure.Penalties {
			fmt.Printf("  -%-3d %s\n", p.Points, p.Reason)
		}
		return nil
	},
}

func init() {
	scoreCmd.Flags().String("bank", "configs/questions.json", "Question bank file")
	scoreCmd.Flags().String("rubric", "", "Rubric YAML (defaults to the built-in rubric)")
	scoreCmd.Flags().Int("question", 0, "Question index")
	scoreCmd.Flags().Int("choice", -1, "Selected option index, -1 for the expected spoken answer")
	scoreCmd.Flags().String("transcript", "", "Transcript to score")
	scoreCmd.Flags().Int64("duration-ms", 0, "Spoken duration in milliseconds")
	scoreCmd.Flags().Bool("json", false, "Print the full result as JSON")
}

func loadRubric(path string) (scoring.Rubric, error) {
	if path == "" {
		return scoring.DefaultRubric(), nil
	}
	return scoring.LoadRubric(path)
}

func printMetrics(m scoring.Metrics) {
	fmt.Printf("Clarity:   %3d\n", m.Clarity)
	fmt.Printf("Pace:      %3d\n", m.Pace)
	fmt.Printf("Structure: %3d\n", m.Structure)
	fmt.Printf("Overall:   %3d\n", m.Overall)
}
