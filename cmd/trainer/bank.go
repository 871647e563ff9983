package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lexiqai/radio-trainer/internal/bank"
)

var bankCmd = &cobra.Command{
	Use:   "bank",
	Short: "Inspect question banks",
}

var bankValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a question bank against the schema and content rules",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, res, err := bank.Load(args[0])
		for _, e := range res.Errors {
			fmt.Printf("error:   %s\n", e)
		}
		for _, w := range res.Warnings {
			fmt.Printf("warning: %s\n", w)
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s %s: %d questions OK\n", b.Name, b.Version, b.Len())
		return nil
	},
}

var bankListCmd = &cobra.Command{
	Use:   "list <file>",
	Short: "List the questions in a bank",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, _, err := bank.Load(args[0])
		if err != nil {
			return err
		}
		for i, q := range b.Questions {
			fmt.Printf("%3d  %-24s  %-15s  %s\n", i, q.ID, q.Mode(), q.Prompt)
		}
		return nil
	},
}

func init() {
	bankCmd.AddCommand(bankValidateCmd)
	bankCmd.AddCommand(bankListCmd)
}
