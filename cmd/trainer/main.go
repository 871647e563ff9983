package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lexiqai/radio-trainer/internal/config"
	"github.com/lexiqai/radio-trainer/internal/observability"
)

var rootCmd = &cobra.Command{
	Use:           "radio-trainer",
	Short:         "Radio call practice with live STT scoring",
	Long:          "radio-trainer serves VHF radio training sessions and scores spoken answers against two realtime speech-to-text providers.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		pretty, _ := cmd.Flags().GetBool("log-pretty")
		observability.InitLogger(level, pretty)
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", config.GetEnv("LOG_LEVEL", "warn"), "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("log-pretty", true, "Human readable log output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(bankCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
