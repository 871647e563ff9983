package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexiqai/radio-trainer/internal/audio"
	"github.com/lexiqai/radio-trainer/internal/bank"
	"github.com/lexiqai/radio-trainer/internal/config"
	"github.com/lexiqai/radio-trainer/internal/resilience"
	"github.com/lexiqai/radio-trainer/internal/token"
	"github.com/lexiqai/radio-trainer/internal/trainer"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Answer one question from a raw PCM16 recording",
	Long:  "run replays a raw 16-bit little-endian mono PCM file as the microphone, streams it to every provider through tokens from a running broker and prints the scored results.",
	RunE: func(cmd *cobra.Command, args []string) error {
		bankPath, _ := cmd.Flags().GetString("bank")
		rubricPath, _ := cmd.Flags().GetString("rubric")
		index, _ := cmd.Flags().GetInt("question")
		choice, _ := cmd.Flags().GetInt("choice")
		pcm, _ := cmd.Flags().GetString("pcm")
		rate, _ := cmd.Flags().GetInt("rate")
		realtime, _ := cmd.Flags().GetBool("realtime")
		brokerURL, _ := cmd.Flags().GetString("broker")

		if pcm == "" {
			return fmt.Errorf("--pcm is required")
		}

		cfg, err := config.LoadClient()
		if err != nil {
			return err
		}
		if brokerURL == "" {
			brokerURL = cfg.TokenBrokerURL
		}

		b, _, err := bank.Load(bankPath)
		if err != nil {
			return err
		}
		opts := trainer.OptionsFromConfig(cfg)
		if opts.Rubric, err = loadRubric(rubricPath); err != nil {
			return err
		}

		tokens := token.NewClient(brokerURL,
			token.WithRetry(&resilience.RetryConfig{
				MaxAttempts:       cfg.RetryMaxAttempts,
				InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
				MaxBackoff:        5 * time.Second,
				BackoffMultiplier: 2,
				Jitter:            true,
			}),
			token.WithCircuitBreaker(cfg.CircuitBreakerMaxFailures, time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second),
		)
		mic := &audio.FileMicrophone{Path: pcm, SampleRate: rate, Realtime: realtime}

		orch := trainer.New(trainer.Dependencies{Tokens: tokens, Microphone: mic}, opts)
		defer orch.Close()

		if err := orch.LoadBank(b); err != nil {
			return err
		}
		if err := orch.Navigate(index); err != nil {
			return err
		}
		if err := orch.SelectChoice(choice); err != nil {
			return err
		}

		done := make(chan trainer.Session, 1)
		unsubscribe := orch.Subscribe(func(s trainer.Session) {
			if s.Recording == trainer.RecordingCompleted {
				select {
				case done <- s:
				default:
				}
			}
		})
		defer unsubscribe()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := orch.StartRecording(ctx); err != nil {
			return err
		}

		var sess trainer.Session
		select {
		case sess = <-done:
		case <-ctx.Done():
			_ = orch.StopRecording()
			select {
			case sess = <-done:
			case <-time.After(opts.FinalizationTimeout + time.Second):
				return context.Cause(ctx)
			}
		}

		printSession(orch.Providers(), sess)
		return nil
	},
}

func init() {
	runCmd.Flags().String("bank", "configs/questions.json", "Question bank file")
	runCmd.Flags().String("rubric", "", "Rubric YAML (defaults to the built-in rubric)")
	runCmd.Flags().Int("question", 0, "Question index")
	runCmd.Flags().Int("choice", -1, "Selected option index, -1 for the expected spoken answer")
	runCmd.Flags().String("pcm", "", "Raw PCM16 mono recording")
	runCmd.Flags().Int("rate", audio.DefaultTargetRate, "Sample rate of the recording")
	runCmd.Flags().Bool("realtime", true, "Pace the recording at real time")
	runCmd.Flags().String("broker", "", "Token broker URL (overrides TOKEN_BROKER_URL)")
}

func printSession(providers []string, s trainer.Session) {
	sep := strings.Repeat("─", 60)
	for _, p := range providers {
		r := s.Results[p]
		fmt.Println(sep)
		fmt.Printf("%s: %s\n", p, r.Status)
		fmt.Printf("Transcript: %s\n", r.Text())
		if r.Metrics != nil {
			printMetrics(*r.Metrics)
		}
		if r.CostUSD != nil {
			fmt.Printf("Cost:      $%.5f\n", *r.CostUSD)
		}
		for _, e := range r.Errors {
			fmt.Printf("  ! %s\n", e)
		}
	}
	fmt.Println(sep)
}
