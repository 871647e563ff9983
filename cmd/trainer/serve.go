package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lexiqai/radio-trainer/internal/config"
	"github.com/lexiqai/radio-trainer/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the token broker and training session server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if port, _ := cmd.Flags().GetString("port"); port != "" {
			cfg.Port = port
		}

		srv, err := server.New(cfg)
		if err != nil {
			return fmt.Errorf("assemble service: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().String("port", "", "HTTP port (overrides PORT)")
}
