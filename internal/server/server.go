// Package server assembles the HTTP service: token broker, training session
// websocket, health probes and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/radio-trainer/internal/bank"
	"github.com/lexiqai/radio-trainer/internal/broker"
	"github.com/lexiqai/radio-trainer/internal/config"
	"github.com/lexiqai/radio-trainer/internal/gateway"
	"github.com/lexiqai/radio-trainer/internal/observability"
	"github.com/lexiqai/radio-trainer/internal/resilience"
	"github.com/lexiqai/radio-trainer/internal/scoring"
	"github.com/lexiqai/radio-trainer/internal/trainer"
)

const shutdownTimeout = 30 * time.Second

// Server is the assembled service
type Server struct {
	cfg    *config.Config
	log    zerolog.Logger
	minter *broker.Minter
	router chi.Router
	health *observability.GRPCHealth
}

// New loads the question bank and rubric named by cfg and builds the routes
func New(cfg *config.Config) (*Server, error) {
	log := observability.Component("server")

	b, vr, err := bank.Load(cfg.QuestionBankPath)
	if err != nil {
		return nil, fmt.Errorf("load question bank: %w", err)
	}
	for _, w := range vr.Warnings {
		log.Warn().Str("bank", cfg.QuestionBankPath).Msg(w)
	}

	rubric := scoring.DefaultRubric()
	if cfg.RubricPath != "" {
		if rubric, err = scoring.LoadRubric(cfg.RubricPath); err != nil {
			return nil, fmt.Errorf("load rubric: %w", err)
		}
	}

	opts := trainer.OptionsFromConfig(cfg)
	opts.Rubric = rubric

	s := &Server{
		cfg:    cfg,
		log:    log,
		minter: broker.NewMinter(broker.ConfigFrom(cfg)),
		health: observability.NewGRPCHealth(opts.Providers...),
	}
	s.minter.OnBreakerChange = func(provider string, open bool) {
		s.health.SetServing(provider, !open)
	}

	r := broker.NewRouter(broker.NewHandler(s.minter), broker.RouterOptions{
		AllowedOrigins: cfg.Origins(),
		MaxConcurrent:  cfg.MaxConcurrent,
	})
	r.Handle("/sessions/ws", gateway.NewHandler(gateway.Config{
		Bank:           b,
		Tokens:         s.minter,
		Options:        opts,
		AllowedOrigins: cfg.Origins(),
	}))
	r.Get("/health", observability.HealthCheckHandler())
	r.Get("/ready", observability.ReadinessHandler(s.readinessChecks()...))
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	s.router = r

	log.Info().
		Str("bank", b.Name).
		Str("bank_version", b.Version).
		Int("questions", b.Len()).
		Strs("providers", opts.Providers).
		Msg("service assembled")
	return s, nil
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler { return s.router }

// readinessChecks reports a provider unready while its mint breaker is open
func (s *Server) readinessChecks() []observability.DependencyCheck {
	var checks []observability.DependencyCheck
	for _, p := range s.minter.Providers() {
		checks = append(checks, observability.DependencyCheck{
			Name: p,
			Check: func(ctx context.Context) (bool, error) {
				if s.minter.Breaker(p).GetState() == resilience.StateOpen {
					return false, fmt.Errorf("%s token circuit open", p)
				}
				return true, nil
			},
		})
	}
	return checks
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info().Str("port", s.cfg.Port).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if s.cfg.GRPCHealthPort != "" {
		lis, err := net.Listen("tcp", ":"+s.cfg.GRPCHealthPort)
		if err != nil {
			return fmt.Errorf("grpc health listener: %w", err)
		}
		g.Go(func() error {
			s.log.Info().Str("port", s.cfg.GRPCHealthPort).Msg("grpc health server listening")
			return s.health.Serve(lis)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		s.log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.health.Stop()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
