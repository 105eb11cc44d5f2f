package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/config"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/observability"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/service"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogFile)

	log.Info().
		Str("version", version).
		Str("log_root", cfg.LogRoot).
		Msg("Starting security log pipeline")

	shutdown, err := observability.InitTracer(observability.TracerConfig{
		ServiceName:    "security-pipeline",
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
		Protocol:       cfg.OTLPProtocol,
		Enabled:        cfg.TracingEnabled,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize tracer")
	} else {
		defer shutdown(context.Background())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipeline, err := service.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start pipeline")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := pipeline.Run(ctx); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("Pipeline stopped with error")
		os.Exit(1)
	}
}
