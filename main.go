package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Gbuzzer/Audio-Transcriber/config"
	"github.com/Gbuzzer/Audio-Transcriber/core"
	"github.com/Gbuzzer/Audio-Transcriber/processors"
	"github.com/Gbuzzer/Audio-Transcriber/server"
	"github.com/Gbuzzer/Audio-Transcriber/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("configuration invalid")
	}

	log := newLogger(cfg)

	if err := os.MkdirAll(cfg.JobsDir(), 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.JobsDir()).Msg("jobs dir not created")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("transcript store unavailable")
	}

	provider := processors.PickProvider(cfg, log)
	runner := processors.NewRunner(cfg, processors.NewFFmpeg(), provider, store, log)

	sweeper := core.NewCleanupManager(cfg.JobsDir(), cfg.Cleanup.MaxAge(), cfg.Cleanup.Interval(), log)
	sweeper.Start()

	srv := server.New(cfg, log, runner, store)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown incomplete")
	}
	sweeper.Close()
	if err := store.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("store close failed")
	}
	log.Info().Msg("stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.LogFormat == "console" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}
