package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/mundotango/realtime/internal/api"
	"github.com/mundotango/realtime/internal/config"
	"github.com/mundotango/realtime/internal/realtime"
	"github.com/mundotango/realtime/internal/stats"
)

var (
	configPath string
	pretty     bool
)

func main() {
	flag.StringVar(&configPath, "config", "", "path to optional yaml config file")
	flag.BoolVar(&pretty, "pretty", false, "human-readable log output")
	flag.Parse()

	var logger zerolog.Logger
	if pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("config")
	}

	provider := stats.NewPromStats()

	rt, err := realtime.NewServer(logger, provider, cfg.TypingTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("new realtime server")
	}

	srv := api.NewServer(logger, rt, provider, cfg)

	go rt.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info().Str("signal", sig.String()).Msg("received signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("HTTP server shutdown")
	}

	if err := rt.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("realtime server shutdown")
	}

	logger.Info().Msg("shutdown complete")
}
