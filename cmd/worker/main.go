package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"genpipe/internal/app"
	"genpipe/internal/infra"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("cmd", "worker").Logger()
	if cfg.StoreDriver == infra.StoreDriverMemory {
		logger.Fatal().Msg("worker: the memory store is per process; use postgres or sqlite, or cmd/runjob")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: startup failed")
	}
	defer rt.Close()

	if err := rt.NewWorker(&logger).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}
