package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"genpipe/internal/app"
	"genpipe/internal/http/handlers"
	"genpipe/internal/http/httpapi"
	"genpipe/internal/infra"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("cmd", "api").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: startup failed")
	}
	defer rt.Close()

	// Jobs in the memory store are only visible here, so run them here.
	workerDone := make(chan struct{})
	if rt.SharedStore() {
		close(workerDone)
	} else {
		workerLog := logger.With().Str("component", "worker").Logger()
		go func() {
			defer close(workerDone)
			if err := rt.NewWorker(&workerLog).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				workerLog.Error().Err(err).Msg("api: in-process worker stopped")
			}
		}()
		logger.Info().Msg("api: memory store, running jobs in-process")
	}

	router := httpapi.NewRouter(&handlers.App{
		Jobs:      rt.Store,
		Submitter: rt.Orchestrator,
		Validator: rt.Validator,
		Catalog:   rt.Registry,
		Artifacts: rt.Artifacts,
		Logger:    &logger,
	}, httpapi.Options{
		Logger:          &logger,
		RateLimitPerMin: cfg.RateLimitPerMin,
		CORSOrigins:     cfg.CORSOrigins,
	})
	server := infra.NewHTTPServer(cfg, router)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr()).Msg("api: listening")
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("api: http server failed")
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: shutdown")
	}
	<-workerDone
	logger.Info().Msg("api: stopped")
}
