// Package app assembles the runtime shared by the API, the worker and the local runner.
package app

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	"genpipe/internal/adapter/repo"
	"genpipe/internal/capability"
	"genpipe/internal/catalog"
	"genpipe/internal/domain"
	"genpipe/internal/infra"
	"genpipe/internal/infra/credentials"
	"genpipe/internal/options"
	"genpipe/internal/pipeline"
	"genpipe/internal/stages"
	"genpipe/internal/storage"
	"genpipe/internal/worker"
)

// Runtime is everything built from one Config.
type Runtime struct {
	Config       *infra.Config
	Logger       *infra.Logger
	Store        domain.JobQueue
	Artifacts    *storage.FileStore
	Registry     *catalog.Registry
	Validator    *options.Validator
	Capabilities *capability.Set
	Orchestrator *pipeline.Orchestrator

	closers []func()
}

// Open connects the configured store, loads stored credentials, and wires the
// orchestrator. Call Close when done.
func Open(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (*Runtime, error) {
	logger = infra.OrNop(logger)
	rt := &Runtime{Config: cfg, Logger: logger}

	if err := rt.openStore(ctx); err != nil {
		return nil, err
	}

	dir := cfg.ArtifactDir
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	artifacts, err := storage.NewFileStore(dir)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("app: artifact store: %w", err)
	}
	rt.Artifacts = artifacts

	registry, err := catalog.Default()
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("app: catalog: %w", err)
	}
	rt.Registry = registry
	validator, err := options.NewValidator(registry)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("app: validator: %w", err)
	}
	rt.Validator = validator

	set, err := NewCapabilitySet(cfg, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Capabilities = set
	for _, missing := range set.Unconfigured() {
		logger.Warn().Str("provider", missing).Msg("provider has no credentials; jobs selecting it will fail")
	}

	handlers := stages.Handlers(stages.Deps{
		Set:                set,
		StageTimeout:       cfg.StageTimeout,
		SegmentSeconds:     cfg.SegmentSeconds,
		SubStepConcurrency: cfg.SubStepConcurrency,
		HTTP:               &http.Client{Timeout: cfg.StageTimeout},
		Logger:             logger,
	})
	rt.Orchestrator = pipeline.NewOrchestrator(rt.Store, handlers, artifacts, *logger)
	return rt, nil
}

func (rt *Runtime) openStore(ctx context.Context) error {
	cfg := rt.Config
	switch cfg.StoreDriver {
	case infra.StoreDriverPostgres:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		rt.closers = append(rt.closers, pool.Close)
		runner := infra.NewSQLRunner(pool, *rt.Logger)
		filled, err := credentials.NewStore(runner).Fill(ctx, cfg)
		if err != nil {
			rt.Logger.Warn().Err(err).Msg("load stored provider credentials")
		}
		if len(filled) > 0 {
			rt.Logger.Info().Strs("keys", filled).Msg("provider credentials loaded from database")
		}
		rt.Store = repo.NewJobRepository(runner)
	case infra.StoreDriverSQLite:
		conn, err := infra.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = conn.Close() })
		store := repo.NewSQLiteJobRepository(conn)
		if err := store.EnsureSchema(ctx); err != nil {
			rt.Close()
			return fmt.Errorf("app: %w", err)
		}
		rt.Store = store
	case infra.StoreDriverMemory:
		rt.Store = repo.NewMemoryJobStore()
	default:
		return fmt.Errorf("app: unsupported store driver %q", cfg.StoreDriver)
	}
	rt.Logger.Info().Str("driver", cfg.StoreDriver).Msg("job store ready")
	return nil
}

// NewWorker builds the claim loop over the runtime's store from the worker settings.
func (rt *Runtime) NewWorker(logger *infra.Logger) *worker.Worker {
	cfg := rt.Config
	return worker.New(rt.Store, rt.Orchestrator, worker.Options{
		Concurrency:    cfg.WorkerConcurrency,
		PollInterval:   cfg.WorkerPollInterval,
		ReaperInterval: cfg.ReaperInterval,
		StaleAfter:     cfg.StaleJobAfter,
		Logger:         logger,
	})
}

// SharedStore reports whether another process can claim jobs from the store.
// The memory store is private to this process, so it needs an in-process worker.
func (rt *Runtime) SharedStore() bool {
	return rt.Config.StoreDriver != infra.StoreDriverMemory
}

// Close releases the store connection.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
