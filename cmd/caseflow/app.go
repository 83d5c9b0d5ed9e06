package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/rendis/caseflow/internal/actions"
	"github.com/rendis/caseflow/internal/channels"
	"github.com/rendis/caseflow/internal/engine"
	"github.com/rendis/caseflow/internal/expressions"
	"github.com/rendis/caseflow/internal/logging"
	"github.com/rendis/caseflow/internal/metrics"
	"github.com/rendis/caseflow/internal/scheduler"
	"github.com/rendis/caseflow/internal/store"
	"github.com/rendis/caseflow/internal/validation"
)

// app is the wired engine behind every command.
type app struct {
	cfg        Config
	logger     *slog.Logger
	store      *store.LibSQLStore
	metrics    *metrics.Collectors
	registry   *actions.Registry
	catalog    *engine.Catalog
	runner     *engine.Runner
	dispatcher *engine.Dispatcher
	pool       *engine.WorkerPool
	sweeper    *scheduler.Sweeper
}

func newLogger(cfg Config, w io.Writer) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return logging.New(w, level, cfg.LogFormat), nil
}

// newApp opens the store, migrates it and wires every component.
func newApp(ctx context.Context, cfg Config, logger *slog.Logger) (*app, error) {
	st, err := store.NewLibSQLStore(cfg.dsn())
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, store: st, metrics: metrics.New()}
	if err := a.wire(); err != nil {
		_ = st.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire() error {
	guards, err := expressions.NewCELEngine()
	if err != nil {
		return fmt.Errorf("cel engine: %w", err)
	}
	filters := expressions.NewExprEngine()
	wv, err := validation.NewWorkflowValidator(guards, filters)
	if err != nil {
		return fmt.Errorf("workflow validator: %w", err)
	}

	var sender channels.Sender
	if a.cfg.RelayURL != "" {
		sender = channels.NewRelaySender(a.cfg.RelayURL, a.cfg.RelayToken, nil)
	} else {
		a.logger.Warn("no relay_url configured, email and SMS are logged only")
		sender = channels.NewLogSender(a.logger)
	}

	a.registry = actions.NewRegistry()
	deps := &actions.Deps{
		Store:          a.store,
		Sender:         sender,
		Poster:         channels.NewHTTPPoster(a.cfg.ChatAPIBase, nil),
		Metrics:        a.metrics,
		Logger:         a.logger,
		ChannelTimeout: time.Duration(a.cfg.ChannelTimeout),
	}
	if err := actions.RegisterBuiltins(a.registry, deps); err != nil {
		return err
	}

	a.catalog = engine.NewCatalog(a.store, wv)
	a.runner = engine.NewRunner(engine.RunnerConfig{
		Store:   a.store,
		Actions: a.registry,
		Guards:  guards,
		Metrics: a.metrics,
		Logger:  a.logger,
	})
	a.dispatcher = engine.NewDispatcher(engine.DispatcherConfig{
		Store:   a.store,
		Catalog: a.catalog,
		Runner:  a.runner,
		Filters: filters,
		Logger:  a.logger,
		Limit:   a.cfg.DispatchLimit,
	})

	a.pool = engine.NewWorkerPool(a.cfg.PoolSize, func(p any) {
		a.logger.Error("sweep worker panicked", "panic", fmt.Sprint(p))
	})
	a.sweeper, err = scheduler.New(scheduler.Config{
		Store:      a.store,
		Catalog:    a.catalog,
		Runner:     a.runner,
		Pool:       a.pool,
		Metrics:    a.metrics,
		Logger:     a.logger,
		Schedule:   a.cfg.SweepSchedule,
		BatchSize:  a.cfg.SweepBatch,
		StaleAfter: time.Duration(a.cfg.StaleClaimAfter),
	})
	return err
}

func (a *app) close() {
	if a.sweeper != nil {
		_ = a.sweeper.Stop()
	}
	if a.pool != nil {
		a.pool.Shutdown()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("close store", "error", err)
	}
}
