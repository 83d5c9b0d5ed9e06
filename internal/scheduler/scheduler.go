package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rendis/caseflow/internal/engine"
	"github.com/rendis/caseflow/internal/logging"
	"github.com/rendis/caseflow/internal/metrics"
	"github.com/rendis/caseflow/internal/store"
	"github.com/rendis/caseflow/pkg/schema"
)

// Defaults for Config fields left zero.
const (
	DefaultSchedule   = "@every 30s"
	DefaultBatchSize  = 100
	DefaultStaleAfter = 15 * time.Minute
)

// Config holds the Sweeper's collaborators and tuning.
type Config struct {
	Store   store.Store
	Catalog *engine.Catalog
	Runner  *engine.Runner
	Pool    *engine.WorkerPool
	Metrics *metrics.Collectors
	Logger  *slog.Logger

	// Schedule is a cron spec; descriptors such as "@every 30s" are accepted.
	Schedule   string
	BatchSize  int
	StaleAfter time.Duration // running claims older than this are reported
	WorkerID   string        // recorded as claimed_by
	Now        func() time.Time
}

// SweepResult counts what one sweep pass did.
type SweepResult struct {
	Due      int `json:"due"`
	Claimed  int `json:"claimed"`
	Executed int `json:"executed"`
	Failed   int `json:"failed"`
	Lost     int `json:"lost"`
	Stale    int `json:"stale"`
}

// Sweeper executes due deferred steps. Each record is claimed with a
// conditional update before it runs, so any number of sweepers may share a
// store and a record executes at most once.
type Sweeper struct {
	store      store.Store
	catalog    *engine.Catalog
	runner     *engine.Runner
	pool       *engine.WorkerPool
	metrics    *metrics.Collectors
	logger     *slog.Logger
	schedule   cron.Schedule
	batchSize  int
	staleAfter time.Duration
	workerID   string
	now        func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var specParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule validates a sweep schedule.
func ParseSchedule(spec string) (cron.Schedule, error) {
	sched, err := specParser.Parse(spec)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "parse sweep schedule %q: %s", spec, err.Error()).WithCause(err)
	}
	return sched, nil
}

// New creates a Sweeper.
func New(cfg Config) (*Sweeper, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	sched, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = defaultWorkerID()
	}
	if cfg.Pool == nil {
		cfg.Pool = engine.NewWorkerPool(engine.DefaultDispatchLimit, nil)
	}

	return &Sweeper{
		store:      cfg.Store,
		catalog:    cfg.Catalog,
		runner:     cfg.Runner,
		pool:       cfg.Pool,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.With(slog.String("component", "sweep"), slog.String("worker", cfg.WorkerID)),
		schedule:   sched,
		batchSize:  cfg.BatchSize,
		staleAfter: cfg.StaleAfter,
		workerID:   cfg.WorkerID,
		now:        cfg.Now,
	}, nil
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "caseflow"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.New().String()[:8])
}

// WorkerID returns the claim owner recorded by this sweeper.
func (s *Sweeper) WorkerID() string { return s.workerID }

// Sweep runs one pass: claim every due pending record (up to the batch
// size), execute its step on the worker pool, and record the outcome.
// Records claimed by someone else in the meantime are skipped silently.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepResult, error) {
	started := time.Now()
	defer func() { s.metrics.ObserveSweep(time.Since(started)) }()

	now := s.now().UTC()
	res := &SweepResult{}
	res.Stale = s.reportStale(ctx, now)

	due, err := s.store.ListDueDeferredSteps(ctx, now, s.batchSize)
	if err != nil {
		return res, storeFailure(err, "list due deferred steps")
	}
	res.Due = len(due)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	tally := func(status schema.DeferredStatus) {
		mu.Lock()
		defer mu.Unlock()
		if status == schema.DeferredStatusExecuted {
			res.Executed++
		} else {
			res.Failed++
		}
	}

	// Claimed records run to completion even if ctx ends mid-sweep: an
	// external send is never cut off and its outcome is always written.
	runCtx := context.WithoutCancel(ctx)

	for _, ds := range due {
		if ctx.Err() != nil {
			break
		}
		won, err := s.store.ClaimDeferredStep(ctx, ds.ID, s.workerID, now)
		if err != nil {
			s.logger.ErrorContext(ctx, "claim failed", "deferred_id", ds.ID, "error", err)
			continue
		}
		if !won {
			res.Lost++
			s.metrics.DeferredOutcome("lost_claim")
			continue
		}
		res.Claimed++

		wg.Add(1)
		err = s.pool.Submit(runCtx, func(ctx context.Context) error {
			defer wg.Done()
			status := s.execute(ctx, ds)
			tally(status)
			return nil
		})
		if err != nil {
			wg.Done()
			// Claimed but never started: fail it so an operator can requeue.
			s.finish(runCtx, ds, schema.DeferredStatusFailed, "not started: "+err.Error())
			tally(schema.DeferredStatusFailed)
		}
	}
	wg.Wait()

	if res.Due > 0 || res.Stale > 0 {
		s.logger.InfoContext(ctx, "sweep finished",
			"due", res.Due, "claimed", res.Claimed, "executed", res.Executed,
			"failed", res.Failed, "lost", res.Lost, "stale", res.Stale)
	}
	return res, nil
}

// execute runs the single step a claimed record points at.
func (s *Sweeper) execute(ctx context.Context, ds *store.DeferredStep) schema.DeferredStatus {
	ctx = logging.WithRun(ctx, ds.FirmID, ds.WorkflowID, ds.ExecutionID)
	ctx = logging.WithDeferredID(ctx, ds.ID)
	ctx = logging.WithStepID(ctx, ds.StepID)

	evt, err := schema.UnmarshalContext(ds.Context)
	if err != nil {
		return s.finish(ctx, ds, schema.DeferredStatusFailed, err.Error())
	}
	step, err := s.catalog.Step(ctx, ds.StepID)
	if err != nil {
		return s.finish(ctx, ds, schema.DeferredStatusFailed, err.Error())
	}

	_, err = s.runner.ExecuteStep(ctx, step, evt, ds.ExecutionID)
	outcome := schema.StepOutcomeCompleted
	if err != nil {
		outcome = schema.StepOutcomeFailed
	}
	s.metrics.StepOutcome(string(step.Action), string(outcome))
	s.appendEvent(ctx, ds, outcome, err)

	if err != nil {
		return s.finish(ctx, ds, schema.DeferredStatusFailed, err.Error())
	}
	return s.finish(ctx, ds, schema.DeferredStatusExecuted, "")
}

func (s *Sweeper) finish(ctx context.Context, ds *store.DeferredStep, status schema.DeferredStatus, errMsg string) schema.DeferredStatus {
	logger := logging.LogWith(ctx, s.logger)
	if err := s.store.FinishDeferredStep(ctx, ds.ID, status, errMsg, s.now().UTC()); err != nil {
		logger.Error("record deferred outcome failed", "status", status, "error", err)
	}
	s.metrics.DeferredOutcome(string(status))
	if status == schema.DeferredStatusFailed {
		logger.Warn("deferred step failed", "error", errMsg)
	} else {
		logger.Info("deferred step executed")
	}
	return status
}

// appendEvent adds the deferred step's outcome to its execution's log.
func (s *Sweeper) appendEvent(ctx context.Context, ds *store.DeferredStep, outcome schema.StepOutcome, stepErr error) {
	if ds.ExecutionID == "" {
		return
	}
	ev := &store.ExecutionEvent{
		ExecutionID: ds.ExecutionID,
		StepID:      ds.StepID,
		Type:        schema.EventStepCompleted,
		Detail:      "deferred " + ds.ID,
		Timestamp:   s.now().UTC(),
	}
	if outcome == schema.StepOutcomeFailed {
		ev.Type = schema.EventStepFailed
		ev.Detail = stepErr.Error()
	}
	if err := s.store.AppendExecutionEvent(ctx, ev); err != nil {
		logging.LogWith(ctx, s.logger).Error("append deferred step event failed", "error", err)
	}
}

// reportStale logs claims stuck in running. They are never re-run
// automatically; Requeue releases them.
func (s *Sweeper) reportStale(ctx context.Context, now time.Time) int {
	if s.staleAfter <= 0 {
		return 0
	}
	running := schema.DeferredStatusRunning
	cutoff := now.Add(-s.staleAfter)
	stale, err := s.store.ListDeferredSteps(ctx, store.DeferredFilter{
		Status:        &running,
		ClaimedBefore: &cutoff,
		Limit:         s.batchSize,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "list stale claims failed", "error", err)
		return 0
	}
	for _, ds := range stale {
		claimedAt := ""
		if ds.ClaimedAt != nil {
			claimedAt = ds.ClaimedAt.Format(time.RFC3339)
		}
		s.logger.WarnContext(ctx, "deferred step stuck in running",
			"deferred_id", ds.ID, "claimed_by", ds.ClaimedBy, "claimed_at", claimedAt)
	}
	return len(stale)
}

// Requeue puts a failed (or stale running) record back to pending, due at
// executeAt or now when zero.
func (s *Sweeper) Requeue(ctx context.Context, id string, executeAt time.Time) error {
	if executeAt.IsZero() {
		executeAt = s.now().UTC()
	}
	if err := s.store.RequeueDeferredStep(ctx, id, executeAt); err != nil {
		return storeFailure(err, "requeue deferred step")
	}
	s.logger.InfoContext(logging.WithDeferredID(ctx, id), "deferred step requeued",
		"execute_at", executeAt.Format(time.RFC3339))
	return nil
}

// Start runs a sweep immediately and then on every schedule activation
// until Stop or ctx cancellation.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("sweeper already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(loopCtx)
	s.logger.Info("sweeper started")
	return nil
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	for {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.ErrorContext(ctx, "sweep failed", "error", err)
		}

		now := time.Now()
		timer := time.NewTimer(s.schedule.Next(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Stop halts the loop and waits for an in-flight sweep to finish. Records
// already claimed complete normally; unclaimed ones stay pending.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("sweeper stopped")
	return nil
}

func storeFailure(err error, op string) error {
	if schema.ErrorCode(err) != "" {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}
