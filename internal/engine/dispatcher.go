package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rendis/caseflow/internal/expressions"
	"github.com/rendis/caseflow/internal/logging"
	"github.com/rendis/caseflow/internal/store"
	"github.com/rendis/caseflow/internal/validation"
	"github.com/rendis/caseflow/pkg/schema"
)

// DefaultDispatchLimit bounds concurrent runs started by one event.
const DefaultDispatchLimit = 8

// DispatcherConfig holds the Dispatcher's collaborators.
type DispatcherConfig struct {
	Store   store.Store
	Catalog *Catalog
	Runner  *Runner
	Filters expressions.Engine // evaluates Workflow.Filter; nil ignores filters
	Logger  *slog.Logger
	Limit   int
	Now     func() time.Time
}

// Dispatcher matches domain events to active workflows and runs them.
type Dispatcher struct {
	store   store.Store
	catalog *Catalog
	runner  *Runner
	filters expressions.Engine
	logger  *slog.Logger
	limit   int
	now     func() time.Time
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultDispatchLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Dispatcher{
		store:   cfg.Store,
		catalog: cfg.Catalog,
		runner:  cfg.Runner,
		filters: cfg.Filters,
		logger:  cfg.Logger,
		limit:   cfg.Limit,
		now:     cfg.Now,
	}
}

// DispatchResult lists the executions started for one event.
type DispatchResult struct {
	Trigger    schema.TriggerKind `json:"trigger"`
	Executions []string           `json:"executions"`
	Results    []*RunResult       `json:"results"`
}

// Dispatch starts one independent run per matching active workflow and
// waits for all of them. Runs never affect each other: a failing run is
// recorded on its own execution record and never surfaces here. The
// returned error covers invalid input and workflow lookup only.
func (d *Dispatcher) Dispatch(ctx context.Context, trigger schema.TriggerKind, evt *schema.EventContext) (*DispatchResult, error) {
	if evt == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "event context is required")
	}
	if err := validation.ValidateEventContext(evt); err != nil {
		return nil, err
	}
	if !trigger.IsKnown() {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown trigger kind %q", trigger)
	}

	ctx = logging.WithFirmID(ctx, evt.FirmID)
	logger := logging.LogWith(ctx, d.logger).With("trigger", string(trigger))

	wfs, err := d.catalog.ActiveWorkflows(ctx, evt.FirmID, trigger)
	if err != nil {
		return nil, err
	}
	matched := d.match(ctx, logger, wfs, evt)

	result := &DispatchResult{
		Trigger:    trigger,
		Executions: make([]string, len(matched)),
		Results:    make([]*RunResult, len(matched)),
	}
	if len(matched) == 0 {
		logger.Debug("no matching workflows")
		return result, nil
	}

	raw, err := schema.MarshalContext(evt)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "encode event context: %s", err.Error()).WithCause(err)
	}

	// Once started a run is never aborted by its caller; logging values
	// carry over.
	runCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(d.limit)
	for i, wf := range matched {
		execID := uuid.New().String()
		result.Executions[i] = execID
		g.Go(func() error {
			result.Results[i] = d.start(runCtx, wf, trigger, evt, raw, execID)
			return nil
		})
	}
	// start reports failures in its RunResult; Wait is only a barrier.
	g.Wait()

	logger.Info("event dispatched", "matched", len(matched))
	return result, nil
}

// TriggerWorkflow is the fire-and-forget inbound entry point: errors are
// logged, never returned.
func (d *Dispatcher) TriggerWorkflow(ctx context.Context, trigger schema.TriggerKind, evt *schema.EventContext) {
	if _, err := d.Dispatch(ctx, trigger, evt); err != nil {
		d.logger.ErrorContext(ctx, "trigger dispatch failed", "trigger", string(trigger), "error", err)
	}
}

// match keeps workflows whose subtype and filter accept the event.
func (d *Dispatcher) match(ctx context.Context, logger *slog.Logger, wfs []*schema.Workflow, evt *schema.EventContext) []*schema.Workflow {
	subtype := evt.Subtype()
	var tree map[string]any
	matched := make([]*schema.Workflow, 0, len(wfs))
	for _, wf := range wfs {
		if wf.EntitySubtype != "" && wf.EntitySubtype != subtype {
			continue
		}
		if wf.Filter != "" {
			if d.filters == nil {
				logger.Warn("workflow filter ignored: no filter engine", "workflow_id", wf.ID)
			} else {
				if tree == nil {
					tree = evt.Tree()
				}
				ok, err := expressions.EvaluateBool(ctx, d.filters, wf.Filter, tree)
				if err != nil {
					logger.Warn("workflow filter failed", "workflow_id", wf.ID, "error", err)
					continue
				}
				if !ok {
					continue
				}
			}
		}
		matched = append(matched, wf)
	}
	return matched
}

// start creates the execution record and runs the workflow. Panics are
// contained to this run and mark its record failed.
func (d *Dispatcher) start(ctx context.Context, wf *schema.Workflow, trigger schema.TriggerKind, evt *schema.EventContext, raw []byte, execID string) (res *RunResult) {
	ctx = logging.WithRun(ctx, wf.FirmID, wf.ID, execID)
	logger := logging.LogWith(ctx, d.logger)

	defer func() {
		if p := recover(); p != nil {
			msg := fmt.Sprintf("run panicked: %v", p)
			logger.Error("run panicked", "panic", p)
			if err := d.store.FinishExecution(ctx, execID, schema.ExecutionStatusFailed, msg); err != nil {
				logger.Error("finalize panicked execution failed", "error", err)
			}
			res = &RunResult{ExecutionID: execID, WorkflowID: wf.ID, Status: schema.ExecutionStatusFailed, Error: msg}
		}
	}()

	exec := &store.Execution{
		ID:         execID,
		WorkflowID: wf.ID,
		FirmID:     evt.FirmID,
		Trigger:    trigger,
		Context:    raw,
		Status:     schema.ExecutionStatusRunning,
		StartedAt:  d.now().UTC(),
	}
	if err := d.store.CreateExecution(ctx, exec); err != nil {
		logger.Error("create execution failed", "error", err)
		return &RunResult{ExecutionID: execID, WorkflowID: wf.ID, Status: schema.ExecutionStatusFailed,
			Error: storeFailure(err, "create execution").Error()}
	}

	res, err := d.runner.Run(ctx, wf, evt, execID)
	if err != nil {
		logger.Error("run aborted", "error", err)
	}
	return res
}
