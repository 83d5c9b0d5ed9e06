package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/caseflow/internal/actions"
	"github.com/rendis/caseflow/internal/expressions"
	"github.com/rendis/caseflow/internal/logging"
	"github.com/rendis/caseflow/internal/metrics"
	"github.com/rendis/caseflow/internal/store"
	"github.com/rendis/caseflow/pkg/schema"
)

// RunResult is the outcome of one workflow activation.
type RunResult struct {
	ExecutionID string                 `json:"execution_id"`
	WorkflowID  string                 `json:"workflow_id"`
	Status      schema.ExecutionStatus `json:"status"`
	Error       string                 `json:"error,omitempty"`
	Steps       []StepResult           `json:"steps"`
}

// StepResult summarizes what happened to a single step.
type StepResult struct {
	StepID     string             `json:"step_id"`
	Action     schema.ActionKind  `json:"action"`
	Outcome    schema.StepOutcome `json:"outcome"`
	Error      string             `json:"error,omitempty"`
	DeferredID string             `json:"deferred_id,omitempty"`
	Output     *actions.Output    `json:"output,omitempty"`
}

// Outcome returns the result for stepID, or nil.
func (r *RunResult) Outcome(stepID string) *StepResult {
	for i := range r.Steps {
		if r.Steps[i].StepID == stepID {
			return &r.Steps[i]
		}
	}
	return nil
}

// RunnerConfig holds the Runner's collaborators.
type RunnerConfig struct {
	Store   store.Store
	Actions *actions.Registry
	Guards  expressions.Engine // evaluates Step.When; nil rejects guarded steps
	Metrics *metrics.Collectors
	Logger  *slog.Logger
	Now     func() time.Time
}

// Runner executes one workflow's steps in order for one event.
type Runner struct {
	store   store.Store
	actions *actions.Registry
	guards  expressions.Engine
	metrics *metrics.Collectors
	logger  *slog.Logger
	now     func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runner{
		store:   cfg.Store,
		actions: cfg.Actions,
		guards:  cfg.Guards,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
}

// Run processes wf's steps strictly in order against evt and finalizes the
// execution record. Config errors fail the execution but later steps still
// run; channel and other step errors are recorded and the run continues;
// a store error stops processing. The returned error is non-nil only for
// store failures.
func (r *Runner) Run(ctx context.Context, wf *schema.Workflow, evt *schema.EventContext, executionID string) (*RunResult, error) {
	ctx = logging.WithRun(ctx, wf.FirmID, wf.ID, executionID)
	logger := logging.LogWith(ctx, r.logger)

	res := &RunResult{
		ExecutionID: executionID,
		WorkflowID:  wf.ID,
		Status:      schema.ExecutionStatusRunning,
		Steps:       make([]StepResult, 0, len(wf.Steps)),
	}

	steps := append([]schema.Step(nil), wf.Steps...)
	schema.SortSteps(steps)

	var fatal, firstConfigErr error
	if err := r.record(ctx, executionID, "", schema.EventExecutionStarted, wf.Name); err != nil {
		fatal = err
	}

	tree := evt.Tree()
	for i := range steps {
		if fatal != nil {
			break
		}
		sr, err := r.runStep(ctx, wf, &steps[i], evt, tree, executionID)
		res.Steps = append(res.Steps, sr)
		switch {
		case err == nil:
		case schema.IsStoreError(err):
			fatal = err
		case schema.IsConfigError(err) && firstConfigErr == nil:
			firstConfigErr = err
		}
	}

	switch {
	case fatal != nil:
		res.Status, res.Error = schema.ExecutionStatusFailed, fatal.Error()
	case firstConfigErr != nil:
		res.Status, res.Error = schema.ExecutionStatusFailed, firstConfigErr.Error()
	default:
		res.Status = schema.ExecutionStatusCompleted
	}

	endEvent := schema.EventExecutionCompleted
	if res.Status == schema.ExecutionStatusFailed {
		endEvent = schema.EventExecutionFailed
	}
	if err := r.record(ctx, executionID, "", endEvent, res.Error); err != nil && fatal == nil {
		fatal = err
		res.Status, res.Error = schema.ExecutionStatusFailed, err.Error()
	}
	if err := r.store.FinishExecution(ctx, executionID, res.Status, res.Error); err != nil {
		logger.Error("finalize execution failed", "status", res.Status, "error", err)
		if fatal == nil {
			fatal = storeFailure(err, "finish execution")
		}
	}

	r.metrics.ExecutionFinished(string(res.Status))
	if res.Status == schema.ExecutionStatusFailed {
		logger.Error("execution failed", "error", res.Error, "steps", len(res.Steps))
	} else {
		logger.Info("execution completed", "steps", len(res.Steps))
	}
	return res, fatal
}

func (r *Runner) runStep(ctx context.Context, wf *schema.Workflow, step *schema.Step, evt *schema.EventContext, tree map[string]any, executionID string) (StepResult, error) {
	ctx = logging.WithStepID(ctx, step.ID)
	sr := StepResult{StepID: step.ID, Action: step.Action}

	if step.ConfigErr != nil {
		return r.stepFailed(ctx, executionID, sr, step.ConfigErr)
	}

	pass, err := r.guardsPass(ctx, step, tree)
	if err != nil {
		return r.stepFailed(ctx, executionID, sr, err)
	}
	if !pass {
		sr.Outcome = schema.StepOutcomeSkipped
		r.metrics.StepOutcome(string(step.Action), string(sr.Outcome))
		logging.LogWith(ctx, r.logger).Debug("step skipped")
		return sr, r.record(ctx, executionID, step.ID, schema.EventStepSkipped, "")
	}

	if step.DelayMinutes > 0 {
		ds, err := r.scheduleStep(ctx, wf, step, evt, executionID)
		if err != nil {
			return r.stepFailed(ctx, executionID, sr, err)
		}
		sr.Outcome = schema.StepOutcomeDeferred
		sr.DeferredID = ds.ID
		r.metrics.StepOutcome(string(step.Action), string(sr.Outcome))
		logging.LogWith(ctx, r.logger).Info("step deferred",
			"deferred_id", ds.ID, "execute_at", ds.ExecuteAt.Format(time.RFC3339))
		return sr, r.record(ctx, executionID, step.ID, schema.EventStepDeferred,
			ds.ID+" at "+ds.ExecuteAt.Format(time.RFC3339))
	}

	out, err := r.ExecuteStep(ctx, step, evt, executionID)
	sr.Output = out
	if err != nil {
		return r.stepFailed(ctx, executionID, sr, err)
	}
	sr.Outcome = schema.StepOutcomeCompleted
	r.metrics.StepOutcome(string(step.Action), string(sr.Outcome))
	detail := ""
	if out != nil {
		detail = out.Detail
	}
	return sr, r.record(ctx, executionID, step.ID, schema.EventStepCompleted, detail)
}

// ExecuteStep invokes the step's executor once. Panics are recovered as
// execution errors.
func (r *Runner) ExecuteStep(ctx context.Context, step *schema.Step, evt *schema.EventContext, executionID string) (out *actions.Output, err error) {
	if step.ConfigErr != nil {
		return nil, step.ConfigErr
	}
	action, err := r.actions.Get(step.Action)
	if err != nil {
		return nil, withStep(err, step.ID)
	}

	defer func() {
		if p := recover(); p != nil {
			out, err = nil, panicError(p, step.ID, step.Action)
		}
	}()

	out, err = action.Execute(ctx, actions.Input{
		Step:        step,
		Config:      step.Config,
		Event:       evt,
		ExecutionID: executionID,
	})
	if err != nil {
		return out, withStep(err, step.ID)
	}
	return out, nil
}

// guardsPass evaluates the step's conditions, then its CEL guard.
func (r *Runner) guardsPass(ctx context.Context, step *schema.Step, tree map[string]any) (bool, error) {
	if len(step.Conditions) > 0 {
		ok, err := expressions.EvaluateConditions(step.Conditions, tree)
		if err != nil || !ok {
			return false, stepErrOrNil(err, step.ID)
		}
	}
	if step.When == "" {
		return true, nil
	}
	if r.guards == nil {
		return false, schema.NewError(schema.ErrCodeConfig, "step has a guard expression but no guard engine is configured").
			WithStep(step.ID)
	}
	ok, err := expressions.EvaluateBool(ctx, r.guards, step.When, tree)
	if err != nil {
		return false, withStep(err, step.ID)
	}
	return ok, nil
}

// scheduleStep persists a deferred record due after the step's delay.
func (r *Runner) scheduleStep(ctx context.Context, wf *schema.Workflow, step *schema.Step, evt *schema.EventContext, executionID string) (*store.DeferredStep, error) {
	raw, err := schema.MarshalContext(evt)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "encode event context: %s", err.Error()).
			WithCause(err).WithStep(step.ID)
	}
	now := r.now().UTC()
	ds := &store.DeferredStep{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		WorkflowID:  wf.ID,
		StepID:      step.ID,
		FirmID:      wf.FirmID,
		Context:     raw,
		ExecuteAt:   now.Add(step.Delay()),
		Status:      schema.DeferredStatusPending,
		CreatedAt:   now,
	}
	if err := r.store.CreateDeferredStep(ctx, ds); err != nil {
		return nil, storeFailure(err, "create deferred step")
	}
	return ds, nil
}

// stepFailed logs and records a failed step. A failure to record is
// returned in place of the step error since it is fatal to the run.
func (r *Runner) stepFailed(ctx context.Context, executionID string, sr StepResult, err error) (StepResult, error) {
	sr.Outcome = schema.StepOutcomeFailed
	sr.Error = err.Error()
	r.metrics.StepOutcome(string(sr.Action), string(sr.Outcome))

	logger := logging.LogWith(ctx, r.logger)
	class := errorClass(err)
	if class == "channel" {
		logger.Warn("step failed", "class", class, "error", err)
	} else {
		logger.Error("step failed", "class", class, "error", err)
	}

	if schema.IsStoreError(err) {
		// Best effort: the store is already failing.
		_ = r.record(ctx, executionID, sr.StepID, schema.EventStepFailed, sr.Error)
		return sr, err
	}
	if recErr := r.record(ctx, executionID, sr.StepID, schema.EventStepFailed, sr.Error); recErr != nil {
		return sr, recErr
	}
	return sr, err
}

func (r *Runner) record(ctx context.Context, executionID, stepID, eventType, detail string) error {
	err := r.store.AppendExecutionEvent(ctx, &store.ExecutionEvent{
		ExecutionID: executionID,
		StepID:      stepID,
		Type:        eventType,
		Detail:      detail,
		Timestamp:   r.now().UTC(),
	})
	return storeFailure(err, "append "+eventType)
}

func stepErrOrNil(err error, stepID string) error {
	if err == nil {
		return nil
	}
	return withStep(err, stepID)
}
