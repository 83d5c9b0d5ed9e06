package scheduler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/caseflow/internal/actions"
	"github.com/rendis/caseflow/internal/engine"
	"github.com/rendis/caseflow/internal/expressions"
	"github.com/rendis/caseflow/internal/metrics"
	"github.com/rendis/caseflow/internal/store"
	"github.com/rendis/caseflow/internal/validation"
	"github.com/rendis/caseflow/pkg/schema"
)

// countingAction records invocations and fails when err is set.
type countingAction struct {
	kind  schema.ActionKind
	calls atomic.Int32
	err   error
}

func (a *countingAction) Kind() schema.ActionKind { return a.kind }

func (a *countingAction) Execute(context.Context, actions.Input) (*actions.Output, error) {
	a.calls.Add(1)
	if a.err != nil {
		return nil, a.err
	}
	return &actions.Output{Affected: 1}, nil
}

// slowAction blocks until released or its context ends, and keeps the
// context error it saw.
type slowAction struct {
	kind    schema.ActionKind
	started chan struct{}
	release chan struct{}
	once    sync.Once

	mu     sync.Mutex
	ctxErr error
}

func newSlowAction(kind schema.ActionKind) *slowAction {
	return &slowAction{kind: kind, started: make(chan struct{}), release: make(chan struct{})}
}

func (a *slowAction) Kind() schema.ActionKind { return a.kind }

func (a *slowAction) Execute(ctx context.Context, _ actions.Input) (*actions.Output, error) {
	a.once.Do(func() { close(a.started) })
	select {
	case <-a.release:
	case <-ctx.Done():
	}
	a.mu.Lock()
	a.ctxErr = ctx.Err()
	a.mu.Unlock()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return &actions.Output{Affected: 1}, nil
}

func (a *slowAction) seenErr() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ctxErr
}

// sentEmail is one captured outbound email.
type sentEmail struct {
	To, Subject, Body string
}

// recordingSender captures outbound emails.
type recordingSender struct {
	mu   sync.Mutex
	sent []sentEmail
}

func (r *recordingSender) SendEmail(_ context.Context, to, subject, _, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentEmail{To: to, Subject: subject, Body: text})
	return nil
}

func (r *recordingSender) SendSMS(context.Context, string, string) error { return nil }

func (r *recordingSender) messages() []sentEmail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentEmail(nil), r.sent...)
}

// contestedStore loses every claim, as if another sweeper got there first.
type contestedStore struct {
	store.Store
}

func (contestedStore) ClaimDeferredStep(context.Context, string, string, time.Time) (bool, error) {
	return false, nil
}

type fixture struct {
	store    *store.LibSQLStore
	registry *actions.Registry
	task     *countingAction
	catalog  *engine.Catalog
	runner   *engine.Runner
	metrics  *metrics.Collectors
	logger   *slog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "sweep.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	f := &fixture{
		store:    s,
		registry: actions.NewRegistry(),
		task:     &countingAction{kind: schema.ActionCreateTask},
		metrics:  metrics.New(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	require.NoError(t, f.registry.Register(f.task))
	f.wire(t)
	return f
}

func (f *fixture) wire(t *testing.T) {
	t.Helper()
	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)
	filters := expressions.NewExprEngine()
	wv, err := validation.NewWorkflowValidator(cel, filters)
	require.NoError(t, err)

	f.catalog = engine.NewCatalog(f.store, wv)
	f.runner = engine.NewRunner(engine.RunnerConfig{
		Store:   f.store,
		Actions: f.registry,
		Guards:  cel,
		Metrics: f.metrics,
		Logger:  f.logger,
	})
}

func (f *fixture) sweeper(t *testing.T, st store.Store, mutate func(*Config)) *Sweeper {
	t.Helper()
	cfg := Config{
		Store:    st,
		Catalog:  f.catalog,
		Runner:   f.runner,
		Pool:     engine.NewWorkerPool(4, nil),
		Metrics:  f.metrics,
		Logger:   f.logger,
		WorkerID: "sweeper-" + uuid.New().String()[:4],
	}
	if mutate != nil {
		mutate(&cfg)
	}
	sw, err := New(cfg)
	require.NoError(t, err)
	return sw
}

// deferTask seeds a workflow with one create_task step and a pending record
// for it, due at executeAt.
func (f *fixture) deferTask(t *testing.T, executeAt time.Time) *store.DeferredStep {
	t.Helper()
	ctx := context.Background()
	wf := &schema.Workflow{
		ID:      uuid.New().String(),
		FirmID:  "firm-1",
		Name:    "deferred",
		Trigger: schema.TriggerTaskOverdue,
		Active:  true,
		Steps: []schema.Step{{
			ID: uuid.New().String(), Order: 1, Action: schema.ActionCreateTask,
			DelayMinutes: 60, RawConfig: map[string]any{"title": "Chase {{caseName}}"},
		}},
	}
	require.NoError(t, f.store.CreateWorkflow(ctx, wf))

	raw, err := schema.MarshalContext(&schema.EventContext{FirmID: "firm-1", CaseID: "case-1", CaseName: "Doe v. Roe"})
	require.NoError(t, err)
	ds := &store.DeferredStep{
		ID:         uuid.New().String(),
		WorkflowID: wf.ID,
		StepID:     wf.Steps[0].ID,
		FirmID:     wf.FirmID,
		Context:    raw,
		ExecuteAt:  executeAt.UTC(),
	}
	require.NoError(t, f.store.CreateDeferredStep(ctx, ds))
	return ds
}

func (f *fixture) record(t *testing.T, id string) *store.DeferredStep {
	t.Helper()
	ds, err := f.store.GetDeferredStep(context.Background(), id)
	require.NoError(t, err)
	return ds
}

func TestNew_RejectsBadSchedule(t *testing.T) {
	f := newFixture(t)
	_, err := New(Config{Store: f.store, Catalog: f.catalog, Runner: f.runner, Schedule: "every now and then"})
	require.Error(t, err)
	assert.True(t, schema.IsConfigError(err))

	for _, spec := range []string{"@every 30s", "*/5 * * * *", "0 */2 * * * *", "@hourly"} {
		_, err := ParseSchedule(spec)
		assert.NoError(t, err, spec)
	}
}

func TestSweep_ExecutesDueRecords(t *testing.T) {
	f := newFixture(t)
	due := f.deferTask(t, time.Now().Add(-time.Minute))
	later := f.deferTask(t, time.Now().Add(time.Hour))

	res, err := f.sweeper(t, f.store, nil).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Due)
	assert.Equal(t, 1, res.Executed)
	assert.Equal(t, int32(1), f.task.calls.Load())

	got := f.record(t, due.ID)
	assert.Equal(t, schema.DeferredStatusExecuted, got.Status)
	assert.NotNil(t, got.ExecutedAt)
	assert.NotEmpty(t, got.ClaimedBy)

	assert.Equal(t, schema.DeferredStatusPending, f.record(t, later.ID).Status)
}

func TestSweep_ExecutesAtMostOnce(t *testing.T) {
	f := newFixture(t)
	var ids []string
	for range 5 {
		ids = append(ids, f.deferTask(t, time.Now().Add(-time.Second)).ID)
	}

	a := f.sweeper(t, f.store, nil)
	b := f.sweeper(t, f.store, nil)

	var wg sync.WaitGroup
	results := make([]*SweepResult, 2)
	for i, sw := range []*Sweeper{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := sw.Sweep(context.Background())
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), f.task.calls.Load())
	assert.Equal(t, 5, results[0].Executed+results[1].Executed)
	for _, id := range ids {
		assert.Equal(t, schema.DeferredStatusExecuted, f.record(t, id).Status)
	}

	// A later sweep finds nothing left to do.
	res, err := a.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Due)
	assert.Equal(t, int32(5), f.task.calls.Load())
}

func TestSweep_LostClaimIsSkipped(t *testing.T) {
	f := newFixture(t)
	ds := f.deferTask(t, time.Now().Add(-time.Second))

	res, err := f.sweeper(t, contestedStore{Store: f.store}, nil).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Lost)
	assert.Zero(t, res.Claimed)
	assert.Zero(t, f.task.calls.Load())
	assert.Equal(t, schema.DeferredStatusPending, f.record(t, ds.ID).Status)
}

func TestSweep_FailureIsRecordedAndNotRetried(t *testing.T) {
	f := newFixture(t)
	f.task.err = schema.NewError(schema.ErrCodeChannel, "upstream down")
	ds := f.deferTask(t, time.Now().Add(-time.Second))
	sw := f.sweeper(t, f.store, nil)

	res, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	got := f.record(t, ds.ID)
	assert.Equal(t, schema.DeferredStatusFailed, got.Status)
	assert.Contains(t, got.Error, "upstream down")

	_, err = sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.task.calls.Load())
}

func TestSweep_MissingStepFails(t *testing.T) {
	f := newFixture(t)
	ds := &store.DeferredStep{
		ID: uuid.New().String(), WorkflowID: "gone", StepID: "gone-s1", FirmID: "firm-1",
		Context: []byte(`{"firmId":"firm-1"}`), ExecuteAt: time.Now().Add(-time.Second).UTC(),
	}
	require.NoError(t, f.store.CreateDeferredStep(context.Background(), ds))

	res, err := f.sweeper(t, f.store, nil).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, schema.DeferredStatusFailed, f.record(t, ds.ID).Status)
}

func TestRequeue(t *testing.T) {
	f := newFixture(t)
	f.task.err = errors.New("flaky")
	ds := f.deferTask(t, time.Now().Add(-time.Second))
	sw := f.sweeper(t, f.store, nil)
	ctx := context.Background()

	_, err := sw.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, schema.DeferredStatusFailed, f.record(t, ds.ID).Status)

	f.task.err = nil
	require.NoError(t, sw.Requeue(ctx, ds.ID, time.Time{}))
	got := f.record(t, ds.ID)
	assert.Equal(t, schema.DeferredStatusPending, got.Status)
	assert.Empty(t, got.Error)

	_, err = sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.DeferredStatusExecuted, f.record(t, ds.ID).Status)
	assert.Equal(t, int32(2), f.task.calls.Load())

	err = sw.Requeue(ctx, ds.ID, time.Time{})
	assert.Equal(t, schema.ErrCodeInvalidTransition, schema.ErrorCode(err))

	err = sw.Requeue(ctx, "missing", time.Time{})
	assert.True(t, schema.IsNotFound(err))
}

func TestSweep_ReportsStaleClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ds := f.deferTask(t, time.Now().Add(-time.Hour))
	won, err := f.store.ClaimDeferredStep(ctx, ds.ID, "crashed-worker", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, won)

	var buf bytes.Buffer
	sw := f.sweeper(t, f.store, func(c *Config) {
		c.Logger = slog.New(slog.NewTextHandler(&buf, nil))
		c.StaleAfter = 10 * time.Minute
	})
	res, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stale)
	assert.Zero(t, res.Due)
	assert.Contains(t, buf.String(), "crashed-worker")
	assert.Equal(t, schema.DeferredStatusRunning, f.record(t, ds.ID).Status, "stale claims are only reported")
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	ds := f.deferTask(t, time.Now().Add(-time.Second))
	sw := f.sweeper(t, f.store, func(c *Config) { c.Schedule = "@every 1h" })

	require.NoError(t, sw.Start(context.Background()))
	assert.Error(t, sw.Start(context.Background()))

	require.Eventually(t, func() bool {
		return f.record(t, ds.ID).Status == schema.DeferredStatusExecuted
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, sw.Stop())
	require.NoError(t, sw.Stop())
}

func TestStop_LetsClaimedStepFinish(t *testing.T) {
	f := newFixture(t)
	slow := newSlowAction(schema.ActionCreateTask)
	f.registry = actions.NewRegistry()
	require.NoError(t, f.registry.Register(slow))
	f.wire(t)

	ds := f.deferTask(t, time.Now().Add(-time.Second))
	sw := f.sweeper(t, f.store, func(c *Config) { c.Schedule = "@every 1h" })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sw.Start(ctx))

	select {
	case <-slow.started:
	case <-time.After(5 * time.Second):
		t.Fatal("deferred step never started")
	}

	// Shutdown path: the signal context ends, then Stop is called.
	stopped := make(chan error, 1)
	go func() {
		cancel()
		stopped <- sw.Stop()
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a claimed step was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(slow.release)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	assert.NoError(t, slow.seenErr(), "the running step keeps a live context")
	got := f.record(t, ds.ID)
	assert.Equal(t, schema.DeferredStatusExecuted, got.Status)
	assert.Empty(t, got.Error)
}

func TestSweep_CancelledContextClaimsNothing(t *testing.T) {
	f := newFixture(t)
	ds := f.deferTask(t, time.Now().Add(-time.Minute))
	sw := f.sweeper(t, f.store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := sw.Sweep(ctx)
	if err == nil {
		assert.Zero(t, res.Claimed)
	}
	assert.Equal(t, schema.DeferredStatusPending, f.record(t, ds.ID).Status)
	assert.Zero(t, f.task.calls.Load())
}

// TestSweep_TwoStepScenario dispatches a workflow with an immediate
// notification and an email delayed by a day, then sweeps a day later.
func TestSweep_TwoStepScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateUser(ctx, &store.User{ID: "dana", FirmID: "firm-1", Name: "Dana", Email: "dana@firm.test"}))

	sender := &recordingSender{}
	f.registry = actions.NewRegistry()
	require.NoError(t, actions.RegisterBuiltins(f.registry, &actions.Deps{Store: f.store, Sender: sender, Logger: f.logger}))
	f.wire(t)

	wf := &schema.Workflow{
		ID: "wf-discovery", FirmID: "firm-1", Name: "Discovery reminders",
		Trigger: schema.TriggerDiscoveryResponseDue, Active: true,
		Steps: []schema.Step{
			{ID: "notify", Order: 1, Action: schema.ActionNotifyUser, RawConfig: map[string]any{
				"recipientType": "assigned_user", "title": "Discovery due", "message": "{{caseName}}",
			}},
			{ID: "email", Order: 2, Action: schema.ActionSendEmail, DelayMinutes: 1440, RawConfig: map[string]any{
				"recipientType": "assigned_user", "subject": "Reminder: {{caseName}}", "body": "Responses are due.",
			}},
		},
	}
	require.NoError(t, f.store.CreateWorkflow(ctx, wf))

	filters := expressions.NewExprEngine()
	dispatcher := engine.NewDispatcher(engine.DispatcherConfig{
		Store: f.store, Catalog: f.catalog, Runner: f.runner, Filters: filters, Logger: f.logger,
	})
	res, err := dispatcher.Dispatch(ctx, schema.TriggerDiscoveryResponseDue, &schema.EventContext{
		FirmID: "firm-1", CaseID: "case-1", CaseName: "Doe v. Roe", UserID: "dana",
	})
	require.NoError(t, err)
	require.Len(t, res.Executions, 1)

	ns, err := f.store.ListNotifications(ctx, store.NotificationFilter{UserID: "dana"})
	require.NoError(t, err)
	assert.Len(t, ns, 1)
	assert.Empty(t, sender.messages())

	// Nothing is due yet.
	sw := f.sweeper(t, f.store, nil)
	sweep, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, sweep.Due)

	tomorrow := f.sweeper(t, f.store, func(c *Config) {
		c.Now = func() time.Time { return time.Now().Add(24*time.Hour + time.Minute) }
	})
	sweep, err = tomorrow.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.Executed)

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "dana@firm.test", msgs[0].To)
	assert.Equal(t, "Reminder: Doe v. Roe", msgs[0].Subject)

	records, err := f.store.ListDeferredSteps(ctx, store.DeferredFilter{ExecutionID: res.Executions[0]})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, schema.DeferredStatusExecuted, records[0].Status)

	trace, err := store.NewEventLog(f.store).Replay(ctx, res.Executions[0])
	require.NoError(t, err)
	assert.Equal(t, schema.StepOutcomeCompleted, trace.Steps["email"].Outcome)
}
