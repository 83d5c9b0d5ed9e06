package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/rendis/caseflow/internal/actions"
	"github.com/rendis/caseflow/internal/expressions"
	"github.com/rendis/caseflow/internal/metrics"
	"github.com/rendis/caseflow/internal/store"
	"github.com/rendis/caseflow/internal/validation"
	"github.com/rendis/caseflow/pkg/schema"
)

// stubAction counts invocations and optionally fails or panics.
type stubAction struct {
	kind  schema.ActionKind
	calls atomic.Int32
	err   error
	panic string
	hook  func(ctx context.Context)
	mu    sync.Mutex
	seen  []string // step IDs in invocation order
}

func (s *stubAction) Kind() schema.ActionKind { return s.kind }

func (s *stubAction) Execute(ctx context.Context, in actions.Input) (*actions.Output, error) {
	s.calls.Add(1)
	if s.hook != nil {
		s.hook(ctx)
	}
	s.mu.Lock()
	s.seen = append(s.seen, in.Step.ID)
	s.mu.Unlock()
	if s.panic != "" {
		panic(s.panic)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &actions.Output{Affected: 1}, nil
}

func (s *stubAction) stepIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen...)
}

// failingDeferredStore simulates the store going away mid-run.
type failingDeferredStore struct {
	store.Store
}

func (failingDeferredStore) CreateDeferredStep(context.Context, *store.DeferredStep) error {
	return errors.New("database is locked")
}

type harness struct {
	store      *store.LibSQLStore
	stubs      map[schema.ActionKind]*stubAction
	registry   *actions.Registry
	catalog    *Catalog
	runner     *Runner
	dispatcher *Dispatcher
	metrics    *metrics.Collectors
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	h := &harness{
		store:    s,
		stubs:    make(map[schema.ActionKind]*stubAction),
		registry: actions.NewRegistry(),
		metrics:  metrics.New(),
	}
	for _, k := range schema.ActionKinds {
		stub := &stubAction{kind: k}
		h.stubs[k] = stub
		require.NoError(t, h.registry.Register(stub))
	}
	h.build(t, s)
	return h
}

// build wires catalog, runner and dispatcher over st.
func (h *harness) build(t *testing.T, st store.Store) {
	t.Helper()
	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)
	filters := expressions.NewExprEngine()
	wv, err := validation.NewWorkflowValidator(cel, filters)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.catalog = NewCatalog(st, wv)
	h.runner = NewRunner(RunnerConfig{
		Store:   st,
		Actions: h.registry,
		Guards:  cel,
		Metrics: h.metrics,
		Logger:  logger,
	})
	h.dispatcher = NewDispatcher(DispatcherConfig{
		Store:   st,
		Catalog: h.catalog,
		Runner:  h.runner,
		Filters: filters,
		Logger:  logger,
		Limit:   4,
	})
}

func notifyStep(order int) schema.Step {
	return schema.Step{
		Order:  order,
		Action: schema.ActionNotifyUser,
		RawConfig: map[string]any{
			"recipientType": "assigned_user", "title": "Heads up", "message": "{{caseName}}",
		},
	}
}

func emailStep(order int) schema.Step {
	return schema.Step{
		Order:  order,
		Action: schema.ActionSendEmail,
		RawConfig: map[string]any{
			"recipientType": "assigned_user", "subject": "Reminder", "body": "{{caseName}}",
		},
	}
}

func taskStep(order int) schema.Step {
	return schema.Step{
		Order:     order,
		Action:    schema.ActionCreateTask,
		RawConfig: map[string]any{"title": "Follow up"},
	}
}

// seed persists an active workflow for firm-1. Steps without IDs get
// "<workflow>-s<i>".
func (h *harness) seed(t *testing.T, trigger schema.TriggerKind, steps ...schema.Step) *schema.Workflow {
	t.Helper()
	wf := &schema.Workflow{
		ID:      uuid.New().String(),
		FirmID:  "firm-1",
		Name:    "wf " + string(trigger),
		Trigger: trigger,
		Active:  true,
		Steps:   steps,
	}
	for i := range wf.Steps {
		if wf.Steps[i].ID == "" {
			wf.Steps[i].ID = fmt.Sprintf("%s-s%d", wf.ID, i)
		}
	}
	require.NoError(t, h.store.CreateWorkflow(context.Background(), wf))
	return wf
}

// load returns the persisted, prepared workflow.
func (h *harness) load(t *testing.T, id string) *schema.Workflow {
	t.Helper()
	wf, err := h.catalog.Workflow(context.Background(), id)
	require.NoError(t, err)
	return wf
}

// begin creates a running execution record for wf.
func (h *harness) begin(t *testing.T, wf *schema.Workflow, evt *schema.EventContext) string {
	t.Helper()
	raw, err := schema.MarshalContext(evt)
	require.NoError(t, err)
	exec := &store.Execution{
		ID:         uuid.New().String(),
		WorkflowID: wf.ID,
		FirmID:     wf.FirmID,
		Trigger:    wf.Trigger,
		Context:    raw,
		Status:     schema.ExecutionStatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	require.NoError(t, h.store.CreateExecution(context.Background(), exec))
	return exec.ID
}

func (h *harness) execution(t *testing.T, id string) *store.Execution {
	t.Helper()
	exec, err := h.store.GetExecution(context.Background(), id)
	require.NoError(t, err)
	return exec
}

func testEvent() *schema.EventContext {
	return &schema.EventContext{
		FirmID:     "firm-1",
		CaseID:     "case-1",
		CaseName:   "Doe v. Roe",
		UserID:     "dana",
		EntityID:   "inv-1",
		EntityType: "invoice",
		Metadata:   map[string]any{"amount": 150, "entitySubtype": "retainer"},
	}
}
