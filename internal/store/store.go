package store

import (
	"context"
	"time"

	"github.com/rendis/caseflow/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflows (firm configuration, read-only to the engine)
	CreateWorkflow(ctx context.Context, wf *schema.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error)
	SetWorkflowActive(ctx context.Context, id string, active bool) error
	GetStep(ctx context.Context, stepID string) (*schema.Step, error)

	// Execution records
	CreateExecution(ctx context.Context, exec *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	FinishExecution(ctx context.Context, id string, status schema.ExecutionStatus, errMsg string) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error)

	// Execution event log (append-only)
	AppendExecutionEvent(ctx context.Context, event *ExecutionEvent) error
	ListExecutionEvents(ctx context.Context, executionID string) ([]*ExecutionEvent, error)

	// Deferred steps (the sweep queue)
	CreateDeferredStep(ctx context.Context, ds *DeferredStep) error
	GetDeferredStep(ctx context.Context, id string) (*DeferredStep, error)
	ListDueDeferredSteps(ctx context.Context, now time.Time, limit int) ([]*DeferredStep, error)
	ListDeferredSteps(ctx context.Context, filter DeferredFilter) ([]*DeferredStep, error)
	ClaimDeferredStep(ctx context.Context, id, claimedBy string, at time.Time) (bool, error)
	FinishDeferredStep(ctx context.Context, id string, status schema.DeferredStatus, errMsg string, at time.Time) error
	RequeueDeferredStep(ctx context.Context, id string, executeAt time.Time) error

	// Directory
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	ListCaseTeam(ctx context.Context, firmID, caseID string) ([]*User, error)
	ListFirmAdmins(ctx context.Context, firmID string) ([]*User, error)
	GetCaseLead(ctx context.Context, firmID, caseID string) (*User, error)
	AssignToCase(ctx context.Context, caseID, userID, role string) error

	// Notifications and tasks
	CreateNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, filter NotificationFilter) ([]*Notification, error)
	CreateTask(ctx context.Context, t *Task) error
	ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error)

	// Chat integrations
	UpsertChatIntegration(ctx context.Context, ci *ChatIntegration) error
	GetChatIntegration(ctx context.Context, firmID, provider string) (*ChatIntegration, error)

	// Domain entities (whitelisted tables only)
	UpsertEntity(ctx context.Context, table string, e *Entity) error
	GetEntity(ctx context.Context, table, id string) (*Entity, error)
	UpdateEntityStatus(ctx context.Context, table, id, status string) error
	AssignEntity(ctx context.Context, table, id, userID string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}

// entityTables maps entity types (and table names) to the whitelisted tables
// executors may mutate.
var entityTables = map[string]string{
	"case":               "cases",
	"cases":              "cases",
	"document":           "documents",
	"documents":          "documents",
	"task":               "tasks",
	"tasks":              "tasks",
	"invoice":            "invoices",
	"invoices":           "invoices",
	"discovery_request":  "discovery_requests",
	"discovery_requests": "discovery_requests",
	"deadline":           "deadlines",
	"deadlines":          "deadlines",
}

// EntityTable resolves an entity type or table name to a whitelisted table.
func EntityTable(name string) (string, bool) {
	t, ok := entityTables[name]
	return t, ok
}
