package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/caseflow/pkg/schema"
)

// Execution is the audit record of one workflow activation.
type Execution struct {
	ID          string                 `json:"id"`
	WorkflowID  string                 `json:"workflow_id"`
	FirmID      string                 `json:"firm_id"`
	Trigger     schema.TriggerKind     `json:"trigger"`
	Context     json.RawMessage        `json:"context"`
	Status      schema.ExecutionStatus `json:"status"`
	Error       string                 `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// ExecutionEvent is an immutable entry in an execution's step log.
type ExecutionEvent struct {
	ID          int64     `json:"id"`
	ExecutionID string    `json:"execution_id"`
	StepID      string    `json:"step_id,omitempty"`
	Type        string    `json:"event_type"`
	Detail      string    `json:"detail,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Sequence    int64     `json:"sequence"`
}

// DeferredStep is a persisted marker causing one step to execute later.
type DeferredStep struct {
	ID          string                `json:"id"`
	ExecutionID string                `json:"execution_id,omitempty"`
	WorkflowID  string                `json:"workflow_id"`
	StepID      string                `json:"step_id"`
	FirmID      string                `json:"firm_id"`
	Context     json.RawMessage       `json:"context"`
	ExecuteAt   time.Time             `json:"execute_at"`
	ExecutedAt  *time.Time            `json:"executed_at,omitempty"`
	Status      schema.DeferredStatus `json:"status"`
	Error       string                `json:"error,omitempty"`
	ClaimedBy   string                `json:"claimed_by,omitempty"`
	ClaimedAt   *time.Time            `json:"claimed_at,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
}

// User is a member of a firm as seen by recipient resolution.
type User struct {
	ID     string `json:"id"`
	FirmID string `json:"firm_id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
	Role   string `json:"role"` // owner, admin, attorney, paralegal, staff
}

// User roles that count as firm administrators.
const (
	RoleOwner = "owner"
	RoleAdmin = "admin"
)

// Case team roles.
const (
	CaseRoleLead   = "lead"
	CaseRoleMember = "member"
)

// Notification is an in-app notification written by notify_user.
type Notification struct {
	ID          string    `json:"id"`
	FirmID      string    `json:"firm_id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	ActionURL   string    `json:"action_url,omitempty"`
	Priority    string    `json:"priority,omitempty"`
	WorkflowID  string    `json:"workflow_id,omitempty"`
	ExecutionID string    `json:"execution_id,omitempty"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"created_at"`
}

// Task is a task entity created by create_task.
type Task struct {
	ID          string     `json:"id"`
	FirmID      string     `json:"firm_id"`
	CaseID      string     `json:"case_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Priority    string     `json:"priority,omitempty"`
	Status      string     `json:"status"`
	WorkflowID  string     `json:"workflow_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ChatIntegration is a firm's configured chat provider.
type ChatIntegration struct {
	ID          string    `json:"id"`
	FirmID      string    `json:"firm_id"`
	Provider    string    `json:"provider"` // slack, teams, discord, google_chat
	Enabled     bool      `json:"enabled"`
	WebhookURL  string    `json:"webhook_url,omitempty"`
	AccessToken string    `json:"-"`
	ChannelID   string    `json:"channel_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Entity is the status/assignment view of a domain row executors may mutate.
type Entity struct {
	ID         string    `json:"id"`
	FirmID     string    `json:"firm_id"`
	Status     string    `json:"status"`
	AssignedTo string    `json:"assigned_to,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// --- Filter types ---

// WorkflowFilter specifies criteria for listing workflows.
type WorkflowFilter struct {
	FirmID  string             `json:"firm_id,omitempty"`
	Trigger schema.TriggerKind `json:"trigger,omitempty"`
	Active  *bool              `json:"active,omitempty"`
	Limit   int                `json:"limit,omitempty"`
}

// ExecutionFilter specifies criteria for listing executions.
type ExecutionFilter struct {
	WorkflowID string                  `json:"workflow_id,omitempty"`
	FirmID     string                  `json:"firm_id,omitempty"`
	Status     *schema.ExecutionStatus `json:"status,omitempty"`
	Limit      int                     `json:"limit,omitempty"`
}

// DeferredFilter specifies criteria for listing deferred steps.
type DeferredFilter struct {
	ExecutionID   string                 `json:"execution_id,omitempty"`
	WorkflowID    string                 `json:"workflow_id,omitempty"`
	Status        *schema.DeferredStatus `json:"status,omitempty"`
	ClaimedBefore *time.Time             `json:"claimed_before,omitempty"`
	Limit         int                    `json:"limit,omitempty"`
}

// NotificationFilter specifies criteria for listing notifications.
type NotificationFilter struct {
	FirmID      string `json:"firm_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	ExecutionID string `json:"execution_id,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// TaskFilter specifies criteria for listing tasks.
type TaskFilter struct {
	FirmID     string `json:"firm_id,omitempty"`
	CaseID     string `json:"case_id,omitempty"`
	AssignedTo string `json:"assigned_to,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}
