package actions

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/caseflow/internal/expressions"
	"github.com/rendis/caseflow/internal/logging"
	"github.com/rendis/caseflow/internal/store"
	"github.com/rendis/caseflow/pkg/schema"
)

// CreateTaskAction creates a task entity, optionally assigned and dated.
type CreateTaskAction struct {
	deps *Deps
}

// NewCreateTaskAction creates the create_task executor.
func NewCreateTaskAction(deps *Deps) *CreateTaskAction {
	return &CreateTaskAction{deps: deps.withDefaults()}
}

func (a *CreateTaskAction) Kind() schema.ActionKind { return schema.ActionCreateTask }

func (a *CreateTaskAction) Execute(ctx context.Context, in Input) (*Output, error) {
	cfg, err := configFor[schema.CreateTaskConfig](in)
	if err != nil {
		return nil, err
	}

	assignee, err := a.assignee(ctx, cfg, in.Event)
	if err != nil {
		return nil, err
	}

	now := a.deps.Now().UTC()
	tree := in.Event.Tree()
	task := &store.Task{
		ID:          uuid.New().String(),
		FirmID:      in.Event.FirmID,
		CaseID:      in.Event.CaseID,
		Title:       expressions.Interpolate(cfg.Title, tree),
		Description: expressions.Interpolate(cfg.Description, tree),
		AssignedTo:  assignee,
		Priority:    cfg.Priority,
		WorkflowID:  in.WorkflowID(),
		CreatedAt:   now,
	}
	if cfg.DueDays != nil {
		due := now.Add(time.Duration(*cfg.DueDays) * 24 * time.Hour)
		task.DueDate = &due
	}

	if err := a.deps.Store.CreateTask(ctx, task); err != nil {
		return nil, storeFailure(err, "create task")
	}
	return &Output{Affected: 1, Detail: task.ID}, nil
}

// assignee resolves the task owner: a literal ID wins, then the selector.
// A case without a lead leaves the task unassigned.
func (a *CreateTaskAction) assignee(ctx context.Context, cfg *schema.CreateTaskConfig, evt *schema.EventContext) (string, error) {
	if cfg.AssigneeID != "" {
		return expressions.Interpolate(cfg.AssigneeID, evt.Tree()), nil
	}
	switch cfg.AssigneeType {
	case schema.AssigneeAssignedUser:
		return evt.UserID, nil
	case schema.AssigneeCaseLead:
		if evt.CaseID == "" {
			return "", nil
		}
		lead, err := a.deps.Store.GetCaseLead(ctx, evt.FirmID, evt.CaseID)
		if schema.IsNotFound(err) {
			logging.LogWith(ctx, a.deps.Logger).Warn("create_task: case has no lead", "case_id", evt.CaseID)
			return "", nil
		}
		if err != nil {
			return "", storeFailure(err, "get case lead")
		}
		return lead.ID, nil
	}
	return "", nil
}
