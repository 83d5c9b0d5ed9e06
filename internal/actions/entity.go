package actions

import (
	"context"

	"github.com/rendis/caseflow/internal/expressions"
	"github.com/rendis/caseflow/internal/logging"
	"github.com/rendis/caseflow/internal/store"
	"github.com/rendis/caseflow/pkg/schema"
)

// UpdateStatusAction sets the status column of an entity row.
type UpdateStatusAction struct {
	deps *Deps
}

// NewUpdateStatusAction creates the update_status executor.
func NewUpdateStatusAction(deps *Deps) *UpdateStatusAction {
	return &UpdateStatusAction{deps: deps.withDefaults()}
}

func (a *UpdateStatusAction) Kind() schema.ActionKind { return schema.ActionUpdateStatus }

func (a *UpdateStatusAction) Execute(ctx context.Context, in Input) (*Output, error) {
	cfg, err := configFor[schema.UpdateStatusConfig](in)
	if err != nil {
		return nil, err
	}
	table, id, err := entityTarget(cfg.Table, cfg.EntityID, in)
	if err != nil {
		return nil, err
	}

	status := expressions.Interpolate(cfg.Status, in.Event.Tree())
	if err := a.deps.Store.UpdateEntityStatus(ctx, table, id, status); err != nil {
		return nil, stepStoreFailure(err, in, "update status")
	}
	return &Output{Affected: 1, Detail: table + "/" + id + " -> " + status}, nil
}

// AssignToUserAction reassigns an entity row to a user.
type AssignToUserAction struct {
	deps *Deps
}

// NewAssignToUserAction creates the assign_to_user executor.
func NewAssignToUserAction(deps *Deps) *AssignToUserAction {
	return &AssignToUserAction{deps: deps.withDefaults()}
}

func (a *AssignToUserAction) Kind() schema.ActionKind { return schema.ActionAssignToUser }

func (a *AssignToUserAction) Execute(ctx context.Context, in Input) (*Output, error) {
	cfg, err := configFor[schema.AssignUserConfig](in)
	if err != nil {
		return nil, err
	}
	table, id, err := entityTarget(cfg.Table, cfg.EntityID, in)
	if err != nil {
		return nil, err
	}

	userID, err := a.assignee(ctx, cfg, in.Event)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		logging.LogWith(ctx, a.deps.Logger).Warn("assign_to_user: no assignee resolved",
			"assignee_type", cfg.AssigneeType)
		return &Output{Detail: "no assignee"}, nil
	}

	if err := a.deps.Store.AssignEntity(ctx, table, id, userID); err != nil {
		return nil, stepStoreFailure(err, in, "assign entity")
	}
	return &Output{Affected: 1, Detail: table + "/" + id + " -> " + userID}, nil
}

func (a *AssignToUserAction) assignee(ctx context.Context, cfg *schema.AssignUserConfig, evt *schema.EventContext) (string, error) {
	if cfg.UserID != "" {
		return expressions.Interpolate(cfg.UserID, evt.Tree()), nil
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
			return "", nil
		}
		if err != nil {
			return "", storeFailure(err, "get case lead")
		}
		return lead.ID, nil
	}
	return "", nil
}

// entityTarget picks the table and row an entity action mutates. An explicit
// table must be whitelisted (configuration error otherwise); without one the
// table comes from the event's entity type.
func entityTarget(table, entityID string, in Input) (string, string, error) {
	evt := in.Event
	var resolved string
	if table != "" {
		t, ok := store.EntityTable(table)
		if !ok {
			return "", "", schema.NewErrorf(schema.ErrCodeConfig, "table %q is not a mutable entity table", table).
				WithStep(in.stepID())
		}
		resolved = t
	} else {
		t, ok := store.EntityTable(evt.EntityType)
		if !ok {
			return "", "", schema.NewErrorf(schema.ErrCodeExecution, "event entity type %q has no mutable table", evt.EntityType).
				WithStep(in.stepID())
		}
		resolved = t
	}

	id := evt.EntityID
	if entityID != "" {
		id = expressions.Interpolate(entityID, evt.Tree())
	}
	if id == "" {
		return "", "", schema.NewError(schema.ErrCodeExecution, "no target entity id").WithStep(in.stepID())
	}
	return resolved, id, nil
}

// stepStoreFailure reports a missing row as a step-level failure and any
// other store error as fatal.
func stepStoreFailure(err error, in Input, op string) error {
	if schema.IsNotFound(err) {
		return schema.NewErrorf(schema.ErrCodeNotFound, "%s: %s", op, err.Error()).
			WithStep(in.stepID()).WithCause(err)
	}
	return storeFailure(err, op)
}
