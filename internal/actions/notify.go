package actions

import (
	"context"

	"github.com/google/uuid"

	"github.com/rendis/caseflow/internal/expressions"
	"github.com/rendis/caseflow/internal/logging"
	"github.com/rendis/caseflow/internal/store"
	"github.com/rendis/caseflow/pkg/schema"
)

// NotifyUserAction writes one in-app notification per resolved recipient.
type NotifyUserAction struct {
	deps *Deps
}

// NewNotifyUserAction creates the notify_user executor.
func NewNotifyUserAction(deps *Deps) *NotifyUserAction {
	return &NotifyUserAction{deps: deps.withDefaults()}
}

func (a *NotifyUserAction) Kind() schema.ActionKind { return schema.ActionNotifyUser }

func (a *NotifyUserAction) Execute(ctx context.Context, in Input) (*Output, error) {
	cfg, err := configFor[schema.NotifyUserConfig](in)
	if err != nil {
		return nil, err
	}

	users, err := resolveRecipients(ctx, a.deps.Store, cfg.RecipientType, in.Event)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		logging.LogWith(ctx, a.deps.Logger).Warn("notify_user: no recipients",
			"recipient_type", cfg.RecipientType)
		return &Output{Detail: "no recipients"}, nil
	}

	tree := in.Event.Tree()
	title := expressions.Interpolate(cfg.Title, tree)
	message := expressions.Interpolate(cfg.Message, tree)
	actionURL := expressions.Interpolate(cfg.ActionURL, tree)

	out := &Output{}
	for _, u := range users {
		n := &store.Notification{
			ID:          uuid.New().String(),
			FirmID:      in.Event.FirmID,
			UserID:      u.ID,
			Title:       title,
			Message:     message,
			ActionURL:   actionURL,
			Priority:    cfg.Priority,
			WorkflowID:  in.WorkflowID(),
			ExecutionID: in.ExecutionID,
			CreatedAt:   a.deps.Now().UTC(),
		}
		if err := a.deps.Store.CreateNotification(ctx, n); err != nil {
			return out, storeFailure(err, "create notification")
		}
		out.Affected++
	}
	return out, nil
}
