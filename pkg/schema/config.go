package schema

import (
	"encoding/json"
)

// ActionKind enumerates the side effects a step can perform.
type ActionKind string

const (
	ActionNotifyUser      ActionKind = "notify_user"
	ActionSendEmail       ActionKind = "send_email"
	ActionSendSMS         ActionKind = "send_sms"
	ActionSendChatMessage ActionKind = "send_chat_message"
	ActionCreateTask      ActionKind = "create_task"
	ActionUpdateStatus    ActionKind = "update_status"
	ActionAssignToUser    ActionKind = "assign_to_user"
)

// ActionKinds lists every built-in action kind.
var ActionKinds = []ActionKind{
	ActionNotifyUser,
	ActionSendEmail,
	ActionSendSMS,
	ActionSendChatMessage,
	ActionCreateTask,
	ActionUpdateStatus,
	ActionAssignToUser,
}

// Recipient selectors shared by the notify/email/sms configs.
// Any other value is treated as a literal user ID.
const (
	RecipientCaseTeam     = "case_team"
	RecipientAssignedUser = "assigned_user"
	RecipientFirmAdmins   = "firm_admins"
)

// Assignee selectors for create_task and assign_to_user.
const (
	AssigneeCaseLead     = "case_lead"
	AssigneeAssignedUser = "assigned_user"
)

// StepConfig is the typed configuration of a step, one variant per action kind.
type StepConfig interface {
	Kind() ActionKind
}

// NotifyUserConfig configures the notify_user action.
type NotifyUserConfig struct {
	RecipientType string `json:"recipientType"`
	Title         string `json:"title"`
	Message       string `json:"message"`
	ActionURL     string `json:"actionUrl,omitempty"`
	Priority      string `json:"priority,omitempty"`
}

func (NotifyUserConfig) Kind() ActionKind { return ActionNotifyUser }

// SendEmailConfig configures the send_email action.
type SendEmailConfig struct {
	RecipientType string   `json:"recipientType,omitempty"`
	To            []string `json:"to,omitempty"`
	Subject       string   `json:"subject"`
	Body          string   `json:"body"`
	HTML          string   `json:"html,omitempty"`
}

func (SendEmailConfig) Kind() ActionKind { return ActionSendEmail }

// SendSMSConfig configures the send_sms action.
type SendSMSConfig struct {
	RecipientType string   `json:"recipientType,omitempty"`
	To            []string `json:"to,omitempty"`
	Message       string   `json:"message"`
}

func (SendSMSConfig) Kind() ActionKind { return ActionSendSMS }

// ChatMessageConfig configures the send_chat_message action.
type ChatMessageConfig struct {
	Provider string `json:"provider"`
	Message  string `json:"message"`
	Channel  string `json:"channel,omitempty"` // overrides the integration's default channel
}

func (ChatMessageConfig) Kind() ActionKind { return ActionSendChatMessage }

// CreateTaskConfig configures the create_task action.
type CreateTaskConfig struct {
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	AssigneeType string `json:"assigneeType,omitempty"`
	AssigneeID   string `json:"assigneeId,omitempty"`
	DueDays      *int   `json:"dueDays,omitempty"`
	Priority     string `json:"priority,omitempty"`
}

func (CreateTaskConfig) Kind() ActionKind { return ActionCreateTask }

// UpdateStatusConfig configures the update_status action. Table and EntityID
// default to the triggering entity.
type UpdateStatusConfig struct {
	Status   string `json:"status"`
	Table    string `json:"table,omitempty"`
	EntityID string `json:"entityId,omitempty"`
}

func (UpdateStatusConfig) Kind() ActionKind { return ActionUpdateStatus }

// AssignUserConfig configures the assign_to_user action.
type AssignUserConfig struct {
	UserID       string `json:"userId,omitempty"`
	AssigneeType string `json:"assigneeType,omitempty"`
	Table        string `json:"table,omitempty"`
	EntityID     string `json:"entityId,omitempty"`
}

func (AssignUserConfig) Kind() ActionKind { return ActionAssignToUser }

// DecodeStepConfig converts a free-form config map into the typed variant
// for kind. Shape validation happens before this call; this only fails on
// unknown kinds or type mismatches.
func DecodeStepConfig(kind ActionKind, raw map[string]any) (StepConfig, error) {
	var target StepConfig
	switch kind {
	case ActionNotifyUser:
		target = &NotifyUserConfig{}
	case ActionSendEmail:
		target = &SendEmailConfig{}
	case ActionSendSMS:
		target = &SendSMSConfig{}
	case ActionSendChatMessage:
		target = &ChatMessageConfig{}
	case ActionCreateTask:
		target = &CreateTaskConfig{}
	case ActionUpdateStatus:
		target = &UpdateStatusConfig{}
	case ActionAssignToUser:
		target = &AssignUserConfig{}
	default:
		return nil, NewErrorf(ErrCodeConfig, "unknown action kind %q", kind).
			WithDetails(map[string]any{"action": string(kind)})
	}

	if raw == nil {
		raw = map[string]any{}
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, NewErrorf(ErrCodeConfig, "encode %s config: %s", kind, err.Error()).WithCause(err)
	}
	if err := json.Unmarshal(b, target); err != nil {
		return nil, NewErrorf(ErrCodeConfig, "decode %s config: %s", kind, err.Error()).WithCause(err)
	}
	return target, nil
}
