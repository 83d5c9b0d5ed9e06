package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Workflow is a named, firm-scoped automation rule. The engine only reads it.
type Workflow struct {
	ID            string      `json:"id"`
	FirmID        string      `json:"firm_id"`
	Name          string      `json:"name"`
	Trigger       TriggerKind `json:"trigger"`
	EntitySubtype string      `json:"entity_subtype,omitempty"` // empty matches every subtype
	Filter        string      `json:"filter,omitempty"`         // optional expr-lang expression over the event tree
	Active        bool        `json:"active"`
	Steps         []Step      `json:"steps"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Step is one ordered, conditionally gated action within a workflow.
type Step struct {
	ID           string         `json:"id"`
	WorkflowID   string         `json:"workflow_id"`
	Order        int            `json:"order"`
	Action       ActionKind     `json:"action"`
	RawConfig    map[string]any `json:"config,omitempty"`
	Conditions   []Condition    `json:"conditions,omitempty"`
	When         string         `json:"when,omitempty"` // optional CEL guard, ANDed with Conditions
	DelayMinutes int            `json:"delay_minutes,omitempty"`

	// Config is the typed view of RawConfig, decoded once at load time.
	// ConfigErr holds the decode/validation failure when Config is nil.
	Config    StepConfig `json:"-"`
	ConfigErr error      `json:"-"`
}

// HasGuards reports whether the step carries conditions or a CEL guard.
func (s *Step) HasGuards() bool {
	return len(s.Conditions) > 0 || s.When != ""
}

// Delay returns the step delay as a duration.
func (s *Step) Delay() time.Duration {
	return time.Duration(s.DelayMinutes) * time.Minute
}

// SortSteps orders steps by Order ascending, ties broken by ID.
func SortSteps(steps []Step) {
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].Order != steps[j].Order {
			return steps[i].Order < steps[j].Order
		}
		return steps[i].ID < steps[j].ID
	})
}

// ConditionOperator enumerates the supported predicate operators.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "equals"
	OpNotEquals   ConditionOperator = "not_equals"
	OpContains    ConditionOperator = "contains"
	OpGreaterThan ConditionOperator = "greater_than"
	OpLessThan    ConditionOperator = "less_than"
)

// IsValid reports whether the operator is one of the supported operators.
func (o ConditionOperator) IsValid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpContains, OpGreaterThan, OpLessThan:
		return true
	}
	return false
}

// Condition is a single field/operator/value predicate.
type Condition struct {
	Field    string            `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    any               `json:"value"`
}

// EventContext is the payload describing the triggering event.
type EventContext struct {
	FirmID     string         `json:"firmId" validate:"required"`
	CaseID     string         `json:"caseId,omitempty"`
	CaseName   string         `json:"caseName,omitempty"`
	CaseNumber string         `json:"caseNumber,omitempty"`
	UserID     string         `json:"userId,omitempty"`
	EntityID   string         `json:"entityId,omitempty"`
	EntityType string         `json:"entityType,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// MetadataKeySubtype is the metadata key matched against Workflow.EntitySubtype.
const MetadataKeySubtype = "entitySubtype"

// Subtype returns the string form of metadata.entitySubtype, or "".
func (c *EventContext) Subtype() string {
	v, ok := c.Metadata[MetadataKeySubtype]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Tree returns the context as a generic key/value tree (JSON shape) for
// path resolution by conditions and templates.
func (c *EventContext) Tree() map[string]any {
	raw, err := json.Marshal(c)
	if err != nil {
		return map[string]any{}
	}
	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return map[string]any{}
	}
	return tree
}

// MarshalContext serializes the context for persistence.
func MarshalContext(c *EventContext) (json.RawMessage, error) {
	return json.Marshal(c)
}

// UnmarshalContext rehydrates a persisted context.
func UnmarshalContext(raw json.RawMessage) (*EventContext, error) {
	c := &EventContext{}
	if len(raw) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("unmarshal event context: %w", err)
	}
	return c, nil
}
