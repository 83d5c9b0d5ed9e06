package validation

import (
	"fmt"

	"github.com/rendis/caseflow/internal/expressions"
	"github.com/rendis/caseflow/pkg/schema"
)

// Compiler checks an expression compiles. Both expression engines satisfy it.
type Compiler interface {
	Compile(expression string) error
}

// WorkflowValidator checks firm-authored workflows before the engine runs
// them: trigger kind, step config shape, condition operators, guard and
// filter syntax, delays and step ID uniqueness.
type WorkflowValidator struct {
	configs *ConfigValidator
	guards  Compiler
	filters Compiler
}

// NewWorkflowValidator creates a WorkflowValidator. guards and filters may
// be nil to skip expression compilation checks.
func NewWorkflowValidator(guards, filters Compiler) (*WorkflowValidator, error) {
	cv, err := NewConfigValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{configs: cv, guards: guards, filters: filters}, nil
}

// Configs exposes the underlying per-action config validator.
func (wv *WorkflowValidator) Configs() *ConfigValidator { return wv.configs }

// ValidateStep checks one step in isolation. The returned error is a
// config-class EngineError tagged with the step ID.
func (wv *WorkflowValidator) ValidateStep(step *schema.Step) error {
	if step.DelayMinutes < 0 {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"delay_minutes must be >= 0, got %d", step.DelayMinutes).WithStep(step.ID)
	}
	if err := wv.configs.ValidateConfig(step.Action, step.RawConfig); err != nil {
		return stepErr(err, step.ID)
	}
	for i, c := range step.Conditions {
		if c.Field == "" {
			return schema.NewErrorf(schema.ErrCodeValidation, "condition %d has an empty field", i).WithStep(step.ID)
		}
		if !c.Operator.IsValid() {
			return schema.NewErrorf(schema.ErrCodeConfig,
				"condition %d: unknown operator %q", i, c.Operator).WithStep(step.ID)
		}
	}
	if step.When != "" && wv.guards != nil {
		if err := wv.guards.Compile(step.When); err != nil {
			return stepErr(err, step.ID)
		}
	}
	return nil
}

// Validate checks the workflow and all of its steps, collecting every
// problem. It returns nil when the workflow is runnable.
func (wv *WorkflowValidator) Validate(wf *schema.Workflow) error {
	if wf == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}

	var problems []string
	if wf.FirmID == "" {
		problems = append(problems, "firm_id is required")
	}
	if !wf.Trigger.IsKnown() {
		problems = append(problems, fmt.Sprintf("unknown trigger kind %q", wf.Trigger))
	}
	if wf.Filter != "" && wv.filters != nil {
		if err := wv.filters.Compile(wf.Filter); err != nil {
			problems = append(problems, "filter: "+err.Error())
		}
	}

	seen := make(map[string]struct{}, len(wf.Steps))
	for i := range wf.Steps {
		step := &wf.Steps[i]
		if step.ID == "" {
			problems = append(problems, fmt.Sprintf("steps[%d]: id is required", i))
			continue
		}
		if _, dup := seen[step.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate step id %q", step.ID))
		}
		seen[step.ID] = struct{}{}
		if err := wv.ValidateStep(step); err != nil {
			problems = append(problems, err.Error())
		}
	}

	switch len(problems) {
	case 0:
		return nil
	case 1:
		return schema.NewErrorf(schema.ErrCodeValidation, "workflow %s: %s", wf.ID, problems[0]).
			WithDetails(map[string]any{"violations": problems})
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "workflow %s failed with %d errors", wf.ID, len(problems)).
		WithDetails(map[string]any{"violations": problems})
}

func stepErr(err error, stepID string) error {
	if e, ok := err.(*schema.EngineError); ok {
		return e.WithStep(stepID)
	}
	return schema.NewError(schema.ErrCodeConfig, err.Error()).WithCause(err).WithStep(stepID)
}

var (
	_ Compiler = (*expressions.CELEngine)(nil)
	_ Compiler = (*expressions.ExprEngine)(nil)
)
