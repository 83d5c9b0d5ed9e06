package engine

import (
	"context"

	"github.com/rendis/caseflow/internal/store"
	"github.com/rendis/caseflow/internal/validation"
	"github.com/rendis/caseflow/pkg/schema"
)

// Catalog loads firm workflows and prepares their steps for execution:
// steps are ordered and each config is validated and decoded once.
type Catalog struct {
	store     store.Store
	validator *validation.WorkflowValidator
}

// NewCatalog creates a Catalog. validator may be nil, in which case configs
// are decoded without shape validation.
func NewCatalog(s store.Store, validator *validation.WorkflowValidator) *Catalog {
	return &Catalog{store: s, validator: validator}
}

// ActiveWorkflows returns the firm's active workflows bound to trigger.
func (c *Catalog) ActiveWorkflows(ctx context.Context, firmID string, trigger schema.TriggerKind) ([]*schema.Workflow, error) {
	active := true
	wfs, err := c.store.ListWorkflows(ctx, store.WorkflowFilter{
		FirmID:  firmID,
		Trigger: trigger,
		Active:  &active,
	})
	if err != nil {
		return nil, storeFailure(err, "list workflows")
	}
	for _, wf := range wfs {
		c.Prepare(wf)
	}
	return wfs, nil
}

// Workflow loads and prepares a single workflow.
func (c *Catalog) Workflow(ctx context.Context, id string) (*schema.Workflow, error) {
	wf, err := c.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, storeFailure(err, "get workflow")
	}
	c.Prepare(wf)
	return wf, nil
}

// Step loads and prepares a single step.
func (c *Catalog) Step(ctx context.Context, stepID string) (*schema.Step, error) {
	step, err := c.store.GetStep(ctx, stepID)
	if err != nil {
		return nil, storeFailure(err, "get step")
	}
	c.PrepareStep(step)
	return step, nil
}

// Prepare orders the workflow's steps and decodes their configs.
func (c *Catalog) Prepare(wf *schema.Workflow) {
	schema.SortSteps(wf.Steps)
	for i := range wf.Steps {
		c.PrepareStep(&wf.Steps[i])
	}
}

// PrepareStep fills Config, or ConfigErr when the step cannot run.
func (c *Catalog) PrepareStep(step *schema.Step) {
	step.Config, step.ConfigErr = nil, nil
	if c.validator != nil {
		if err := c.validator.ValidateStep(step); err != nil {
			step.ConfigErr = err
			return
		}
	}
	cfg, err := schema.DecodeStepConfig(step.Action, step.RawConfig)
	if err != nil {
		step.ConfigErr = withStep(err, step.ID)
		return
	}
	step.Config = cfg
}
