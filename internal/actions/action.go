package actions

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rendis/caseflow/internal/channels"
	"github.com/rendis/caseflow/internal/metrics"
	"github.com/rendis/caseflow/internal/store"
	"github.com/rendis/caseflow/pkg/schema"
)

// Action executes the side effect of one step kind.
type Action interface {
	Kind() schema.ActionKind
	Execute(ctx context.Context, input Input) (*Output, error)
}

// Input is the data provided to an action at execution time.
type Input struct {
	Step        *schema.Step
	Config      schema.StepConfig
	Event       *schema.EventContext
	ExecutionID string
}

// WorkflowID returns the owning workflow of the step, or "".
func (in Input) WorkflowID() string {
	if in.Step == nil {
		return ""
	}
	return in.Step.WorkflowID
}

func (in Input) stepID() string {
	if in.Step == nil {
		return ""
	}
	return in.Step.ID
}

// Output summarizes what an action did.
type Output struct {
	// Affected counts rows written or messages delivered.
	Affected int `json:"affected"`
	// Skipped counts recipients without usable contact details.
	Skipped int    `json:"skipped,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Deps are the collaborators shared by the built-in actions.
type Deps struct {
	Store          store.Store
	Sender         channels.Sender
	Poster         channels.Poster
	Metrics        *metrics.Collectors
	Logger         *slog.Logger
	ChannelTimeout time.Duration
	Now            func() time.Time
}

const defaultChannelTimeout = 10 * time.Second

func (d *Deps) withDefaults() *Deps {
	cp := *d
	if cp.Logger == nil {
		cp.Logger = slog.Default()
	}
	if cp.ChannelTimeout <= 0 {
		cp.ChannelTimeout = defaultChannelTimeout
	}
	if cp.Now == nil {
		cp.Now = time.Now
	}
	return &cp
}

// configFor asserts the decoded config variant an action expects.
func configFor[T any](in Input) (*T, error) {
	cfg, ok := any(in.Config).(*T)
	if !ok || cfg == nil {
		var want *T
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "expected %T config, got %T", want, in.Config).
			WithStep(in.stepID())
	}
	return cfg, nil
}

// storeFailure tags raw persistence errors so the runner can abort on them.
// Errors already carrying a code pass through unchanged.
func storeFailure(err error, op string) error {
	if err == nil {
		return nil
	}
	var engErr *schema.EngineError
	if errors.As(err, &engErr) {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}

// channelFailure keeps channel and timeout codes from the channel layer and
// classifies anything else as a channel error.
func channelFailure(err error, stepID, op string) error {
	if schema.IsChannelError(err) {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeChannel, "%s: %s", op, err.Error()).
		WithStep(stepID).WithCause(err)
}
