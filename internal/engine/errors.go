package engine

import (
	"errors"
	"fmt"

	"github.com/rendis/caseflow/pkg/schema"
)

// storeFailure tags raw persistence errors as STORE_ERROR. Coded errors,
// including NOT_FOUND, pass through unchanged.
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

// withStep attaches stepID to err, classifying uncoded errors as
// execution errors.
func withStep(err error, stepID string) error {
	var engErr *schema.EngineError
	if errors.As(err, &engErr) {
		if engErr.StepID == "" {
			engErr.StepID = stepID
		}
		return err
	}
	return schema.NewError(schema.ErrCodeExecution, err.Error()).WithCause(err).WithStep(stepID)
}

// panicError converts a recovered panic value into a step-level error.
func panicError(r any, stepID string, kind schema.ActionKind) error {
	return schema.NewErrorf(schema.ErrCodeExecution, "action %s panicked: %s", kind, fmt.Sprint(r)).
		WithStep(stepID).
		WithDetails(map[string]any{"panic": fmt.Sprint(r)})
}

// errorClass labels an error for logs and metrics.
func errorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case schema.IsStoreError(err):
		return "store"
	case schema.IsConfigError(err):
		return "config"
	case schema.IsChannelError(err):
		return "channel"
	}
	return "execution"
}
