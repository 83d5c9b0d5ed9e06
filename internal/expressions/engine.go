package expressions

import (
	"context"
	"fmt"

	"github.com/rendis/caseflow/pkg/schema"
)

// Engine evaluates expressions against an event tree.
// Two implementations: CEL (step guards) and Expr (workflow filters).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// EvaluateBool evaluates expression and requires a boolean result.
// A non-boolean result is a config error.
func EvaluateBool(ctx context.Context, e Engine, expression string, data map[string]any) (bool, error) {
	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeConfig,
			"%s expression %q returned %s, want bool", e.Name(), expression, fmt.Sprintf("%T", out)).
			WithDetails(map[string]any{"expression": expression})
	}
	return b, nil
}
