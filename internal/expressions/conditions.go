package expressions

import (
	"strings"

	"github.com/rendis/caseflow/pkg/schema"
)

// EvaluateConditions ANDs conditions against tree, short-circuiting on the
// first false. An empty list is true. An unknown operator is a config error.
func EvaluateConditions(conds []schema.Condition, tree map[string]any) (bool, error) {
	for i := range conds {
		ok, err := EvaluateCondition(conds[i], tree)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// EvaluateCondition evaluates a single predicate. A missing field satisfies
// only not_equals.
func EvaluateCondition(c schema.Condition, tree map[string]any) (bool, error) {
	if !c.Operator.IsValid() {
		return false, schema.NewErrorf(schema.ErrCodeConfig,
			"unknown condition operator %q on field %q", c.Operator, c.Field).
			WithDetails(map[string]any{"field": c.Field, "operator": string(c.Operator)})
	}

	actual := Resolve(tree, c.Field)
	if IsUndefined(actual) {
		return c.Operator == schema.OpNotEquals, nil
	}

	switch c.Operator {
	case schema.OpEquals:
		return valuesEqual(actual, c.Value), nil
	case schema.OpNotEquals:
		return !valuesEqual(actual, c.Value), nil
	case schema.OpContains:
		s, ok := actual.(string)
		if !ok {
			return false, nil
		}
		return strings.Contains(s, Stringify(c.Value)), nil
	case schema.OpGreaterThan, schema.OpLessThan:
		a, okA := toFloat(actual)
		b, okB := toFloat(c.Value)
		if !okA || !okB {
			return false, nil
		}
		if c.Operator == schema.OpGreaterThan {
			return a > b, nil
		}
		return a < b, nil
	}
	return false, nil
}

// valuesEqual compares two values exactly, falling back to their string
// forms when the types differ.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return av == bv
		}
	case bool:
		if bv, ok := b.(bool); ok {
			return av == bv
		}
	case float64:
		if bv, ok := b.(float64); ok {
			return av == bv
		}
	}
	return Stringify(a) == Stringify(b)
}
