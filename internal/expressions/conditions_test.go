package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/caseflow/pkg/schema"
)

func cond(field string, op schema.ConditionOperator, value any) schema.Condition {
	return schema.Condition{Field: field, Operator: op, Value: value}
}

func TestEvaluateCondition_Operators(t *testing.T) {
	tree := sampleTree()

	tests := []struct {
		name string
		c    schema.Condition
		want bool
	}{
		{"equals string", cond("entityType", schema.OpEquals, "document"), true},
		{"equals string mismatch", cond("entityType", schema.OpEquals, "invoice"), false},
		{"equals number", cond("metadata.amount", schema.OpEquals, 150), true},
		{"equals number vs string", cond("metadata.amount", schema.OpEquals, "150"), true},
		{"equals bool vs string", cond("metadata.paid", schema.OpEquals, "true"), true},
		{"equals null", cond("metadata.nothing", schema.OpEquals, nil), true},
		{"not_equals", cond("entityType", schema.OpNotEquals, "invoice"), true},
		{"not_equals same", cond("entityType", schema.OpNotEquals, "document"), false},
		{"contains", cond("caseName", schema.OpContains, "Roe"), true},
		{"contains miss", cond("caseName", schema.OpContains, "Smith"), false},
		{"contains non-text value", cond("metadata.amount", schema.OpContains, "15"), false},
		{"greater_than", cond("metadata.amount", schema.OpGreaterThan, 100), true},
		{"greater_than equal", cond("metadata.amount", schema.OpGreaterThan, 150), false},
		{"greater_than numeric string", cond("metadata.amount", schema.OpGreaterThan, "99.5"), true},
		{"less_than", cond("metadata.amount", schema.OpLessThan, 200), true},
		{"less_than false", cond("metadata.amount", schema.OpLessThan, 10), false},
		{"greater_than non-numeric field", cond("caseName", schema.OpGreaterThan, 1), false},
		{"less_than non-numeric value", cond("metadata.amount", schema.OpLessThan, "lots"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvaluateCondition(tt.c, tree)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateCondition_AmountCoercion(t *testing.T) {
	c := cond("metadata.amount", schema.OpGreaterThan, 100)

	ok, err := EvaluateCondition(c, map[string]any{"metadata": map[string]any{"amount": 150.0}})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = EvaluateCondition(c, map[string]any{"metadata": map[string]any{"amount": "not-a-number"}})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateCondition_MissingField(t *testing.T) {
	tree := sampleTree()

	for _, op := range []schema.ConditionOperator{
		schema.OpEquals, schema.OpContains, schema.OpGreaterThan, schema.OpLessThan,
	} {
		t.Run(string(op), func(t *testing.T) {
			ok, err := EvaluateCondition(cond("metadata.missing", op, "x"), tree)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}

	t.Run("not_equals", func(t *testing.T) {
		ok, err := EvaluateCondition(cond("metadata.missing", schema.OpNotEquals, "x"), tree)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestEvaluateCondition_UnknownOperator(t *testing.T) {
	_, err := EvaluateCondition(cond("caseName", "starts_with", "Doe"), sampleTree())
	require.Error(t, err)
	assert.True(t, schema.IsConfigError(err))
}

func TestEvaluateConditions_AndShortCircuit(t *testing.T) {
	tree := sampleTree()

	ok, err := EvaluateConditions(nil, tree)
	require.NoError(t, err)
	assert.True(t, ok, "no conditions means pass")

	ok, err = EvaluateConditions([]schema.Condition{
		cond("entityType", schema.OpEquals, "document"),
		cond("metadata.amount", schema.OpGreaterThan, 100),
	}, tree)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = EvaluateConditions([]schema.Condition{
		cond("entityType", schema.OpEquals, "document"),
		cond("metadata.amount", schema.OpLessThan, 100),
	}, tree)
	require.NoError(t, err)
	assert.False(t, ok)

	// The first false stops evaluation before the invalid operator is seen.
	ok, err = EvaluateConditions([]schema.Condition{
		cond("entityType", schema.OpEquals, "invoice"),
		cond("caseName", "bogus", "x"),
	}, tree)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolve(t *testing.T) {
	tree := sampleTree()

	assert.Equal(t, "firm-1", Resolve(tree, "firmId"))
	assert.Equal(t, "Jane", Resolve(tree, "metadata.client.name"))
	assert.Equal(t, "court", Resolve(tree, "metadata.tags.1"))
	assert.Nil(t, Resolve(tree, "metadata.nothing"))
	assert.True(t, IsUndefined(Resolve(tree, "metadata.nope")))
	assert.True(t, IsUndefined(Resolve(tree, "metadata.tags.x")))
	assert.True(t, IsUndefined(Resolve(tree, "")))
	assert.True(t, IsUndefined(Resolve(nil, "firmId")))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "150", Stringify(150.0))
	assert.Equal(t, "1.5", Stringify(1.50))
	assert.Equal(t, "42", Stringify(42))
	assert.Equal(t, "false", Stringify(false))
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, `{"a":1}`, Stringify(map[string]any{"a": 1}))
}
