package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/caseflow/pkg/schema"
)

func TestNewExprEngine(t *testing.T) {
	e := NewExprEngine()
	assert.NotNil(t, e)
	assert.Equal(t, "expr", e.Name())
}

func TestExpr_Filters(t *testing.T) {
	e := NewExprEngine()
	tree := sampleTree()

	tests := []struct {
		expr string
		want bool
	}{
		{`entityType == "document"`, true},
		{`metadata.amount >= 150`, true},
		{`metadata.amount > 150 || metadata.paid`, true},
		{`"court" in metadata.tags`, true},
		{`any(metadata.tags, # == "urgent")`, true},
		{`caseNumber startsWith "2026"`, true},
		{`metadata.client.name == "Bob"`, false},
		{`(metadata?.missing ?? "none") == "none"`, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := EvaluateBool(context.Background(), e, tt.expr, tree)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpr_UndefinedVariableIsNil(t *testing.T) {
	e := NewExprEngine()

	got, err := EvaluateBool(context.Background(), e, `caseId == nil`, map[string]any{"firmId": "f"})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestExpr_CompileError(t *testing.T) {
	e := NewExprEngine()

	err := e.Compile(`metadata.amount >`)
	require.Error(t, err)
	assert.True(t, schema.IsConfigError(err))
}

func TestExpr_NonBoolResult(t *testing.T) {
	e := NewExprEngine()

	_, err := EvaluateBool(context.Background(), e, `metadata.amount + 1`, sampleTree())
	require.Error(t, err)
	assert.True(t, schema.IsConfigError(err))
}

func TestExpr_EmptyExpression(t *testing.T) {
	_, err := NewExprEngine().Evaluate(context.Background(), "", nil)
	assert.True(t, schema.IsConfigError(err))
}

func TestExpr_ConcurrentCache(t *testing.T) {
	e := NewExprEngine()
	tree := sampleTree()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := EvaluateBool(context.Background(), e, `metadata.paid == true`, tree)
			assert.NoError(t, err)
			assert.True(t, got)
		}()
	}
	wg.Wait()
	assert.Len(t, e.cache, 1)
}
