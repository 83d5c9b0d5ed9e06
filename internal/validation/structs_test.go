package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/caseflow/pkg/schema"
)

func TestValidateEventContext(t *testing.T) {
	assert.NoError(t, ValidateEventContext(&schema.EventContext{FirmID: "firm-1"}))

	err := ValidateEventContext(&schema.EventContext{CaseID: "case-1"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
	assert.Contains(t, err.Error(), "FirmID")

	assert.Error(t, ValidateEventContext(nil))
}

func TestStruct_Violations(t *testing.T) {
	type settings struct {
		Name  string `validate:"required"`
		Limit int    `validate:"min=1,max=10"`
	}

	assert.NoError(t, Struct(&settings{Name: "x", Limit: 5}))

	err := Struct(&settings{Limit: 50})
	require.Error(t, err)
	engErr, ok := err.(*schema.EngineError)
	require.True(t, ok)
	violations, ok := engErr.Details["violations"].([]string)
	require.True(t, ok)
	require.Len(t, violations, 2)
	assert.Contains(t, violations[0], `"required"`)
	assert.Contains(t, violations[1], `"max=10"`)
}
