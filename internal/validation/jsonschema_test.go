package validation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/caseflow/pkg/schema"
)

func TestNewConfigValidator(t *testing.T) {
	v, err := NewConfigValidator()
	require.NoError(t, err)
	for _, kind := range schema.ActionKinds {
		assert.True(t, v.Has(kind), "schema for %s", kind)
	}
}

func TestValidateConfig_Valid(t *testing.T) {
	v, err := NewConfigValidator()
	require.NoError(t, err)

	tests := []struct {
		kind schema.ActionKind
		raw  map[string]any
	}{
		{schema.ActionNotifyUser, map[string]any{"recipientType": "case_team", "title": "New doc", "message": "{{caseName}}"}},
		{schema.ActionNotifyUser, map[string]any{"recipientType": "u1", "title": "t", "message": "m", "priority": "high", "actionUrl": "/cases/{{caseId}}"}},
		{schema.ActionSendEmail, map[string]any{"recipientType": "firm_admins", "subject": "Paid", "body": "Invoice paid"}},
		{schema.ActionSendEmail, map[string]any{"to": []any{"a@example.com"}, "subject": "s", "body": "b"}},
		{schema.ActionSendSMS, map[string]any{"recipientType": "assigned_user", "message": "Reminder"}},
		{schema.ActionSendChatMessage, map[string]any{"provider": "slack", "message": "New case {{caseNumber}}"}},
		{schema.ActionCreateTask, map[string]any{"title": "Review", "dueDays": 3, "assigneeType": "case_lead"}},
		{schema.ActionCreateTask, map[string]any{"title": "Review", "extra": "tolerated"}},
		{schema.ActionUpdateStatus, map[string]any{"status": "in_review"}},
		{schema.ActionAssignToUser, map[string]any{"userId": "u2", "table": "documents"}},
		{schema.ActionAssignToUser, map[string]any{"assigneeType": "case_lead"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.NoError(t, v.ValidateConfig(tt.kind, tt.raw))
		})
	}
}

func TestValidateConfig_Invalid(t *testing.T) {
	v, err := NewConfigValidator()
	require.NoError(t, err)

	tests := []struct {
		name string
		kind schema.ActionKind
		raw  map[string]any
	}{
		{"notify missing title", schema.ActionNotifyUser, map[string]any{"recipientType": "case_team", "message": "m"}},
		{"notify bad priority", schema.ActionNotifyUser, map[string]any{"recipientType": "x", "title": "t", "message": "m", "priority": "meh"}},
		{"email without recipients", schema.ActionSendEmail, map[string]any{"subject": "s", "body": "b"}},
		{"email empty to", schema.ActionSendEmail, map[string]any{"to": []any{}, "subject": "s", "body": "b"}},
		{"sms empty message", schema.ActionSendSMS, map[string]any{"recipientType": "case_team", "message": ""}},
		{"chat unknown provider", schema.ActionSendChatMessage, map[string]any{"provider": "irc", "message": "m"}},
		{"task negative dueDays", schema.ActionCreateTask, map[string]any{"title": "t", "dueDays": -1}},
		{"task fractional dueDays", schema.ActionCreateTask, map[string]any{"title": "t", "dueDays": 1.5}},
		{"status missing", schema.ActionUpdateStatus, map[string]any{}},
		{"assign without target", schema.ActionAssignToUser, map[string]any{"table": "cases"}},
		{"nil config", schema.ActionNotifyUser, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateConfig(tt.kind, tt.raw)
			require.Error(t, err)
			assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
			assert.True(t, schema.IsConfigError(err))

			engErr, ok := err.(*schema.EngineError)
			require.True(t, ok)
			assert.NotEmpty(t, engErr.Details["violations"])
		})
	}
}

func TestValidateConfig_UnknownKind(t *testing.T) {
	v, err := NewConfigValidator()
	require.NoError(t, err)

	err = v.ValidateConfig("fax_document", map[string]any{})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConfig, schema.ErrorCode(err))
}

func TestValidateConfig_Concurrent(t *testing.T) {
	v, err := NewConfigValidator()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, v.ValidateConfig(schema.ActionUpdateStatus, map[string]any{"status": "closed"}))
		}()
	}
	wg.Wait()
}
