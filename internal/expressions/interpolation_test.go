package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/caseflow/pkg/schema"
)

func sampleTree() map[string]any {
	ec := &schema.EventContext{
		FirmID:     "firm-1",
		CaseID:     "case-1",
		CaseName:   "Doe v. Roe",
		CaseNumber: "2026-CV-001",
		UserID:     "u1",
		EntityID:   "doc-9",
		EntityType: "document",
		Metadata: map[string]any{
			"dueDate":      "2026-11-01",
			"amount":       150,
			"requestTitle": "Interrogatories",
			"paid":         true,
			"tags":         []any{"urgent", "court"},
			"nothing":      nil,
			"client":       map[string]any{"name": "Jane"},
		},
	}
	return ec.Tree()
}

func TestInterpolate_SimpleKey(t *testing.T) {
	out := Interpolate("Hi {{userName}}", map[string]any{"userName": "Dana"})
	assert.Equal(t, "Hi Dana", out)
}

func TestInterpolate_NoPlaceholders(t *testing.T) {
	assert.Equal(t, "plain text", Interpolate("plain text", sampleTree()))
	assert.Equal(t, "", Interpolate("", sampleTree()))
}

func TestInterpolate_NestedPaths(t *testing.T) {
	tree := sampleTree()

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"top level", "Case {{caseName}} ({{caseNumber}})", "Case Doe v. Roe (2026-CV-001)"},
		{"metadata", "Due {{metadata.dueDate}}", "Due 2026-11-01"},
		{"number without trailing zeros", "Amount: {{metadata.amount}}", "Amount: 150"},
		{"bool", "Paid: {{metadata.paid}}", "Paid: true"},
		{"slice index", "First tag: {{metadata.tags.0}}", "First tag: urgent"},
		{"deep map", "Client {{metadata.client.name}}", "Client Jane"},
		{"whitespace inside braces", "{{ metadata.requestTitle }}", "Interrogatories"},
		{"composite renders as JSON", "{{metadata.tags}}", `["urgent","court"]`},
		{"adjacent tokens", "{{firmId}}{{caseId}}", "firm-1case-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Interpolate(tt.template, tree))
		})
	}
}

func TestInterpolate_UnresolvedLeftVerbatim(t *testing.T) {
	tree := sampleTree()

	tests := []struct {
		name     string
		template string
	}{
		{"missing top level", "Hello {{clientName}}"},
		{"missing nested", "Due {{metadata.hearingDate}}"},
		{"path through scalar", "{{caseName.first}}"},
		{"index out of range", "{{metadata.tags.5}}"},
		{"null value", "Value {{metadata.nothing}}"},
		{"empty token", "Empty {{}} token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.template, Interpolate(tt.template, tree))
		})
	}
}

func TestInterpolate_MixedResolvedAndUnresolved(t *testing.T) {
	out := Interpolate("{{caseName}}: {{metadata.unknown}} by {{metadata.dueDate}}", sampleTree())
	assert.Equal(t, "Doe v. Roe: {{metadata.unknown}} by 2026-11-01", out)
}

func TestInterpolate_UnclosedToken(t *testing.T) {
	out := Interpolate("Case {{caseName}} and {{caseId", sampleTree())
	assert.Equal(t, "Case Doe v. Roe and {{caseId", out)
}

func TestInterpolate_NilTree(t *testing.T) {
	assert.Equal(t, "Hi {{name}}", Interpolate("Hi {{name}}", nil))
}

func TestPlaceholders(t *testing.T) {
	paths := Placeholders("{{caseName}} due {{ metadata.dueDate }} {{}} {{open")
	assert.Equal(t, []string{"caseName", "metadata.dueDate"}, paths)
	assert.Empty(t, Placeholders("nothing here"))
}
