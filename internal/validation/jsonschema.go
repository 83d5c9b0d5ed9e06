package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/caseflow/pkg/schema"
)

const schemaBaseURL = "https://caseflow.dev/schemas/actions/"

// actionSchemas holds the JSON Schema (Draft 2020-12) for each action
// kind's config map. Values are strings because any field may carry
// {{placeholders}}. Unknown keys are tolerated.
var actionSchemas = map[schema.ActionKind]string{
	schema.ActionNotifyUser: `{
  "type": "object",
  "required": ["recipientType", "title", "message"],
  "properties": {
    "recipientType": { "type": "string", "minLength": 1 },
    "title":         { "type": "string", "minLength": 1 },
    "message":       { "type": "string" },
    "actionUrl":     { "type": "string" },
    "priority":      { "type": "string", "enum": ["low", "normal", "high", "urgent"] }
  }
}`,
	schema.ActionSendEmail: `{
  "type": "object",
  "required": ["subject", "body"],
  "properties": {
    "recipientType": { "type": "string", "minLength": 1 },
    "to":            { "type": "array", "items": { "type": "string", "minLength": 1 } },
    "subject":       { "type": "string", "minLength": 1 },
    "body":          { "type": "string" },
    "html":          { "type": "string" }
  },
  "anyOf": [
    { "required": ["recipientType"] },
    { "required": ["to"], "properties": { "to": { "minItems": 1 } } }
  ]
}`,
	schema.ActionSendSMS: `{
  "type": "object",
  "required": ["message"],
  "properties": {
    "recipientType": { "type": "string", "minLength": 1 },
    "to":            { "type": "array", "items": { "type": "string", "minLength": 1 } },
    "message":       { "type": "string", "minLength": 1 }
  },
  "anyOf": [
    { "required": ["recipientType"] },
    { "required": ["to"], "properties": { "to": { "minItems": 1 } } }
  ]
}`,
	schema.ActionSendChatMessage: `{
  "type": "object",
  "required": ["provider", "message"],
  "properties": {
    "provider": { "type": "string", "enum": ["slack", "teams", "discord", "google_chat"] },
    "message":  { "type": "string", "minLength": 1 },
    "channel":  { "type": "string" }
  }
}`,
	schema.ActionCreateTask: `{
  "type": "object",
  "required": ["title"],
  "properties": {
    "title":        { "type": "string", "minLength": 1 },
    "description":  { "type": "string" },
    "assigneeType": { "type": "string", "enum": ["case_lead", "assigned_user"] },
    "assigneeId":   { "type": "string" },
    "dueDays":      { "type": "integer", "minimum": 0 },
    "priority":     { "type": "string", "enum": ["low", "normal", "high", "urgent"] }
  }
}`,
	schema.ActionUpdateStatus: `{
  "type": "object",
  "required": ["status"],
  "properties": {
    "status":   { "type": "string", "minLength": 1 },
    "table":    { "type": "string", "minLength": 1 },
    "entityId": { "type": "string", "minLength": 1 }
  }
}`,
	schema.ActionAssignToUser: `{
  "type": "object",
  "properties": {
    "userId":       { "type": "string", "minLength": 1 },
    "assigneeType": { "type": "string", "enum": ["case_lead", "assigned_user"] },
    "table":        { "type": "string", "minLength": 1 },
    "entityId":     { "type": "string", "minLength": 1 }
  },
  "anyOf": [
    { "required": ["userId"] },
    { "required": ["assigneeType"] }
  ]
}`,
}

// ConfigValidator validates step config maps against the per-action
// JSON Schemas. All schemas are compiled once; it is safe for concurrent use.
type ConfigValidator struct {
	schemas map[schema.ActionKind]*jsonschema.Schema
}

// NewConfigValidator compiles every action schema.
func NewConfigValidator() (*ConfigValidator, error) {
	c := jsonschema.NewCompiler()
	c.DefaultDraft(jsonschema.Draft2020)
	c.AssertFormat()

	compiled := make(map[schema.ActionKind]*jsonschema.Schema, len(actionSchemas))
	for kind, src := range actionSchemas {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s schema: %w", kind, err)
		}
		url := schemaBaseURL + string(kind) + ".json"
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add %s schema resource: %w", kind, err)
		}
		sch, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", kind, err)
		}
		compiled[kind] = sch
	}
	return &ConfigValidator{schemas: compiled}, nil
}

// ValidateConfig checks raw against the schema for kind. An unknown kind is
// a CONFIG_ERROR; a shape violation is a VALIDATION_ERROR listing every
// violation.
func (v *ConfigValidator) ValidateConfig(kind schema.ActionKind, raw map[string]any) error {
	sch, ok := v.schemas[kind]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeConfig, "unknown action kind %q", kind).
			WithDetails(map[string]any{"action": string(kind)})
	}
	if raw == nil {
		raw = map[string]any{}
	}

	doc, err := toJSONValue(raw)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize step config").WithCause(err)
	}
	if err := sch.Validate(doc); err != nil {
		return toEngineError(kind, err)
	}
	return nil
}

// Has reports whether a schema exists for kind.
func (v *ConfigValidator) Has(kind schema.ActionKind) bool {
	_, ok := v.schemas[kind]
	return ok
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toEngineError converts a jsonschema.ValidationError into an EngineError
// whose details list each leaf violation with its instance location.
func toEngineError(kind schema.ActionKind, err error) *schema.EngineError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s config: %s", kind, err.Error())
	}

	violations := collectViolations(verr)
	details := map[string]any{"action": string(kind), "violations": violations}
	switch len(violations) {
	case 0:
		return schema.NewErrorf(schema.ErrCodeValidation, "%s config: %s", kind, verr.Error()).WithDetails(details)
	case 1:
		return schema.NewErrorf(schema.ErrCodeValidation, "%s config: %s", kind, violations[0]).WithDetails(details)
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "%s config failed with %d errors", kind, len(violations)).
		WithDetails(details)
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
