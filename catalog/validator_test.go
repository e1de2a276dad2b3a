package catalog

import (
	"encoding/json"
	"testing"
)

var employeeSchema = json.RawMessage(`{
	"type": "object",
	"required": ["employee_id"],
	"properties": {
		"employee_id": {"type": "string"},
		"headcount": {"type": "number"}
	}
}`)

func TestValidateAcceptsConformingPayload(t *testing.T) {
	v := NewValidator()

	data := map[string]any{"employee_id": "e-1", "headcount": 12.0}
	if err := v.Validate(employeeSchema, data); err != nil {
		t.Errorf("conforming payload rejected: %v", err)
	}
}

func TestValidateRejectsMissingRequired(t *testing.T) {
	v := NewValidator()

	data := map[string]any{"headcount": 12.0}
	if err := v.Validate(employeeSchema, data); err == nil {
		t.Error("payload missing required field accepted")
	}
}

func TestValidateNilSchemaSkips(t *testing.T) {
	v := NewValidator()

	if err := v.Validate(nil, map[string]any{"anything": true}); err != nil {
		t.Errorf("nil schema validated: %v", err)
	}
}

func TestValidateMalformedSchema(t *testing.T) {
	v := NewValidator()

	if err := v.Validate(json.RawMessage(`{"type":`), nil); err == nil {
		t.Error("malformed schema compiled")
	}
}

func TestValidateCachesCompiledSchema(t *testing.T) {
	v := NewValidator()

	data := map[string]any{"employee_id": "e-1"}
	for i := 0; i < 3; i++ {
		if err := v.Validate(employeeSchema, data); err != nil {
			t.Fatal(err)
		}
	}
	if len(v.cache) != 1 {
		t.Errorf("cache size = %d, want 1", len(v.cache))
	}
}
