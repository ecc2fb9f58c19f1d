package schemaval

import (
	"encoding/json"
	"strings"
	"testing"
)

const personSchema = `{
	"type": "object",
	"properties": {
		"name": {"type": "string"},
		"age": {"type": "integer", "minimum": 0}
	},
	"required": ["name"]
}`

func TestCompileRejectsNonObjectDefinition(t *testing.T) {
	cases := []struct {
		name       string
		definition string
	}{
		{"array", `[1, 2, 3]`},
		{"string", `"not a schema"`},
		{"number", `42`},
		{"null", `null`},
		{"garbage", `{not json`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Compile(json.RawMessage(tc.definition)); err == nil {
				t.Fatalf("expected compile error for %s definition", tc.name)
			}
		})
	}
}

func TestCompileRejectsMalformedConstraints(t *testing.T) {
	// "type" must name a known primitive type.
	bad := json.RawMessage(`{"type": "certainly-not-a-type"}`)
	if _, err := Compile(bad); err == nil {
		t.Fatal("expected compile error for unknown type constraint")
	}
}

func TestValidateConformingInstance(t *testing.T) {
	validator, err := Compile(json.RawMessage(personSchema))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	violations, err := validator.Validate(json.RawMessage(`{"name": "ada", "age": 36}`))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(violations) != 0 {
		t.Fatalf("expected no violations, got %v", violations)
	}
}

func TestValidateUnknownPropertiesAcceptedByDefault(t *testing.T) {
	validator, err := Compile(json.RawMessage(personSchema))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	violations, err := validator.Validate(json.RawMessage(`{"name": "ada", "extra": true}`))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(violations) != 0 {
		t.Fatalf("additionalProperties defaults to true, got %v", violations)
	}
}

func TestValidateCollectsAllViolations(t *testing.T) {
	validator, err := Compile(json.RawMessage(personSchema))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	// Missing required name and wrong type for age.
	violations, err := validator.Validate(json.RawMessage(`{"age": "old"}`))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(violations) < 2 {
		t.Fatalf("expected at least 2 violations, got %v", violations)
	}
	joined := JoinErrors(violations)
	if !strings.Contains(joined, "name") {
		t.Fatalf("aggregated message should mention the missing field: %s", joined)
	}
	if !strings.Contains(joined, "age") {
		t.Fatalf("aggregated message should mention the mistyped field: %s", joined)
	}
}

func TestValidateAnnotatesNestedPaths(t *testing.T) {
	nested := `{
		"type": "object",
		"properties": {
			"meta": {
				"type": "object",
				"properties": {"tag": {"type": "string"}},
				"required": ["tag"]
			}
		},
		"required": ["meta"]
	}`
	validator, err := Compile(json.RawMessage(nested))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	violations, err := validator.Validate(json.RawMessage(`{"meta": {"tag": 7}}`))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(violations) != 1 {
		t.Fatalf("expected one violation, got %v", violations)
	}
	if violations[0].Path != "/meta/tag" {
		t.Fatalf("expected path /meta/tag, got %q", violations[0].Path)
	}
}

func TestPointerPathRoot(t *testing.T) {
	validator, err := Compile(json.RawMessage(`{"type": "object"}`))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	violations, err := validator.Validate(json.RawMessage(`"just a string"`))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(violations) != 1 {
		t.Fatalf("expected one violation, got %v", violations)
	}
	if violations[0].Path != "/" {
		t.Fatalf("root violations should be annotated with /, got %q", violations[0].Path)
	}
}
