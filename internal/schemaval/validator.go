// Package schemaval compiles JSON Schema definitions and checks instances
// against them. The dialect is pinned to Draft-07 regardless of any $schema
// declaration inside the definition, so stored schemas keep the semantics
// they were registered with.
package schemaval

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// PathError is a single violation annotated with the instance location.
type PathError struct {
	Path    string
	Message string
}

func (e PathError) String() string {
	return fmt.Sprintf("'%s': %s", e.Path, e.Message)
}

// Validator is a compiled, reusable form of a schema definition.
type Validator struct {
	schema *gojsonschema.Schema
}

// Compile parses a schema definition into a Validator. The definition must
// be a JSON object; anything that does not compile under Draft-07 is
// rejected.
func Compile(definition json.RawMessage) (*Validator, error) {
	var doc any
	if err := json.Unmarshal(definition, &doc); err != nil {
		return nil, fmt.Errorf("schema definition is not valid JSON: %w", err)
	}
	if _, ok := doc.(map[string]any); !ok {
		return nil, fmt.Errorf("schema definition must be a JSON object")
	}

	loader := gojsonschema.NewSchemaLoader()
	loader.Draft = gojsonschema.Draft7
	loader.AutoDetect = false

	schema, err := loader.Compile(gojsonschema.NewBytesLoader(definition))
	if err != nil {
		return nil, fmt.Errorf("invalid JSON Schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate checks an instance against the compiled schema and returns every
// violation, each annotated with its location. An empty slice means the
// instance conforms.
func (v *Validator) Validate(instance json.RawMessage) ([]PathError, error) {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(instance))
	if err != nil {
		return nil, fmt.Errorf("validate instance: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}
	violations := make([]PathError, 0, len(result.Errors()))
	for _, resErr := range result.Errors() {
		violations = append(violations, PathError{
			Path:    pointerPath(resErr.Field()),
			Message: resErr.Description(),
		})
	}
	return violations, nil
}

// JoinErrors flattens violations into the single aggregated message callers
// surface to clients.
func JoinErrors(violations []PathError) string {
	parts := make([]string, 0, len(violations))
	for _, v := range violations {
		parts = append(parts, v.String())
	}
	return strings.Join(parts, "; ")
}

// pointerPath converts gojsonschema's dotted field notation into a JSON
// pointer style location. The library reports the document root as "(root)".
func pointerPath(field string) string {
	if field == "" || field == "(root)" {
		return "/"
	}
	return "/" + strings.ReplaceAll(field, ".", "/")
}
