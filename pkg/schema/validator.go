package schema

import (
	"bytes"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator validates JSON values against a compiled schema.
type Validator struct {
	compiled *jsonschema.Schema
}

// Compile compiles the JSON schema document.
func Compile(schemaJSON []byte) (*Validator, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, errors.Wrap(err, "invalid schema")
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, errors.Wrap(err, "invalid schema")
	}
	return &Validator{compiled: compiled}, nil
}

// Validate validates the decoded JSON value: map[string]any, []any, string,
// float64, json.Number, bool or nil.
func (v *Validator) Validate(value any) error {
	if err := v.compiled.Validate(value); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	return nil
}

// ValidateJSON decodes and validates the JSON document.
func (v *Validator) ValidateJSON(data []byte) error {
	var value any
	d := json.NewDecoder(bytes.NewReader(data))
	d.UseNumber()
	if err := d.Decode(&value); err != nil {
		return errors.Wrap(err, "invalid JSON")
	}
	return v.Validate(value)
}
