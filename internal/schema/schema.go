// Package schema compiles and applies JSON schemas to loosely typed values.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Compile compiles a JSON schema document registered under name.
func Compile(name, doc string) (*jsonschema.Schema, error) {
	var schemaObj any
	if err := json.Unmarshal([]byte(doc), &schemaObj); err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, schemaObj); err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	sch, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	return sch, nil
}

// MustCompile is Compile for package-level schemas.
func MustCompile(name, doc string) *jsonschema.Schema {
	sch, err := Compile(name, doc)
	if err != nil {
		panic(err)
	}
	return sch
}

// Validate checks v against sch. v is round-tripped through JSON first so Go
// ints and typed slices validate like decoded JSON.
func Validate(sch *jsonschema.Schema, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
