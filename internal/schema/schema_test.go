package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const personSchema = `{
	"type": "object",
	"required": ["name"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"age": {"type": "integer", "minimum": 0}
	},
	"additionalProperties": false
}`

func TestValidate(t *testing.T) {
	sch, err := Compile("person.json", personSchema)
	require.NoError(t, err)

	assert.NoError(t, Validate(sch, map[string]any{"name": "Ada", "age": 36}))
	assert.Error(t, Validate(sch, map[string]any{"age": 36}))
	assert.Error(t, Validate(sch, map[string]any{"name": "Ada", "extra": true}))
	assert.Error(t, Validate(sch, map[string]any{"name": "Ada", "age": -1}))
}

func TestCompile_BadDocument(t *testing.T) {
	_, err := Compile("bad.json", `{"type": 12`)
	assert.Error(t, err)

	assert.Panics(t, func() { MustCompile("bad.json", `{"type": "nope"}`) })
}
