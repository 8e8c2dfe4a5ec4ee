// internal/common/validation/schema_test.go
package validation

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
    "age":  {"type": "integer"}
  }
}`

func TestCompile_InvalidSchema(t *testing.T) {
	_, err := Compile(`{"type": 12}`)
	assert.Error(t, err)
	assert.Panics(t, func() { MustCompile(`not json`) })
}

func TestValidateJSON(t *testing.T) {
	s := MustCompile(personSchema)

	tests := []struct {
		name      string
		doc       string
		valid     bool
		badField  string
		parseFail bool
	}{
		{name: "valid", doc: `{"name":"ada","age":36}`, valid: true},
		{name: "missing required", doc: `{"age":36}`, badField: "(root)"},
		{name: "empty name", doc: `{"name":""}`, badField: "name"},
		{name: "wrong type", doc: `{"name":"ada","age":"old"}`, badField: "age"},
		{name: "not an object", doc: `[1,2]`, badField: "(root)"},
		{name: "not json", doc: `{name`, parseFail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.ValidateJSON([]byte(tt.doc))
			if tt.parseFail {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.valid, res.Valid)
			if !tt.valid {
				assert.True(t, res.HasErrors(tt.badField), "errors: %v", res.GetErrorMessages())
			}
		})
	}
}

func TestValidate_GoValue(t *testing.T) {
	s := MustCompile(personSchema)

	res := s.Validate(map[string]interface{}{"name": "ada"})
	assert.True(t, res.Valid)

	res = s.Validate(map[string]interface{}{"name": 7})
	assert.False(t, res.Valid)
	require.NotEmpty(t, res.GetErrorMessages())
	assert.Contains(t, res.GetErrorMessages()[0], "name")
}
