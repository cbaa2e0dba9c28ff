package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleArgs struct {
	Query string   `json:"query" description:"Search query"`
	Limit *int     `json:"limit" description:"Optional limit"`
	Mode  string   `json:"mode,omitempty" enum:"fast,exact"`
	Tags  []string `json:"tags,omitempty"`
}

func TestCreateSchema(t *testing.T) {
	schema := CreateSchema(sampleArgs{})
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "query")
	assert.Contains(t, props, "limit")
	assert.Equal(t, []string{"fast", "exact"}, props["mode"].(map[string]any)["enum"])
	assert.Equal(t, "array", props["tags"].(map[string]any)["type"])
	assert.Equal(t, []string{"query"}, schema["required"])

	assert.Equal(t, "object", CreateSchema(42)["type"])
}

func TestValidateParameters(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"x":    map[string]any{"type": "integer"},
			"mode": map[string]any{"type": "string", "enum": []string{"a", "b"}},
		},
		"required": []any{"x"},
	}

	require.NoError(t, ValidateParameters(map[string]any{"x": 5}, schema))
	require.NoError(t, ValidateParameters(map[string]any{"x": 5.0, "mode": "a"}, schema))

	err := ValidateParameters(map[string]any{}, schema)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Message, "x")

	err = ValidateParameters(map[string]any{"x": "not-int"}, schema)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "x", vErr.Field)

	err = ValidateParameters(map[string]any{"x": 1, "mode": "c"}, schema)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "mode", vErr.Field)
}

func TestCompileSchemaErrors(t *testing.T) {
	_, err := CompileSchema(map[string]any{"type": 12})
	assert.Error(t, err)

	s, err := CompileSchema(nil)
	require.NoError(t, err)
	assert.NoError(t, s.Validate(map[string]any{"anything": true}))
	assert.Error(t, s.Validate("not an object"))
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("plain", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain", out)

	out, err = RenderTemplate(`Q: {{.question}} <{{default "none" .missing}}> {{json .tags}}`, map[string]any{
		"question": "a & b",
		"tags":     []any{"x"},
	})
	require.NoError(t, err)
	assert.Equal(t, `Q: a & b <none> ["x"]`, out)

	_, err = RenderTemplate("{{.broken", nil)
	assert.Error(t, err)
}

func TestRenderTemplateContext(t *testing.T) {
	values := map[string]any{
		"docs": []any{
			map[string]any{"id": "d1", "content": "first", "score": 0.9},
			map[string]any{"id": "d2", "content": "second"},
		},
	}
	for range 2 {
		out, err := RenderTemplate("Context:\n{{context .docs}}", values)
		require.NoError(t, err)
		assert.Equal(t, "Context:\n[d1] first\n[d2] second", out)
	}
}
