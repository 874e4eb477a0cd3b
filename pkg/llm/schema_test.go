package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanSchemaDropsDisallowedKeys(t *testing.T) {
	raw := map[string]any{
		"type":                 "object",
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"additionalProperties": false,
		"title":                "SendEmail",
		"required":             []any{"to"},
		"properties": map[string]any{
			"to": map[string]any{
				"type":     "string",
				"format":   "email",
				"examples": []any{"a@b.c"},
			},
		},
	}

	cleaned := CleanSchema(raw)

	assert.Equal(t, "object", cleaned["type"])
	assert.Equal(t, "SendEmail", cleaned["title"])
	assert.NotContains(t, cleaned, "$schema")
	assert.NotContains(t, cleaned, "additionalProperties")

	props, ok := cleaned["properties"].(map[string]any)
	require.True(t, ok)
	to, ok := props["to"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "string", to["type"])
	assert.NotContains(t, to, "format")
	assert.NotContains(t, to, "examples")
}

func TestCleanSchemaRecursesIntoItems(t *testing.T) {
	raw := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"attendees": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":      "string",
					"minLength": 1,
					"enum":      []any{"a", "b"},
				},
			},
		},
	}

	cleaned := CleanSchema(raw)

	props := cleaned["properties"].(map[string]any)
	attendees := props["attendees"].(map[string]any)
	items, ok := attendees["items"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "string", items["type"])
	assert.Equal(t, []any{"a", "b"}, items["enum"])
	assert.NotContains(t, items, "minLength")
}

func TestCleanSchemaIdempotent(t *testing.T) {
	raw := map[string]any{
		"type":    "object",
		"$id":     "x",
		"default": 5,
		"minimum": 0,
		"maximum": 10,
		"properties": map[string]any{
			"n": map[string]any{"type": "integer", "exclusiveMinimum": 0},
		},
	}

	once := CleanSchema(raw)
	twice := CleanSchema(once)

	assert.Equal(t, once, twice)
}

func TestCleanSchemaDoesNotMutateInput(t *testing.T) {
	raw := map[string]any{
		"type":    "object",
		"$schema": "x",
		"properties": map[string]any{
			"a": map[string]any{"type": "string", "format": "date"},
		},
	}

	_ = CleanSchema(raw)

	assert.Contains(t, raw, "$schema")
	inner := raw["properties"].(map[string]any)["a"].(map[string]any)
	assert.Contains(t, inner, "format")
}
