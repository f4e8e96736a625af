package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON_MarkdownBlock(t *testing.T) {
	content := "Here is the result:\n```json\n{\"intent\": \"START_TEST_DESIGN\"}\n```\nDone."

	extracted := ExtractJSON(content)
	assert.JSONEq(t, `{"intent": "START_TEST_DESIGN"}`, extracted)
}

func TestExtractJSON_BareObject(t *testing.T) {
	content := `The answer is {"confidence": 0.95} as requested.`

	extracted := ExtractJSON(content)
	assert.JSONEq(t, `{"confidence": 0.95}`, extracted)
}

func TestExtractJSON_TrailingCommas(t *testing.T) {
	content := `{"items": ["a", "b",], "done": true,}`

	extracted := ExtractJSON(content)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(extracted), &decoded))
	assert.Equal(t, true, decoded["done"])
}

func TestExtractJSON_LineComments(t *testing.T) {
	content := `{
		"url": "http://example.com/path", // keep the URL intact
		"note": "value" // strip this
	}`

	extracted := ExtractJSON(content)
	var decoded map[string]string
	require.NoError(t, json.Unmarshal([]byte(extracted), &decoded))
	assert.Equal(t, "http://example.com/path", decoded["url"])
	assert.Equal(t, "value", decoded["note"])
}

func TestExtractJSON_NoObject(t *testing.T) {
	assert.Empty(t, ExtractJSON("no json here at all"))
}

func TestDecodeStructured_Direct(t *testing.T) {
	var out struct {
		Intent string `json:"intent"`
	}
	require.NoError(t, DecodeStructured(`{"intent": "x"}`, &out))
	assert.Equal(t, "x", out.Intent)
}

func TestDecodeStructured_Fenced(t *testing.T) {
	var out struct {
		Intent string `json:"intent"`
	}
	require.NoError(t, DecodeStructured("```json\n{\"intent\": \"y\"}\n```", &out))
	assert.Equal(t, "y", out.Intent)
}

func TestDecodeStructured_Empty(t *testing.T) {
	var out map[string]any
	assert.Error(t, DecodeStructured("   ", &out))
}
