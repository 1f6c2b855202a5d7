package mcpcodec

import (
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolmesh/internal/domain"
)

func TestDescriptorFromMCP(t *testing.T) {
	tool := &mcp.Tool{
		Name:        "add_numbers",
		Description: "Add two integers",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "integer"},
				"b": map[string]any{"type": "integer"},
			},
			"required": []any{"a", "b"},
		},
	}

	desc, err := DescriptorFromMCP(tool)
	require.NoError(t, err)
	assert.Equal(t, "add_numbers", desc.Name)
	assert.Equal(t, "Add two integers", desc.Description)
	assert.Equal(t, []string{"a", "b"}, desc.InputSchema.Required)
	assert.Equal(t, "integer", desc.InputSchema.Properties["a"].Type)
}

func TestDescriptorFromMCP_Invalid(t *testing.T) {
	_, err := DescriptorFromMCP(nil)
	require.Error(t, err)

	_, err = DescriptorFromMCP(&mcp.Tool{Name: "  "})
	require.Error(t, err)

	_, err = DescriptorFromMCP(&mcp.Tool{Name: "x", InputSchema: map[string]any{"type": "array"}})
	require.Error(t, err)
}

func TestMarshalDescriptor_ValidToolJSON(t *testing.T) {
	desc := domain.OperationDescriptor{
		Name:        "echo",
		Description: "Echo input",
		InputSchema: domain.InputSchema{Raw: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`)},
	}
	raw, err := MarshalDescriptor(desc)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "echo", decoded["name"])
	assert.Equal(t, "Echo input", decoded["description"])
	schema, ok := decoded["inputSchema"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "object", schema["type"])
}

func TestHashDescriptors_Deterministic(t *testing.T) {
	descs := []domain.OperationDescriptor{
		{Name: "a", InputSchema: domain.InputSchema{Raw: json.RawMessage(`{"type":"object"}`)}},
		{Name: "b", Description: "second"},
	}
	first, err := HashDescriptors(descs)
	require.NoError(t, err)
	second, err := HashDescriptors(descs)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)

	changed := append([]domain.OperationDescriptor(nil), descs...)
	changed[1].Description = "changed"
	third, err := HashDescriptors(changed)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestDecodeResult(t *testing.T) {
	tests := []struct {
		name   string
		result *mcp.CallToolResult
		want   any
	}{
		{name: "nil", result: nil, want: nil},
		{name: "empty", result: &mcp.CallToolResult{}, want: nil},
		{
			name: "first text wins",
			result: &mcp.CallToolResult{Content: []mcp.Content{
				&mcp.ImageContent{Data: []byte("x"), MIMEType: "image/png"},
				&mcp.TextContent{Text: "8"},
				&mcp.TextContent{Text: "ignored"},
			}},
			want: "8",
		},
		{
			name:   "structured fallback",
			result: &mcp.CallToolResult{StructuredContent: map[string]any{"sum": 8}},
			want:   map[string]any{"sum": 8},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeResult(tt.result))
		})
	}
}

func TestDecodeResult_NonTextChunks(t *testing.T) {
	got := DecodeResult(&mcp.CallToolResult{Content: []mcp.Content{
		&mcp.ImageContent{Data: []byte("png"), MIMEType: "image/png"},
	}})
	chunks, ok := got.([]any)
	require.True(t, ok)
	require.Len(t, chunks, 1)
	chunk, ok := chunks[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "image", chunk["type"])
	assert.Equal(t, "image/png", chunk["mimeType"])
}

func TestErrorText(t *testing.T) {
	assert.Equal(t, "boom", ErrorText(TextResult("boom")))
	assert.NotEmpty(t, ErrorText(&mcp.CallToolResult{IsError: true}))
}

func TestJSONResult(t *testing.T) {
	result, err := JSONResult(map[string]any{"success": true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true}`, DecodeResult(result).(string))
}
