package mcpcodec

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"toolmesh/internal/domain"
	"toolmesh/internal/infra/schema"
)

// DescriptorFromMCP converts an advertised MCP tool to an operation descriptor.
func DescriptorFromMCP(tool *mcp.Tool) (domain.OperationDescriptor, error) {
	if tool == nil {
		return domain.OperationDescriptor{}, fmt.Errorf("tool is nil")
	}
	name := strings.TrimSpace(tool.Name)
	if name == "" {
		return domain.OperationDescriptor{}, fmt.Errorf("tool name is empty")
	}
	input, err := schema.Parse(tool.InputSchema)
	if err != nil {
		return domain.OperationDescriptor{}, fmt.Errorf("tool %q: %w", name, err)
	}
	return domain.OperationDescriptor{
		Name:        name,
		Description: tool.Description,
		InputSchema: input,
	}, nil
}

// DescriptorToMCP converts a descriptor back to its MCP wire form.
func DescriptorToMCP(desc domain.OperationDescriptor) *mcp.Tool {
	var input any = json.RawMessage(`{"type":"object"}`)
	if len(desc.InputSchema.Raw) > 0 {
		input = desc.InputSchema.Raw
	}
	return &mcp.Tool{
		Name:        desc.Name,
		Description: desc.Description,
		InputSchema: input,
	}
}

// MarshalDescriptor encodes a descriptor as MCP tool JSON.
func MarshalDescriptor(desc domain.OperationDescriptor) ([]byte, error) {
	return json.Marshal(DescriptorToMCP(desc))
}

// HashDescriptors returns a deterministic hash for a descriptor list or an error.
func HashDescriptors(descs []domain.OperationDescriptor) (string, error) {
	hasher := sha256.New()
	for i, desc := range descs {
		raw, err := MarshalDescriptor(desc)
		if err != nil {
			return "", fmt.Errorf("marshal descriptor %d: %w", i, err)
		}
		_, _ = hasher.Write(raw)
		_, _ = hasher.Write([]byte{0})
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// DecodeResult extracts the caller-facing value of a tool result: the first
// text chunk, else every content chunk as a plain map, else the structured
// content, else nil.
func DecodeResult(result *mcp.CallToolResult) any {
	if result == nil {
		return nil
	}
	for _, content := range result.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			return text.Text
		}
	}
	if len(result.Content) > 0 {
		chunks := make([]any, 0, len(result.Content))
		for _, content := range result.Content {
			if chunk := contentToMap(content); chunk != nil {
				chunks = append(chunks, chunk)
			}
		}
		if len(chunks) > 0 {
			return chunks
		}
	}
	if result.StructuredContent != nil {
		return result.StructuredContent
	}
	return nil
}

// ErrorText joins the text chunks of an error result.
func ErrorText(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	parts := make([]string, 0, len(result.Content))
	for _, content := range result.Content {
		if text, ok := content.(*mcp.TextContent); ok && strings.TrimSpace(text.Text) != "" {
			parts = append(parts, text.Text)
		}
	}
	if len(parts) == 0 {
		return "remote operation reported an error"
	}
	return strings.Join(parts, "\n")
}

// TextResult builds a single text chunk result.
func TextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

// JSONResult builds a result whose text chunk is the JSON encoding of value.
func JSONResult(value any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return TextResult(string(data)), nil
}

func contentToMap(content mcp.Content) map[string]any {
	if content == nil {
		return nil
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
