package toolserver

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"toolmesh/internal/domain"
	"toolmesh/internal/infra/identity"
	"toolmesh/internal/infra/mcpcodec"
)

// Payload is the JSON object every tool answers with.
type Payload map[string]any

// Success marks fields as a successful outcome.
func Success(fields Payload) Payload {
	out := make(Payload, len(fields)+1)
	for key, value := range fields {
		out[key] = value
	}
	out["success"] = true
	return out
}

// Failure reports a tool-level failure; the MCP call itself still succeeds.
func Failure(format string, args ...any) Payload {
	return Payload{"success": false, "error": fmt.Sprintf(format, args...)}
}

// Respond encodes a payload as the text content of a tool result.
func Respond(payload Payload) (*mcp.CallToolResult, any, error) {
	result, err := mcpcodec.JSONResult(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("encode tool result: %w", err)
	}
	return result, nil, nil
}

// Conversation is the identity of the agent behind an inbound call.
func Conversation(req *mcp.CallToolRequest) string {
	return identity.FromRequest(req)
}

// Timestamp formats artifact times the way sidecars record them.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

type ListArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of items to return (default 20)"`
}

type DeleteArgs struct {
	Path string `json:"path" jsonschema:"absolute path of the file to delete, as returned by the generate or list tools"`
}

// ArtifactTools describes the list and delete tools of one artifact kind.
type ArtifactTools struct {
	ListName   string
	DeleteName string
	// Collection is the key holding the listed items, e.g. "charts".
	Collection string
	// PathKey and URLKey name the path and URL fields of an item.
	PathKey string
	URLKey  string
	// Fields are copied from the sidecar params into each item.
	Fields []string
}

// RegisterArtifactTools adds the conversation-scoped list and delete tools.
func (s *Server) RegisterArtifactTools(tools ArtifactTools) {
	kind := string(s.store.Kind())
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        tools.ListName,
		Description: fmt.Sprintf("List recently generated %s files of the current conversation, newest first.", kind),
	}, func(ctx context.Context, req *mcp.CallToolRequest, in ListArgs) (*mcp.CallToolResult, any, error) {
		return Respond(s.listArtifacts(ctx, Conversation(req), in.Limit, tools))
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        tools.DeleteName,
		Description: fmt.Sprintf("Delete a generated %s file and its metadata.", kind),
	}, func(ctx context.Context, req *mcp.CallToolRequest, in DeleteArgs) (*mcp.CallToolResult, any, error) {
		return Respond(s.deleteArtifact(ctx, Conversation(req), in.Path))
	})
}

func (s *Server) listArtifacts(ctx context.Context, conversationID string, limit int, tools ArtifactTools) Payload {
	records, err := s.store.List(ctx, conversationID, limit)
	if err != nil {
		s.logger.Warn("list artifacts", zap.Error(err))
		return Failure("Failed to list %s: %v", tools.Collection, err)
	}
	items := make([]Payload, 0, len(records))
	for _, record := range records {
		items = append(items, s.Item(conversationID, record, tools))
	}
	return Success(Payload{tools.Collection: items, "count": len(items)})
}

// Item renders one stored artifact for listing.
func (s *Server) Item(conversationID string, record domain.ArtifactRecord, tools ArtifactTools) Payload {
	item := Payload{
		tools.PathKey: record.LocalPath,
		tools.URLKey:  s.FileURL(conversationID, record.LocalPath),
		"created_at":  Timestamp(record.CreatedAt),
	}
	for _, field := range tools.Fields {
		if value, ok := record.Params[field]; ok {
			item[field] = value
		}
	}
	return item
}

func (s *Server) deleteArtifact(ctx context.Context, conversationID, path string) Payload {
	if strings.TrimSpace(path) == "" {
		return Failure("path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Failure("Invalid path: %v", err)
	}
	if filepath.Dir(strings.TrimSuffix(abs, ".json")) != s.store.ConversationDir(conversationID) {
		return Failure("File does not belong to this conversation: %s", path)
	}
	deleted, err := s.store.Delete(ctx, abs)
	if err != nil {
		return Failure("Failed to delete: %v", err)
	}
	return Success(Payload{"deleted": deleted, "path": abs})
}
