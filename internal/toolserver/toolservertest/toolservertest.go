// Package toolservertest runs tool servers over real HTTP for tests.
package toolservertest

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"toolmesh/internal/domain"
	"toolmesh/internal/infra/mcpcodec"
	"toolmesh/internal/infra/transport"
	"toolmesh/internal/toolserver"
)

// Endpoint is a running tool server.
type Endpoint struct {
	URL       string
	Remote    domain.RemoteEndpoint
	connector *transport.StreamableHTTPConnector
}

// Start serves server on an httptest listener closed at test cleanup.
func Start(t *testing.T, server *toolserver.Server) *Endpoint {
	t.Helper()
	httpServer := httptest.NewServer(server.Handler())
	t.Cleanup(httpServer.Close)

	connector, err := transport.NewStreamableHTTPConnector(transport.StreamableHTTPConnectorOptions{MaxRetries: 0})
	require.NoError(t, err)
	return &Endpoint{
		URL:       httpServer.URL,
		Remote:    domain.RemoteEndpoint{Name: server.Name(), BaseURL: httpServer.URL},
		connector: connector,
	}
}

// Call invokes a tool as conversationID and decodes the JSON payload it returns.
func (e *Endpoint) Call(t *testing.T, conversationID, name string, args map[string]any) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	session, err := e.connector.Connect(ctx, e.Remote, conversationID)
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	if args == nil {
		args = map[string]any{}
	}
	result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.False(t, result.IsError, "tool %s failed: %s", name, mcpcodec.ErrorText(result))

	text, ok := mcpcodec.DecodeResult(result).(string)
	require.True(t, ok, "tool %s returned no text content", name)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &payload))
	return payload
}

// Tools lists the tool names the server advertises.
func (e *Endpoint) Tools(t *testing.T) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	session, err := e.connector.Connect(ctx, e.Remote, "")
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	res, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	require.NoError(t, err)
	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	return names
}
