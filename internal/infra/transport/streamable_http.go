package transport

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"toolmesh/internal/domain"
	"toolmesh/internal/infra/identity"
	"toolmesh/internal/infra/telemetry"
)

// Session is the part of an MCP client session the tool layer relies on.
type Session interface {
	ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
	Ping(ctx context.Context, params *mcp.PingParams) error
	Close() error
}

// Connector opens initialized sessions to remote endpoints. A non-empty
// conversation id is sent as X-Conversation-ID on every HTTP request of the session.
type Connector interface {
	Connect(ctx context.Context, endpoint domain.RemoteEndpoint, conversationID string) (Session, error)
}

type StreamableHTTPConnectorOptions struct {
	Logger          *zap.Logger
	ClientName      string
	ClientVersion   string
	ProtocolVersion string
	MaxRetries      int
	Headers         map[string]string
	// Base is the round tripper requests go through; http.DefaultTransport when nil.
	Base http.RoundTripper
}

// StreamableHTTPConnector connects over the streamable HTTP transport. Each
// Connect builds its own http.Client so headers never leak across sessions.
type StreamableHTTPConnector struct {
	logger          *zap.Logger
	impl            *mcp.Implementation
	protocolVersion string
	maxRetries      int
	headers         http.Header
	base            http.RoundTripper
}

func NewStreamableHTTPConnector(opts StreamableHTTPConnectorOptions) (*StreamableHTTPConnector, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	name := opts.ClientName
	if name == "" {
		name = domain.DefaultClientName
	}
	version := opts.ClientVersion
	if version == "" {
		version = "dev"
	}
	headers := http.Header{}
	for key, value := range opts.Headers {
		canonical := http.CanonicalHeaderKey(strings.TrimSpace(key))
		if canonical == "" {
			return nil, errors.New("http headers contain empty key")
		}
		headers.Set(canonical, value)
	}
	base := opts.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return &StreamableHTTPConnector{
		logger:          logger.Named("mcp_http_connector"),
		impl:            &mcp.Implementation{Name: name, Version: version},
		protocolVersion: opts.ProtocolVersion,
		maxRetries:      effectiveMaxRetries(opts.MaxRetries),
		headers:         headers,
		base:            base,
	}, nil
}

func (c *StreamableHTTPConnector) Connect(ctx context.Context, endpoint domain.RemoteEndpoint, conversationID string) (Session, error) {
	url := EndpointURL(endpoint)
	if url == "" {
		return nil, domain.E(domain.CodeConnectivity, "transport.connect", "streamable http endpoint is required", domain.ErrConnectivity)
	}

	headers := c.headers.Clone()
	if c.protocolVersion != "" {
		headers.Set("Mcp-Protocol-Version", c.protocolVersion)
	}
	if conversationID != "" {
		headers.Set(domain.ConversationHeader, identity.Resolve(conversationID))
	}

	transport := &mcp.StreamableClientTransport{
		Endpoint: url,
		HTTPClient: &http.Client{
			Transport: &headerRoundTripper{base: c.base, headers: headers},
		},
		MaxRetries: c.maxRetries,
	}
	client := mcp.NewClient(c.impl, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		c.logger.Debug("connect failed", telemetry.EndpointField(endpoint.Name), zap.String("url", url), zap.Error(err))
		if ctx.Err() != nil {
			return nil, domain.WrapContext(domain.CodeConnectivity, "transport.connect", ctx.Err())
		}
		return nil, domain.E(domain.CodeConnectivity, "transport.connect", "connect "+url+": "+err.Error(), err)
	}
	return session, nil
}

// EndpointURL joins the endpoint base URL and its MCP path.
func EndpointURL(endpoint domain.RemoteEndpoint) string {
	base := strings.TrimRight(strings.TrimSpace(endpoint.BaseURL), "/")
	if base == "" {
		return ""
	}
	path := strings.TrimSpace(endpoint.MCPPath)
	if path == "" {
		path = domain.DefaultMCPPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if strings.HasSuffix(base, path) {
		return base
	}
	return base + path
}

func effectiveMaxRetries(value int) int {
	if value == 0 {
		return domain.DefaultStreamableMaxRetries
	}
	return value
}

type headerRoundTripper struct {
	base    http.RoundTripper
	headers http.Header
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for key, values := range h.headers {
		req.Header.Del(key)
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	return h.base.RoundTrip(req)
}

var _ Session = (*mcp.ClientSession)(nil)
