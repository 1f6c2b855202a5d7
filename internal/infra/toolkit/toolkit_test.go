package toolkit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolmesh/internal/domain"
	"toolmesh/internal/infra/transport"
)

type addArgs struct {
	A int `json:"a" jsonschema:"first addend"`
	B int `json:"b" jsonschema:"second addend"`
}

type emptyArgs struct{}

func newRemoteServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "remote", Version: "0.1.0"}, &mcp.ServerOptions{HasTools: true})
	mcp.AddTool(server, &mcp.Tool{Name: "add_numbers", Description: "Add two integers"},
		func(_ context.Context, _ *mcp.CallToolRequest, in addArgs) (*mcp.CallToolResult, any, error) {
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: strconv.Itoa(in.A + in.B)}}}, nil, nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: "whoami", Description: "Report the conversation header"},
		func(_ context.Context, req *mcp.CallToolRequest, _ emptyArgs) (*mcp.CallToolResult, any, error) {
			present, value := false, ""
			if req != nil && req.Extra != nil && req.Extra.Header != nil {
				values, ok := req.Extra.Header[http.CanonicalHeaderKey(domain.ConversationHeader)]
				present = ok
				if ok && len(values) > 0 {
					value = values[0]
				}
			}
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%t:%s", present, value)}}}, nil, nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: "slow", Description: "Wait for cancellation"},
		func(ctx context.Context, _ *mcp.CallToolRequest, _ emptyArgs) (*mcp.CallToolResult, any, error) {
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "done"}}}, nil, nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: "explode", Description: "Always fails"},
		func(context.Context, *mcp.CallToolRequest, emptyArgs) (*mcp.CallToolResult, any, error) {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: "renderer crashed"}},
			}, nil, nil
		})
	server.AddTool(&mcp.Tool{Name: "bare", InputSchema: map[string]any{"type": "object"}},
		func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{}, nil
		})
	return server
}

// spyConnector connects in memory and records every connection attempt.
type spyConnector struct {
	server   *mcp.Server
	connects atomic.Int32
	fail     atomic.Bool
	listFail atomic.Bool

	mu         sync.Mutex
	identities []string
}

func (c *spyConnector) Connect(ctx context.Context, _ domain.RemoteEndpoint, conversationID string) (transport.Session, error) {
	c.connects.Add(1)
	c.mu.Lock()
	c.identities = append(c.identities, conversationID)
	c.mu.Unlock()
	if c.fail.Load() {
		return nil, domain.E(domain.CodeConnectivity, "spy.connect", "connection refused", nil)
	}
	ct, st := mcp.NewInMemoryTransports()
	if _, err := c.server.Connect(ctx, st, nil); err != nil {
		return nil, err
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "spy", Version: "0.1.0"}, nil)
	session, err := client.Connect(ctx, ct, nil)
	if err != nil {
		return nil, err
	}
	if c.listFail.Load() {
		return listFailingSession{Session: session}, nil
	}
	return session, nil
}

// listFailingSession connects fine but cannot list its tools.
type listFailingSession struct {
	transport.Session
}

func (listFailingSession) ListTools(context.Context, *mcp.ListToolsParams) (*mcp.ListToolsResult, error) {
	return nil, errors.New("boom")
}

// gatedConnector blocks every Connect until release is closed.
type gatedConnector struct {
	entered chan struct{}
	release chan struct{}
}

func (c *gatedConnector) Connect(ctx context.Context, _ domain.RemoteEndpoint, _ string) (transport.Session, error) {
	close(c.entered)
	select {
	case <-c.release:
	case <-ctx.Done():
	}
	return nil, domain.E(domain.CodeConnectivity, "gated.connect", "connection refused", nil)
}

func (c *spyConnector) lastIdentity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identities[len(c.identities)-1]
}

type memorySnapshots struct {
	mu        sync.Mutex
	snapshots []domain.CapabilitySnapshot
}

func (m *memorySnapshots) Put(_ context.Context, snapshot domain.CapabilitySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, snapshot)
	return nil
}

func newTestToolkit(t *testing.T, endpoint domain.RemoteEndpoint) (*Toolkit, *spyConnector) {
	t.Helper()
	if endpoint.Name == "" {
		endpoint.Name = "remote"
	}
	connector := &spyConnector{server: newRemoteServer()}
	tk, err := New(Options{Endpoint: endpoint, Connector: connector, CallTimeout: 2 * time.Second})
	require.NoError(t, err)
	return tk, connector
}

func TestToolkit_ConnectRegistersWrappers(t *testing.T) {
	cache := &memorySnapshots{}
	connector := &spyConnector{server: newRemoteServer()}
	tk, err := New(Options{Endpoint: domain.RemoteEndpoint{Name: "remote"}, Connector: connector, Cache: cache})
	require.NoError(t, err)

	require.NoError(t, tk.Connect(context.Background(), false))

	names := tk.Registry().Names()
	assert.ElementsMatch(t, []string{"add_numbers", "whoami", "slow", "explode", "bare"}, names)
	assert.NotEmpty(t, tk.Registry().ETag())
	assert.Equal(t, []string{""}, connector.identities)

	w, ok := tk.Lookup("add_numbers")
	require.True(t, ok)
	assert.Equal(t, "Add two integers", w.Description())
	assert.Equal(t, []string{"a", "b"}, w.Required())
	assert.Empty(t, w.Optional())
	params := w.Parameters()
	assert.Equal(t, "object", params["type"])
	props, ok := params["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "a")
	assert.Contains(t, props, "b")

	require.Len(t, cache.snapshots, 1)
	assert.Equal(t, "remote", cache.snapshots[0].Endpoint)
	assert.Equal(t, tk.Registry().ETag(), cache.snapshots[0].ETag)
	assert.Len(t, cache.snapshots[0].Operations, 5)
}

func TestToolkit_DefaultDescription(t *testing.T) {
	tk, _ := newTestToolkit(t, domain.RemoteEndpoint{})
	require.NoError(t, tk.Connect(context.Background(), false))

	w, ok := tk.Lookup("bare")
	require.True(t, ok)
	assert.Equal(t, "execute `bare` remotely", w.Description())
	params := w.Parameters()
	assert.Equal(t, map[string]any{}, params["properties"])
	assert.Equal(t, []any{}, params["required"])
}

func TestToolkit_ConnectRunsOncePerSession(t *testing.T) {
	tk, connector := newTestToolkit(t, domain.RemoteEndpoint{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, tk.Connect(context.Background(), false))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), connector.connects.Load())

	require.NoError(t, tk.Connect(context.Background(), true))
	assert.Equal(t, int32(2), connector.connects.Load())

	tk.Close()
	assert.Zero(t, tk.Registry().Len())
	require.NoError(t, tk.Connect(context.Background(), false))
	assert.Equal(t, int32(3), connector.connects.Load())
}

func TestToolkit_IncludeExcludeFilters(t *testing.T) {
	tk, _ := newTestToolkit(t, domain.RemoteEndpoint{
		Include: []string{"add_numbers", "whoami", "slow"},
		Exclude: []string{"slow"},
	})
	require.NoError(t, tk.Connect(context.Background(), false))
	assert.ElementsMatch(t, []string{"add_numbers", "whoami"}, tk.Registry().Names())
}

func TestToolkit_ForcedRediscoveryFailureLeavesRegistryEmpty(t *testing.T) {
	tk, connector := newTestToolkit(t, domain.RemoteEndpoint{})
	require.NoError(t, tk.Connect(context.Background(), false))
	require.NotZero(t, tk.Registry().Len())

	connector.fail.Store(true)
	err := tk.Connect(context.Background(), true)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConnectivity)
	assert.Zero(t, tk.Registry().Len())
	assert.False(t, tk.Discovered())
}

func TestToolkit_ListFailureIsDiscoveryError(t *testing.T) {
	tk, connector := newTestToolkit(t, domain.RemoteEndpoint{})
	connector.listFail.Store(true)

	err := tk.Connect(context.Background(), false)
	require.Error(t, err)
	code, _ := domain.CodeFrom(err)
	assert.Equal(t, domain.CodeDiscovery, code)
	assert.ErrorIs(t, err, domain.ErrDiscovery)
	assert.Contains(t, err.Error(), "boom")
	assert.Zero(t, tk.Registry().Len())
	assert.False(t, tk.Discovered())
}

func TestToolkit_ForcedRediscoveryListFailureLeavesRegistryEmpty(t *testing.T) {
	tk, connector := newTestToolkit(t, domain.RemoteEndpoint{})
	require.NoError(t, tk.Connect(context.Background(), false))
	require.NotZero(t, tk.Registry().Len())

	connector.listFail.Store(true)
	err := tk.Connect(context.Background(), true)
	require.Error(t, err)
	code, _ := domain.CodeFrom(err)
	assert.Equal(t, domain.CodeDiscovery, code)
	assert.ErrorIs(t, err, domain.ErrDiscovery)
	assert.Zero(t, tk.Registry().Len())
	assert.False(t, tk.Discovered())
}

func TestToolkit_DiscoveredDoesNotWaitForDiscovery(t *testing.T) {
	connector := &gatedConnector{entered: make(chan struct{}), release: make(chan struct{})}
	tk, err := New(Options{Endpoint: domain.RemoteEndpoint{Name: "remote"}, Connector: connector})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- tk.Connect(context.Background(), false) }()
	<-connector.entered

	read := make(chan bool, 1)
	go func() { read <- tk.Discovered() }()
	select {
	case got := <-read:
		assert.False(t, got)
	case <-time.After(time.Second):
		t.Fatal("Discovered blocked behind a running discovery")
	}

	close(connector.release)
	assert.Error(t, <-done)
}

func TestToolkit_NonForcedFailureKeepsEmptyState(t *testing.T) {
	tk, connector := newTestToolkit(t, domain.RemoteEndpoint{})
	connector.fail.Store(true)

	err := tk.Connect(context.Background(), false)
	require.Error(t, err)
	code, _ := domain.CodeFrom(err)
	assert.Equal(t, domain.CodeConnectivity, code)
	assert.Zero(t, tk.Registry().Len())

	connector.fail.Store(false)
	require.NoError(t, tk.Connect(context.Background(), false))
	assert.NotZero(t, tk.Registry().Len())
}

func TestToolkit_ReadersSeeWholeRegistries(t *testing.T) {
	tk, _ := newTestToolkit(t, domain.RemoteEndpoint{})
	require.NoError(t, tk.Connect(context.Background(), false))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			n := tk.Registry().Len()
			if n != 0 && n != 5 {
				t.Errorf("observed partial registry of %d entries", n)
				return
			}
		}
	}()
	for i := 0; i < 5; i++ {
		require.NoError(t, tk.Connect(context.Background(), true))
	}
	cancel()
	wg.Wait()
}

func TestToolkit_CallAddNumbers(t *testing.T) {
	tk, connector := newTestToolkit(t, domain.RemoteEndpoint{})

	got, err := tk.Call(context.Background(), "conv-1", "add_numbers", map[string]any{"a": 3, "b": 5})
	require.NoError(t, err)
	assert.Equal(t, "8", got)
	assert.Equal(t, "conv-1", connector.lastIdentity())
}

func TestToolkit_ValidationHappensBeforeAnyConnection(t *testing.T) {
	tk, connector := newTestToolkit(t, domain.RemoteEndpoint{})
	require.NoError(t, tk.Connect(context.Background(), false))
	before := connector.connects.Load()

	w, ok := tk.Lookup("add_numbers")
	require.True(t, ok)
	_, err := w.Call(context.Background(), "abc123", map[string]any{"a": 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "b")
	assert.Equal(t, before, connector.connects.Load())
}

func TestToolkit_EachCallOpensItsOwnConnection(t *testing.T) {
	tk, connector := newTestToolkit(t, domain.RemoteEndpoint{})
	require.NoError(t, tk.Connect(context.Background(), false))
	before := connector.connects.Load()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := tk.Call(context.Background(), fmt.Sprintf("conv-%d", i), "add_numbers", map[string]any{"a": i, "b": 1})
			assert.NoError(t, err)
			assert.Equal(t, strconv.Itoa(i+1), got)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, before+4, connector.connects.Load())

	connector.mu.Lock()
	defer connector.mu.Unlock()
	assert.ElementsMatch(t, []string{"conv-0", "conv-1", "conv-2", "conv-3"}, connector.identities[before:])
}

func TestToolkit_UnknownTool(t *testing.T) {
	tk, _ := newTestToolkit(t, domain.RemoteEndpoint{})
	_, err := tk.Call(context.Background(), "", "missing", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrToolNotFound)
}

func TestToolkit_RemoteErrorIsInvocationError(t *testing.T) {
	tk, _ := newTestToolkit(t, domain.RemoteEndpoint{})
	_, err := tk.Call(context.Background(), "conv", "explode", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvocation)
	assert.Contains(t, err.Error(), "renderer crashed")
	assert.False(t, domain.IsRetryable(err))
}

func TestToolkit_TimeoutIsDistinctFromConnectivity(t *testing.T) {
	connector := &spyConnector{server: newRemoteServer()}
	tk, err := New(Options{Endpoint: domain.RemoteEndpoint{Name: "remote"}, Connector: connector, CallTimeout: 100 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, tk.Connect(context.Background(), false))

	_, err = tk.Call(context.Background(), "conv", "slow", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.False(t, errors.Is(err, domain.ErrConnectivity))
	assert.True(t, domain.IsRetryable(err))
}

func TestToolkit_ConnectivityFailureDuringCall(t *testing.T) {
	tk, connector := newTestToolkit(t, domain.RemoteEndpoint{})
	require.NoError(t, tk.Connect(context.Background(), false))
	connector.fail.Store(true)

	_, err := tk.Call(context.Background(), "conv", "add_numbers", map[string]any{"a": 1, "b": 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConnectivity)
}

func TestToolkit_CanceledCall(t *testing.T) {
	tk, _ := newTestToolkit(t, domain.RemoteEndpoint{})
	require.NoError(t, tk.Connect(context.Background(), false))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	_, err := tk.Call(ctx, "conv", "slow", nil)
	require.Error(t, err)
	code, _ := domain.CodeFrom(err)
	assert.Equal(t, domain.CodeCanceled, code)
}

func TestToolkit_IdentityHeaderOverHTTP(t *testing.T) {
	server := newRemoteServer()
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, &mcp.StreamableHTTPOptions{JSONResponse: true})
	mux := http.NewServeMux()
	mux.Handle("/mcp", handler)
	httpServer := httptest.NewServer(mux)
	t.Cleanup(httpServer.Close)

	connector, err := transport.NewStreamableHTTPConnector(transport.StreamableHTTPConnectorOptions{})
	require.NoError(t, err)
	tk, err := New(Options{Endpoint: domain.RemoteEndpoint{Name: "remote", BaseURL: httpServer.URL}, Connector: connector})
	require.NoError(t, err)

	got, err := tk.Call(context.Background(), "abc123", "whoami", nil)
	require.NoError(t, err)
	assert.Equal(t, "true:abc123", got)

	got, err = tk.Call(context.Background(), "", "whoami", nil)
	require.NoError(t, err)
	assert.Equal(t, "false:", got)
}

func TestToolkit_Alive(t *testing.T) {
	tk, connector := newTestToolkit(t, domain.RemoteEndpoint{})
	assert.True(t, tk.Alive(context.Background()))
	assert.Zero(t, tk.Registry().Len())

	connector.fail.Store(true)
	assert.False(t, tk.Alive(context.Background()))
}

func TestNew_RequiresEndpointAndConnector(t *testing.T) {
	_, err := New(Options{Connector: &spyConnector{}})
	require.Error(t, err)
	_, err = New(Options{Endpoint: domain.RemoteEndpoint{Name: "x"}})
	require.Error(t, err)
}
