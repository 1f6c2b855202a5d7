// Package toolkit discovers the operations of one remote endpoint, exposes
// them as local wrappers and invokes them on behalf of a conversation.
package toolkit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"toolmesh/internal/domain"
	"toolmesh/internal/infra/mcpcodec"
	"toolmesh/internal/infra/probe"
	"toolmesh/internal/infra/schema"
	"toolmesh/internal/infra/telemetry"
	"toolmesh/internal/infra/transport"
)

// SnapshotWriter persists the outcome of a successful discovery.
type SnapshotWriter interface {
	Put(ctx context.Context, snapshot domain.CapabilitySnapshot) error
}

type Options struct {
	Endpoint         domain.RemoteEndpoint
	Connector        transport.Connector
	CallTimeout      time.Duration
	DiscoveryTimeout time.Duration
	ProbeTimeout     time.Duration
	Cache            SnapshotWriter
	Logger           *zap.Logger
	Metrics          domain.Metrics
	Now              func() time.Time
}

// Toolkit binds one remote endpoint. Discovery runs at most once per session
// unless forced; readers always see a complete registry.
type Toolkit struct {
	endpoint         domain.RemoteEndpoint
	connector        transport.Connector
	discoveryTimeout time.Duration
	cache            SnapshotWriter
	logger           *zap.Logger
	metrics          domain.Metrics
	now              func() time.Time
	invoker          *Invoker
	prober           *probe.Prober

	// mu serializes discovery; discovered is also read without it.
	mu         sync.Mutex
	discovered atomic.Bool
	registry   atomic.Pointer[Registry]
}

func New(opts Options) (*Toolkit, error) {
	if strings.TrimSpace(opts.Endpoint.Name) == "" {
		return nil, errors.New("endpoint name is required")
	}
	if opts.Connector == nil {
		return nil, errors.New("connector is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("toolkit").With(telemetry.EndpointField(opts.Endpoint.Name))
	metrics := opts.Metrics
	if metrics == nil {
		metrics = domain.NoopMetrics{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	callTimeout := opts.CallTimeout
	if callTimeout == 0 {
		callTimeout = domain.DefaultCallTimeoutSeconds * time.Second
	}
	discoveryTimeout := opts.DiscoveryTimeout
	if discoveryTimeout == 0 {
		discoveryTimeout = domain.DefaultDiscoveryTimeoutSecs * time.Second
	}

	tk := &Toolkit{
		endpoint:         opts.Endpoint,
		connector:        opts.Connector,
		discoveryTimeout: discoveryTimeout,
		cache:            opts.Cache,
		logger:           logger,
		metrics:          metrics,
		now:              now,
		invoker:          newInvoker(opts.Endpoint, opts.Connector, callTimeout, logger, metrics),
		prober: probe.New(probe.Options{
			Connector: opts.Connector,
			Timeout:   opts.ProbeTimeout,
			Logger:    logger,
			Metrics:   metrics,
		}),
	}
	tk.registry.Store(emptyRegistry)
	return tk, nil
}

func (t *Toolkit) Endpoint() domain.RemoteEndpoint {
	return t.endpoint
}

// Registry returns the current snapshot.
func (t *Toolkit) Registry() *Registry {
	return t.registry.Load()
}

func (t *Toolkit) Tools() []*Wrapper {
	return t.registry.Load().List()
}

func (t *Toolkit) Lookup(name string) (*Wrapper, bool) {
	return t.registry.Load().Lookup(name)
}

// Discovered reports whether this session already ran a successful discovery.
func (t *Toolkit) Discovered() bool {
	return t.discovered.Load()
}

// Connect discovers the endpoint's operations. Without force it is a no-op
// once discovery succeeded. A forced run empties the registry first, so a
// failed refresh leaves nothing rather than stale operations.
func (t *Toolkit) Connect(ctx context.Context, force bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.discovered.Load() && !force {
		return nil
	}
	if force {
		t.registry.Store(emptyRegistry)
		t.discovered.Store(false)
	}

	start := time.Now()
	descs, err := t.discover(ctx)
	t.metrics.ObserveDiscovery(t.endpoint.Name, len(descs), time.Since(start), err)
	if err != nil {
		t.logger.Warn("discovery failed", telemetry.EventField(telemetry.EventDiscoveryFailure), zap.Bool("forced", force), zap.Error(err))
		return err
	}

	etag, err := mcpcodec.HashDescriptors(descs)
	if err != nil {
		t.logger.Warn("hash descriptors", zap.Error(err))
	}
	discoveredAt := t.now().UTC()
	wrappers := make([]*Wrapper, 0, len(descs))
	for _, desc := range descs {
		validator, err := schema.Compile(desc.InputSchema)
		if err != nil {
			t.logger.Warn("input schema only partially enforced", telemetry.ToolField(desc.Name), zap.Error(err))
		}
		wrappers = append(wrappers, newWrapper(t.endpoint.Name, desc, validator, t.invoker))
	}
	t.registry.Store(newRegistry(etag, discoveredAt, wrappers))
	t.discovered.Store(true)

	t.logger.Info("discovery complete",
		telemetry.EventField(telemetry.EventDiscoverySuccess),
		zap.Int("operations", len(wrappers)),
		telemetry.ETagField(etag),
		telemetry.DurationField(time.Since(start)),
	)
	if t.cache != nil {
		snapshot := domain.CapabilitySnapshot{
			Endpoint:     t.endpoint.Name,
			ETag:         etag,
			DiscoveredAt: discoveredAt,
			Operations:   descs,
		}
		if err := t.cache.Put(ctx, snapshot); err != nil {
			t.logger.Warn("cache capability snapshot", zap.Error(err))
		}
	}
	return nil
}

func (t *Toolkit) discover(ctx context.Context) ([]domain.OperationDescriptor, error) {
	const op = "toolkit.discover"
	dctx, cancel := context.WithTimeout(ctx, t.discoveryTimeout)
	defer cancel()

	session, err := t.connector.Connect(dctx, t.endpoint, "")
	if err != nil {
		return nil, domain.E(domain.CodeConnectivity, op, "connect "+t.endpoint.Name+": "+err.Error(), err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			t.logger.Debug("close discovery session", zap.Error(closeErr))
		}
	}()

	filter := newNameFilter(t.endpoint.Include, t.endpoint.Exclude)
	var (
		descs  []domain.OperationDescriptor
		cursor string
	)
	for {
		res, err := session.ListTools(dctx, &mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			return nil, domain.E(domain.CodeDiscovery, op, "list tools: "+err.Error(), err)
		}
		for _, tool := range res.Tools {
			if tool == nil || !filter.allows(tool.Name) {
				continue
			}
			desc, err := mcpcodec.DescriptorFromMCP(tool)
			if err != nil {
				t.logger.Warn("skip malformed tool", zap.Error(err))
				continue
			}
			descs = append(descs, desc)
		}
		if res.NextCursor == "" || res.NextCursor == cursor {
			break
		}
		cursor = res.NextCursor
	}
	return descs, nil
}

// Call invokes the named operation for conversationID, discovering first if
// this session has not yet done so.
func (t *Toolkit) Call(ctx context.Context, conversationID, name string, args map[string]any) (any, error) {
	if err := t.Connect(ctx, false); err != nil {
		return nil, err
	}
	w, ok := t.Lookup(name)
	if !ok {
		return nil, domain.E(domain.CodeNotFound, "toolkit.call", "tool "+name+" not found on "+t.endpoint.Name, domain.ErrToolNotFound)
	}
	return w.Call(ctx, conversationID, args)
}

// Alive probes the endpoint without touching the registry.
func (t *Toolkit) Alive(ctx context.Context) bool {
	return t.prober.Probe(ctx, t.endpoint)
}

// Close ends the discovery session; the next Connect discovers again.
func (t *Toolkit) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.registry.Store(emptyRegistry)
	t.discovered.Store(false)
}

type nameFilter struct {
	include map[string]struct{}
	exclude map[string]struct{}
}

func newNameFilter(include, exclude []string) nameFilter {
	return nameFilter{include: toSet(include), exclude: toSet(exclude)}
}

func (f nameFilter) allows(name string) bool {
	if len(f.include) > 0 {
		if _, ok := f.include[name]; !ok {
			return false
		}
	}
	_, excluded := f.exclude[name]
	return !excluded
}

func toSet(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			set[name] = struct{}{}
		}
	}
	return set
}
