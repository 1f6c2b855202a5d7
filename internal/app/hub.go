package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"toolmesh/internal/domain"
	"toolmesh/internal/infra/config"
	"toolmesh/internal/infra/telemetry"
	"toolmesh/internal/infra/toolkit"
	"toolmesh/internal/infra/transport"
)

// HubOptions configures a Hub.
type HubOptions struct {
	Config    config.Config
	Connector transport.Connector
	Cache     toolkit.SnapshotWriter
	Health    *telemetry.HealthTracker
	Logger    *zap.Logger
	Metrics   domain.Metrics
}

// Hub holds one toolkit per enabled endpoint and is what an orchestrator
// calls into. Every call names the conversation it acts for.
type Hub struct {
	toolkits map[string]*toolkit.Toolkit
	order    []string
	health   *telemetry.HealthTracker
	logger   *zap.Logger
}

// EndpointStatus is the outcome of probing one endpoint.
type EndpointStatus struct {
	Endpoint   string    `json:"endpoint" yaml:"endpoint"`
	URL        string    `json:"url" yaml:"url"`
	Reachable  bool      `json:"reachable" yaml:"reachable"`
	Discovered bool      `json:"discovered" yaml:"discovered"`
	Operations int       `json:"operations" yaml:"operations"`
	CheckedAt  time.Time `json:"checkedAt" yaml:"checkedAt"`
}

func NewHub(opts HubOptions) (*Hub, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	connector := opts.Connector
	if connector == nil {
		var err error
		connector, err = transport.NewStreamableHTTPConnector(transport.StreamableHTTPConnectorOptions{
			Logger:        logger,
			ClientVersion: Version,
		})
		if err != nil {
			return nil, err
		}
	}
	health := opts.Health
	if health == nil {
		health = telemetry.NewHealthTracker()
	}

	hub := &Hub{
		toolkits: make(map[string]*toolkit.Toolkit),
		health:   health,
		logger:   logger.Named("hub"),
	}
	for _, endpoint := range opts.Config.Endpoints {
		if endpoint.Disabled {
			hub.logger.Debug("endpoint disabled", telemetry.EndpointField(endpoint.Name))
			continue
		}
		tk, err := toolkit.New(toolkit.Options{
			Endpoint:         endpoint,
			Connector:        connector,
			CallTimeout:      opts.Config.CallTimeout,
			DiscoveryTimeout: opts.Config.DiscoveryTimeout,
			ProbeTimeout:     opts.Config.ProbeTimeout,
			Cache:            opts.Cache,
			Logger:           logger,
			Metrics:          opts.Metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", endpoint.Name, err)
		}
		hub.toolkits[endpoint.Name] = tk
		hub.order = append(hub.order, endpoint.Name)
	}
	return hub, nil
}

// Endpoints lists the enabled endpoint names in configuration order.
func (h *Hub) Endpoints() []string {
	return append([]string(nil), h.order...)
}

func (h *Hub) Toolkit(name string) (*toolkit.Toolkit, bool) {
	tk, ok := h.toolkits[name]
	return tk, ok
}

func (h *Hub) Health() *telemetry.HealthTracker {
	return h.health
}

// Discover runs discovery on every endpoint concurrently. Endpoints fail
// independently; the returned map holds only the failures.
func (h *Hub) Discover(ctx context.Context, force bool) map[string]error {
	errs := make([]error, len(h.order))
	var group errgroup.Group
	for i, name := range h.order {
		tk := h.toolkits[name]
		group.Go(func() error {
			errs[i] = tk.Connect(ctx, force)
			return nil
		})
	}
	_ = group.Wait()

	failures := make(map[string]error)
	for i, name := range h.order {
		if errs[i] != nil {
			failures[name] = errs[i]
		}
	}
	return failures
}

// Tools returns the wrappers of every endpoint that could be discovered.
// Unreachable endpoints contribute nothing; their errors are joined.
func (h *Hub) Tools(ctx context.Context) ([]*toolkit.Wrapper, error) {
	failures := h.Discover(ctx, false)
	var wrappers []*toolkit.Wrapper
	for _, name := range h.order {
		if _, failed := failures[name]; failed {
			continue
		}
		wrappers = append(wrappers, h.toolkits[name].Tools()...)
	}
	return wrappers, joinFailures(failures)
}

// Call invokes one operation of endpoint as conversationID.
func (h *Hub) Call(ctx context.Context, conversationID, endpoint, name string, args map[string]any) (any, error) {
	tk, ok := h.toolkits[endpoint]
	if !ok {
		return nil, domain.E(domain.CodeNotFound, "hub.call", "unknown endpoint "+endpoint, domain.ErrEndpointNotFound)
	}
	return tk.Call(ctx, conversationID, name, args)
}

// Status probes every endpoint concurrently and records the results in the
// health tracker.
func (h *Hub) Status(ctx context.Context) []EndpointStatus {
	statuses := make([]EndpointStatus, len(h.order))
	var group errgroup.Group
	for i, name := range h.order {
		tk := h.toolkits[name]
		group.Go(func() error {
			reachable := tk.Alive(ctx)
			h.health.Record(name, reachable)
			statuses[i] = EndpointStatus{
				Endpoint:   name,
				URL:        transport.EndpointURL(tk.Endpoint()),
				Reachable:  reachable,
				Discovered: tk.Discovered(),
				Operations: tk.Registry().Len(),
				CheckedAt:  time.Now().UTC(),
			}
			return nil
		})
	}
	_ = group.Wait()
	return statuses
}

// Close drops every discovery session.
func (h *Hub) Close() {
	for _, tk := range h.toolkits {
		tk.Close()
	}
}

func joinFailures(failures map[string]error) error {
	if len(failures) == 0 {
		return nil
	}
	names := make([]string, 0, len(failures))
	for name := range failures {
		names = append(names, name)
	}
	sort.Strings(names)
	errs := make([]error, 0, len(names))
	for _, name := range names {
		errs = append(errs, fmt.Errorf("%s: %w", name, failures[name]))
	}
	return errors.Join(errs...)
}
