package probe

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"toolmesh/internal/domain"
	"toolmesh/internal/infra/telemetry"
	"toolmesh/internal/infra/transport"
)

type Options struct {
	Connector transport.Connector
	Timeout   time.Duration
	Logger    *zap.Logger
	Metrics   domain.Metrics
}

// Prober checks endpoint reachability with a connect, initialize and ping
// handshake under a short deadline.
type Prober struct {
	connector transport.Connector
	timeout   time.Duration
	logger    *zap.Logger
	metrics   domain.Metrics
}

func New(opts Options) *Prober {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = domain.NoopMetrics{}
	}
	return &Prober{
		connector: opts.Connector,
		timeout:   opts.Timeout,
		logger:    logger.Named("probe"),
		metrics:   metrics,
	}
}

// Probe reports whether the endpoint answered in time. It never fails;
// every error, panic included, means unreachable.
func (p *Prober) Probe(ctx context.Context, endpoint domain.RemoteEndpoint) (reachable bool) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("probe panicked", telemetry.EndpointField(endpoint.Name), zap.Any("panic", r))
			reachable = false
		}
		p.metrics.ObserveProbe(endpoint.Name, reachable, time.Since(start))
	}()

	if err := p.ping(ctx, endpoint); err != nil {
		p.logger.Debug("endpoint unreachable", telemetry.EventField(telemetry.EventProbeFailure), telemetry.EndpointField(endpoint.Name), zap.Error(err))
		return false
	}
	return true
}

func (p *Prober) ping(ctx context.Context, endpoint domain.RemoteEndpoint) error {
	if p.connector == nil {
		return errors.New("connector is nil")
	}

	timeout := p.timeout
	if timeout <= 0 {
		timeout = domain.DefaultProbeTimeoutSeconds * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	session, err := p.connector.Connect(pingCtx, endpoint, "")
	if err != nil {
		return err
	}
	defer func() { _ = session.Close() }()

	return session.Ping(pingCtx, nil)
}
