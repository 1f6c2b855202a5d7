package toolkit

import (
	"context"
	"errors"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"toolmesh/internal/domain"
	"toolmesh/internal/infra/mcpcodec"
	"toolmesh/internal/infra/telemetry"
	"toolmesh/internal/infra/transport"
)

// Invoker performs one remote call per Invoke on its own connection, so the
// conversation tag of one caller never reaches another caller's request.
type Invoker struct {
	endpoint  domain.RemoteEndpoint
	connector transport.Connector
	timeout   time.Duration
	logger    *zap.Logger
	metrics   domain.Metrics
}

func newInvoker(endpoint domain.RemoteEndpoint, connector transport.Connector, timeout time.Duration, logger *zap.Logger, metrics domain.Metrics) *Invoker {
	return &Invoker{
		endpoint:  endpoint,
		connector: connector,
		timeout:   timeout,
		logger:    logger,
		metrics:   metrics,
	}
}

// Invoke validates args, connects with conversationID as the identity tag,
// calls the operation and decodes its result. Nothing is retried.
func (i *Invoker) Invoke(ctx context.Context, w *Wrapper, conversationID string, args map[string]any) (any, error) {
	start := time.Now()
	value, err := i.invoke(ctx, w, conversationID, args)
	i.metrics.ObserveInvocation(i.endpoint.Name, w.Name(), time.Since(start), err)
	if err != nil {
		i.logger.Debug("invocation failed",
			telemetry.EventField(telemetry.EventCallFailure),
			telemetry.ToolField(w.Name()),
			telemetry.ConversationField(conversationID),
			telemetry.DurationField(time.Since(start)),
			zap.Error(err),
		)
	}
	return value, err
}

func (i *Invoker) invoke(ctx context.Context, w *Wrapper, conversationID string, args map[string]any) (any, error) {
	op := w.op()
	if err := w.Validate(args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}

	callCtx := ctx
	if i.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	session, err := i.connector.Connect(callCtx, i.endpoint, conversationID)
	if err != nil {
		if ctxErr := callCtx.Err(); ctxErr != nil {
			return nil, timeoutOrCanceled(ctx, op, ctxErr)
		}
		return nil, domain.Wrap(domain.CodeConnectivity, op, err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			i.logger.Debug("close invocation session", telemetry.ToolField(w.Name()), zap.Error(closeErr))
		}
	}()

	result, err := session.CallTool(callCtx, &mcp.CallToolParams{
		Name:      w.Name(),
		Arguments: args,
	})
	if err != nil {
		if ctxErr := callCtx.Err(); ctxErr != nil {
			return nil, timeoutOrCanceled(ctx, op, ctxErr)
		}
		return nil, domain.E(domain.CodeInvocation, op, err.Error(), err)
	}
	if result.IsError {
		return nil, domain.E(domain.CodeInvocation, op, mcpcodec.ErrorText(result), domain.ErrInvocation)
	}
	return mcpcodec.DecodeResult(result), nil
}

// timeoutOrCanceled distinguishes the call deadline from a caller cancellation.
func timeoutOrCanceled(parent context.Context, op string, err error) error {
	if parent.Err() != nil && errors.Is(parent.Err(), context.Canceled) {
		return domain.E(domain.CodeCanceled, op, "", parent.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.E(domain.CodeDeadlineExceeded, op, "remote call timed out", err)
	}
	return domain.WrapContext(domain.CodeInvocation, op, err)
}
