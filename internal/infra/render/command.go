package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

type CommandOptions struct {
	// Command is the executable followed by its arguments, split on whitespace.
	Command string
	Timeout time.Duration
	Runner  Runner
	Logger  *zap.Logger
}

// Command renders by piping a JSON request into an external program and
// taking its stdout as the artifact bytes.
type Command struct {
	path    string
	args    []string
	timeout time.Duration
	runner  Runner
	logger  *zap.Logger
}

func NewCommand(opts CommandOptions) (*Command, error) {
	fields := strings.Fields(opts.Command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: renderer command is empty", ErrUnavailable)
	}
	runner := opts.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Command{
		path:    fields[0],
		args:    fields[1:],
		timeout: opts.Timeout,
		runner:  runner,
		logger:  logger.Named("renderer"),
	}, nil
}

func (c *Command) Path() string {
	return c.path
}

// Render runs the program once with request encoded as JSON on stdin.
func (c *Command) Render(ctx context.Context, request any) ([]byte, error) {
	const op = "render.command"
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("encode render request: %w", err)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	start := time.Now()
	stdout, stderr, err := c.runner.Run(ctx, Invocation{Path: c.path, Args: c.args, Stdin: payload})
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, failure(op, err, stderr)
	}
	if len(stdout) == 0 {
		return nil, failure(op, errors.New("renderer produced no output"), stderr)
	}
	c.logger.Debug("render complete", zap.Int("bytes", len(stdout)), zap.Duration("duration", time.Since(start)))
	return stdout, nil
}
