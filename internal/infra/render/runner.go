// Package render runs the external programs that turn generation requests into bytes.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"toolmesh/internal/domain"
)

// ErrUnavailable marks a renderer whose executable cannot be started.
var ErrUnavailable = errors.New("renderer unavailable")

// Invocation describes one external process run.
type Invocation struct {
	Path  string
	Args  []string
	Dir   string
	Env   map[string]string
	Stdin []byte
}

// Runner executes an external process and collects its output.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (stdout, stderr []byte, err error)
}

// ExecRunner runs processes with os/exec.
type ExecRunner struct {
	// SearchPath lists directories searched for executables before PATH and
	// prepended to the PATH of launched processes.
	SearchPath []string
}

func (r ExecRunner) Run(ctx context.Context, inv Invocation) ([]byte, []byte, error) {
	if strings.TrimSpace(inv.Path) == "" {
		return nil, nil, fmt.Errorf("%w: executable is required", ErrUnavailable)
	}
	cmd := exec.CommandContext(ctx, r.resolve(inv.Path), inv.Args...)
	cmd.Dir = inv.Dir
	if len(inv.Env) > 0 || len(r.SearchPath) > 0 {
		cmd.Env = processEnv(os.Environ(), inv.Env, r.SearchPath)
	}
	if inv.Stdin != nil {
		cmd.Stdin = bytes.NewReader(inv.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, stderr.Bytes(), fmt.Errorf("%w: %s: %v", ErrUnavailable, inv.Path, err)
		}
		return stdout.Bytes(), stderr.Bytes(), err
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}

// resolve finds a bare executable name in SearchPath; anything else is
// left to exec's PATH lookup.
func (r ExecRunner) resolve(name string) string {
	if strings.ContainsRune(name, filepath.Separator) {
		return name
	}
	for _, dir := range r.SearchPath {
		if dir = strings.TrimSpace(dir); dir == "" {
			continue
		}
		if path, err := exec.LookPath(filepath.Join(dir, name)); err == nil {
			return path
		}
	}
	return name
}

// failure converts a process error into a coded invocation error that
// carries the tail of stderr.
func failure(op string, err error, stderr []byte) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.WrapContext(domain.CodeInvocation, op, err)
	}
	msg := strings.TrimSpace(string(stderr))
	if msg == "" {
		msg = err.Error()
	}
	const maxMessage = 2048
	if len(msg) > maxMessage {
		msg = msg[len(msg)-maxMessage:]
	}
	return domain.E(domain.CodeInvocation, op, msg, err)
}
