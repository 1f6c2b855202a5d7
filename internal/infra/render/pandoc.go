package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"toolmesh/internal/domain"
)

type PandocOptions struct {
	Path   string
	Engine string
	// SearchPath is used by the default runner to find pandoc and the
	// LaTeX engine outside PATH, e.g. a TinyTeX install.
	SearchPath []string
	Runner     Runner
	Logger     *zap.Logger
}

// Pandoc converts markdown to PDF through pandoc and a LaTeX engine.
type Pandoc struct {
	path   string
	engine string
	runner Runner
	logger *zap.Logger
}

// PandocJob is one markdown to PDF conversion.
type PandocJob struct {
	Markdown string
	// Header is LaTeX included in the preamble.
	Header string
	// BeforeBody is LaTeX placed before the document body, e.g. a cover page.
	BeforeBody string
	// Variables are passed as -V key=value in order.
	Variables [][2]string
	TOC       bool
	TOCDepth  int
}

func NewPandoc(opts PandocOptions) *Pandoc {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = domain.DefaultPandocPath
	}
	engine := strings.TrimSpace(opts.Engine)
	if engine == "" {
		engine = domain.DefaultLatexEngine
	}
	runner := opts.Runner
	if runner == nil {
		runner = ExecRunner{SearchPath: opts.SearchPath}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pandoc{path: path, engine: engine, runner: runner, logger: logger.Named("pandoc")}
}

func (p *Pandoc) Path() string {
	return p.path
}

func (p *Pandoc) Engine() string {
	return p.engine
}

// Version returns the first line of `pandoc --version`.
func (p *Pandoc) Version(ctx context.Context) (string, bool) {
	stdout, _, err := p.runner.Run(ctx, Invocation{Path: p.path, Args: []string{"--version"}})
	if err != nil {
		return "", false
	}
	line, _, _ := strings.Cut(string(stdout), "\n")
	return strings.TrimSpace(line), true
}

// EngineAvailable reports whether the LaTeX engine answers --version.
func (p *Pandoc) EngineAvailable(ctx context.Context) bool {
	_, _, err := p.runner.Run(ctx, Invocation{Path: p.engine, Args: []string{"--version"}})
	return err == nil
}

// Convert runs one conversion in a scratch directory and returns the PDF bytes.
func (p *Pandoc) Convert(ctx context.Context, job PandocJob) ([]byte, error) {
	const op = "render.pandoc"
	dir, err := os.MkdirTemp("", "toolmesh-pandoc-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			p.logger.Warn("remove scratch dir", zap.String("dir", dir), zap.Error(err))
		}
	}()

	input := filepath.Join(dir, "input.md")
	output := filepath.Join(dir, "output.pdf")
	if err := os.WriteFile(input, []byte(job.Markdown), 0o600); err != nil {
		return nil, fmt.Errorf("write markdown: %w", err)
	}

	args := []string{input, "-o", output, "--pdf-engine=" + p.engine}
	if job.Header != "" {
		header := filepath.Join(dir, "header.tex")
		if err := os.WriteFile(header, []byte(job.Header), 0o600); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
		args = append(args, "--include-in-header="+header)
	}
	for _, kv := range job.Variables {
		args = append(args, "-V", kv[0]+"="+kv[1])
	}
	args = append(args, "--standalone")
	if job.BeforeBody != "" {
		cover := filepath.Join(dir, "cover.tex")
		if err := os.WriteFile(cover, []byte(job.BeforeBody), 0o600); err != nil {
			return nil, fmt.Errorf("write cover: %w", err)
		}
		args = append(args, "--include-before-body", cover)
	}
	if job.TOC {
		depth := job.TOCDepth
		if depth <= 0 {
			depth = 3
		}
		args = append(args, "--toc", "--toc-depth", strconv.Itoa(depth))
	}

	_, stderr, err := p.runner.Run(ctx, Invocation{Path: p.path, Args: args, Dir: dir})
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		return nil, failure(op, fmt.Errorf("pandoc conversion failed: %w", err), stderr)
	}
	data, err := os.ReadFile(output)
	if err != nil {
		return nil, domain.E(domain.CodeInvocation, op, "PDF file was not created", err)
	}
	return data, nil
}
