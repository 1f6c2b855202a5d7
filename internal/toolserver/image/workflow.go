package image

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Node ids of the z-image API workflow that receive generation parameters.
const (
	promptNode  = "45"
	samplerNode = "44"
	latentNode  = "41"
)

//go:embed workflows/z_image_api.json
var defaultWorkflow []byte

// Params are the values injected into a workflow before it is queued.
type Params struct {
	Prompt string
	Seed   int64
	Width  int
	Height int
	Steps  int
}

// Workflows loads the API-format workflow, either the embedded default or a
// file on disk. A file is read once and cached until it changes.
type Workflows struct {
	path   string
	logger *zap.Logger

	mu     sync.Mutex
	cached []byte
}

// NewWorkflows returns a loader for path; an empty path selects the embedded workflow.
func NewWorkflows(path string, logger *zap.Logger) *Workflows {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != "" {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	return &Workflows{path: path, logger: logger.Named("workflows")}
}

func (w *Workflows) Path() string {
	return w.path
}

// Load returns a fresh copy of the workflow that callers may modify.
func (w *Workflows) Load() (map[string]any, error) {
	raw, err := w.raw()
	if err != nil {
		return nil, err
	}
	var workflow map[string]any
	if err := json.Unmarshal(raw, &workflow); err != nil {
		return nil, fmt.Errorf("decode workflow %s: %w", w.name(), err)
	}
	return workflow, nil
}

func (w *Workflows) raw() ([]byte, error) {
	if w.path == "" {
		return defaultWorkflow, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cached != nil {
		return w.cached, nil
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("workflow not found: %s", w.path)
		}
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	w.cached = data
	return data, nil
}

func (w *Workflows) name() string {
	if w.path == "" {
		return "z_image_api"
	}
	return filepath.Base(w.path)
}

func (w *Workflows) invalidate() {
	w.mu.Lock()
	w.cached = nil
	w.mu.Unlock()
}

// Watch drops the cached workflow whenever the file changes, until ctx is done.
// It returns immediately when the embedded workflow is in use.
func (w *Workflows) Watch(ctx context.Context) error {
	if w.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create workflow watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch workflow dir: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("workflow watcher error", zap.Error(err))
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != w.path {
					continue
				}
				w.invalidate()
				w.logger.Info("workflow changed", zap.String("path", w.path), zap.String("op", event.Op.String()))
			}
		}
	}()
	return nil
}

// Prepare injects params into the prompt, sampler and latent nodes that exist in workflow.
func Prepare(workflow map[string]any, params Params) map[string]any {
	if inputs := nodeInputs(workflow, promptNode); inputs != nil {
		inputs["text"] = params.Prompt
	}
	if inputs := nodeInputs(workflow, samplerNode); inputs != nil {
		inputs["seed"] = params.Seed
		inputs["steps"] = params.Steps
	}
	if inputs := nodeInputs(workflow, latentNode); inputs != nil {
		inputs["width"] = params.Width
		inputs["height"] = params.Height
	}
	return workflow
}

func nodeInputs(workflow map[string]any, id string) map[string]any {
	node, ok := workflow[id].(map[string]any)
	if !ok {
		return nil
	}
	inputs, ok := node["inputs"].(map[string]any)
	if !ok {
		inputs = map[string]any{}
		node["inputs"] = inputs
	}
	return inputs
}
