package image

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolmesh/internal/domain"
	"toolmesh/internal/infra/artifact"
	"toolmesh/internal/infra/comfy"
	"toolmesh/internal/infra/workpool"
	"toolmesh/internal/toolserver"
	"toolmesh/internal/toolserver/toolservertest"
)

type fakeBackend struct {
	mu        sync.Mutex
	down      bool
	queued    []map[string]any
	waitErr   error
	noOutputs bool
}

func (f *fakeBackend) BaseURL() string { return "http://comfy:8188" }

func (f *fakeBackend) Available(context.Context) bool { return !f.down }

func (f *fakeBackend) SystemStats(context.Context) (map[string]any, error) {
	if f.down {
		return nil, errors.New("connection refused")
	}
	return map[string]any{"system": map[string]any{"os": "posix"}}, nil
}

func (f *fakeBackend) QueuePrompt(_ context.Context, workflow map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued = append(f.queued, workflow)
	return "prompt-1", nil
}

func (f *fakeBackend) WaitForCompletion(context.Context, string) (*comfy.History, error) {
	if f.waitErr != nil {
		return nil, f.waitErr
	}
	if f.noOutputs {
		return &comfy.History{Outputs: map[string]comfy.NodeOutput{"9": {}}}, nil
	}
	return &comfy.History{Outputs: map[string]comfy.NodeOutput{
		"9": {Images: []comfy.ImageRef{{Filename: "z-image_00001_.png", Type: "output"}}},
	}}, nil
}

func (f *fakeBackend) Image(_ context.Context, ref comfy.ImageRef) ([]byte, error) {
	return []byte("PNG:" + ref.Filename), nil
}

func (f *fakeBackend) workflows() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.queued...)
}

func newImageServer(t *testing.T, backend Backend) *toolservertest.Endpoint {
	t.Helper()
	store, err := artifact.NewStore(artifact.Options{
		Root:      t.TempDir(),
		Kind:      domain.ArtifactImage,
		Extension: "png",
		Pool:      workpool.New(2),
	})
	require.NoError(t, err)
	server, err := toolserver.New(toolserver.Options{Name: "comfy-image", Store: store, BaseURL: "http://mcp-comfy:3002"})
	require.NoError(t, err)
	Register(server, backend, nil)
	return toolservertest.Start(t, server)
}

func TestGenerateImage(t *testing.T) {
	backend := &fakeBackend{}
	endpoint := newImageServer(t, backend)

	out := endpoint.Call(t, "conv-img", "generate_image", map[string]any{
		"prompt":       "A majestic lion at sunset",
		"aspect_ratio": "wide",
		"quality":      "high",
		"seed":         1234,
	})
	require.Equal(t, true, out["success"], out["error"])
	assert.Equal(t, "A majestic lion at sunset", out["prompt"])
	assert.FileExists(t, out["image_path"].(string))
	assert.Contains(t, out["image_url"], "http://mcp-comfy:3002/files/conv-img/img_")

	metadata := out["metadata"].(map[string]any)
	assert.EqualValues(t, 1234, metadata["seed"])
	assert.EqualValues(t, 1536, metadata["width"])
	assert.EqualValues(t, 640, metadata["height"])
	assert.EqualValues(t, 15, metadata["steps"])
	assert.Equal(t, Model, metadata["model"])

	queued := backend.workflows()
	require.Len(t, queued, 1)
	assert.Equal(t, "A majestic lion at sunset", nodeInputs(queued[0], promptNode)["text"])
	assert.Equal(t, int64(1234), nodeInputs(queued[0], samplerNode)["seed"])

	listed := endpoint.Call(t, "conv-img", "list_generated_images", nil)
	assert.EqualValues(t, 1, listed["count"])
	item := listed["images"].([]any)[0].(map[string]any)
	assert.Equal(t, "A majestic lion at sunset", item["prompt"])
	assert.EqualValues(t, 1234, item["seed"])
	assert.Equal(t, Model, item["model"])

	assert.EqualValues(t, 0, endpoint.Call(t, "someone-else", "list_generated_images", nil)["count"])
}

func TestGenerateImage_Defaults(t *testing.T) {
	backend := &fakeBackend{}
	out := newImageServer(t, backend).Call(t, "", "generate_image", map[string]any{"prompt": "a cat"})
	require.Equal(t, true, out["success"], out["error"])

	metadata := out["metadata"].(map[string]any)
	assert.Equal(t, "square", metadata["aspect_ratio"])
	assert.Equal(t, "normal", metadata["quality"])
	assert.EqualValues(t, 1024, metadata["width"])
	assert.EqualValues(t, 9, metadata["steps"])
	seed := metadata["seed"].(float64)
	assert.GreaterOrEqual(t, seed, 0.0)
	assert.Less(t, seed, float64(1<<32))
}

func TestGenerateImage_Failures(t *testing.T) {
	tests := []struct {
		name    string
		backend *fakeBackend
		args    map[string]any
		want    string
	}{
		{name: "ratio", backend: &fakeBackend{}, args: map[string]any{"prompt": "x", "aspect_ratio": "ultrawide"}, want: "Invalid aspect_ratio: ultrawide"},
		{name: "quality", backend: &fakeBackend{}, args: map[string]any{"prompt": "x", "quality": "max"}, want: "Invalid quality: max"},
		{name: "unavailable", backend: &fakeBackend{down: true}, args: map[string]any{"prompt": "x"}, want: "ComfyUI is not available at http://comfy:8188"},
		{
			name:    "timeout",
			backend: &fakeBackend{waitErr: domain.E(domain.CodeDeadlineExceeded, "comfy.wait", "prompt did not complete", domain.ErrTimeout)},
			args:    map[string]any{"prompt": "x"},
			want:    "Generation timed out",
		},
		{
			name:    "remote error",
			backend: &fakeBackend{waitErr: domain.E(domain.CodeInvocation, "comfy.wait", "ComfyUI execution failed: OOM", domain.ErrInvocation)},
			args:    map[string]any{"prompt": "x"},
			want:    "ComfyUI error",
		},
		{name: "no outputs", backend: &fakeBackend{noOutputs: true}, args: map[string]any{"prompt": "x"}, want: "No images were generated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := newImageServer(t, tt.backend).Call(t, "c", "generate_image", tt.args)
			assert.Equal(t, false, out["success"])
			assert.Contains(t, out["error"], tt.want)
		})
	}
}

func TestCheckComfyStatus(t *testing.T) {
	up := newImageServer(t, &fakeBackend{}).Call(t, "", "check_comfy_status", nil)
	assert.Equal(t, true, up["available"])
	assert.Equal(t, "http://comfy:8188", up["url"])
	assert.Contains(t, up, "stats")

	down := newImageServer(t, &fakeBackend{down: true}).Call(t, "", "check_comfy_status", nil)
	assert.Equal(t, false, down["available"])
	assert.Equal(t, "connection refused", down["error"])
}

func TestPresetTools(t *testing.T) {
	endpoint := newImageServer(t, &fakeBackend{})

	ratios := endpoint.Call(t, "", "list_aspect_ratios", nil)["aspect_ratios"].(map[string]any)
	assert.Len(t, ratios, 5)
	assert.EqualValues(t, 768, ratios["landscape"].(map[string]any)["height"])

	presets := endpoint.Call(t, "", "list_quality_presets", nil)["quality_presets"].(map[string]any)
	assert.EqualValues(t, 5, presets["draft"].(map[string]any)["steps"])
	assert.Equal(t, "Best quality, slower generation", presets["high"].(map[string]any)["description"])

	assert.ElementsMatch(t, []string{
		"generate_image", "check_comfy_status", "list_aspect_ratios", "list_quality_presets",
		"list_generated_images", "delete_generated_image",
	}, endpoint.Tools(t))
}
