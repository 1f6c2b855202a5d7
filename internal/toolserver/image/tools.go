// Package image registers the ComfyUI text-to-image tools.
package image

import (
	"context"
	"math/rand/v2"
	"slices"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"toolmesh/internal/domain"
	"toolmesh/internal/infra/artifact"
	"toolmesh/internal/infra/comfy"
	"toolmesh/internal/infra/telemetry"
	"toolmesh/internal/toolserver"
)

const Instructions = "Generate images using ComfyUI. " +
	"Supports text-to-image generation with configurable dimensions, steps, and seeds."

// Backend is the ComfyUI surface the tools use.
type Backend interface {
	BaseURL() string
	Available(ctx context.Context) bool
	SystemStats(ctx context.Context) (map[string]any, error)
	QueuePrompt(ctx context.Context, workflow map[string]any) (string, error)
	WaitForCompletion(ctx context.Context, promptID string) (*comfy.History, error)
	Image(ctx context.Context, ref comfy.ImageRef) ([]byte, error)
}

var _ Backend = (*comfy.Client)(nil)

type GenerateArgs struct {
	Prompt      string `json:"prompt" jsonschema:"text description of the image to generate"`
	AspectRatio string `json:"aspect_ratio,omitempty" jsonschema:"square (1024x1024), landscape (1280x768), portrait (768x1280), wide (1536x640) or tall (640x1536)"`
	Quality     string `json:"quality,omitempty" jsonschema:"draft (5 steps), normal (9 steps) or high (15 steps)"`
	Seed        *int64 `json:"seed,omitempty" jsonschema:"random seed for reproducibility, random when omitted"`
}

var artifactTools = toolserver.ArtifactTools{
	ListName:   "list_generated_images",
	DeleteName: "delete_generated_image",
	Collection: "images",
	PathKey:    "image_path",
	URLKey:     "image_url",
	Fields:     []string{"prompt", "seed", "width", "height", "steps", "model"},
}

type tools struct {
	server    *toolserver.Server
	backend   Backend
	workflows *Workflows
	seed      func() int64
}

// Register adds the image tools to server.
func Register(server *toolserver.Server, backend Backend, workflows *Workflows) {
	if workflows == nil {
		workflows = NewWorkflows("", server.Logger())
	}
	t := &tools{server: server, backend: backend, workflows: workflows, seed: randomSeed}

	mcp.AddTool(server.MCP(), &mcp.Tool{
		Name:        "generate_image",
		Description: "Generate an image from a text prompt using ComfyUI.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in GenerateArgs) (*mcp.CallToolResult, any, error) {
		return toolserver.Respond(t.generate(ctx, toolserver.Conversation(req), in))
	})
	mcp.AddTool(server.MCP(), &mcp.Tool{
		Name:        "check_comfy_status",
		Description: "Check if ComfyUI is available and get system stats.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
		return toolserver.Respond(t.status(ctx))
	})
	mcp.AddTool(server.MCP(), &mcp.Tool{
		Name:        "list_aspect_ratios",
		Description: "List available aspect ratio presets.",
	}, func(context.Context, *mcp.CallToolRequest, struct{}) (*mcp.CallToolResult, any, error) {
		return toolserver.Respond(toolserver.Success(toolserver.Payload{"aspect_ratios": AspectRatios}))
	})
	mcp.AddTool(server.MCP(), &mcp.Tool{
		Name:        "list_quality_presets",
		Description: "List available quality presets.",
	}, func(context.Context, *mcp.CallToolRequest, struct{}) (*mcp.CallToolResult, any, error) {
		return toolserver.Respond(toolserver.Success(toolserver.Payload{"quality_presets": QualityPresets}))
	})
	server.RegisterArtifactTools(artifactTools)
}

func randomSeed() int64 {
	return rand.Int64N(1 << 32)
}

func (t *tools) status(ctx context.Context) toolserver.Payload {
	stats, err := t.backend.SystemStats(ctx)
	if err != nil {
		return toolserver.Payload{"available": false, "url": t.backend.BaseURL(), "error": err.Error()}
	}
	return toolserver.Payload{"available": true, "url": t.backend.BaseURL(), "stats": stats}
}

func (t *tools) generate(ctx context.Context, conversationID string, in GenerateArgs) toolserver.Payload {
	if in.AspectRatio == "" {
		in.AspectRatio = DefaultAspectRatio
	}
	if in.Quality == "" {
		in.Quality = DefaultQuality
	}
	size, ok := AspectRatios[in.AspectRatio]
	if !ok {
		return toolserver.Failure("Invalid aspect_ratio: %s. Valid ratios: %v", in.AspectRatio, sortedNames(AspectRatios))
	}
	quality, ok := QualityPresets[in.Quality]
	if !ok {
		return toolserver.Failure("Invalid quality: %s. Valid presets: %v", in.Quality, sortedNames(QualityPresets))
	}
	if !t.backend.Available(ctx) {
		return toolserver.Failure("ComfyUI is not available at %s. Make sure it's running.", t.backend.BaseURL())
	}

	seed := t.seed()
	if in.Seed != nil {
		seed = *in.Seed
	}
	workflow, err := t.workflows.Load()
	if err != nil {
		return toolserver.Failure("%v", err)
	}
	workflow = Prepare(workflow, Params{
		Prompt: in.Prompt,
		Seed:   seed,
		Width:  size.Width,
		Height: size.Height,
		Steps:  quality.Steps,
	})

	logger := t.server.Logger().With(telemetry.ConversationField(conversationID))
	promptID, err := t.backend.QueuePrompt(ctx, workflow)
	if err != nil {
		return comfyFailure(err)
	}
	logger.Info("workflow queued", zap.String("prompt_id", promptID))
	history, err := t.backend.WaitForCompletion(ctx, promptID)
	if err != nil {
		return comfyFailure(err)
	}
	images := comfy.ExtractImages(history)
	if len(images) == 0 {
		return toolserver.Failure("No images were generated")
	}
	ref := images[0]
	data, err := t.backend.Image(ctx, ref)
	if err != nil {
		return comfyFailure(err)
	}

	path, record, err := t.server.Store().Save(ctx, conversationID, artifact.SaveRequest{
		Prefix:    "img",
		Data:      data,
		HashInput: in.Prompt,
		Params: map[string]any{
			"prompt":         in.Prompt,
			"seed":           seed,
			"width":          size.Width,
			"height":         size.Height,
			"steps":          quality.Steps,
			"aspect_ratio":   in.AspectRatio,
			"quality":        in.Quality,
			"model":          Model,
			"comfy_filename": ref.Filename,
		},
	})
	if err != nil {
		logger.Warn("save image", zap.Error(err))
		return toolserver.Failure("Unexpected error: %v", err)
	}

	return toolserver.Success(toolserver.Payload{
		"image_path": path,
		"image_url":  t.server.FileURL(conversationID, path),
		"prompt":     in.Prompt,
		"metadata": toolserver.Payload{
			"seed":         seed,
			"width":        size.Width,
			"height":       size.Height,
			"steps":        quality.Steps,
			"aspect_ratio": in.AspectRatio,
			"quality":      in.Quality,
			"model":        Model,
			"created_at":   toolserver.Timestamp(record.CreatedAt),
		},
	})
}

func comfyFailure(err error) toolserver.Payload {
	if code, _ := domain.CodeFrom(err); code == domain.CodeDeadlineExceeded {
		return toolserver.Failure("Generation timed out: %v", err)
	}
	return toolserver.Failure("ComfyUI error: %v", err)
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
