// Package chart registers the chart generation tools.
package chart

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"toolmesh/internal/infra/artifact"
	"toolmesh/internal/toolserver"
)

const Instructions = "Generate charts and graphs. " +
	"Supports scatter, line, bar, histogram, pie, heatmap, box, violin, and area charts."

// Renderer turns a RenderRequest into PNG bytes.
type Renderer interface {
	Render(ctx context.Context, request any) ([]byte, error)
}

type Legend struct {
	Value []string `json:"value,omitempty" jsonschema:"legend labels, one per series"`
}

type GenerateArgs struct {
	ChartType string         `json:"chart_type" jsonschema:"chart type: scatter, line, bar, barh, histogram, pie, heatmap, box, violin or area"`
	Data      map[string]any `json:"data" jsonschema:"chart data; the required fields depend on chart_type (see list_chart_types)"`
	Title     string         `json:"title,omitempty" jsonschema:"chart title"`
	XLabel    string         `json:"xlabel,omitempty" jsonschema:"x-axis label"`
	YLabel    string         `json:"ylabel,omitempty" jsonschema:"y-axis label"`
	Legend    *Legend        `json:"legend,omitempty" jsonschema:"legend labels as {\"value\": [...]}"`
	Theme     string         `json:"theme,omitempty" jsonschema:"color theme: default, dark, light, colorblind, pastel, bold or monochrome"`
	Format    string         `json:"format,omitempty" jsonschema:"aspect ratio: square (1:1), landscape (16:9) or portrait (9:16)"`
	Quality   string         `json:"quality,omitempty" jsonschema:"resolution: high (1024px), medium (720px), low (256px) or very_low (128px)"`
}

// RenderRequest is what the external renderer receives on stdin.
type RenderRequest struct {
	ChartType string         `json:"chart_type"`
	Data      map[string]any `json:"data"`
	Title     string         `json:"title,omitempty"`
	XLabel    string         `json:"xlabel,omitempty"`
	YLabel    string         `json:"ylabel,omitempty"`
	Legend    []string       `json:"legend,omitempty"`
	Theme     string         `json:"theme"`
	Format    string         `json:"format"`
	Quality   string         `json:"quality"`
	Width     int            `json:"width"`
	Height    int            `json:"height"`
	DPI       int            `json:"dpi"`
}

var artifactTools = toolserver.ArtifactTools{
	ListName:   "list_generated_charts",
	DeleteName: "delete_generated_chart",
	Collection: "charts",
	PathKey:    "image_path",
	URLKey:     "image_url",
	Fields:     []string{"chart_type", "title", "theme", "format", "quality", "width", "height"},
}

type tools struct {
	server   *toolserver.Server
	renderer Renderer
}

// Register adds the chart tools to server. A nil renderer keeps the catalog
// tools working and makes generate_chart report the missing renderer.
func Register(server *toolserver.Server, renderer Renderer) {
	t := &tools{server: server, renderer: renderer}

	mcp.AddTool(server.MCP(), &mcp.Tool{
		Name:        "generate_chart",
		Description: "Generate a chart from data and return its path and URL.",
	}, t.generate)
	mcp.AddTool(server.MCP(), &mcp.Tool{
		Name:        "list_chart_types",
		Description: "List all supported chart types with their data format requirements.",
	}, func(context.Context, *mcp.CallToolRequest, struct{}) (*mcp.CallToolResult, any, error) {
		return toolserver.Respond(toolserver.Success(toolserver.Payload{"chart_types": Specs}))
	})
	mcp.AddTool(server.MCP(), &mcp.Tool{
		Name:        "list_themes",
		Description: "List all available color themes.",
	}, func(context.Context, *mcp.CallToolRequest, struct{}) (*mcp.CallToolResult, any, error) {
		return toolserver.Respond(toolserver.Success(toolserver.Payload{"themes": Themes}))
	})
	server.RegisterArtifactTools(artifactTools)
}

func (t *tools) generate(ctx context.Context, req *mcp.CallToolRequest, in GenerateArgs) (*mcp.CallToolResult, any, error) {
	return toolserver.Respond(t.generatePayload(ctx, toolserver.Conversation(req), in))
}

func (t *tools) generatePayload(ctx context.Context, conversationID string, in GenerateArgs) toolserver.Payload {
	in = withDefaults(in)
	if _, ok := Specs[in.ChartType]; !ok {
		return toolserver.Failure("Unsupported chart type: %s. Supported: %v", in.ChartType, sortedKeys(Specs))
	}
	if missing := MissingFields(in.ChartType, in.Data); len(missing) > 0 {
		return toolserver.Failure("Missing required data fields for %s: %v. Required: %v",
			in.ChartType, missing, Specs[in.ChartType].Required)
	}
	if _, ok := Themes[in.Theme]; !ok {
		return toolserver.Failure("Invalid theme: %s. Valid themes: %v", in.Theme, sortedKeys(Themes))
	}
	if _, ok := FormatRatios[in.Format]; !ok {
		return toolserver.Failure("Invalid format: %s. Valid formats: %v", in.Format, sortedKeys(FormatRatios))
	}
	if _, ok := QualitySizes[in.Quality]; !ok {
		return toolserver.Failure("Invalid quality: %s. Valid qualities: %v", in.Quality, sortedKeys(QualitySizes))
	}
	if t.renderer == nil {
		return toolserver.Failure("Chart generation failed: no chart renderer is configured")
	}

	var legend []string
	if in.Legend != nil {
		legend = in.Legend.Value
	}
	width, height := Dimensions(in.Format, in.Quality)
	image, err := t.renderer.Render(ctx, RenderRequest{
		ChartType: in.ChartType,
		Data:      in.Data,
		Title:     in.Title,
		XLabel:    in.XLabel,
		YLabel:    in.YLabel,
		Legend:    legend,
		Theme:     in.Theme,
		Format:    in.Format,
		Quality:   in.Quality,
		Width:     width,
		Height:    height,
		DPI:       DPI,
	})
	if err != nil {
		t.server.Logger().Warn("render chart", zap.String("chart_type", in.ChartType), zap.Error(err))
		return toolserver.Failure("Chart generation failed: %v", err)
	}

	params := map[string]any{
		"chart_type": in.ChartType,
		"title":      in.Title,
		"theme":      in.Theme,
		"format":     in.Format,
		"quality":    in.Quality,
		"width":      width,
		"height":     height,
		"xlabel":     in.XLabel,
		"ylabel":     in.YLabel,
	}
	if len(legend) > 0 {
		params["legend"] = legend
	}
	path, record, err := t.server.Store().Save(ctx, conversationID, artifact.SaveRequest{
		Prefix:    in.ChartType,
		Data:      image,
		HashInput: in.Data,
		Params:    params,
	})
	if err != nil {
		return toolserver.Failure("Chart generation failed: %v", err)
	}

	return toolserver.Success(toolserver.Payload{
		"image_path": path,
		"image_url":  t.server.FileURL(conversationID, path),
		"chart_type": in.ChartType,
		"metadata": toolserver.Payload{
			"title":      in.Title,
			"theme":      in.Theme,
			"format":     in.Format,
			"quality":    in.Quality,
			"width":      width,
			"height":     height,
			"created_at": toolserver.Timestamp(record.CreatedAt),
		},
	})
}

func withDefaults(in GenerateArgs) GenerateArgs {
	in.ChartType = strings.TrimSpace(in.ChartType)
	if in.Theme == "" {
		in.Theme = DefaultTheme
	}
	if in.Format == "" {
		in.Format = DefaultFormat
	}
	if in.Quality == "" {
		in.Quality = DefaultQuality
	}
	if in.Data == nil {
		in.Data = map[string]any{}
	}
	return in
}
