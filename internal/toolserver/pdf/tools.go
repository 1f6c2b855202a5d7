// Package pdf registers the markdown to PDF tools.
package pdf

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"toolmesh/internal/infra/artifact"
	"toolmesh/internal/infra/render"
	"toolmesh/internal/toolserver"
)

const Instructions = "Convert Markdown content into styled PDF documents with optional cover page and table of contents."

// Converter runs pandoc.
type Converter interface {
	Convert(ctx context.Context, job render.PandocJob) ([]byte, error)
	Version(ctx context.Context) (string, bool)
	EngineAvailable(ctx context.Context) bool
	Path() string
	Engine() string
}

type GenerateArgs struct {
	Content   string `json:"content" jsonschema:"markdown content to convert"`
	Title     string `json:"title,omitempty" jsonschema:"document title, shown on the cover page"`
	Author    string `json:"author,omitempty" jsonschema:"author name, shown on the cover page"`
	Date      string `json:"date,omitempty" jsonschema:"date shown on the cover page, defaults to today"`
	CoverPage *bool  `json:"cover_page,omitempty" jsonschema:"include a centered cover page with title, author and date (default true)"`
	TOC       bool   `json:"toc,omitempty" jsonschema:"include a table of contents"`
	Style     string `json:"style,omitempty" jsonschema:"visual style: default, academic, modern or minimal"`
	PaperSize string `json:"paper_size,omitempty" jsonschema:"paper size: a4, letter or legal"`
	FontSize  string `json:"font_size,omitempty" jsonschema:"font size: 10pt, 11pt or 12pt"`
}

var artifactTools = toolserver.ArtifactTools{
	ListName:   "list_generated_pdfs",
	DeleteName: "delete_generated_pdf",
	Collection: "pdfs",
	PathKey:    "pdf_path",
	URLKey:     "pdf_url",
	Fields:     []string{"title", "author", "style", "paper_size", "has_cover_page", "has_toc"},
}

type tools struct {
	server    *toolserver.Server
	converter Converter
	now       func() time.Time
}

// Register adds the PDF tools to server.
func Register(server *toolserver.Server, converter Converter, now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	t := &tools{server: server, converter: converter, now: now}

	mcp.AddTool(server.MCP(), &mcp.Tool{
		Name: "generate_pdf",
		Description: "Generate a PDF from Markdown content. Supports headings, lists, tables, images, " +
			"code blocks, math formulas ($inline$ or $$block$$) and links.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in GenerateArgs) (*mcp.CallToolResult, any, error) {
		return toolserver.Respond(t.generate(ctx, toolserver.Conversation(req), in))
	})
	mcp.AddTool(server.MCP(), &mcp.Tool{
		Name:        "list_styles",
		Description: "List available visual styles for PDF generation.",
	}, func(context.Context, *mcp.CallToolRequest, struct{}) (*mcp.CallToolResult, any, error) {
		return toolserver.Respond(toolserver.Success(toolserver.Payload{"styles": StyleInfo()}))
	})
	mcp.AddTool(server.MCP(), &mcp.Tool{
		Name:        "check_pandoc_status",
		Description: "Check if Pandoc and LaTeX are available for PDF generation.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
		return toolserver.Respond(t.status(ctx))
	})
	server.RegisterArtifactTools(artifactTools)
}

func (t *tools) status(ctx context.Context) toolserver.Payload {
	version, pandocOK := t.converter.Version(ctx)
	latexOK := t.converter.EngineAvailable(ctx)
	out := toolserver.Payload{
		"available":        pandocOK && latexOK,
		"pandoc_available": pandocOK,
		"pandoc_version":   nil,
		"pandoc_path":      t.converter.Path(),
		"latex_available":  latexOK,
		"latex_engine":     t.converter.Engine(),
	}
	if pandocOK {
		out["pandoc_version"] = version
	}
	switch {
	case !pandocOK:
		out["error"] = "Pandoc not found. Install pandoc or set PANDOC_PATH"
	case !latexOK:
		out["error"] = "LaTeX not found. Install a TeX distribution or set LATEX_ENGINE"
	}
	return out
}

func (t *tools) generate(ctx context.Context, conversationID string, in GenerateArgs) toolserver.Payload {
	in = withDefaults(in)
	style, ok := Styles[in.Style]
	if !ok {
		return toolserver.Failure("Invalid style: %s. Valid styles: %v", in.Style, []string{"default", "academic", "modern", "minimal"})
	}
	if !slices.Contains(PaperSizes, in.PaperSize) {
		return toolserver.Failure("Invalid paper_size: %s. Valid sizes: %v", in.PaperSize, PaperSizes)
	}
	if !slices.Contains(FontSizes, in.FontSize) {
		return toolserver.Failure("Invalid font_size: %s. Valid sizes: %v", in.FontSize, FontSizes)
	}
	if _, ok := t.converter.Version(ctx); !ok {
		return toolserver.Failure("Pandoc is not available. Install pandoc or set PANDOC_PATH")
	}
	if !t.converter.EngineAvailable(ctx) {
		return toolserver.Failure("LaTeX is not available. Install a TeX distribution or set LATEX_ENGINE")
	}

	withCover := *in.CoverPage && in.Title != ""
	job := render.PandocJob{
		Markdown: Preprocess(in.Content),
		Header:   Header(style, in.TOC),
		Variables: [][2]string{
			{"geometry:margin", style.Margin},
			{"fontsize", in.FontSize},
			{"papersize", in.PaperSize},
		},
		TOC:      in.TOC,
		TOCDepth: tocDepth,
	}
	if withCover {
		job.BeforeBody = Cover(in.Title, in.Author, in.Date, t.now())
	}
	data, err := t.converter.Convert(ctx, job)
	if err != nil {
		t.server.Logger().Warn("convert markdown", zap.Error(err))
		return toolserver.Failure("PDF generation failed: %v", err)
	}

	title := in.Title
	if title == "" {
		title = "Untitled"
	}
	prefix := in.Title
	if strings.TrimSpace(prefix) == "" {
		prefix = "document"
	}
	path, record, err := t.server.Store().Save(ctx, conversationID, artifact.SaveRequest{
		Prefix:    prefix,
		Data:      data,
		HashInput: in.Content,
		Params: map[string]any{
			"title":          title,
			"author":         in.Author,
			"style":          in.Style,
			"paper_size":     in.PaperSize,
			"font_size":      in.FontSize,
			"has_cover_page": withCover,
			"has_toc":        in.TOC,
		},
	})
	if err != nil {
		return toolserver.Failure("PDF generation failed: %v", err)
	}

	return toolserver.Success(toolserver.Payload{
		"pdf_path": path,
		"pdf_url":  t.server.FileURL(conversationID, path),
		"title":    title,
		"metadata": toolserver.Payload{
			"author":          in.Author,
			"style":           in.Style,
			"paper_size":      in.PaperSize,
			"font_size":       in.FontSize,
			"has_cover_page":  withCover,
			"has_toc":         in.TOC,
			"created_at":      toolserver.Timestamp(record.CreatedAt),
			"conversation_id": record.ConversationID,
		},
	})
}

func withDefaults(in GenerateArgs) GenerateArgs {
	if in.CoverPage == nil {
		cover := true
		in.CoverPage = &cover
	}
	if in.Style == "" {
		in.Style = DefaultStyle
	}
	if in.PaperSize == "" {
		in.PaperSize = DefaultPaperSize
	}
	if in.FontSize == "" {
		in.FontSize = DefaultFontSize
	}
	return in
}
