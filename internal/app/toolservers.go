package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"toolmesh/internal/domain"
	"toolmesh/internal/infra/artifact"
	"toolmesh/internal/infra/comfy"
	"toolmesh/internal/infra/config"
	"toolmesh/internal/infra/render"
	"toolmesh/internal/infra/telemetry"
	"toolmesh/internal/infra/workpool"
	"toolmesh/internal/toolserver"
	"toolmesh/internal/toolserver/chart"
	"toolmesh/internal/toolserver/image"
	"toolmesh/internal/toolserver/pdf"
)

// Tool server kinds.
const (
	KindChart = "chart"
	KindPDF   = "pdf"
	KindImage = "image"
)

// ToolServerKinds lists the kinds InitializeToolServer accepts.
var ToolServerKinds = []string{KindChart, KindPDF, KindImage}

// ToolServer is a fully wired tool server ready to listen.
type ToolServer struct {
	Server    *toolserver.Server
	Addr      string
	Registry  *prometheus.Registry
	workflows *image.Workflows
	logger    *zap.Logger
}

// ServerProfile is what differs between tool server kinds.
type ServerProfile struct {
	Kind         string
	Name         string
	Extension    string
	Instructions string
	ArtifactKind domain.ArtifactKind
	Server       config.ServerConfig
	Logger       *zap.Logger
}

func NewServerProfile(kind string, cfg config.Config, logger *zap.Logger) (ServerProfile, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	profile := ServerProfile{Kind: kind, Logger: logger.Named(kind + "_server")}
	switch kind {
	case KindChart:
		profile.Name, profile.Extension, profile.Instructions = "chart-generator", "png", chart.Instructions
		profile.ArtifactKind, profile.Server = domain.ArtifactChart, cfg.Chart.ServerConfig
	case KindPDF:
		profile.Name, profile.Extension, profile.Instructions = "pdf-generator", "pdf", pdf.Instructions
		profile.ArtifactKind, profile.Server = domain.ArtifactPDF, cfg.PDF.ServerConfig
	case KindImage:
		profile.Name, profile.Extension, profile.Instructions = "comfy-image", "png", image.Instructions
		profile.ArtifactKind, profile.Server = domain.ArtifactImage, cfg.Image.ServerConfig
	default:
		return ServerProfile{}, fmt.Errorf("unknown tool server %q (want one of %s)", kind, strings.Join(ToolServerKinds, ", "))
	}
	return profile, nil
}

// NewMetricsRegistry returns a registry with the Go and process collectors.
func NewMetricsRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

func NewMetrics(registry *prometheus.Registry) *telemetry.PrometheusMetrics {
	return telemetry.NewPrometheusMetrics(registry)
}

func NewWorkPool() *workpool.Pool {
	return workpool.New(domain.DefaultWorkPoolSize)
}

func NewArtifactStore(profile ServerProfile, pool *workpool.Pool, metrics *telemetry.PrometheusMetrics) (*artifact.Store, error) {
	return newStore(profile.Server.Dir, profile.ArtifactKind, profile.Extension, pool, profile.Logger, metrics)
}

func NewMCPServer(profile ServerProfile, store *artifact.Store, registry *prometheus.Registry) (*toolserver.Server, error) {
	return toolserver.New(toolserver.Options{
		Name:         profile.Name,
		Version:      Version,
		Instructions: profile.Instructions,
		Store:        store,
		BaseURL:      profile.Server.BaseURL(),
		Gatherer:     registry,
		Logger:       profile.Logger,
	})
}

// NewToolServer registers the tools of the profile's kind on server.
func NewToolServer(profile ServerProfile, server *toolserver.Server, registry *prometheus.Registry, cfg config.Config) (*ToolServer, error) {
	logger := profile.Logger
	built := &ToolServer{Server: server, Addr: profile.Server.Addr(), Registry: registry, logger: logger}
	switch profile.Kind {
	case KindChart:
		var renderer chart.Renderer
		if strings.TrimSpace(cfg.Chart.Renderer) != "" {
			command, err := render.NewCommand(render.CommandOptions{
				Command: cfg.Chart.Renderer,
				Timeout: cfg.Chart.RenderTimeout,
				Logger:  logger,
			})
			if err != nil {
				return nil, err
			}
			renderer = command
		} else {
			logger.Warn("no chart renderer configured; generate_chart will report an error")
		}
		chart.Register(server, renderer)
	case KindPDF:
		pdf.Register(server, render.NewPandoc(render.PandocOptions{
			Path:       cfg.PDF.PandocPath,
			Engine:     cfg.PDF.LatexEngine,
			SearchPath: cfg.PDF.SearchPath,
			Logger:     logger,
		}), nil)
	case KindImage:
		client := comfy.New(comfy.Options{
			BaseURL:      cfg.Image.ComfyURL,
			Timeout:      cfg.Image.ComfyTimeout,
			PollInterval: cfg.Image.PollInterval,
			Logger:       logger,
		})
		built.workflows = image.NewWorkflows(cfg.Image.WorkflowPath, logger)
		image.Register(server, client, built.workflows)
	default:
		return nil, fmt.Errorf("unknown tool server %q", profile.Kind)
	}
	return built, nil
}

func newStore(dir string, kind domain.ArtifactKind, ext string, pool *workpool.Pool, logger *zap.Logger, metrics domain.Metrics) (*artifact.Store, error) {
	return artifact.NewStore(artifact.Options{
		Root:      dir,
		Kind:      kind,
		Extension: ext,
		Pool:      pool,
		Logger:    logger,
		Metrics:   metrics,
	})
}

// Run serves until ctx is done.
func (s *ToolServer) Run(ctx context.Context) error {
	if s.workflows != nil {
		if err := s.workflows.Watch(ctx); err != nil {
			s.logger.Warn("workflow watch disabled", zap.Error(err))
		}
	}
	s.logger.Info("tool server starting",
		zap.String("name", s.Server.Name()),
		zap.String("addr", s.Addr),
		zap.String("files", s.Server.Store().Root()),
	)
	return s.Server.Serve(ctx, s.Addr)
}
