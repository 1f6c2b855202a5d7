// Package toolserver hosts MCP tool sets over streamable HTTP together with
// the health, file and metrics routes the agents rely on.
package toolserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"toolmesh/internal/domain"
	"toolmesh/internal/infra/artifact"
	"toolmesh/internal/infra/identity"
	"toolmesh/internal/infra/telemetry"
)

type Options struct {
	Name         string
	Version      string
	Instructions string
	Store        *artifact.Store
	// BaseURL prefixes file URLs; file:// URLs are returned when empty.
	BaseURL  string
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Server is one tool server: an MCP server plus its artifact store.
type Server struct {
	name    string
	mcp     *mcp.Server
	store   *artifact.Store
	baseURL string
	gather  prometheus.Gatherer
	logger  *zap.Logger
}

func New(opts Options) (*Server, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return nil, errors.New("server name is required")
	}
	if opts.Store == nil {
		return nil, errors.New("artifact store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	server := mcp.NewServer(&mcp.Implementation{Name: opts.Name, Version: version}, &mcp.ServerOptions{
		Instructions: opts.Instructions,
		HasTools:     true,
	})
	return &Server{
		name:    opts.Name,
		mcp:     server,
		store:   opts.Store,
		baseURL: strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		gather:  opts.Gatherer,
		logger:  logger.Named("toolserver").With(zap.String("server", opts.Name)),
	}, nil
}

func (s *Server) Name() string {
	return s.name
}

// MCP exposes the underlying server so tool sets can register tools.
func (s *Server) MCP() *mcp.Server {
	return s.mcp
}

func (s *Server) Store() *artifact.Store {
	return s.store
}

func (s *Server) Logger() *zap.Logger {
	return s.logger
}

// FileURL returns the URL under which a stored file is served.
func (s *Server) FileURL(conversationID, path string) string {
	filename := filepath.Base(path)
	if s.baseURL == "" {
		return "file://" + filepath.Join(s.store.ConversationDir(conversationID), filename)
	}
	return fmt.Sprintf("%s/files/%s/%s", s.baseURL, identity.Resolve(conversationID), url.PathEscape(filename))
}

// Handler routes /mcp, /health, /files and /metrics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcp
	}, &mcp.StreamableHTTPOptions{JSONResponse: true})
	r.Handle(domain.DefaultMCPPath, mcpHandler)
	r.Handle(domain.DefaultMCPPath+"/*", mcpHandler)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/files/{conversation_id}/{filename}", s.serveFile)
	if s.gather != nil {
		r.Handle("/metrics", telemetry.MetricsHandler(s.gather))
	}
	return r
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request) {
	path, err := s.store.Locate(chi.URLParam(r, "conversation_id"), chi.URLParam(r, "filename"))
	if err != nil {
		if errors.Is(err, domain.ErrPathOutsideRoot) {
			http.Error(w, "Access denied", http.StatusForbidden)
			return
		}
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			telemetry.EventField(telemetry.EventHTTPRequest),
			telemetry.RequestIDField(middleware.GetReqID(r.Context())),
			telemetry.ConversationField(identity.FromHeader(r.Header)),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			telemetry.DurationField(time.Since(start)),
		)
	})
}

// Serve listens on addr until ctx is canceled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.ServeListener(ctx, listener)
}

func (s *Server) ServeListener(ctx context.Context, listener net.Listener) error {
	s.logger.Info("tool server listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("root", s.store.Root()),
		zap.String("baseURL", s.baseURL),
	)
	if err := telemetry.Serve(ctx, listener, s.Handler(), s.logger); err != nil {
		return fmt.Errorf("tool server failed: %w", err)
	}
	return nil
}
