package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"toolmesh/internal/app"
	"toolmesh/internal/infra/config"
)

type serveOptions struct {
	configPath string
	envFiles   []string
	host       string
	port       int
	dir        string
	publicURL  string
	logLevel   string
	devLogs    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := serveOptions{envFiles: []string{".env"}}

	root := &cobra.Command{
		Use:           "toolserver",
		Short:         "Run a chart, PDF or image generation tool server over streamable HTTP",
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to a YAML config file (optional)")
	flags.StringSliceVar(&opts.envFiles, "env-file", opts.envFiles, ".env files to load; missing files are ignored")
	flags.StringVar(&opts.host, "host", "", "listen host (overrides config)")
	flags.IntVar(&opts.port, "port", 0, "listen port (overrides config)")
	flags.StringVar(&opts.dir, "dir", "", "artifact directory (overrides config)")
	flags.StringVar(&opts.publicURL, "public-url", "", "base URL used in returned file links (overrides config)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.BoolVar(&opts.devLogs, "dev-logs", false, "human readable development logs")

	for _, kind := range app.ToolServerKinds {
		root.AddCommand(newServeCmd(kind, &opts))
	}
	return root
}

func newServeCmd(kind string, opts *serveOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   kind,
		Short: fmt.Sprintf("Serve the %s tools", kind),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			cfg, err := config.Load(config.LoadOptions{ConfigPath: opts.configPath, EnvFiles: opts.envFiles})
			if err != nil {
				return err
			}
			opts.apply(kind, &cfg)

			logger, err := app.NewLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			server, err := app.InitializeToolServer(kind, cfg, logger)
			if err != nil {
				logger.Error("build tool server", zap.String("kind", kind), zap.Error(err))
				return err
			}
			return server.Run(ctx)
		},
	}
	return cmd
}

// apply lays explicit flags over the loaded configuration.
func (o *serveOptions) apply(kind string, cfg *config.Config) {
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.devLogs {
		cfg.Log.Development = true
	}
	var server *config.ServerConfig
	switch kind {
	case app.KindChart:
		server = &cfg.Chart.ServerConfig
	case app.KindPDF:
		server = &cfg.PDF.ServerConfig
	case app.KindImage:
		server = &cfg.Image.ServerConfig
	default:
		return
	}
	if o.host != "" {
		server.Host = o.host
	}
	if o.port > 0 {
		server.Port = o.port
	}
	if o.dir != "" {
		server.Dir = o.dir
	}
	if o.publicURL != "" {
		server.PublicURL = o.publicURL
	}
}

func signalAwareContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
