package main

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"toolmesh/internal/app"
	"toolmesh/internal/domain"
	"toolmesh/internal/infra/capcache"
	"toolmesh/internal/infra/config"
)

type cliOptions struct {
	configPath string
	envFiles   []string
	endpoints  []string
	output     string
	verbose    bool
	noCache    bool

	cfg    config.Config
	logger *zap.Logger
}

func newRootCommand() *cobra.Command {
	opts := cliOptions{
		envFiles: []string{".env"},
		output:   outputText,
		logger:   zap.NewNop(),
	}

	root := &cobra.Command{
		Use:           "toolctl",
		Short:         "Discover, inspect and call remote tool endpoints",
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return opts.load()
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = opts.logger.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to a YAML config file (optional)")
	flags.StringSliceVar(&opts.envFiles, "env-file", opts.envFiles, ".env files to load; missing files are ignored")
	flags.StringArrayVarP(&opts.endpoints, "endpoint", "e", nil, "restrict to this endpoint (repeatable)")
	flags.StringVarP(&opts.output, "output", "o", opts.output, "output format: text, json, yaml or toml")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")
	flags.BoolVar(&opts.noCache, "no-cache", false, "do not record discoveries in the capability cache")

	root.AddCommand(
		newDiscoverCmd(&opts),
		newToolsCmd(&opts),
		newCallCmd(&opts),
		newProbeCmd(&opts),
		newMonitorCmd(&opts),
	)
	return root
}

func (o *cliOptions) load() error {
	if !slices.Contains(outputFormats, o.output) {
		return fmt.Errorf("unknown output format %q (want one of %s)", o.output, strings.Join(outputFormats, ", "))
	}
	cfg, err := config.Load(config.LoadOptions{ConfigPath: o.configPath, EnvFiles: o.envFiles})
	if err != nil {
		return err
	}
	if len(o.endpoints) > 0 {
		selected := make([]domain.RemoteEndpoint, 0, len(o.endpoints))
		for _, name := range o.endpoints {
			endpoint, ok := cfg.Endpoint(name)
			if !ok {
				return fmt.Errorf("unknown endpoint %q", name)
			}
			endpoint.Disabled = false
			selected = append(selected, endpoint)
		}
		cfg.Endpoints = selected
	}
	o.cfg = cfg
	if o.verbose {
		logger, err := app.NewLogger(cfg.Log)
		if err != nil {
			return err
		}
		o.logger = logger
	}
	return nil
}

// newHub builds a hub over the selected endpoints. The returned cleanup
// closes the hub and the capability cache.
func (o *cliOptions) newHub(opts app.HubOptions) (*app.Hub, func(), error) {
	opts.Config = o.cfg
	opts.Logger = o.logger

	var cache *capcache.Store
	if !o.noCache && o.cfg.CachePath != "" {
		var err error
		cache, err = capcache.Open(o.cfg.CachePath)
		if err != nil {
			o.logger.Warn("capability cache unavailable", zap.Error(err))
		} else {
			opts.Cache = cache
		}
	}

	hub, err := app.NewHub(opts)
	if err != nil {
		if cache != nil {
			_ = cache.Close()
		}
		return nil, nil, err
	}
	cleanup := func() {
		hub.Close()
		if cache != nil {
			_ = cache.Close()
		}
	}
	return hub, cleanup, nil
}

func (o *cliOptions) timeoutContext(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := o.cfg.DiscoveryTimeout + o.cfg.CallTimeout
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
