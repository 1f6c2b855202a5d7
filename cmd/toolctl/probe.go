package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"toolmesh/internal/app"
	"toolmesh/internal/infra/telemetry"
)

type probeReport struct {
	Status    string               `json:"status" yaml:"status" toml:"status"`
	Endpoints []app.EndpointStatus `json:"endpoints" yaml:"endpoints" toml:"endpoints"`
}

func newProbeCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check whether each endpoint answers a ping",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hub, cleanup, err := opts.newHub(app.HubOptions{})
			if err != nil {
				return err
			}
			defer cleanup()

			statuses := hub.Status(cmd.Context())
			report := probeReport{Status: hub.Health().Report().Status, Endpoints: statuses}
			if err := printProbe(opts.output, report); err != nil {
				return err
			}
			if report.Status != telemetry.HealthOK {
				return exitSilent(1)
			}
			return nil
		},
	}
	return cmd
}

func printProbe(format string, report probeReport) error {
	if format != outputText {
		return writeStructured(stdout, format, report)
	}
	tw := newTable(stdout, "ENDPOINT", "URL", "REACHABLE")
	for _, status := range report.Endpoints {
		reachable := "no"
		if status.Reachable {
			reachable = "yes"
		}
		tableRow(tw, status.Endpoint, orDash(status.URL), reachable)
	}
	return tw.Flush()
}

func newMonitorCmd(opts *cliOptions) *cobra.Command {
	var (
		interval time.Duration
		addr     string
	)
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Probe endpoints periodically and serve /healthz and /metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}
			if addr == "" {
				addr = opts.cfg.Observability.ListenAddress
			}
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			registry := prometheus.NewRegistry()
			health := telemetry.NewHealthTracker()
			hub, cleanup, err := opts.newHub(app.HubOptions{
				Health:  health,
				Metrics: telemetry.NewPrometheusMetrics(registry),
			})
			if err != nil {
				return err
			}
			defer cleanup()

			serverErr := make(chan error, 1)
			go func() {
				serverErr <- telemetry.NewHealthServer(health, registry, opts.logger).ListenAndServe(ctx, addr)
			}()

			return monitorLoop(ctx, hub, interval, serverErr, opts)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 15*time.Second, "probe interval")
	cmd.Flags().StringVar(&addr, "listen", "", "observability listen address (defaults to the configured one)")
	return cmd
}

func monitorLoop(ctx context.Context, hub *app.Hub, interval time.Duration, serverErr <-chan error, opts *cliOptions) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		statuses := hub.Status(ctx)
		for _, status := range statuses {
			if !status.Reachable {
				opts.logger.Warn("endpoint unreachable", telemetry.EndpointField(status.Endpoint), zap.String("url", status.URL))
			}
		}
		if opts.output == outputText {
			fmt.Fprintf(stdout, "%s %s\n", time.Now().UTC().Format(time.RFC3339), hub.Health().Report().Status)
		} else if err := writeStructured(stdout, opts.output, probeReport{Status: hub.Health().Report().Status, Endpoints: statuses}); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case err := <-serverErr:
			return err
		case <-ticker.C:
		}
	}
}
