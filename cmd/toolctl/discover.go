package main

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"toolmesh/internal/app"
)

type discoveryRow struct {
	Endpoint     string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	Operations   int    `json:"operations" yaml:"operations" toml:"operations"`
	ETag         string `json:"etag,omitempty" yaml:"etag,omitempty" toml:"etag,omitempty"`
	DiscoveredAt string `json:"discoveredAt,omitempty" yaml:"discoveredAt,omitempty" toml:"discoveredAt,omitempty"`
	Error        string `json:"error,omitempty" yaml:"error,omitempty" toml:"error,omitempty"`
}

type discoveryReport struct {
	Endpoints []discoveryRow `json:"endpoints" yaml:"endpoints" toml:"endpoints"`
}

func newDiscoverCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Force capability discovery on every endpoint and refresh the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hub, cleanup, err := opts.newHub(app.HubOptions{})
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := opts.timeoutContext(cmd.Context())
			defer cancel()

			failures := hub.Discover(ctx, true)
			report := discoveryReport{}
			for _, name := range hub.Endpoints() {
				row := discoveryRow{Endpoint: name}
				if err, failed := failures[name]; failed {
					row.Error = err.Error()
				} else {
					tk, _ := hub.Toolkit(name)
					registry := tk.Registry()
					row.Operations = registry.Len()
					row.ETag = registry.ETag()
					row.DiscoveredAt = registry.DiscoveredAt().Format(time.RFC3339)
				}
				report.Endpoints = append(report.Endpoints, row)
			}

			if err := printDiscovery(opts.output, report); err != nil {
				return err
			}
			if len(failures) > 0 {
				return exitSilent(1)
			}
			return nil
		},
	}
	return cmd
}

func printDiscovery(format string, report discoveryReport) error {
	if format != outputText {
		return writeStructured(stdout, format, report)
	}
	tw := newTable(stdout, "ENDPOINT", "OPERATIONS", "ETAG", "RESULT")
	for _, row := range report.Endpoints {
		result := "ok"
		if row.Error != "" {
			result = row.Error
		}
		tableRow(tw, row.Endpoint, strconv.Itoa(row.Operations), orDash(shortETag(row.ETag)), result)
	}
	return tw.Flush()
}

func shortETag(etag string) string {
	if len(etag) > 12 {
		return etag[:12]
	}
	return etag
}

