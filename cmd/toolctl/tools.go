package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"toolmesh/internal/app"
	"toolmesh/internal/domain"
	"toolmesh/internal/infra/capcache"
	"toolmesh/internal/infra/toolkit"
)

type toolRow struct {
	Endpoint    string   `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	Name        string   `json:"name" yaml:"name" toml:"name"`
	Description string   `json:"description" yaml:"description" toml:"description"`
	Required    []string `json:"required" yaml:"required" toml:"required"`
	Optional    []string `json:"optional" yaml:"optional" toml:"optional"`
}

type toolsReport struct {
	Source string    `json:"source" yaml:"source" toml:"source"`
	Tools  []toolRow `json:"tools" yaml:"tools" toml:"tools"`
	Errors []string  `json:"errors,omitempty" yaml:"errors,omitempty" toml:"errors,omitempty"`
}

func newToolsCmd(opts *cliOptions) *cobra.Command {
	var cached bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the operations exposed by each endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				report toolsReport
				err    error
			)
			if cached {
				report, err = cachedTools(opts)
			} else {
				report, err = liveTools(cmd, opts)
			}
			if err != nil {
				return err
			}
			if err := printTools(opts.output, report); err != nil {
				return err
			}
			if len(report.Errors) > 0 && len(report.Tools) == 0 {
				return exitSilent(1)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&cached, "cached", false, "read the last successful discovery from the capability cache without contacting endpoints")
	return cmd
}

func liveTools(cmd *cobra.Command, opts *cliOptions) (toolsReport, error) {
	hub, cleanup, err := opts.newHub(app.HubOptions{})
	if err != nil {
		return toolsReport{}, err
	}
	defer cleanup()

	ctx, cancel := opts.timeoutContext(cmd.Context())
	defer cancel()

	failures := hub.Discover(ctx, false)
	report := toolsReport{Source: "live"}
	for _, name := range hub.Endpoints() {
		if err, failed := failures[name]; failed {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		tk, _ := hub.Toolkit(name)
		for _, w := range tk.Tools() {
			report.Tools = append(report.Tools, wrapperRow(w))
		}
	}
	return report, nil
}

func wrapperRow(w *toolkit.Wrapper) toolRow {
	return toolRow{
		Endpoint:    w.Endpoint(),
		Name:        w.Name(),
		Description: w.Description(),
		Required:    w.Required(),
		Optional:    w.Optional(),
	}
}

func cachedTools(opts *cliOptions) (toolsReport, error) {
	if opts.cfg.CachePath == "" {
		return toolsReport{}, fmt.Errorf("no capability cache configured")
	}
	cache, err := capcache.Open(opts.cfg.CachePath)
	if err != nil {
		return toolsReport{}, err
	}
	defer func() { _ = cache.Close() }()

	selected := make(map[string]bool, len(opts.cfg.Endpoints))
	for _, endpoint := range opts.cfg.Endpoints {
		selected[endpoint.Name] = true
	}
	snapshots, err := cache.List()
	if err != nil {
		return toolsReport{}, err
	}
	report := toolsReport{Source: "cache"}
	for _, snapshot := range snapshots {
		if !selected[snapshot.Endpoint] {
			continue
		}
		for _, desc := range snapshot.Operations {
			report.Tools = append(report.Tools, descriptorRow(snapshot, desc))
		}
	}
	if len(report.Tools) == 0 {
		report.Errors = append(report.Errors, "capability cache has no entries for the selected endpoints")
	}
	return report, nil
}

func descriptorRow(snapshot domain.CapabilitySnapshot, desc domain.OperationDescriptor) toolRow {
	required := make(map[string]bool, len(desc.InputSchema.Required))
	for _, name := range desc.InputSchema.Required {
		required[name] = true
	}
	var optional []string
	for name := range desc.InputSchema.Properties {
		if !required[name] {
			optional = append(optional, name)
		}
	}
	sort.Strings(optional)
	description := desc.Description
	if description == "" {
		description = fmt.Sprintf("execute `%s` remotely", desc.Name)
	}
	return toolRow{
		Endpoint:    snapshot.Endpoint,
		Name:        desc.Name,
		Description: fmt.Sprintf("%s (cached %s)", description, snapshot.DiscoveredAt.Format(time.RFC3339)),
		Required:    append([]string(nil), desc.InputSchema.Required...),
		Optional:    optional,
	}
}

func printTools(format string, report toolsReport) error {
	if format != outputText {
		return writeStructured(stdout, format, report)
	}
	tw := newTable(stdout, "ENDPOINT", "TOOL", "REQUIRED", "OPTIONAL", "DESCRIPTION")
	for _, row := range report.Tools {
		tableRow(tw, row.Endpoint, row.Name,
			orDash(strings.Join(row.Required, ",")),
			orDash(strings.Join(row.Optional, ",")),
			truncate(row.Description, 72),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, msg := range report.Errors {
		fmt.Fprintln(stdout, "error:", msg)
	}
	return nil
}
