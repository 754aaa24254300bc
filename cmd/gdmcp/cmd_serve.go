package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/gdmcp/gdmcp/internal/dispatch"
	"github.com/gdmcp/gdmcp/internal/fsys"
	"github.com/gdmcp/gdmcp/internal/telemetry"
)

func newServeCmd(stderr io.Writer) *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP dispatcher on stdio",
		Long: `Serve the Godot MCP tool set over stdio.

Every tool operates on project-relative paths inside --project. The
process speaks MCP on stdin/stdout; logs and errors go to stderr.`,
		Example: `  gdmcp serve --project ~/games/platformer`,
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if doServe(project, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", ".", "path to the Godot project root")
	return cmd
}

func doServe(project string, stderr io.Writer) int {
	root, err := resolveProject(project)
	if err != nil {
		fmt.Fprintf(stderr, "gdmcp serve: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	cfg, err := loadProjectConfig(root)
	if err != nil {
		fmt.Fprintf(stderr, "gdmcp serve: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	ctx := context.Background()
	shutdown, err := telemetry.Init(ctx, dispatch.ServerName, dispatch.ServerVersion,
		telemetryURL(telemetry.EnvMetricsURL, cfg.Telemetry.MetricsURL),
		telemetryURL(telemetry.EnvLogsURL, cfg.Telemetry.LogsURL))
	if err != nil {
		fmt.Fprintf(stderr, "gdmcp serve: telemetry init: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	defer shutdown(ctx) //nolint:errcheck // best-effort flush

	engine := dispatch.NewEngine(fsys.OSFS{}, root)
	if err := server.ServeStdio(dispatch.NewServer(engine)); err != nil {
		fmt.Fprintf(stderr, "gdmcp serve: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	return 0
}

// telemetryURL prefers the environment variable over the project config.
func telemetryURL(envName, configured string) string {
	if v := os.Getenv(envName); v != "" {
		return v
	}
	return configured
}
