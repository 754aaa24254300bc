package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/gdmcp/gdmcp/internal/dispatch"
	"github.com/gdmcp/gdmcp/internal/doctor"
	"github.com/gdmcp/gdmcp/internal/telemetry"
)

func newDoctorCmd(stdout, stderr io.Writer) *cobra.Command {
	var (
		project  string
		godot    string
		strict   bool
		readOnly bool
		verbose  bool
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose and repair the Godot bridge environment",
		Long: `Run the environment diagnostics: resolve the Godot executable,
reconcile the project's bridge files, self-test the dispatcher, and
probe (or launch) the editor bridge.

Without --read-only the doctor repairs what it can: syncing the bridge
addon, enabling the plugin, generating an auth token, clearing stale
locks, and launching a headless editor when no bridge answers.`,
		Example: `  gdmcp doctor --project ~/games/platformer
  gdmcp doctor --project . --read-only --verbose
  gdmcp doctor --godot /opt/godot/godot --strict --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if doDoctor(cmd, project, godot, strict, readOnly, verbose, asJSON, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "path to the Godot project root (empty: environment checks only)")
	cmd.Flags().StringVar(&godot, "godot", "", "path to the Godot executable (empty: auto-detect)")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail instead of guessing when no executable validates")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "report problems without changing anything")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show per-stage diagnostic details")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the full result as JSON")
	return cmd
}

func doDoctor(cmd *cobra.Command, project, godot string, strict, readOnly, verbose, asJSON bool, stdout, stderr io.Writer) int {
	root := ""
	if project != "" {
		var err error
		root, err = resolveProject(project)
		if err != nil {
			fmt.Fprintf(stderr, "gdmcp doctor: %v\n", err) //nolint:errcheck // best-effort stderr
			return 1
		}
	}
	cfg, err := loadProjectConfig(root)
	if err != nil {
		fmt.Fprintf(stderr, "gdmcp doctor: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	// Flags win over gdmcp.toml; the config fills in what was not given.
	if godot == "" {
		godot = cfg.Godot.Path
	}
	if !cmd.Flags().Changed("strict") {
		strict = cfg.Godot.Strict
	}
	if !cmd.Flags().Changed("read-only") {
		readOnly = cfg.Doctor.ReadOnly
	}

	ctx := cmd.Context()
	shutdown, err := telemetry.Init(ctx, dispatch.ServerName, dispatch.ServerVersion,
		telemetryURL(telemetry.EnvMetricsURL, cfg.Telemetry.MetricsURL),
		telemetryURL(telemetry.EnvLogsURL, cfg.Telemetry.LogsURL))
	if err != nil {
		fmt.Fprintf(stderr, "gdmcp doctor: telemetry init: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	defer shutdown(ctx) //nolint:errcheck // best-effort flush

	opts := doctor.Options{
		GodotPath:      godot,
		ProjectPath:    root,
		Strict:         strict,
		ReadOnly:       readOnly,
		Verbose:        verbose,
		BridgeHost:     cfg.Bridge.Host,
		BridgePort:     cfg.Bridge.Port,
		ProbeTimeout:   cfg.Bridge.ProbeTimeout(),
		LaunchDeadline: cfg.Bridge.LaunchTimeout(),
	}
	if !asJSON {
		fmt.Fprintln(stdout, renderHeader(root)) //nolint:errcheck // best-effort stdout
		opts.Stream = stdout
	}

	res, err := doctor.Run(ctx, opts)
	if err != nil {
		fmt.Fprintf(stderr, "gdmcp doctor: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	if asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			fmt.Fprintf(stderr, "gdmcp doctor: %v\n", err) //nolint:errcheck // best-effort stderr
			return 1
		}
	} else {
		fmt.Fprint(stdout, renderFooter(res)) //nolint:errcheck // best-effort stdout
	}

	if !res.OK {
		return 1
	}
	return 0
}
