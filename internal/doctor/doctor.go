package doctor

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/gdmcp/gdmcp/internal/fsys"
	"github.com/gdmcp/gdmcp/internal/gdproject"
	"github.com/gdmcp/gdmcp/internal/godotbin"
	"github.com/gdmcp/gdmcp/internal/launch"
	"github.com/gdmcp/gdmcp/internal/selftest"
	"github.com/gdmcp/gdmcp/internal/setup"
	"github.com/gdmcp/gdmcp/internal/telemetry"
)

// Stage names, in execution order.
const (
	StageGodot    = "godot"
	StageProject  = "project"
	StageSelfTest = "selftest"
	StageBridge   = "bridge"
)

// ErrAlreadyRunning is returned when another doctor holds the per-project
// run guard.
var ErrAlreadyRunning = errors.New("another doctor run is already active for this project")

const suggestInstall = "install Godot 4 or set GODOT_PATH to the editor executable"

// Options configures one doctor run.
type Options struct {
	FS          fsys.FS
	GodotPath   string // explicit executable override; empty triggers discovery
	ProjectPath string // empty skips the project and bridge stages
	Strict      bool   // fail resolution instead of falling back to a default path
	ReadOnly    bool   // report project deltas without writing
	Verbose     bool

	// BridgeHost and BridgePort are the configured bridge address
	// (gdmcp.toml); zero values mean unconfigured.
	BridgeHost string
	BridgePort int

	// Zero values defer to the prober's defaults.
	ProbeTimeout   time.Duration
	LaunchDeadline time.Duration

	// Stream, when set, receives each stage line as it completes.
	Stream io.Writer

	// Injection points for tests. Nil means production behavior.
	resolve   func(ctx context.Context) (string, []godotbin.Candidate, error)
	reconcile func() (*setup.Outcome, error)
	selfTest  func(ctx context.Context, godotAvailable bool) *selftest.Result
	probe     func(ctx context.Context, godotPath string) *launch.Result
	guardPath string
}

// Run executes the diagnostic pipeline. Stages run in dependency order;
// a stage whose prerequisite failed is skipped with a reason instead of
// piling on derivative failures. Only one run per project proceeds at a
// time; a second returns ErrAlreadyRunning.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.FS == nil {
		opts.FS = fsys.OSFS{}
	}
	if opts.ProjectPath != "" {
		if abs, err := filepath.Abs(opts.ProjectPath); err == nil {
			opts.ProjectPath = abs
		}
	}

	guard := flock.New(opts.runGuardPath())
	if held, err := guard.TryLock(); err == nil {
		if !held {
			return nil, ErrAlreadyRunning
		}
		defer guard.Unlock() //nolint:errcheck // best-effort release
	}

	res := &Result{GeneratedAt: time.Now().UTC()}

	opts.addStage(ctx, res, opts.godotStage(ctx, res))
	opts.addStage(ctx, res, opts.projectStage(res))
	opts.addStage(ctx, res, opts.selfTestStage(ctx, res))
	opts.addStage(ctx, res, opts.bridgeStage(ctx, res))

	res.OK = true
	seen := make(map[string]bool)
	for _, st := range res.Stages {
		if !st.Skipped && !st.OK {
			res.OK = false
		}
		for _, s := range st.Suggestions {
			if seen[s] {
				continue
			}
			seen[s] = true
			res.Suggestions = append(res.Suggestions, s)
		}
	}
	telemetry.RecordDoctorRun(ctx, res.OK, len(res.Suggestions))
	return res, nil
}

// runGuardPath places the advisory lock in the temp directory, keyed by
// the project path so unrelated projects never contend.
func (o *Options) runGuardPath() string {
	if o.guardPath != "" {
		return o.guardPath
	}
	h := fnv.New32a()
	h.Write([]byte(o.ProjectPath)) //nolint:errcheck // hash writes cannot fail
	return filepath.Join(os.TempDir(), fmt.Sprintf("gdmcp-doctor-%08x.lock", h.Sum32()))
}

// addStage records a completed stage: result list, telemetry, and the
// streaming writer when one is attached.
func (o *Options) addStage(ctx context.Context, res *Result, st StageResult) {
	res.Stages = append(res.Stages, st)
	telemetry.RecordDoctorStage(ctx, st.Name, st.OK, st.Skipped, st.Summary)
	if o.Stream != nil {
		printStage(o.Stream, &st, o.Verbose)
	}
}

// godotStage resolves and validates the editor executable.
func (o *Options) godotStage(ctx context.Context, res *Result) StageResult {
	resolve := o.resolve
	if resolve == nil {
		r := godotbin.NewResolver()
		resolve = func(ctx context.Context) (string, []godotbin.Candidate, error) {
			return r.Resolve(ctx, o.GodotPath, o.Strict)
		}
	}
	path, cands, err := resolve(ctx)

	for _, c := range cands {
		status := "invalid"
		if c.Valid {
			status = "ok"
		}
		res.Godot.Candidates = append(res.Godot.Candidates,
			fmt.Sprintf("%s (%s, %s)", c.Normalized, c.Origin, status))
	}

	st := StageResult{Name: StageGodot, Details: append([]string(nil), res.Godot.Candidates...)}
	if err != nil {
		st.Summary = err.Error()
		st.Suggestions = []string{suggestInstall}
		return st
	}

	res.Godot.Path = path
	for _, c := range cands {
		if c.Valid && c.Normalized == path {
			res.Godot.Available = true
			break
		}
	}
	if res.Godot.Available {
		st.OK = true
		st.Summary = "using " + path
	} else {
		st.Summary = "no usable Godot executable found; assuming " + path
		st.Suggestions = []string{suggestInstall}
	}
	return st
}

// projectStage reconciles the project's bridge files and records the
// observed state. Suggestions cover both what was just changed (requires
// an editor restart) and what is still missing.
func (o *Options) projectStage(res *Result) StageResult {
	st := StageResult{Name: StageProject}
	if o.ProjectPath == "" {
		st.OK, st.Skipped = true, true
		st.Summary = "no project path given"
		return st
	}

	info := &ProjectInfo{Path: o.ProjectPath}
	res.Project = info

	reconcile := o.reconcile
	if reconcile == nil {
		reconcile = func() (*setup.Outcome, error) {
			return setup.Reconcile(o.FS, o.ProjectPath, o.ReadOnly)
		}
	}
	out, err := reconcile()
	if err != nil {
		st.Summary = fmt.Sprintf("project setup failed: %v", err)
		o.fillProjectInfo(info)
		return st
	}

	o.fillProjectInfo(info)
	st.Summary = out.Summary

	if !info.HasProjectGodot {
		st.Suggestions = []string{
			"point --project at a directory containing " + gdproject.DescriptorName,
		}
		return st
	}

	st.OK = out.OK
	if out.AddonCopied {
		st.Suggestions = append(st.Suggestions,
			"restart the Godot editor to load the newly synced godot_bridge addon")
	}
	if out.TokenCreated {
		st.Suggestions = append(st.Suggestions,
			"a new bridge auth token was written to "+gdproject.TokenFile+"; restart the editor so it is read")
	}
	if !info.AddonPresent {
		st.Suggestions = append(st.Suggestions,
			"sync the bridge addon into "+gdproject.AddonDir+" (rerun without --read-only)")
	}
	if !info.PluginEnabled {
		st.Suggestions = append(st.Suggestions,
			"enable the godot_bridge plugin in "+gdproject.DescriptorName)
	}
	if !info.TokenPresent {
		st.Suggestions = append(st.Suggestions,
			"generate a bridge auth token (rerun without --read-only)")
	}
	if info.LockPresent {
		st.Details = append(st.Details, "bridge lock present; an editor may already be running")
	}
	return st
}

// fillProjectInfo snapshots the bridge-relevant project state. Read
// failures leave the corresponding flag false.
func (o *Options) fillProjectInfo(info *ProjectInfo) {
	info.HasProjectGodot, _ = gdproject.HasDescriptor(o.FS, o.ProjectPath)
	info.AddonPresent, _ = gdproject.AddonPresent(o.FS, o.ProjectPath)
	info.PluginEnabled, _ = gdproject.PluginEnabled(o.FS, o.ProjectPath)
	info.TokenPresent, _ = gdproject.TokenPresent(o.FS, o.ProjectPath)
	info.LockPresent, _ = gdproject.LockPresent(o.FS, o.ProjectPath)
}

// selfTestStage exercises the dispatcher end to end. It always runs;
// executable availability only gates the functional batch inside.
func (o *Options) selfTestStage(ctx context.Context, res *Result) StageResult {
	run := o.selfTest
	if run == nil {
		run = func(ctx context.Context, godotAvailable bool) *selftest.Result {
			return selftest.Run(ctx, selftest.Options{GodotAvailable: godotAvailable})
		}
	}
	r := run(ctx, res.Godot.Available)
	return StageResult{
		Name:        StageSelfTest,
		OK:          r.OK,
		Summary:     r.Summary,
		Details:     r.Details,
		Suggestions: r.Suggestions,
	}
}

// bridgeStage probes for a live bridge and, when possible, launches the
// editor to start one.
func (o *Options) bridgeStage(ctx context.Context, res *Result) StageResult {
	st := StageResult{Name: StageBridge}
	if o.ProjectPath == "" {
		st.OK, st.Skipped = true, true
		st.Summary = "no project path given"
		return st
	}
	if res.Project == nil || !res.Project.HasProjectGodot {
		st.OK, st.Skipped = true, true
		st.Summary = "project descriptor missing; nothing to probe"
		return st
	}

	probe := o.probe
	if probe == nil {
		probe = func(ctx context.Context, godotPath string) *launch.Result {
			return launch.Run(ctx, o.launchOptions(godotPath))
		}
	}
	bin := ""
	if res.Godot.Available {
		bin = res.Godot.Path
	}
	lr := probe(ctx, bin)

	st.OK = lr.OK
	st.Skipped = lr.Skipped
	st.Summary = lr.Summary
	st.Details = append(st.Details, lr.Details...)
	for _, c := range lr.Candidates {
		outcome := "reachable"
		if c.Err != nil {
			outcome = c.Err.Error()
		}
		st.Details = append(st.Details, fmt.Sprintf("probed %s:%d (%s): %s", c.Host, c.Port, c.Origin, outcome))
	}
	st.Suggestions = lr.Suggestions
	if lr.StaleLock {
		st.Details = append(st.Details, "stale bridge lock removed before relaunch")
	}

	// The prober may have removed a stale lock or launched an editor.
	res.Project.LockPresent, _ = gdproject.LockPresent(o.FS, o.ProjectPath)
	return st
}

// launchOptions maps the doctor's settings onto a prober invocation,
// carrying the configured bridge address through.
func (o *Options) launchOptions(godotPath string) launch.Options {
	return launch.Options{
		FS:             o.FS,
		ProjectRoot:    o.ProjectPath,
		GodotPath:      godotPath,
		ReadOnly:       o.ReadOnly,
		Host:           o.BridgeHost,
		Port:           o.BridgePort,
		ProbeTimeout:   o.ProbeTimeout,
		LaunchDeadline: o.LaunchDeadline,
	}
}
