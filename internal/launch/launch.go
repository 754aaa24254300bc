// Package launch decides whether a project's bridge is reachable and,
// when it is not, starts the editor headlessly and waits for the bridge
// to come up. The flow is an explicit state machine; every state is a
// named function so the stale-lock classification and the short
// circuits can be tested in isolation.
package launch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gdmcp/gdmcp/internal/bridgerpc"
	"github.com/gdmcp/gdmcp/internal/fsys"
	"github.com/gdmcp/gdmcp/internal/gdproject"
	"github.com/gdmcp/gdmcp/internal/godotbin"
	"github.com/gdmcp/gdmcp/internal/telemetry"
	"github.com/gdmcp/gdmcp/internal/winpath"
)

// Environment overrides consulted when assembling probe candidates.
const (
	EnvBridgeHost = "GODOT_BRIDGE_HOST"
	EnvBridgePort = "GODOT_BRIDGE_PORT"
)

// Default bridge address when nothing declares one.
const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 9080
)

const (
	defaultProbeTimeout   = 2 * time.Second
	defaultLaunchDeadline = 30 * time.Second
	pollInterval          = 500 * time.Millisecond
	terminateGrace        = 5 * time.Second
)

// Session is the slice of the bridge client the prober needs.
type Session interface {
	Health(timeout time.Duration) (*bridgerpc.HealthInfo, error)
	Close() error
}

// DialFunc connects and authenticates to a candidate address.
type DialFunc func(ctx context.Context, host string, port int, token string, timeout time.Duration) (Session, error)

// StartFunc spawns the editor process.
type StartFunc func(ctx context.Context, bin string, args []string) (Process, error)

// Options configures one prober invocation. Zero-value fields fall back
// to production behavior.
type Options struct {
	FS          fsys.FS
	ProjectRoot string // empty skips the stage
	GodotPath   string // empty means no executable available
	ReadOnly    bool

	// Host and Port are the configured bridge address (gdmcp.toml).
	// Zero values mean nothing was configured.
	Host string
	Port int

	ProbeTimeout   time.Duration
	LaunchDeadline time.Duration

	// Injection points for tests.
	Dial        DialFunc
	Start       StartFunc
	WindowsHost func() (string, error)
	FreePort    func() (int, error)
	LookupEnv   func(string) (string, bool)
}

// Candidate is one probed (host, port) pair and what happened to it.
type Candidate struct {
	Origin string // "env", "config", "file", "default"
	Host   string
	Port   int
	Err    error
}

// Result is the terminal outcome of the state machine.
type Result struct {
	OK          bool
	Skipped     bool
	Launched    bool
	Reused      bool
	StaleLock   bool // lock was classified stale and removed
	Host        string
	Port        int
	Summary     string
	Details     []string
	Suggestions []string
	Candidates  []Candidate
}

// run carries state between state functions.
type run struct {
	ctx   context.Context
	opts  Options
	token string

	noStaleCleanup bool
	candidates     []Candidate
}

// stateFunc advances the machine: it returns either the next state or a
// terminal result, never both.
type stateFunc func(*run) (stateFunc, *Result)

// Run executes the prober against opts and returns its terminal result.
func Run(ctx context.Context, opts Options) *Result {
	if opts.FS == nil {
		opts.FS = fsys.OSFS{}
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	if opts.LaunchDeadline <= 0 {
		opts.LaunchDeadline = defaultLaunchDeadline
	}
	if opts.Dial == nil {
		opts.Dial = dialBridge
	}
	if opts.Start == nil {
		opts.Start = startEditor
	}
	if opts.WindowsHost == nil {
		opts.WindowsHost = winpath.WindowsHost
	}
	if opts.FreePort == nil {
		opts.FreePort = freePort
	}
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}

	r := &run{ctx: ctx, opts: opts}
	state := stateCheckProject
	for {
		next, res := state(r)
		if res != nil {
			res.Candidates = r.candidates
			return res
		}
		state = next
	}
}

// stateCheckProject skips the whole stage when no project was given.
func stateCheckProject(r *run) (stateFunc, *Result) {
	if r.opts.ProjectRoot == "" {
		return nil, &Result{
			OK:      true,
			Skipped: true,
			Summary: "skipped: no project path provided",
		}
	}
	return stateCheckPlugin, nil
}

// stateCheckPlugin fails fast when the descriptor does not enable the
// bridge plugin. No network attempt is made.
func stateCheckPlugin(r *run) (stateFunc, *Result) {
	enabled, err := gdproject.PluginEnabled(r.opts.FS, r.opts.ProjectRoot)
	if err != nil {
		return nil, &Result{
			Summary:     fmt.Sprintf("cannot read %s: %v", gdproject.DescriptorName, err),
			Suggestions: []string{"verify the project path points at a Godot project root"},
		}
	}
	if !enabled {
		return nil, &Result{
			Summary:     "bridge plugin is not enabled in " + gdproject.DescriptorName,
			Suggestions: []string{"run the project setup step (or `gdmcp doctor` without --read-only) to enable the godot_bridge plugin"},
		}
	}
	return stateCheckToken, nil
}

// stateCheckToken fails fast when no auth token is resolvable.
func stateCheckToken(r *run) (stateFunc, *Result) {
	tok, err := gdproject.ResolveToken(r.opts.FS, r.opts.ProjectRoot)
	if err != nil {
		return nil, &Result{
			Summary:     fmt.Sprintf("reading bridge token: %v", err),
			Suggestions: []string{"check permissions on " + gdproject.TokenFile},
		}
	}
	if tok == "" {
		return nil, &Result{
			Summary:     "no bridge auth token found",
			Suggestions: []string{"run the project setup step to generate " + gdproject.TokenFile + ", or set " + gdproject.EnvToken},
		}
	}
	r.token = tok
	return stateClassifyLock, nil
}

// stateClassifyLock routes on lock-marker presence: absent means nothing
// can be running, so go straight to launch.
func stateClassifyLock(r *run) (stateFunc, *Result) {
	present, err := gdproject.LockPresent(r.opts.FS, r.opts.ProjectRoot)
	if err != nil {
		return nil, &Result{
			Summary: fmt.Sprintf("checking bridge lock: %v", err),
		}
	}
	if !present {
		r.noStaleCleanup = true
		return stateLaunch, nil
	}
	return stateProbe, nil
}

// stateProbe tries each candidate address against a live lock. Any
// authenticated health round trip that confirms project identity wins.
// Only refused/timeout failures on every candidate prove staleness; a
// bridge that answers but rejects the token is live and must not have
// its lock cleared.
func stateProbe(r *run) (stateFunc, *Result) {
	for i := range r.probeCandidates() {
		c := &r.candidates[i]
		start := time.Now()
		sess, err := r.opts.Dial(r.ctx, c.Host, c.Port, r.token, r.opts.ProbeTimeout)
		if err != nil {
			c.Err = err
			telemetry.RecordBridgeProbe(r.ctx, c.Host, c.Port, c.Origin, elapsedMs(start), err)
			if bridgerpc.Unreachable(err) {
				continue
			}
			return nil, &Result{
				Summary: fmt.Sprintf("bridge at %s:%d is live but unusable: %v", c.Host, c.Port, err),
				Suggestions: []string{
					"if the token changed, re-run project setup to regenerate " + gdproject.TokenFile + " and restart the editor",
				},
			}
		}
		info, err := sess.Health(r.opts.ProbeTimeout)
		sess.Close() //nolint:errcheck // best-effort close after probe
		telemetry.RecordBridgeProbe(r.ctx, c.Host, c.Port, c.Origin, elapsedMs(start), err)
		if err != nil {
			c.Err = err
			if bridgerpc.Unreachable(err) {
				continue
			}
			return nil, &Result{
				Summary: fmt.Sprintf("bridge health check at %s:%d failed: %v", c.Host, c.Port, err),
			}
		}
		if !winpath.SamePath(info.ProjectRoot, r.opts.ProjectRoot) {
			return nil, &Result{
				Summary: fmt.Sprintf("bridge at %s:%d serves a different project (%s)", c.Host, c.Port, info.ProjectRoot),
				Suggestions: []string{
					"close the other editor instance, or point the doctor at " + info.ProjectRoot,
				},
			}
		}
		return nil, &Result{
			OK:      true,
			Reused:  true,
			Host:    c.Host,
			Port:    c.Port,
			Summary: fmt.Sprintf("bridge reachable at %s:%d", c.Host, c.Port),
		}
	}

	// Every candidate was refused or timed out: the lock is stale.
	if r.opts.ReadOnly {
		return nil, &Result{
			Summary: "bridge lock is stale (no candidate address reachable)",
			Suggestions: []string{
				"remove " + gdproject.LockRelPath + " and re-run, or run without --read-only",
			},
		}
	}
	if r.opts.GodotPath == "" {
		return nil, &Result{
			Summary: "bridge lock is stale and no Godot executable is available to relaunch",
			Suggestions: []string{
				"install Godot or set GODOT_PATH, then re-run",
			},
		}
	}
	if err := gdproject.RemoveLock(r.opts.FS, r.opts.ProjectRoot); err != nil {
		return nil, &Result{
			Summary: fmt.Sprintf("removing stale bridge lock: %v", err),
		}
	}
	return stateLaunchStale, nil
}

// stateLaunchStale is stateLaunch after a stale-lock removal; kept as
// its own state so the result records the cleanup.
func stateLaunchStale(r *run) (stateFunc, *Result) {
	next, res := stateLaunch(r)
	if res != nil {
		res.StaleLock = true
	}
	return next, res
}

// stateLaunch starts the editor headlessly and polls for the bridge.
func stateLaunch(r *run) (stateFunc, *Result) {
	if r.opts.GodotPath == "" {
		return nil, &Result{
			Summary:     "bridge is not running and no Godot executable is available",
			Suggestions: []string{"install Godot or set GODOT_PATH, then re-run"},
		}
	}
	if r.opts.ReadOnly {
		return nil, &Result{
			OK:      true,
			Skipped: true,
			Summary: "read-only: would auto-launch the editor to start the bridge",
		}
	}
	return nil, r.autoLaunch()
}

// probeCandidates assembles the ordered (host, port) pairs to probe:
// explicit overrides (environment first, then the configured bridge
// address), then the project's declared files, then the hard-coded
// default. Duplicates collapse to the first origin.
func (r *run) probeCandidates() []Candidate {
	var cands []Candidate
	add := func(origin, host string, port int) {
		if host == "" || port <= 0 {
			return
		}
		for _, c := range cands {
			if c.Host == host && c.Port == port {
				return
			}
		}
		cands = append(cands, Candidate{Origin: origin, Host: host, Port: port})
	}

	envHost, _ := r.opts.LookupEnv(EnvBridgeHost)
	envPort := 0
	if v, ok := r.opts.LookupEnv(EnvBridgePort); ok {
		envPort, _ = strconv.Atoi(v)
	}
	if envHost != "" || envPort > 0 {
		h, p := envHost, envPort
		if h == "" {
			h = DefaultHost
		}
		if p == 0 {
			p = DefaultPort
		}
		add("env", h, p)
	}

	if r.opts.Host != "" || r.opts.Port > 0 {
		h, p := r.opts.Host, r.opts.Port
		if h == "" {
			h = DefaultHost
		}
		if p == 0 {
			p = DefaultPort
		}
		add("config", h, p)
	}

	fileHost, filePortStr, err := gdproject.DeclaredHostPort(r.opts.FS, r.opts.ProjectRoot)
	if err == nil && (fileHost != "" || filePortStr != "") {
		filePort, _ := strconv.Atoi(filePortStr)
		if fileHost == "" {
			fileHost = DefaultHost
		}
		if filePort == 0 {
			filePort = DefaultPort
		}
		add("file", fileHost, filePort)
	}

	add("default", DefaultHost, DefaultPort)
	r.candidates = cands
	return cands
}

// autoLaunch runs the full launch sequence and records its outcome.
func (r *run) autoLaunch() *Result {
	start := time.Now()
	res, outcome := r.launchSequence()
	var err error
	if !res.OK {
		err = errors.New(res.Summary)
	}
	telemetry.RecordLaunch(r.ctx, outcome, elapsedMs(start), err)
	return res
}

// launchSequence is the launch proper. Override files are restored and
// the child process is terminated on every exit path. The second return
// tags the terminal branch taken.
func (r *run) launchSequence() (*Result, string) {
	port, err := r.opts.FreePort()
	if err != nil {
		return &Result{Summary: fmt.Sprintf("allocating a bridge port: %v", err)}, "failed"
	}

	// A Windows executable launched from WSL listens on the Windows
	// side, so bind wide and probe the gateway address.
	bindHost, probeHost := DefaultHost, DefaultHost
	if winpath.InWSL() && winpath.IsWindowsExe(r.opts.GodotPath) {
		gw, err := r.opts.WindowsHost()
		if err != nil {
			return &Result{
				Summary:     fmt.Sprintf("resolving Windows host address: %v", err),
				Suggestions: []string{"set " + EnvBridgeHost + " to the Windows host IP and re-run"},
			}, "failed"
		}
		bindHost, probeHost = "0.0.0.0", gw
	}

	hostOv, err := gdproject.NewOverride(r.opts.FS, filepath.Join(r.opts.ProjectRoot, gdproject.HostFile))
	if err != nil {
		return &Result{Summary: fmt.Sprintf("capturing host override: %v", err)}, "failed"
	}
	defer hostOv.Restore() //nolint:errcheck // restore is best-effort on exit
	portOv, err := gdproject.NewOverride(r.opts.FS, filepath.Join(r.opts.ProjectRoot, gdproject.PortFile))
	if err != nil {
		return &Result{Summary: fmt.Sprintf("capturing port override: %v", err)}, "failed"
	}
	defer portOv.Restore() //nolint:errcheck // restore is best-effort on exit

	if err := hostOv.Set(bindHost + "\n"); err != nil {
		return &Result{Summary: fmt.Sprintf("writing host override: %v", err)}, "failed"
	}
	if err := portOv.Set(strconv.Itoa(port) + "\n"); err != nil {
		return &Result{Summary: fmt.Sprintf("writing port override: %v", err)}, "failed"
	}

	args := godotbin.TranslateArgs(r.opts.GodotPath, []string{
		"--editor", "--headless", "--path", r.opts.ProjectRoot,
	})
	proc, err := r.opts.Start(r.ctx, r.opts.GodotPath, args)
	if err != nil {
		return &Result{
			Summary:     fmt.Sprintf("starting %s: %v", r.opts.GodotPath, err),
			Suggestions: []string{"check that the Godot executable is runnable"},
		}, "failed"
	}
	defer terminate(proc)

	wake := r.lockWatch()
	deadline := time.After(r.opts.LaunchDeadline)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-proc.Done():
			out, errOut := proc.Tails()
			return &Result{
				Summary: "editor exited before the bridge came up",
				Details: processTails(out, errOut),
				Suggestions: []string{
					"run the editor manually against the project to see the full error",
				},
			}, "early-exit"
		default:
		}

		sess, err := r.opts.Dial(r.ctx, probeHost, port, r.token, r.opts.ProbeTimeout)
		if err == nil {
			info, herr := sess.Health(r.opts.ProbeTimeout)
			sess.Close() //nolint:errcheck // best-effort close after probe
			if herr == nil && winpath.SamePath(info.ProjectRoot, r.opts.ProjectRoot) {
				return &Result{
					OK:       true,
					Launched: true,
					Host:     probeHost,
					Port:     port,
					Summary:  fmt.Sprintf("editor launched, bridge up at %s:%d", probeHost, port),
				}, "launched"
			}
		}

		select {
		case <-deadline:
			out, errOut := proc.Tails()
			return &Result{
				Summary: fmt.Sprintf("bridge did not come up within %s", r.opts.LaunchDeadline),
				Details: processTails(out, errOut),
				Suggestions: []string{
					"increase the launch timeout, or start the editor manually and re-run",
				},
			}, "timeout"
		case <-r.ctx.Done():
			return &Result{Summary: "launch canceled: " + r.ctx.Err().Error()}, "failed"
		case <-wake:
		case <-ticker.C:
		case <-proc.Done():
		}
	}
}

// elapsedMs reports wall time since start in milliseconds.
func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

// lockWatch returns a channel that fires when the bridge lock marker
// appears, so the poll loop wakes immediately instead of waiting out
// the tick. Falls back to tick-only polling when the watch cannot be
// established.
func (r *run) lockWatch() <-chan struct{} {
	ch := make(chan struct{}, 1)
	lockDir := filepath.Dir(filepath.Join(r.opts.ProjectRoot, gdproject.LockRelPath))
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return ch
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return ch
	}
	if err := watcher.Add(lockDir); err != nil {
		watcher.Close() //nolint:errcheck // watch is advisory
		return ch
	}
	go func() {
		defer watcher.Close() //nolint:errcheck // watch is advisory
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) {
					select {
					case ch <- struct{}{}:
					default:
					}
				}
			case <-r.ctx.Done():
				return
			}
		}
	}()
	return ch
}

// processTails formats bounded stdout/stderr tails for Result.Details.
func processTails(stdout, stderr string) []string {
	var details []string
	if stdout != "" {
		details = append(details, "stdout tail:\n"+stdout)
	}
	if stderr != "" {
		details = append(details, "stderr tail:\n"+stderr)
	}
	return details
}

// dialBridge is the production DialFunc.
func dialBridge(ctx context.Context, host string, port int, token string, timeout time.Duration) (Session, error) {
	return bridgerpc.Connect(ctx, host, port, token, timeout)
}

// freePort asks the kernel for an unused TCP port.
func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close() //nolint:errcheck // listener only held to reserve the port
	return ln.Addr().(*net.TCPAddr).Port, nil
}
