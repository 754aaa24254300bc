// Package godotbin locates a usable Godot editor executable across
// operating systems. Resolution walks a fixed candidate order and
// short-circuits on the first binary that actually runs; every candidate
// tried is retained with its validity so a failed detection can say
// exactly what was rejected and why.
package godotbin

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/gdmcp/gdmcp/internal/winpath"
)

// EnvGodotPath names the environment override for the editor executable.
// Setting it to the empty string is meaningful: it disables auto-detection
// entirely instead of falling through to discovery, so an unrelated
// install is never silently picked up.
const EnvGodotPath = "GODOT_PATH"

// disabledSentinel is the guaranteed-invalid path recorded when
// GODOT_PATH is set but empty.
const disabledSentinel = "/godot-path-detection-disabled"

// versionTimeout bounds each --version probe subprocess.
const versionTimeout = 10 * time.Second

// Candidate records one executable path considered during resolution.
// Immutable once recorded.
type Candidate struct {
	// Origin says which resolution step produced the candidate:
	// "explicit", "env", "search-path", "well-known", "download-scan",
	// or "bundled".
	Origin string
	// Raw is the path as produced by the step, before normalization.
	Raw string
	// Normalized is the absolute path actually probed.
	Normalized string
	// Valid is the cached result of the --version probe.
	Valid bool
}

// DetectionError is returned in strict mode when every candidate was
// rejected. It carries the full candidate list for diagnostics.
type DetectionError struct {
	Candidates []Candidate
}

// Error summarizes the failed detection.
func (e *DetectionError) Error() string {
	return fmt.Sprintf("no usable Godot executable found (%d candidates tried); set %s or pass --godot",
		len(e.Candidates), EnvGodotPath)
}

// LookPathFunc finds a binary on the search path. Tests override it.
type LookPathFunc func(file string) (string, error)

// RunVersionFunc executes the candidate with a --version flag and
// returns nil when it exits cleanly. Tests override it.
type RunVersionFunc func(ctx context.Context, path string) error

// Resolver finds and validates Godot executables. The validity cache is
// scoped to the resolver, which is constructed fresh per doctor
// invocation — never shared across concurrent runs.
type Resolver struct {
	cache      map[string]bool
	lookPath   LookPathFunc
	runVersion RunVersionFunc
	goos       string
	home       string
	exeDir     string
	inWSL      bool

	// Optional overrides for tests; nil means use the per-OS defaults.
	wellKnownDirs []string
	downloadDirs  []string
}

// NewResolver returns a resolver using the real OS environment.
func NewResolver() *Resolver {
	home, _ := os.UserHomeDir()
	exeDir := ""
	if exe, err := os.Executable(); err == nil {
		exeDir = filepath.Dir(exe)
	}
	return &Resolver{
		cache:      make(map[string]bool),
		lookPath:   exec.LookPath,
		runVersion: runVersion,
		goos:       runtime.GOOS,
		home:       home,
		exeDir:     exeDir,
		inWSL:      winpath.InWSL(),
	}
}

// runVersion executes path --version with a bounded deadline.
func runVersion(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, path, "--version")
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Run()
}

// Resolve returns a validated executable path, or a default guess in
// lenient mode. The returned candidate list covers everything probed,
// in order, including the winner.
func (r *Resolver) Resolve(ctx context.Context, explicit string, strict bool) (string, []Candidate, error) {
	var candidates []Candidate

	try := func(origin, raw string) (string, bool) {
		norm := r.normalize(raw)
		valid := r.validate(ctx, norm)
		candidates = append(candidates, Candidate{Origin: origin, Raw: raw, Normalized: norm, Valid: valid})
		return norm, valid
	}

	if explicit != "" {
		if path, ok := try("explicit", explicit); ok {
			return path, candidates, nil
		}
	}

	if env, set := os.LookupEnv(EnvGodotPath); set {
		if env == "" {
			// Explicitly empty: record the sentinel and stop discovering.
			candidates = append(candidates, Candidate{
				Origin:     "env",
				Raw:        "",
				Normalized: disabledSentinel,
				Valid:      false,
			})
			return r.finish(candidates, strict)
		}
		if path, ok := try("env", env); ok {
			return path, candidates, nil
		}
	}

	// Search path by conventional name.
	if found, err := r.lookPath(r.executableName()); err == nil {
		if path, ok := try("search-path", found); ok {
			return path, candidates, nil
		}
	}

	for _, raw := range r.wellKnown() {
		if path, ok := try("well-known", raw); ok {
			return path, candidates, nil
		}
	}

	for _, raw := range r.scanDownloads() {
		if path, ok := try("download-scan", raw); ok {
			return path, candidates, nil
		}
	}

	for _, raw := range r.bundled() {
		if path, ok := try("bundled", raw); ok {
			return path, candidates, nil
		}
	}

	return r.finish(candidates, strict)
}

// finish produces the exhausted-candidates outcome: a structured error
// in strict mode, a platform default without validation otherwise.
func (r *Resolver) finish(candidates []Candidate, strict bool) (string, []Candidate, error) {
	if strict {
		return "", candidates, &DetectionError{Candidates: candidates}
	}
	return r.defaultPath(), candidates, nil
}

// validate checks that path exists and runs --version cleanly, caching
// the outcome per path for the resolver's lifetime.
func (r *Resolver) validate(ctx context.Context, path string) bool {
	if path == "" || path == disabledSentinel {
		return false
	}
	if valid, ok := r.cache[path]; ok {
		return valid
	}
	valid := false
	if fi, err := os.Stat(path); err == nil && !fi.IsDir() {
		valid = r.runVersion(ctx, path) == nil
	}
	r.cache[path] = valid
	return valid
}

// normalize resolves the candidate to the absolute form probed from this
// process. Windows-style paths are translated to their WSL mount form
// when running inside the compatibility layer, since that is the form
// the Linux side can stat and exec.
func (r *Resolver) normalize(raw string) string {
	p := raw
	if r.inWSL {
		p = winpath.ToPOSIX(p)
	}
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return p
}

// executableName is the conventional binary name resolvable via the
// process search path.
func (r *Resolver) executableName() string {
	if r.goos == "windows" {
		return "godot.exe"
	}
	return "godot"
}

// wellKnown returns the fixed per-OS install locations.
func (r *Resolver) wellKnown() []string {
	if r.wellKnownDirs != nil {
		return r.wellKnownDirs
	}
	switch r.goos {
	case "windows":
		return []string{
			`C:\Program Files\Godot\Godot.exe`,
			`C:\Program Files (x86)\Godot\Godot.exe`,
			filepath.Join(r.home, `AppData\Local\Programs\Godot\Godot.exe`),
		}
	case "darwin":
		return []string{
			"/Applications/Godot.app/Contents/MacOS/Godot",
			filepath.Join(r.home, "Applications/Godot.app/Contents/MacOS/Godot"),
		}
	default:
		paths := []string{
			"/usr/bin/godot",
			"/usr/local/bin/godot",
			"/snap/bin/godot",
			filepath.Join(r.home, ".local/bin/godot"),
		}
		if r.inWSL {
			// A Windows install is reachable through the drive mount.
			paths = append(paths,
				"/mnt/c/Program Files/Godot/Godot.exe",
				"/mnt/c/Program Files (x86)/Godot/Godot.exe",
			)
		}
		return paths
	}
}

// scanDownloads walks the conventional portable-download directories two
// levels deep and returns entries matching the per-OS executable naming.
func (r *Resolver) scanDownloads() []string {
	dirs := r.downloadDirs
	if dirs == nil {
		dirs = []string{
			filepath.Join(r.home, "Downloads"),
			filepath.Join(r.home, "Desktop"),
		}
	}
	var found []string
	for _, dir := range dirs {
		found = append(found, r.scanDir(dir, 2)...)
	}
	return found
}

// scanDir recursively collects matching executables up to depth levels.
func (r *Resolver) scanDir(dir string, depth int) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var found []string
	for _, e := range entries {
		full := filepath.Join(dir, e.Name())
		if e.IsDir() {
			if depth > 1 {
				found = append(found, r.scanDir(full, depth-1)...)
			}
			continue
		}
		if r.matchesName(e.Name()) {
			found = append(found, full)
		}
	}
	return found
}

// matchesName reports whether a filename looks like a Godot executable
// for the target OS. Release archives name the binary like
// Godot_v4.3-stable_linux.x86_64 or Godot_v4.3-stable_win64.exe.
func (r *Resolver) matchesName(name string) bool {
	lower := strings.ToLower(name)
	if !strings.HasPrefix(lower, "godot") {
		return false
	}
	switch r.goos {
	case "windows":
		return strings.HasSuffix(lower, ".exe")
	case "darwin":
		// App bundles are matched at the well-known step; a bare binary
		// extracted from one still counts here.
		return !strings.Contains(lower, ".")
	default:
		if r.inWSL && strings.HasSuffix(lower, ".exe") {
			return true
		}
		return strings.HasSuffix(lower, ".x86_64") ||
			strings.HasSuffix(lower, ".arm64") ||
			!strings.Contains(lower, ".")
	}
}

// bundled returns locations next to the dispatcher binary itself.
func (r *Resolver) bundled() []string {
	if r.exeDir == "" {
		return nil
	}
	name := r.executableName()
	return []string{
		filepath.Join(r.exeDir, name),
		filepath.Join(r.exeDir, "godot", name),
	}
}

// defaultPath is the lenient-mode best guess, returned without validation.
func (r *Resolver) defaultPath() string {
	switch r.goos {
	case "windows":
		return `C:\Program Files\Godot\Godot.exe`
	case "darwin":
		return "/Applications/Godot.app/Contents/MacOS/Godot"
	default:
		return "/usr/bin/godot"
	}
}

// TranslateArgs rewrites POSIX-style absolute path arguments into the
// DRIVE:\ form when the target binary is a Windows executable driven
// from inside WSL. Non-path arguments pass through untouched.
func TranslateArgs(binPath string, args []string) []string {
	if !winpath.InWSL() || !winpath.IsWindowsExe(binPath) {
		return args
	}
	out := make([]string, len(args))
	for i, a := range args {
		if strings.HasPrefix(a, "/mnt/") {
			out[i] = winpath.ToWindows(a)
		} else {
			out[i] = a
		}
	}
	return out
}
