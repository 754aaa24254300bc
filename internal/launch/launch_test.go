package launch

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/gdmcp/gdmcp/internal/bridgerpc"
	"github.com/gdmcp/gdmcp/internal/fsys"
	"github.com/gdmcp/gdmcp/internal/gdproject"
)

const enabledDescriptor = `config_version=5

[editor_plugins]

enabled=PackedStringArray("res://addons/godot_bridge/plugin.cfg")
`

// projectFake builds a Fake FS holding a bridge-enabled project at root.
func projectFake(root string) *fsys.Fake {
	f := fsys.NewFake()
	f.Dirs[root] = true
	f.Files[filepath.Join(root, gdproject.DescriptorName)] = []byte(enabledDescriptor)
	f.Files[filepath.Join(root, gdproject.TokenFile)] = []byte("tok123\n")
	return f
}

func addLock(f *fsys.Fake, root string) {
	lock := filepath.Join(root, gdproject.LockRelPath)
	f.Dirs[filepath.Dir(lock)] = true
	f.Files[lock] = []byte("")
}

// fakeSession satisfies Session with a canned health payload.
type fakeSession struct {
	root      string
	healthErr error
}

func (s *fakeSession) Health(time.Duration) (*bridgerpc.HealthInfo, error) {
	if s.healthErr != nil {
		return nil, s.healthErr
	}
	return &bridgerpc.HealthInfo{ProjectRoot: s.root}, nil
}

func (s *fakeSession) Close() error { return nil }

// fakeProcess satisfies Process; Signal and Kill both end it.
type fakeProcess struct {
	once   sync.Once
	done   chan struct{}
	stdout string
	stderr string
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) exit() { p.once.Do(func() { close(p.done) }) }

func (p *fakeProcess) Pid() int                    { return 4242 }
func (p *fakeProcess) Done() <-chan struct{}       { return p.done }
func (p *fakeProcess) Signal(syscall.Signal) error { p.exit(); return nil }
func (p *fakeProcess) Kill() error                 { p.exit(); return nil }
func (p *fakeProcess) Tails() (string, string)     { return p.stdout, p.stderr }

func noEnv(string) (string, bool) { return "", false }

// baseOptions returns Options with all external touchpoints faked out.
func baseOptions(f *fsys.Fake, root string) Options {
	return Options{
		FS:             f,
		ProjectRoot:    root,
		GodotPath:      "/usr/bin/godot",
		ProbeTimeout:   50 * time.Millisecond,
		LaunchDeadline: 2 * time.Second,
		Dial: func(context.Context, string, int, string, time.Duration) (Session, error) {
			return nil, syscall.ECONNREFUSED
		},
		Start: func(context.Context, string, []string) (Process, error) {
			return newFakeProcess(), nil
		},
		WindowsHost: func() (string, error) { return "", errors.New("not in WSL") },
		FreePort:    func() (int, error) { return 54321, nil },
		LookupEnv:   noEnv,
	}
}

func TestRunNoProjectSkips(t *testing.T) {
	res := Run(context.Background(), Options{LookupEnv: noEnv})
	if !res.OK || !res.Skipped {
		t.Fatalf("Result = %+v, want skipped ok", res)
	}
}

func TestRunPluginDisabledFailsFast(t *testing.T) {
	root := "/proj"
	f := fsys.NewFake()
	f.Files[filepath.Join(root, gdproject.DescriptorName)] = []byte("config_version=5\n")

	dialed := false
	opts := baseOptions(f, root)
	opts.Dial = func(context.Context, string, int, string, time.Duration) (Session, error) {
		dialed = true
		return nil, syscall.ECONNREFUSED
	}

	res := Run(context.Background(), opts)
	if res.OK {
		t.Fatal("Result.OK = true with disabled plugin")
	}
	if dialed {
		t.Error("dial attempted despite disabled plugin")
	}
	if len(res.Suggestions) == 0 {
		t.Error("no remediation suggestion for disabled plugin")
	}
}

func TestRunNoTokenFailsFast(t *testing.T) {
	root := "/proj"
	f := fsys.NewFake()
	f.Files[filepath.Join(root, gdproject.DescriptorName)] = []byte(enabledDescriptor)

	res := Run(context.Background(), baseOptions(f, root))
	if res.OK {
		t.Fatal("Result.OK = true with no token")
	}
	if !strings.Contains(res.Summary, "token") {
		t.Errorf("Summary = %q, want token mention", res.Summary)
	}
}

func TestProbeReusesLiveBridge(t *testing.T) {
	root := "/proj"
	f := projectFake(root)
	addLock(f, root)

	var gotToken string
	opts := baseOptions(f, root)
	opts.Dial = func(_ context.Context, host string, port int, token string, _ time.Duration) (Session, error) {
		gotToken = token
		return &fakeSession{root: root}, nil
	}

	res := Run(context.Background(), opts)
	if !res.OK || !res.Reused {
		t.Fatalf("Result = %+v, want reused ok", res)
	}
	if res.Host != DefaultHost || res.Port != DefaultPort {
		t.Errorf("connected to %s:%d, want default candidate", res.Host, res.Port)
	}
	if gotToken != "tok123" {
		t.Errorf("dial token = %q", gotToken)
	}
	if _, ok := f.Files[filepath.Join(root, gdproject.LockRelPath)]; !ok {
		t.Error("live lock was removed")
	}
}

func TestProbeCandidateOrder(t *testing.T) {
	root := "/proj"
	f := projectFake(root)
	addLock(f, root)
	f.Files[filepath.Join(root, gdproject.HostFile)] = []byte("10.0.0.5\n")
	f.Files[filepath.Join(root, gdproject.PortFile)] = []byte("7000\n")

	var tried []string
	opts := baseOptions(f, root)
	opts.LookupEnv = func(key string) (string, bool) {
		if key == EnvBridgePort {
			return "9999", true
		}
		return "", false
	}
	opts.Dial = func(_ context.Context, host string, port int, _ string, _ time.Duration) (Session, error) {
		tried = append(tried, host+":"+strconv.Itoa(port))
		return nil, syscall.ECONNREFUSED
	}
	opts.GodotPath = "" // stop before launch

	Run(context.Background(), opts)

	want := []string{"127.0.0.1:9999", "10.0.0.5:7000", "127.0.0.1:9080"}
	if len(tried) != len(want) {
		t.Fatalf("tried %v, want %v", tried, want)
	}
	for i := range want {
		if tried[i] != want[i] {
			t.Errorf("candidate %d = %s, want %s", i, tried[i], want[i])
		}
	}
}

func TestProbeConfiguredAddressRanksAfterEnv(t *testing.T) {
	root := "/proj"
	f := projectFake(root)
	addLock(f, root)
	f.Files[filepath.Join(root, gdproject.HostFile)] = []byte("10.0.0.5\n")
	f.Files[filepath.Join(root, gdproject.PortFile)] = []byte("7000\n")

	var tried []string
	opts := baseOptions(f, root)
	opts.Host = "192.168.1.20"
	opts.Port = 9500
	opts.LookupEnv = func(key string) (string, bool) {
		if key == EnvBridgePort {
			return "9999", true
		}
		return "", false
	}
	opts.Dial = func(_ context.Context, host string, port int, _ string, _ time.Duration) (Session, error) {
		tried = append(tried, host+":"+strconv.Itoa(port))
		return nil, syscall.ECONNREFUSED
	}
	opts.GodotPath = "" // stop before launch

	res := Run(context.Background(), opts)

	want := []string{"127.0.0.1:9999", "192.168.1.20:9500", "10.0.0.5:7000", "127.0.0.1:9080"}
	if len(tried) != len(want) {
		t.Fatalf("tried %v, want %v", tried, want)
	}
	for i := range want {
		if tried[i] != want[i] {
			t.Errorf("candidate %d = %s, want %s", i, tried[i], want[i])
		}
	}
	if res.Candidates[1].Origin != "config" {
		t.Errorf("Candidates[1].Origin = %q, want config", res.Candidates[1].Origin)
	}
}

func TestProbeConfiguredPortFillsDefaultHost(t *testing.T) {
	root := "/proj"
	f := projectFake(root)
	addLock(f, root)

	var tried []string
	opts := baseOptions(f, root)
	opts.Port = 9500
	opts.Dial = func(_ context.Context, host string, port int, _ string, _ time.Duration) (Session, error) {
		tried = append(tried, host+":"+strconv.Itoa(port))
		return nil, syscall.ECONNREFUSED
	}
	opts.GodotPath = ""

	Run(context.Background(), opts)

	want := []string{"127.0.0.1:9500", "127.0.0.1:9080"}
	if len(tried) != len(want) {
		t.Fatalf("tried %v, want %v", tried, want)
	}
	for i := range want {
		if tried[i] != want[i] {
			t.Errorf("candidate %d = %s, want %s", i, tried[i], want[i])
		}
	}
}

func TestProbeAuthRejectionIsNotStale(t *testing.T) {
	root := "/proj"
	f := projectFake(root)
	addLock(f, root)

	launched := false
	opts := baseOptions(f, root)
	opts.Dial = func(context.Context, string, int, string, time.Duration) (Session, error) {
		return nil, errors.New("bridge rejected auth: invalid token")
	}
	opts.Start = func(context.Context, string, []string) (Process, error) {
		launched = true
		return newFakeProcess(), nil
	}

	res := Run(context.Background(), opts)
	if res.OK {
		t.Fatal("Result.OK = true for live-but-rejecting bridge")
	}
	if launched {
		t.Error("auto-launch attempted against a live bridge")
	}
	if _, ok := f.Files[filepath.Join(root, gdproject.LockRelPath)]; !ok {
		t.Error("lock removed for a non-stale failure")
	}
}

func TestProbeIdentityMismatchIsHardFailure(t *testing.T) {
	root := "/proj"
	f := projectFake(root)
	addLock(f, root)

	opts := baseOptions(f, root)
	opts.Dial = func(context.Context, string, int, string, time.Duration) (Session, error) {
		return &fakeSession{root: "/other/game"}, nil
	}

	res := Run(context.Background(), opts)
	if res.OK {
		t.Fatal("Result.OK = true for wrong-project bridge")
	}
	if !strings.Contains(res.Summary, "/other/game") {
		t.Errorf("Summary = %q, want other project named", res.Summary)
	}
}

func TestStaleLockNoExecutableNeverDeletesLock(t *testing.T) {
	root := "/proj"
	f := projectFake(root)
	addLock(f, root)

	launched := false
	opts := baseOptions(f, root)
	opts.GodotPath = ""
	opts.Start = func(context.Context, string, []string) (Process, error) {
		launched = true
		return newFakeProcess(), nil
	}

	res := Run(context.Background(), opts)
	if res.OK {
		t.Fatal("Result.OK = true for stale lock without executable")
	}
	if launched {
		t.Error("auto-launch attempted without an executable")
	}
	if _, ok := f.Files[filepath.Join(root, gdproject.LockRelPath)]; !ok {
		t.Error("lock removed despite missing executable")
	}
}

func TestStaleLockReadOnlySuggestsManualCleanup(t *testing.T) {
	root := "/proj"
	f := projectFake(root)
	addLock(f, root)

	opts := baseOptions(f, root)
	opts.ReadOnly = true

	res := Run(context.Background(), opts)
	if res.OK {
		t.Fatal("Result.OK = true for stale lock in read-only mode")
	}
	found := false
	for _, s := range res.Suggestions {
		if strings.Contains(s, gdproject.LockRelPath) {
			found = true
		}
	}
	if !found {
		t.Errorf("Suggestions = %v, want manual lock cleanup hint", res.Suggestions)
	}
	if _, ok := f.Files[filepath.Join(root, gdproject.LockRelPath)]; !ok {
		t.Error("lock removed in read-only mode")
	}
}

func TestStaleLockRemovedThenLaunch(t *testing.T) {
	root := t.TempDir()
	f := projectFake(root)
	addLock(f, root)

	var started bool
	opts := baseOptions(f, root)
	opts.Dial = func(_ context.Context, host string, port int, _ string, _ time.Duration) (Session, error) {
		if !started {
			return nil, syscall.ECONNREFUSED
		}
		return &fakeSession{root: root}, nil
	}
	opts.Start = func(_ context.Context, bin string, args []string) (Process, error) {
		started = true
		return newFakeProcess(), nil
	}

	res := Run(context.Background(), opts)
	if !res.OK || !res.Launched {
		t.Fatalf("Result = %+v, want launched ok", res)
	}
	if !res.StaleLock {
		t.Error("StaleLock = false after stale cleanup")
	}
	if res.Port != 54321 {
		t.Errorf("Port = %d, want allocated 54321", res.Port)
	}
	// Override files did not exist before, so they must be gone now.
	if _, ok := f.Files[filepath.Join(root, gdproject.HostFile)]; ok {
		t.Error("host override left behind")
	}
	if _, ok := f.Files[filepath.Join(root, gdproject.PortFile)]; ok {
		t.Error("port override left behind")
	}
}

func TestLaunchNoLockSkipsProbe(t *testing.T) {
	root := t.TempDir()
	f := projectFake(root)

	probes := 0
	started := false
	opts := baseOptions(f, root)
	opts.Dial = func(context.Context, string, int, string, time.Duration) (Session, error) {
		probes++
		if started {
			return &fakeSession{root: root}, nil
		}
		return nil, syscall.ECONNREFUSED
	}
	opts.Start = func(context.Context, string, []string) (Process, error) {
		started = true
		return newFakeProcess(), nil
	}

	res := Run(context.Background(), opts)
	if !res.OK || !res.Launched {
		t.Fatalf("Result = %+v, want launched ok", res)
	}
	if res.StaleLock {
		t.Error("StaleLock = true without a lock present")
	}
}

func TestLaunchReadOnlyReportsIntent(t *testing.T) {
	root := "/proj"
	f := projectFake(root)

	started := false
	opts := baseOptions(f, root)
	opts.ReadOnly = true
	opts.Start = func(context.Context, string, []string) (Process, error) {
		started = true
		return newFakeProcess(), nil
	}

	res := Run(context.Background(), opts)
	if !res.OK || !res.Skipped {
		t.Fatalf("Result = %+v, want skipped ok", res)
	}
	if started {
		t.Error("editor started in read-only mode")
	}
}

func TestLaunchEarlyExitCapturesTails(t *testing.T) {
	root := t.TempDir()
	f := projectFake(root)

	opts := baseOptions(f, root)
	opts.Start = func(context.Context, string, []string) (Process, error) {
		p := newFakeProcess()
		p.stderr = "ERROR: cannot open display"
		p.exit()
		return p, nil
	}

	res := Run(context.Background(), opts)
	if res.OK {
		t.Fatal("Result.OK = true after early exit")
	}
	joined := strings.Join(res.Details, "\n")
	if !strings.Contains(joined, "cannot open display") {
		t.Errorf("Details = %v, want stderr tail", res.Details)
	}
}

func TestLaunchTimeout(t *testing.T) {
	root := t.TempDir()
	f := projectFake(root)

	opts := baseOptions(f, root)
	opts.LaunchDeadline = 200 * time.Millisecond

	res := Run(context.Background(), opts)
	if res.OK {
		t.Fatal("Result.OK = true after timeout")
	}
	if !strings.Contains(res.Summary, "did not come up") {
		t.Errorf("Summary = %q", res.Summary)
	}
}
