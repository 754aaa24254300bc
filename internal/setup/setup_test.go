package setup

import (
	"errors"
	"strings"
	"testing"

	"github.com/gdmcp/gdmcp/internal/fsys"
	"github.com/gdmcp/gdmcp/internal/gdproject"
)

func newProject(t *testing.T) *fsys.Fake {
	t.Helper()
	f := fsys.NewFake()
	f.Files["/proj/project.godot"] = []byte("config_version=5\n\n[application]\n\nconfig/name=\"Demo\"\n")
	return f
}

func TestReconcileFreshProject(t *testing.T) {
	f := newProject(t)

	out, err := Reconcile(f, "/proj", false)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !out.OK || out.Skipped {
		t.Errorf("outcome = %+v, want ok and not skipped", out)
	}
	if !out.AddonCopied || !out.PluginEnabledUpdated || !out.TokenCreated {
		t.Errorf("outcome = %+v, want all three steps applied", out)
	}

	// Addon marker, enabled plugin, and token must now exist.
	if _, ok := f.Files["/proj/addons/godot_bridge/plugin.cfg"]; !ok {
		t.Error("addon marker not written")
	}
	if !strings.Contains(string(f.Files["/proj/project.godot"]), gdproject.PluginResource) {
		t.Error("plugin not enabled in descriptor")
	}
	if _, ok := f.Files["/proj/.godot_bridge_token"]; !ok {
		t.Error("token file not written")
	}
}

func TestReconcileIdempotent(t *testing.T) {
	f := newProject(t)

	if _, err := Reconcile(f, "/proj", false); err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	descriptor := string(f.Files["/proj/project.godot"])
	token := string(f.Files["/proj/.godot_bridge_token"])

	out, err := Reconcile(f, "/proj", false)
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if out.AddonCopied || out.PluginEnabledUpdated || out.TokenCreated {
		t.Errorf("second run reported changes: %+v", out)
	}
	if string(f.Files["/proj/project.godot"]) != descriptor {
		t.Error("descriptor changed on second run")
	}
	if string(f.Files["/proj/.godot_bridge_token"]) != token {
		t.Error("token rotated on second run")
	}
}

func TestReconcileMissingDescriptor(t *testing.T) {
	f := fsys.NewFake()

	out, err := Reconcile(f, "/proj", false)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if out.OK {
		t.Error("expected not-ok outcome without project.godot")
	}
	if !strings.Contains(out.Summary, "project.godot") {
		t.Errorf("summary = %q, want mention of project.godot", out.Summary)
	}
}

func TestReconcileLockedProjectSkips(t *testing.T) {
	f := newProject(t)
	f.Files["/proj/.godot_bridge/bridge.lock"] = []byte("4242")

	out, err := Reconcile(f, "/proj", false)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !out.Skipped || !out.LockFileExists {
		t.Errorf("outcome = %+v, want skipped with lock reported", out)
	}
	// No mutation while locked.
	if _, ok := f.Files["/proj/.godot_bridge_token"]; ok {
		t.Error("token written despite lock")
	}
	if strings.Contains(string(f.Files["/proj/project.godot"]), gdproject.PluginResource) {
		t.Error("descriptor patched despite lock")
	}
	if !strings.Contains(out.Summary, "pending") {
		t.Errorf("summary = %q, want pending deltas enumerated", out.Summary)
	}
}

func TestReconcileReadOnlyEnumeratesDeltas(t *testing.T) {
	f := newProject(t)

	out, err := Reconcile(f, "/proj", true)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !out.OK || !out.Skipped {
		t.Errorf("outcome = %+v, want skipped-but-successful", out)
	}
	for _, want := range []string{"addon sync", "plugin enable", "token creation"} {
		if !strings.Contains(out.Summary, want) {
			t.Errorf("summary %q missing delta %q", out.Summary, want)
		}
	}
	if len(f.Files) != 1 {
		t.Errorf("read-only run wrote files: %v", f.Files)
	}
}

func TestGuardLockAbortsWhenLockAppears(t *testing.T) {
	// The per-step guard is what catches a lock appearing between the
	// top-of-run check and a write.
	f := newProject(t)
	f.Files["/proj/.godot_bridge/bridge.lock"] = []byte("99")

	err := guardLock(f, "/proj")
	if !errors.Is(err, ErrBridgeActive) {
		t.Errorf("guardLock = %v, want ErrBridgeActive", err)
	}
}
