package gdproject

import (
	"testing"

	"github.com/gdmcp/gdmcp/internal/fsys"
)

func TestOverrideRestoresOriginal(t *testing.T) {
	f := fsys.NewFake()
	f.Files["/proj/.godot_bridge_port"] = []byte("9080\n")

	o, err := NewOverride(f, "/proj/.godot_bridge_port")
	if err != nil {
		t.Fatalf("NewOverride: %v", err)
	}
	if err := o.Set("9999\n"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if string(f.Files["/proj/.godot_bridge_port"]) != "9999\n" {
		t.Error("override content not written")
	}

	if err := o.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if string(f.Files["/proj/.godot_bridge_port"]) != "9080\n" {
		t.Errorf("original not restored, got %q", f.Files["/proj/.godot_bridge_port"])
	}
}

func TestOverrideDeletesWhenFileDidNotExist(t *testing.T) {
	f := fsys.NewFake()

	o, err := NewOverride(f, "/proj/.godot_bridge_host")
	if err != nil {
		t.Fatalf("NewOverride: %v", err)
	}
	if err := o.Set("172.29.208.1\n"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if err := o.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if _, ok := f.Files["/proj/.godot_bridge_host"]; ok {
		t.Error("file still exists after Restore; should have been deleted")
	}
}

func TestOverrideRestoreWithoutSet(t *testing.T) {
	f := fsys.NewFake()
	f.Files["/proj/.godot_bridge_port"] = []byte("9080\n")

	o, err := NewOverride(f, "/proj/.godot_bridge_port")
	if err != nil {
		t.Fatalf("NewOverride: %v", err)
	}
	// Restore with no Set between must leave the file as captured.
	if err := o.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if string(f.Files["/proj/.godot_bridge_port"]) != "9080\n" {
		t.Error("file changed by Restore without Set")
	}
}

func TestOverrideRestoreIsIdempotent(t *testing.T) {
	f := fsys.NewFake()

	o, err := NewOverride(f, "/proj/.godot_bridge_host")
	if err != nil {
		t.Fatalf("NewOverride: %v", err)
	}
	if err := o.Set("x"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := o.Restore(); err != nil {
		t.Fatalf("first Restore: %v", err)
	}
	// Second restore acts as a no-op even though the file is gone.
	if err := o.Restore(); err != nil {
		t.Errorf("second Restore: %v", err)
	}
}
