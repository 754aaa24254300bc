package gdproject

import (
	"strings"
	"testing"

	"github.com/gdmcp/gdmcp/internal/fsys"
)

const descriptorBase = `; Engine configuration file.
config_version=5

[application]

config/name="Demo Game"
run/main_scene="res://main.tscn"
`

func TestHasDescriptor(t *testing.T) {
	f := fsys.NewFake()
	f.Files["/proj/project.godot"] = []byte(descriptorBase)

	ok, err := HasDescriptor(f, "/proj")
	if err != nil {
		t.Fatalf("HasDescriptor: %v", err)
	}
	if !ok {
		t.Error("expected descriptor to be found")
	}

	ok, err = HasDescriptor(f, "/empty")
	if err != nil {
		t.Fatalf("HasDescriptor on empty: %v", err)
	}
	if ok {
		t.Error("expected no descriptor in empty dir")
	}
}

func TestEnablePluginNoSection(t *testing.T) {
	f := fsys.NewFake()
	f.Files["/proj/project.godot"] = []byte(descriptorBase)

	changed, err := EnablePlugin(f, "/proj")
	if err != nil {
		t.Fatalf("EnablePlugin: %v", err)
	}
	if !changed {
		t.Error("expected changed = true")
	}

	got := string(f.Files["/proj/project.godot"])
	want := "[editor_plugins]\n\nenabled=PackedStringArray(\"" + PluginResource + "\")\n"
	if !strings.HasSuffix(got, want) {
		t.Errorf("descriptor does not end with new section:\n%s", got)
	}
	// The original text must be preserved verbatim before the appended section.
	if !strings.HasPrefix(got, strings.TrimRight(descriptorBase, "\n")) {
		t.Errorf("original descriptor text was disturbed:\n%s", got)
	}
}

func TestEnablePluginExistingArray(t *testing.T) {
	f := fsys.NewFake()
	f.Files["/proj/project.godot"] = []byte(descriptorBase +
		"\n[editor_plugins]\n\nenabled=PackedStringArray(\"res://addons/other/plugin.cfg\")\n")

	changed, err := EnablePlugin(f, "/proj")
	if err != nil {
		t.Fatalf("EnablePlugin: %v", err)
	}
	if !changed {
		t.Error("expected changed = true")
	}

	got := string(f.Files["/proj/project.godot"])
	want := `enabled=PackedStringArray("res://addons/other/plugin.cfg", "` + PluginResource + `")`
	if !strings.Contains(got, want) {
		t.Errorf("plugin not appended to array:\n%s", got)
	}
}

func TestEnablePluginEmptyArray(t *testing.T) {
	f := fsys.NewFake()
	f.Files["/proj/project.godot"] = []byte(descriptorBase +
		"\n[editor_plugins]\n\nenabled=PackedStringArray()\n")

	changed, err := EnablePlugin(f, "/proj")
	if err != nil {
		t.Fatalf("EnablePlugin: %v", err)
	}
	if !changed {
		t.Error("expected changed = true")
	}
	if !strings.Contains(string(f.Files["/proj/project.godot"]),
		`enabled=PackedStringArray("`+PluginResource+`")`) {
		t.Errorf("plugin not inserted into empty array:\n%s", f.Files["/proj/project.godot"])
	}
}

func TestEnablePluginSectionWithoutEnabledLine(t *testing.T) {
	f := fsys.NewFake()
	f.Files["/proj/project.godot"] = []byte(descriptorBase +
		"\n[editor_plugins]\n\n[rendering]\n\nrenderer/rendering_method=\"mobile\"\n")

	changed, err := EnablePlugin(f, "/proj")
	if err != nil {
		t.Fatalf("EnablePlugin: %v", err)
	}
	if !changed {
		t.Error("expected changed = true")
	}

	got := string(f.Files["/proj/project.godot"])
	idx := strings.Index(got, "[editor_plugins]")
	rendering := strings.Index(got, "[rendering]")
	enabled := strings.Index(got, "enabled=PackedStringArray(")
	if idx == -1 || enabled == -1 || rendering == -1 || !(idx < enabled && enabled < rendering) {
		t.Errorf("enabled line not placed inside [editor_plugins]:\n%s", got)
	}
}

func TestEnablePluginIdempotent(t *testing.T) {
	f := fsys.NewFake()
	f.Files["/proj/project.godot"] = []byte(descriptorBase)

	if _, err := EnablePlugin(f, "/proj"); err != nil {
		t.Fatalf("first EnablePlugin: %v", err)
	}
	first := string(f.Files["/proj/project.godot"])
	writes := countWrites(f)

	changed, err := EnablePlugin(f, "/proj")
	if err != nil {
		t.Fatalf("second EnablePlugin: %v", err)
	}
	if changed {
		t.Error("second run reported a change")
	}
	if string(f.Files["/proj/project.godot"]) != first {
		t.Error("descriptor bytes changed on second run")
	}
	if countWrites(f) != writes {
		t.Error("second run wrote the descriptor")
	}
}

func countWrites(f *fsys.Fake) int {
	n := 0
	for _, c := range f.Calls {
		if c.Method == "WriteFile" {
			n++
		}
	}
	return n
}

func TestPluginEnabled(t *testing.T) {
	f := fsys.NewFake()
	f.Files["/proj/project.godot"] = []byte(descriptorBase +
		"\n[editor_plugins]\n\nenabled=PackedStringArray(\"" + PluginResource + "\")\n")

	ok, err := PluginEnabled(f, "/proj")
	if err != nil {
		t.Fatalf("PluginEnabled: %v", err)
	}
	if !ok {
		t.Error("expected plugin to be reported enabled")
	}

	f2 := fsys.NewFake()
	f2.Files["/proj/project.godot"] = []byte(descriptorBase)
	ok, err = PluginEnabled(f2, "/proj")
	if err != nil {
		t.Fatalf("PluginEnabled: %v", err)
	}
	if ok {
		t.Error("expected plugin to be reported disabled")
	}
}

func TestResolveTokenEnvOverride(t *testing.T) {
	t.Setenv(EnvToken, "env-token")
	f := fsys.NewFake()
	f.Files["/proj/.godot_bridge_token"] = []byte("file-token\n")

	tok, err := ResolveToken(f, "/proj")
	if err != nil {
		t.Fatalf("ResolveToken: %v", err)
	}
	if tok != "env-token" {
		t.Errorf("token = %q, want env override", tok)
	}
}

func TestResolveTokenFromFile(t *testing.T) {
	t.Setenv(EnvToken, "")
	f := fsys.NewFake()
	f.Files["/proj/.godot_bridge_token"] = []byte("  file-token\n")

	tok, err := ResolveToken(f, "/proj")
	if err != nil {
		t.Fatalf("ResolveToken: %v", err)
	}
	if tok != "file-token" {
		t.Errorf("token = %q, want trimmed file token", tok)
	}
}

func TestResolveTokenAbsent(t *testing.T) {
	t.Setenv(EnvToken, "")
	f := fsys.NewFake()

	tok, err := ResolveToken(f, "/proj")
	if err != nil {
		t.Fatalf("ResolveToken: %v", err)
	}
	if tok != "" {
		t.Errorf("token = %q, want empty", tok)
	}
}

func TestGenerateToken(t *testing.T) {
	f := fsys.NewFake()

	tok, err := GenerateToken(f, "/proj")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if len(tok) != 32 {
		t.Errorf("token length = %d, want 32 hex chars", len(tok))
	}
	if string(f.Files["/proj/.godot_bridge_token"]) != tok+"\n" {
		t.Error("token file content does not match generated token")
	}
}

func TestDeclaredHostPort(t *testing.T) {
	f := fsys.NewFake()
	f.Files["/proj/.godot_bridge_host"] = []byte("127.0.0.1\n")
	f.Files["/proj/.godot_bridge_port"] = []byte("9123\n")

	host, port, err := DeclaredHostPort(f, "/proj")
	if err != nil {
		t.Fatalf("DeclaredHostPort: %v", err)
	}
	if host != "127.0.0.1" || port != "9123" {
		t.Errorf("got (%q, %q), want (127.0.0.1, 9123)", host, port)
	}

	// Absent files are empty, not errors.
	host, port, err = DeclaredHostPort(f, "/other")
	if err != nil {
		t.Fatalf("DeclaredHostPort on empty project: %v", err)
	}
	if host != "" || port != "" {
		t.Errorf("got (%q, %q), want empty pair", host, port)
	}
}

func TestRemoveLock(t *testing.T) {
	f := fsys.NewFake()
	f.Files["/proj/.godot_bridge/bridge.lock"] = []byte("42")

	if err := RemoveLock(f, "/proj"); err != nil {
		t.Fatalf("RemoveLock: %v", err)
	}
	if present, _ := LockPresent(f, "/proj"); present {
		t.Error("lock still present after RemoveLock")
	}

	// Removing an absent lock is not an error.
	if err := RemoveLock(f, "/proj"); err != nil {
		t.Errorf("RemoveLock on absent lock: %v", err)
	}
}
