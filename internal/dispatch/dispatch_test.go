package dispatch

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gdmcp/gdmcp/internal/fsys"
)

func newTestEngine() (*Engine, *fsys.Fake) {
	f := fsys.NewFake()
	f.Dirs["/proj"] = true
	e := NewEngine(f, "/proj")
	e.lookupEnv = func(string) (string, bool) { return "", false }
	return e, f
}

func TestResolveRejectsEscapes(t *testing.T) {
	e, _ := newTestEngine()
	tests := []string{"", "../outside.txt", "a/../../outside.txt", "/etc/passwd"}
	for _, p := range tests {
		if _, err := e.resolve(p); err == nil {
			t.Errorf("resolve(%q) accepted an escaping path", p)
		}
	}
}

func TestResolveAcceptsResPrefix(t *testing.T) {
	e, _ := newTestEngine()
	abs, err := e.resolve("res://scenes/main.tscn")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if abs != filepath.Join("/proj", "scenes", "main.tscn") {
		t.Errorf("resolve = %q", abs)
	}
}

func TestCreateSceneAddNodeConnectSignal(t *testing.T) {
	e, f := newTestEngine()

	if err := e.CreateScene("main.tscn", "Main", "Node2D"); err != nil {
		t.Fatalf("CreateScene: %v", err)
	}
	if err := e.AddNode("main.tscn", "Player", "CharacterBody2D", ""); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := e.ConnectSignal("main.tscn", "ready", "Player", ".", "_on_player_ready"); err != nil {
		t.Fatalf("ConnectSignal: %v", err)
	}

	text := string(f.Files["/proj/main.tscn"])
	for _, want := range []string{
		`[node name="Main" type="Node2D"]`,
		`[node name="Player" type="CharacterBody2D" parent="."]`,
		`[connection signal="ready" from="Player" to="." method="_on_player_ready"]`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("scene missing %s:\n%s", want, text)
		}
	}

	problems, err := e.ValidateScene("main.tscn")
	if err != nil {
		t.Fatalf("ValidateScene: %v", err)
	}
	if len(problems) != 0 {
		t.Errorf("problems = %v", problems)
	}
}

func TestAddNodeRejectsDuplicate(t *testing.T) {
	e, _ := newTestEngine()
	if err := e.CreateScene("main.tscn", "Main", "Node2D"); err != nil {
		t.Fatalf("CreateScene: %v", err)
	}
	if err := e.AddNode("main.tscn", "Main", "Node2D", ""); err == nil {
		t.Error("AddNode accepted a duplicate name")
	}
}

func TestCreateResource(t *testing.T) {
	e, f := newTestEngine()
	if err := e.CreateResource("frames.tres", "SpriteFrames"); err != nil {
		t.Fatalf("CreateResource: %v", err)
	}
	text := string(f.Files["/proj/frames.tres"])
	if !strings.Contains(text, `[gd_resource type="SpriteFrames" format=3]`) {
		t.Errorf("resource = %s", text)
	}
	if err := e.CreateResource("bad.tres", ""); err == nil {
		t.Error("CreateResource accepted an empty type")
	}
}

func TestLoadSpriteRequiresTexture(t *testing.T) {
	e, f := newTestEngine()
	if err := e.CreateScene("main.tscn", "Main", "Node2D"); err != nil {
		t.Fatalf("CreateScene: %v", err)
	}

	if err := e.LoadSprite("main.tscn", "icon.png", "Icon", ""); err == nil {
		t.Error("LoadSprite accepted a missing texture")
	}

	f.Files["/proj/icon.png"] = []byte{0x89, 'P', 'N', 'G'}
	if err := e.LoadSprite("main.tscn", "icon.png", "Icon", ""); err != nil {
		t.Fatalf("LoadSprite: %v", err)
	}

	text := string(f.Files["/proj/main.tscn"])
	if !strings.Contains(text, `ext_resource type="Texture2D" path="res://icon.png"`) {
		t.Errorf("scene missing texture ext_resource:\n%s", text)
	}
	if !strings.Contains(text, "texture = ExtResource(") {
		t.Errorf("sprite node missing texture property:\n%s", text)
	}
}

func TestInstanceScene(t *testing.T) {
	e, f := newTestEngine()
	if err := e.CreateScene("main.tscn", "Main", "Node2D"); err != nil {
		t.Fatalf("CreateScene: %v", err)
	}
	if err := e.CreateScene("enemy.tscn", "Enemy", "CharacterBody2D"); err != nil {
		t.Fatalf("CreateScene: %v", err)
	}
	if err := e.InstanceScene("main.tscn", "enemy.tscn", "", ""); err != nil {
		t.Fatalf("InstanceScene: %v", err)
	}
	text := string(f.Files["/proj/main.tscn"])
	if !strings.Contains(text, `ext_resource type="PackedScene" path="res://enemy.tscn"`) {
		t.Errorf("missing PackedScene ext_resource:\n%s", text)
	}
	if !strings.Contains(text, `node name="enemy" parent="." instance=ExtResource(`) {
		t.Errorf("missing instance node:\n%s", text)
	}
}

func TestCreateTilemapCreatesSceneIfAbsent(t *testing.T) {
	e, f := newTestEngine()
	if err := e.CreateTilemap("world.tscn", "Ground"); err != nil {
		t.Fatalf("CreateTilemap: %v", err)
	}
	text := string(f.Files["/proj/world.tscn"])
	if !strings.Contains(text, `[node name="Ground" type="TileMapLayer" parent="."]`) {
		t.Errorf("missing tilemap node:\n%s", text)
	}
}

func TestResaveResourcesGated(t *testing.T) {
	e, _ := newTestEngine()
	if err := e.CreateScene("main.tscn", "Main", "Node2D"); err != nil {
		t.Fatalf("CreateScene: %v", err)
	}

	if _, err := e.ResaveResources(); err == nil {
		t.Fatal("ResaveResources ran without the escape hatch")
	}

	e.lookupEnv = func(key string) (string, bool) {
		if key == EnvAllowDestructive {
			return "/other", true
		}
		return "", false
	}
	if _, err := e.ResaveResources(); err == nil {
		t.Fatal("ResaveResources ran outside the scoped directory")
	}

	e.lookupEnv = func(key string) (string, bool) {
		if key == EnvAllowDestructive {
			return "/proj", true
		}
		return "", false
	}
	count, err := e.ResaveResources()
	if err != nil {
		t.Fatalf("ResaveResources: %v", err)
	}
	if count != 1 {
		t.Errorf("resaved = %d, want 1", count)
	}
}

func TestExecuteBatchStopOnError(t *testing.T) {
	e, _ := newTestEngine()
	steps := []Step{
		{Operation: "create_scene", Params: map[string]any{"path": "main.tscn"}},
		{Operation: "add_node", Params: map[string]any{"scene": "missing.tscn", "name": "X", "type": "Node2D"}},
		{Operation: "write_file", Params: map[string]any{"path": "after.txt", "content": "x"}},
	}

	res := e.ExecuteBatch(context.Background(), steps, true)
	if res.OK {
		t.Fatal("BatchResult.OK = true with a failing step")
	}
	if !res.Stopped {
		t.Error("Stopped = false with stopOnError")
	}
	if len(res.Steps) != 2 {
		t.Fatalf("executed %d steps, want 2", len(res.Steps))
	}
	if res.Steps[0].OK != true || res.Steps[1].OK != false {
		t.Errorf("step outcomes = %+v", res.Steps)
	}

	res = e.ExecuteBatch(context.Background(), steps, false)
	if len(res.Steps) != 3 {
		t.Errorf("executed %d steps without stopOnError, want 3", len(res.Steps))
	}
}

func TestExecuteBatchUnknownOperation(t *testing.T) {
	e, _ := newTestEngine()
	res := e.ExecuteBatch(context.Background(), []Step{{Operation: "explode"}}, true)
	if res.OK {
		t.Fatal("BatchResult.OK = true for unknown operation")
	}
	if !strings.Contains(res.Steps[0].Error, "unknown operation") {
		t.Errorf("Error = %q", res.Steps[0].Error)
	}
}
