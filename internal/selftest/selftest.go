// Package selftest exercises the dispatcher end to end: it spawns the
// gdmcp binary as an MCP server over stdio, lists its tools, and runs a
// functional batch against a throwaway scratch project. Destructive
// operations are opted into via the escape-hatch variable scoped to the
// scratch directory only.
package selftest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gdmcp/gdmcp/internal/dispatch"
)

const defaultTimeout = 30 * time.Second

// requiredTool must be present in the dispatcher's tool list for the
// functional batch to run.
const requiredTool = "batch_execute"

// ToolClient is the slice of an MCP stdio client the runner needs.
type ToolClient interface {
	ListTools(ctx context.Context) ([]string, error)
	CallTool(ctx context.Context, name string, args map[string]any) (text string, isError bool, err error)
	Close() error
}

// SpawnFunc starts the dispatcher binary as an MCP server with the
// given environment overrides and returns an initialized client.
type SpawnFunc func(ctx context.Context, bin, scratchDir string) (ToolClient, error)

// Options configures one self-test run.
type Options struct {
	BinPath        string // dispatcher binary; defaults to the running executable
	GodotAvailable bool   // gates the functional batch
	Timeout        time.Duration

	Spawn      SpawnFunc // injectable for tests
	ScratchDir string    // defaults to a fresh temp directory
}

// Result is the self-test outcome.
type Result struct {
	OK          bool
	Summary     string
	Details     []string
	Suggestions []string
	ToolCount   int
	BatchRan    bool
	BatchOK     bool
}

// Run performs the self-test. The scratch project is always removed
// before returning.
func Run(ctx context.Context, opts Options) *Result {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Spawn == nil {
		opts.Spawn = spawnStdio
	}
	if opts.BinPath == "" {
		bin, err := os.Executable()
		if err != nil {
			return &Result{
				Summary:     fmt.Sprintf("locating dispatcher binary: %v", err),
				Suggestions: []string{"invoke the doctor through the installed gdmcp binary"},
			}
		}
		opts.BinPath = bin
	}
	if _, err := os.Stat(opts.BinPath); err != nil {
		return &Result{
			Summary:     fmt.Sprintf("dispatcher binary not found: %v", err),
			Suggestions: []string{"reinstall gdmcp or check PATH"},
		}
	}

	scratch := opts.ScratchDir
	if scratch == "" {
		dir, err := os.MkdirTemp("", "gdmcp-selftest-")
		if err != nil {
			return &Result{Summary: fmt.Sprintf("creating scratch project: %v", err)}
		}
		defer os.RemoveAll(dir) //nolint:errcheck // scratch cleanup is best-effort
		scratch = dir
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	client, err := opts.Spawn(ctx, opts.BinPath, scratch)
	if err != nil {
		return &Result{
			Summary:     fmt.Sprintf("spawning dispatcher: %v", err),
			Suggestions: []string{"run `gdmcp serve` manually to inspect startup errors"},
		}
	}
	defer client.Close() //nolint:errcheck // stdio client teardown is best-effort

	tools, err := client.ListTools(ctx)
	if err != nil {
		return &Result{
			Summary:     fmt.Sprintf("listing dispatcher tools: %v", err),
			Suggestions: []string{"run `gdmcp serve` manually to inspect startup errors"},
		}
	}
	res := &Result{ToolCount: len(tools)}
	if !contains(tools, requiredTool) {
		res.Summary = fmt.Sprintf("dispatcher lists %d tools but %s is missing", len(tools), requiredTool)
		return res
	}

	if !opts.GodotAvailable {
		res.OK = true
		res.Summary = fmt.Sprintf("dispatcher responds with %d tools; functional batch skipped (no Godot executable)", len(tools))
		return res
	}

	// The scratch project gets its fixtures only once the batch is
	// actually going to run against them.
	if err := writeFixtures(scratch); err != nil {
		res.Summary = fmt.Sprintf("preparing scratch project: %v", err)
		return res
	}

	res.BatchRan = true
	batchOK, details, err := runBatch(ctx, client)
	res.Details = details
	if err != nil {
		res.Summary = fmt.Sprintf("functional batch: %v", err)
		return res
	}
	if !batchOK {
		res.Summary = "functional batch reported step failures"
		return res
	}
	res.BatchOK = true

	if problems := verifyArtifacts(scratch); len(problems) > 0 {
		res.Details = append(res.Details, problems...)
		res.Summary = "functional batch succeeded but artifacts are missing or empty"
		return res
	}

	res.OK = true
	res.Summary = fmt.Sprintf("dispatcher responds with %d tools; functional batch passed", len(tools))
	return res
}

// batchSteps covers every operation family in one stop-on-error batch.
func batchSteps() []dispatch.Step {
	return []dispatch.Step{
		{Operation: "create_scene", Params: map[string]any{"path": "main.tscn", "root_name": "Main", "root_type": "Node2D"}},
		{Operation: "add_node", Params: map[string]any{"scene": "main.tscn", "name": "Player", "type": "CharacterBody2D"}},
		{Operation: "connect_signal", Params: map[string]any{"scene": "main.tscn", "signal": "ready", "from": "Player", "method": "_on_player_ready"}},
		{Operation: "create_resource", Params: map[string]any{"path": "frames.tres", "type": "SpriteFrames"}},
		{Operation: "load_sprite", Params: map[string]any{"scene": "main.tscn", "texture": "icon.png", "name": "Icon"}},
		{Operation: "create_scene", Params: map[string]any{"path": "enemy.tscn", "root_name": "Enemy", "root_type": "CharacterBody2D"}},
		{Operation: "instance_scene", Params: map[string]any{"scene": "main.tscn", "instance": "enemy.tscn"}},
		{Operation: "create_tilemap", Params: map[string]any{"scene": "world.tscn", "name": "Ground"}},
		{Operation: "write_file", Params: map[string]any{"path": "notes.txt", "content": "self-test artifact\n"}},
		{Operation: "read_file", Params: map[string]any{"path": "notes.txt"}},
		{Operation: "validate_scene", Params: map[string]any{"scene": "main.tscn"}},
		{Operation: "save_scene", Params: map[string]any{"scene": "main.tscn"}},
		{Operation: "project_scan", Params: map[string]any{}},
		{Operation: "resave_resources", Params: map[string]any{}},
	}
}

// runBatch calls batch_execute and decodes its aggregate result.
func runBatch(ctx context.Context, client ToolClient) (bool, []string, error) {
	stepsJSON, err := json.Marshal(batchSteps())
	if err != nil {
		return false, nil, fmt.Errorf("encoding steps: %w", err)
	}
	text, isError, err := client.CallTool(ctx, requiredTool, map[string]any{
		"steps":         string(stepsJSON),
		"stop_on_error": true,
	})
	if err != nil {
		return false, nil, err
	}
	if isError {
		return false, []string{text}, fmt.Errorf("batch tool returned an error")
	}

	var batch dispatch.BatchResult
	if err := json.Unmarshal([]byte(text), &batch); err != nil {
		return false, nil, fmt.Errorf("decoding batch result: %w", err)
	}
	var details []string
	for _, step := range batch.Steps {
		if !step.OK {
			details = append(details, fmt.Sprintf("step %s failed: %s", step.Operation, step.Error))
		}
	}
	return batch.OK, details, nil
}

// artifact names the files the batch must leave behind. Binary
// artifacts must also be non-empty.
type artifact struct {
	name   string
	binary bool
}

var expectedArtifacts = []artifact{
	{name: "main.tscn"},
	{name: "enemy.tscn"},
	{name: "world.tscn"},
	{name: "frames.tres"},
	{name: "notes.txt"},
	{name: dispatch.DefaultReportPath},
	{name: "icon.png", binary: true},
}

func verifyArtifacts(scratch string) []string {
	var problems []string
	for _, a := range expectedArtifacts {
		info, err := os.Stat(filepath.Join(scratch, a.name))
		if err != nil {
			problems = append(problems, fmt.Sprintf("artifact %s missing: %v", a.name, err))
			continue
		}
		if a.binary && info.Size() == 0 {
			problems = append(problems, fmt.Sprintf("artifact %s is empty", a.name))
		}
	}
	return problems
}

// writeFixtures seeds the scratch project with a descriptor, a script,
// and a texture for the batch to chew on.
func writeFixtures(scratch string) error {
	fixtures := map[string][]byte{
		"project.godot": []byte("config_version=5\n\n[application]\n\nconfig/name=\"gdmcp self-test\"\n"),
		"player.gd":     []byte("extends CharacterBody2D\n\nfunc _on_player_ready():\n\tpass\n"),
		"icon.png":      pngFixture,
	}
	for name, data := range fixtures {
		if err := os.WriteFile(filepath.Join(scratch, name), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// pngFixture is a 1x1 transparent PNG.
var pngFixture = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
	0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89,
	0x00, 0x00, 0x00, 0x0d, 0x49, 0x44, 0x41, 0x54,
	0x78, 0x9c, 0x63, 0xfc, 0xff, 0xff, 0x3f, 0x03,
	0x00, 0x08, 0xfc, 0x02, 0xfe, 0xa7, 0x35, 0x81, 0x84,
	0x00, 0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44,
	0xae, 0x42, 0x60, 0x82,
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
