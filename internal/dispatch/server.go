package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gdmcp/gdmcp/internal/telemetry"
)

// ServerName and ServerVersion identify the dispatcher to MCP clients.
const (
	ServerName    = "gdmcp"
	ServerVersion = "0.4.0"
)

// NewServer builds the MCP server exposing every dispatcher operation
// as a tool against the given engine.
func NewServer(engine *Engine) *server.MCPServer {
	s := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(true),
	)
	registerTools(s, engine)
	return s
}

// registerTools wires each Engine operation up as an MCP tool.
func registerTools(s *server.MCPServer, e *Engine) {
	s.AddTool(
		mcplib.NewTool("write_file",
			mcplib.WithDescription("Write a file at a project-relative path"),
			mcplib.WithString("path", mcplib.Required(), mcplib.Description("Project-relative destination path")),
			mcplib.WithString("content", mcplib.Required(), mcplib.Description("File content")),
		),
		handleOp(e, "write_file"),
	)

	s.AddTool(
		mcplib.NewTool("read_file",
			mcplib.WithDescription("Read a file at a project-relative path"),
			mcplib.WithString("path", mcplib.Required(), mcplib.Description("Project-relative path")),
		),
		handleOp(e, "read_file"),
	)

	s.AddTool(
		mcplib.NewTool("create_resource",
			mcplib.WithDescription("Create a minimal typed .tres resource"),
			mcplib.WithString("path", mcplib.Required(), mcplib.Description("Project-relative .tres path")),
			mcplib.WithString("type", mcplib.Required(), mcplib.Description("Godot resource type, e.g. SpriteFrames")),
		),
		handleOp(e, "create_resource"),
	)

	s.AddTool(
		mcplib.NewTool("create_scene",
			mcplib.WithDescription("Create a fresh single-node .tscn scene"),
			mcplib.WithString("path", mcplib.Required(), mcplib.Description("Project-relative .tscn path")),
			mcplib.WithString("root_name", mcplib.Description("Root node name (defaults to file stem)")),
			mcplib.WithString("root_type", mcplib.Description("Root node type (defaults to Node2D)")),
		),
		handleOp(e, "create_scene"),
	)

	s.AddTool(
		mcplib.NewTool("add_node",
			mcplib.WithDescription("Add a node to an existing scene"),
			mcplib.WithString("scene", mcplib.Required(), mcplib.Description("Project-relative scene path")),
			mcplib.WithString("name", mcplib.Required(), mcplib.Description("Node name")),
			mcplib.WithString("type", mcplib.Required(), mcplib.Description("Node type, e.g. Sprite2D")),
			mcplib.WithString("parent", mcplib.Description("Parent node path (defaults to scene root)")),
		),
		handleOp(e, "add_node"),
	)

	s.AddTool(
		mcplib.NewTool("connect_signal",
			mcplib.WithDescription("Connect a signal between two nodes in a scene"),
			mcplib.WithString("scene", mcplib.Required(), mcplib.Description("Project-relative scene path")),
			mcplib.WithString("signal", mcplib.Required(), mcplib.Description("Signal name")),
			mcplib.WithString("from", mcplib.Description("Emitting node path (defaults to root)")),
			mcplib.WithString("to", mcplib.Description("Receiving node path (defaults to root)")),
			mcplib.WithString("method", mcplib.Required(), mcplib.Description("Receiver method name")),
		),
		handleOp(e, "connect_signal"),
	)

	s.AddTool(
		mcplib.NewTool("validate_scene",
			mcplib.WithDescription("Check a scene file for structural problems"),
			mcplib.WithString("scene", mcplib.Required(), mcplib.Description("Project-relative scene path")),
		),
		handleOp(e, "validate_scene"),
	)

	s.AddTool(
		mcplib.NewTool("save_scene",
			mcplib.WithDescription("Re-render a scene to canonical text form"),
			mcplib.WithString("scene", mcplib.Required(), mcplib.Description("Project-relative scene path")),
		),
		handleOp(e, "save_scene"),
	)

	s.AddTool(
		mcplib.NewTool("instance_scene",
			mcplib.WithDescription("Instance another scene under a node"),
			mcplib.WithString("scene", mcplib.Required(), mcplib.Description("Scene receiving the instance")),
			mcplib.WithString("instance", mcplib.Required(), mcplib.Description("Scene file to instance")),
			mcplib.WithString("name", mcplib.Description("Instance node name")),
			mcplib.WithString("parent", mcplib.Description("Parent node path (defaults to root)")),
		),
		handleOp(e, "instance_scene"),
	)

	s.AddTool(
		mcplib.NewTool("create_tilemap",
			mcplib.WithDescription("Add a TileMapLayer node, creating the scene if absent"),
			mcplib.WithString("scene", mcplib.Required(), mcplib.Description("Project-relative scene path")),
			mcplib.WithString("name", mcplib.Description("Node name (defaults to TileMap)")),
		),
		handleOp(e, "create_tilemap"),
	)

	s.AddTool(
		mcplib.NewTool("load_sprite",
			mcplib.WithDescription("Add a Sprite2D node referencing a texture file"),
			mcplib.WithString("scene", mcplib.Required(), mcplib.Description("Project-relative scene path")),
			mcplib.WithString("texture", mcplib.Required(), mcplib.Description("Project-relative texture path")),
			mcplib.WithString("name", mcplib.Description("Node name (defaults to Sprite)")),
			mcplib.WithString("parent", mcplib.Description("Parent node path (defaults to root)")),
		),
		handleOp(e, "load_sprite"),
	)

	s.AddTool(
		mcplib.NewTool("resave_resources",
			mcplib.WithDescription("Rewrite every scene and resource under the project root to canonical form (destructive, requires "+EnvAllowDestructive+")"),
		),
		handleOp(e, "resave_resources"),
	)

	s.AddTool(
		mcplib.NewTool("project_scan",
			mcplib.WithDescription("Scan the project for diagnostic issues and write a Markdown report"),
			mcplib.WithString("report_path", mcplib.Description("Project-relative report destination")),
			mcplib.WithString("godot_version", mcplib.Description("Godot version string recorded in the report")),
		),
		handleScan(e),
	)

	s.AddTool(
		mcplib.NewTool("batch_execute",
			mcplib.WithDescription("Execute an ordered list of {operation, params} steps"),
			mcplib.WithString("steps", mcplib.Required(), mcplib.Description("JSON array of {operation, params} steps")),
			mcplib.WithBoolean("stop_on_error", mcplib.Description("Stop at the first failing step")),
		),
		handleBatch(e),
	)
}

// handleOp adapts a named Engine operation to an MCP tool handler. Tool
// arguments pass through as operation params; every call is recorded
// with its latency and outcome.
func handleOp(e *Engine, op string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		start := time.Now()
		result, err := e.runOperation(ctx, op, request.GetArguments())
		if err != nil {
			telemetry.RecordToolCall(ctx, op, sinceMs(start), err, "")
			return errorResult(err.Error()), nil
		}
		if result == nil {
			result = map[string]any{"ok": true}
		}
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshaling result: %w", err)
		}
		telemetry.RecordToolCall(ctx, op, sinceMs(start), nil, string(data))
		return textResult(string(data)), nil
	}
}

func handleScan(e *Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		report, err := e.ScanProject(ctx, request.GetArguments())
		if err != nil {
			return errorResult(fmt.Sprintf("scan failed: %v", err)), nil
		}
		return jsonResult(report)
	}
}

func handleBatch(e *Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		stepsJSON, err := request.RequireString("steps")
		if err != nil {
			return errorResult(err.Error()), nil
		}
		var steps []Step
		if err := json.Unmarshal([]byte(stepsJSON), &steps); err != nil {
			return errorResult(fmt.Sprintf("decoding steps: %v", err)), nil
		}
		stopOnError, _ := request.GetArguments()["stop_on_error"].(bool)
		return jsonResult(e.ExecuteBatch(ctx, steps, stopOnError))
	}
}

// sinceMs reports wall time since start in milliseconds.
func sinceMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

// jsonResult marshals v to JSON and returns it as a text content result.
func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return textResult(string(data)), nil
}

func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.NewTextContent(text)},
	}
}

// errorResult returns a tool result that indicates an error occurred.
func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.NewTextContent(msg)},
		IsError: true,
	}
}
