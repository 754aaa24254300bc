package dispatch

import (
	"context"
	"strings"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func callText(t *testing.T, res *mcplib.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("result content = %+v, want one text block", res.Content)
	}
	tc, ok := res.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatalf("content type = %T", res.Content[0])
	}
	return tc.Text
}

func TestHandleOpWritesAndReports(t *testing.T) {
	e, f := newTestEngine()
	h := handleOp(e, "write_file")

	req := mcplib.CallToolRequest{}
	req.Params.Arguments = map[string]any{"path": "notes.txt", "content": "hi"}
	res, err := h(context.Background(), req)
	if err != nil {
		t.Fatalf("handleOp: %v", err)
	}
	if res.IsError {
		t.Fatalf("IsError = true: %s", callText(t, res))
	}
	if !strings.Contains(callText(t, res), `"ok": true`) {
		t.Errorf("result = %q", callText(t, res))
	}
	if _, ok := f.Files["/proj/notes.txt"]; !ok {
		t.Error("write_file left no file behind")
	}
}

func TestHandleOpOperationErrorIsToolError(t *testing.T) {
	e, _ := newTestEngine()
	h := handleOp(e, "write_file")

	req := mcplib.CallToolRequest{}
	req.Params.Arguments = map[string]any{"path": "../escape.txt", "content": "no"}
	res, err := h(context.Background(), req)
	if err != nil {
		t.Fatalf("handleOp: %v", err)
	}
	if !res.IsError {
		t.Fatal("IsError = false for a path escape")
	}
}
