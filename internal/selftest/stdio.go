package selftest

import (
	"context"
	"fmt"
	"os"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/gdmcp/gdmcp/internal/dispatch"
	"github.com/gdmcp/gdmcp/internal/telemetry"
)

// stdioClient adapts the mcp-go stdio client to ToolClient.
type stdioClient struct {
	c *mcpclient.Client
}

// spawnStdio is the production SpawnFunc: it starts `bin serve` against
// the scratch project with the destructive escape hatch scoped to it.
// When telemetry is active the child inherits the OTLP endpoints so its
// tool calls land in the same backend.
func spawnStdio(ctx context.Context, bin, scratchDir string) (ToolClient, error) {
	env := append(os.Environ(), dispatch.EnvAllowDestructive+"="+scratchDir)
	env = append(env, telemetry.OTELEnvForSubprocess()...)
	c, err := mcpclient.NewStdioMCPClient(bin, env, "serve", "--project", scratchDir)
	if err != nil {
		return nil, fmt.Errorf("starting %s: %w", bin, err)
	}

	initReq := mcplib.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcplib.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcplib.Implementation{
		Name:    "gdmcp-selftest",
		Version: dispatch.ServerVersion,
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close() //nolint:errcheck // best-effort close on failed init
		return nil, fmt.Errorf("initializing MCP session: %w", err)
	}
	return &stdioClient{c: c}, nil
}

func (s *stdioClient) ListTools(ctx context.Context) ([]string, error) {
	res, err := s.c.ListTools(ctx, mcplib.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	return names, nil
}

func (s *stdioClient) CallTool(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	req := mcplib.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := s.c.CallTool(ctx, req)
	if err != nil {
		return "", false, err
	}
	var texts []string
	for _, content := range res.Content {
		if tc, ok := content.(mcplib.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	return strings.Join(texts, "\n"), res.IsError, nil
}

func (s *stdioClient) Close() error {
	return s.c.Close()
}
