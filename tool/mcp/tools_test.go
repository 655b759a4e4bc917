package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// newTestClient connects a client to an in-memory server prepared by setup.
func newTestClient(t *testing.T, setup func(*sdkmcp.Server)) *Client {
	t.Helper()
	ctx := context.Background()

	server := sdkmcp.NewServer(&sdkmcp.Implementation{Name: "test-server", Version: "v0.0.1"}, nil)
	setup(server)
	serverTransport, clientTransport := sdkmcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })

	c, err := connect(ctx, newConfig(nil), clientTransport)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func echoServer(s *sdkmcp.Server) {
	s.AddTool(&sdkmcp.Tool{
		Name:        "echo",
		Title:       "Echo",
		Description: "Repeats its input.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string", "description": "text to repeat"},
			},
			"required": []any{"text"},
		},
	}, func(_ context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
		var in struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(req.Params.Arguments, &in); err != nil {
			return nil, err
		}
		return &sdkmcp.CallToolResult{Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: "echo: " + in.Text}}}, nil
	})
	s.AddTool(&sdkmcp.Tool{
		Name:        "fail",
		InputSchema: map[string]any{"type": "object"},
	}, func(context.Context, *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
		return &sdkmcp.CallToolResult{
			IsError: true,
			Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: "quota exceeded"}},
		}, nil
	})
}

func TestClientTools(t *testing.T) {
	c := newTestClient(t, echoServer)
	ctx := context.Background()

	tools, err := c.Tools(ctx)
	if err != nil {
		t.Fatalf("Tools: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
	byName := map[string]int{}
	for i, tl := range tools {
		byName[tl.Name] = i
	}
	echo := tools[byName["echo"]]
	if echo.DisplayName != "Echo" || echo.Description != "Repeats its input." {
		t.Errorf("unexpected echo tool %+v", echo)
	}
	if echo.OnByDefault || echo.AssistantSafe {
		t.Error("expected remote tools to be opt-in")
	}
	if len(echo.Parameters) != 1 || !echo.Parameters[0].Required || echo.Parameters[0].Type != "string" {
		t.Errorf("unexpected parameters %+v", echo.Parameters)
	}

	out, err := echo.Execute(ctx, map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "echo: hi" {
		t.Errorf("expected echo output, got %q", out)
	}

	_, err = tools[byName["fail"]].Execute(ctx, nil)
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected ToolError, got %v", err)
	}
	if toolErr.Name != "fail" || toolErr.Message != "quota exceeded" {
		t.Errorf("unexpected tool error %+v", toolErr)
	}
}

func TestClosedClient(t *testing.T) {
	c := &Client{}
	if _, err := c.Tools(context.Background()); !errors.Is(err, ErrClientClosed) {
		t.Errorf("expected ErrClientClosed, got %v", err)
	}
	if _, err := c.CallTool(context.Background(), "echo", nil); !errors.Is(err, ErrClientClosed) {
		t.Errorf("expected ErrClientClosed, got %v", err)
	}
}

func TestOnProgressRoutesByToken(t *testing.T) {
	c := &Client{}
	ch := make(chan string, 1)
	c.progress.Store("tok-1", ch)

	notify := func(p *sdkmcp.ProgressNotificationParams) {
		c.onProgress(context.Background(), &sdkmcp.ProgressNotificationClientRequest{Params: p})
	}
	notify(&sdkmcp.ProgressNotificationParams{ProgressToken: "other", Progress: 1})
	notify(&sdkmcp.ProgressNotificationParams{ProgressToken: "tok-1", Progress: 1, Total: 4})

	select {
	case got := <-ch:
		if got != "1/4" {
			t.Errorf("expected 1/4, got %q", got)
		}
	default:
		t.Fatal("expected a progress message")
	}
	if len(ch) != 0 {
		t.Error("expected notifications for other tokens to be dropped")
	}
	c.onProgress(context.Background(), nil)
}

func TestProgressText(t *testing.T) {
	tests := []struct {
		params sdkmcp.ProgressNotificationParams
		want   string
	}{
		{sdkmcp.ProgressNotificationParams{Message: "indexing"}, "indexing"},
		{sdkmcp.ProgressNotificationParams{Progress: 2, Total: 5}, "2/5"},
		{sdkmcp.ProgressNotificationParams{Progress: 0.5}, "0.5"},
	}
	for _, tt := range tests {
		if got := progressText(&tt.params); got != tt.want {
			t.Errorf("progressText(%+v) = %q, want %q", tt.params, got, tt.want)
		}
	}
}

func TestCallOutput(t *testing.T) {
	tests := []struct {
		name    string
		res     *sdkmcp.CallToolResult
		want    string
		wantErr string
	}{
		{
			name: "text and resource link",
			res: &sdkmcp.CallToolResult{Content: []sdkmcp.Content{
				&sdkmcp.TextContent{Text: "hello"},
				&sdkmcp.ResourceLink{URI: "file://foo", Name: "foo.txt"},
			}},
			want: "hello\n",
		},
		{
			name: "structured only",
			res:  &sdkmcp.CallToolResult{StructuredContent: map[string]any{"temp": 21}},
			want: `{"temp":21}`,
		},
		{
			name:    "error without message",
			res:     &sdkmcp.CallToolResult{IsError: true},
			wantErr: "without message",
		},
		{name: "nil result", wantErr: "empty response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := callOutput("weather", tt.res)
			if tt.wantErr != "" {
				var toolErr *ToolError
				if !errors.As(err, &toolErr) || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected ToolError mentioning %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.HasPrefix(got, tt.want) {
				t.Errorf("expected output starting with %q, got %q", tt.want, got)
			}
		})
	}
}

func TestParameters(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "search query"},
			"limit": map[string]any{"type": []any{"integer", "null"}, "default": 10},
			"mode":  map[string]any{"enum": []any{"fast", "deep"}},
			"tags":  map[string]any{"items": map[string]any{"type": "string"}},
		},
		"required": []any{"query"},
	}

	params := parameters(schema)
	if len(params) != 4 {
		t.Fatalf("expected 4 parameters, got %d", len(params))
	}
	names := []string{params[0].Name, params[1].Name, params[2].Name, params[3].Name}
	if strings.Join(names, ",") != "limit,mode,query,tags" {
		t.Fatalf("expected parameters sorted by name, got %v", names)
	}
	if params[0].Type != "integer" || params[0].Default != float64(10) {
		t.Errorf("unexpected limit parameter %+v", params[0])
	}
	if params[1].Type != "string" || len(params[1].Enum) != 2 {
		t.Errorf("unexpected mode parameter %+v", params[1])
	}
	if !params[2].Required || params[2].Description != "search query" {
		t.Errorf("unexpected query parameter %+v", params[2])
	}
	if params[3].Type != "array" || params[3].Required {
		t.Errorf("unexpected tags parameter %+v", params[3])
	}

	if got := parameters(map[string]any{"type": "string"}); got != nil {
		t.Errorf("expected no parameters for a non-object schema, got %+v", got)
	}
	if got := parameters(nil); got != nil {
		t.Errorf("expected no parameters for a missing schema, got %+v", got)
	}
}
