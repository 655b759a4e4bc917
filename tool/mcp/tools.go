package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/tidwall/gjson"

	"github.com/sweetpotato0/textgen/message"
	"github.com/sweetpotato0/textgen/tool"
)

// ToolError is a call the MCP server answered with isError set. The tool
// runner reports it as a tool error update.
type ToolError struct {
	Name    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("mcp tool %s: %s", e.Name, e.Message)
}

// progressBuffer bounds the progress notifications queued for one call.
const progressBuffer = 16

// ListAllTools returns every tool of the server, following pagination.
func (c *Client) ListAllTools(ctx context.Context) ([]*sdkmcp.Tool, error) {
	if c.session == nil {
		return nil, ErrClientClosed
	}
	var tools []*sdkmcp.Tool
	params := &sdkmcp.ListToolsParams{}
	for {
		res, err := c.session.ListTools(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("mcp: list tools: %w", err)
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" {
			return tools, nil
		}
		params.Cursor = res.NextCursor
	}
}

// CallTool runs a remote tool. Progress notifications of the server are
// forwarded to the emitter of ctx as tool progress updates while the call
// is running.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if c.session == nil {
		return "", ErrClientClosed
	}
	if args == nil {
		args = map[string]any{}
	}

	token := uuid.NewString()
	progress := make(chan string, progressBuffer)
	c.progress.Store(token, progress)
	defer c.progress.Delete(token)

	params := &sdkmcp.CallToolParams{Name: name, Arguments: args}
	params.SetProgressToken(token)

	type outcome struct {
		res *sdkmcp.CallToolResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := c.session.CallTool(ctx, params)
		done <- outcome{res, err}
	}()

	for {
		select {
		case msg := <-progress:
			tool.Emit(ctx, message.NewToolProgressUpdate(name, msg))
		case out := <-done:
			if out.err != nil {
				return "", fmt.Errorf("mcp tool %s: %w", name, out.err)
			}
			return callOutput(name, out.res)
		}
	}
}

func (c *Client) onProgress(_ context.Context, req *sdkmcp.ProgressNotificationClientRequest) {
	if req == nil || req.Params == nil {
		return
	}
	v, ok := c.progress.Load(req.Params.ProgressToken)
	if !ok {
		return
	}
	select {
	case v.(chan string) <- progressText(req.Params):
	default:
	}
}

func progressText(p *sdkmcp.ProgressNotificationParams) string {
	switch {
	case p.Message != "":
		return p.Message
	case p.Total > 0:
		return fmt.Sprintf("%g/%g", p.Progress, p.Total)
	default:
		return fmt.Sprintf("%g", p.Progress)
	}
}

// callOutput turns a call result into the tool output. Text content is
// joined by lines; structured content is used when there is no content.
func callOutput(name string, res *sdkmcp.CallToolResult) (string, error) {
	if res == nil {
		return "", &ToolError{Name: name, Message: "empty response"}
	}
	text := contentText(res.Content)
	if text == "" && res.StructuredContent != nil {
		if data, err := json.Marshal(res.StructuredContent); err == nil {
			text = string(data)
		}
	}
	if res.IsError {
		if text == "" {
			text = "tool returned error without message"
		}
		return "", &ToolError{Name: name, Message: text}
	}
	return text, nil
}

func contentText(content []sdkmcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		if v, ok := c.(*sdkmcp.TextContent); ok {
			parts = append(parts, v.Text)
			continue
		}
		if data, err := c.MarshalJSON(); err == nil {
			parts = append(parts, string(data))
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// Tools lists the server's tools as registry tools. Remote tools are
// opt-in: they are neither on by default nor offered to assistants.
func (c *Client) Tools(ctx context.Context) ([]*tool.Tool, error) {
	defs, err := c.ListAllTools(ctx)
	if err != nil {
		return nil, err
	}
	tools := make([]*tool.Tool, 0, len(defs))
	for _, def := range defs {
		if def != nil && def.Name != "" {
			tools = append(tools, c.remoteTool(def))
		}
	}
	return tools, nil
}

func (c *Client) remoteTool(def *sdkmcp.Tool) *tool.Tool {
	t := &tool.Tool{
		Name:        def.Name,
		DisplayName: def.Title,
		Description: def.Description,
		Parameters:  parameters(def.InputSchema),
	}
	if def.Annotations != nil && def.Annotations.Title != "" {
		if t.DisplayName == "" {
			t.DisplayName = def.Annotations.Title
		}
		if t.Description == "" {
			t.Description = def.Annotations.Title
		}
	}
	name := def.Name
	t.Handler = func(ctx context.Context, args map[string]any) (string, error) {
		return c.CallTool(ctx, name, args)
	}
	return t
}

// parameters reads the top-level properties of an object JSON schema,
// sorted by name.
func parameters(schema any) []tool.Parameter {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	s := gjson.ParseBytes(data)
	if !strings.EqualFold(schemaType(s.Get("type")), "object") {
		return nil
	}

	required := make(map[string]bool)
	for _, r := range s.Get("required").Array() {
		required[r.String()] = true
	}

	var params []tool.Parameter
	s.Get("properties").ForEach(func(key, prop gjson.Result) bool {
		if !prop.IsObject() {
			return true
		}
		p := tool.Parameter{
			Name:        key.String(),
			Type:        schemaType(prop.Get("type")),
			Description: prop.Get("description").String(),
			Required:    required[key.String()],
		}
		if d := prop.Get("default"); d.Exists() {
			p.Default = d.Value()
		}
		for _, e := range prop.Get("enum").Array() {
			p.Enum = append(p.Enum, e.String())
		}
		if p.Type == "" {
			switch {
			case prop.Get("items").Exists():
				p.Type = "array"
			case prop.Get("properties").Exists():
				p.Type = "object"
			default:
				p.Type = "string"
			}
		}
		params = append(params, p)
		return true
	})
	sort.Slice(params, func(i, j int) bool { return params[i].Name < params[j].Name })
	return params
}

// schemaType returns the first non-null type of a "type" keyword, which may
// be a string or a list.
func schemaType(v gjson.Result) string {
	if !v.IsArray() {
		return v.String()
	}
	for _, t := range v.Array() {
		if t.String() != "null" {
			return t.String()
		}
	}
	return ""
}
