package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/sweetpotato0/textgen/endpoint"
	errorskg "github.com/sweetpotato0/textgen/errors"
	"github.com/sweetpotato0/textgen/message"
	"github.com/sweetpotato0/textgen/prompt"
)

// DirectAnswer is the pseudo tool a planner selects when no tool is needed.
const DirectAnswer = "directly_answer"

// RunInput is the conversation a tool plan is made for.
type RunInput struct {
	ConversationID string
	Messages       []*message.Message
}

// Planner decides which tools to call, and with which arguments.
type Planner interface {
	Plan(ctx context.Context, in RunInput, tools []*Tool, preprompt string) ([]message.ToolCall, error)
}

// PlannerFunc adapts a function to the Planner interface.
type PlannerFunc func(ctx context.Context, in RunInput, tools []*Tool, preprompt string) ([]message.ToolCall, error)

// Plan calls f.
func (f PlannerFunc) Plan(ctx context.Context, in RunInput, tools []*Tool, preprompt string) ([]message.ToolCall, error) {
	return f(ctx, in, tools, preprompt)
}

// EndpointPlanner asks a model for a JSON list of tool calls.
type EndpointPlanner struct {
	Endpoint endpoint.Endpoint
}

// Plan implements Planner.
func (p *EndpointPlanner) Plan(ctx context.Context, in RunInput, tools []*Tool, preprompt string) ([]message.ToolCall, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	if p.Endpoint == nil {
		return nil, fmt.Errorf("tool planner: no endpoint: %w", errorskg.ErrInvalidInput)
	}
	instructions, err := planInstructions(tools, preprompt)
	if err != nil {
		return nil, err
	}

	messages := make([]*message.Message, 0, len(in.Messages))
	for _, msg := range in.Messages {
		if msg != nil && msg.Role != message.RoleSystem {
			messages = append(messages, msg)
		}
	}
	text, err := endpoint.Collect(ctx, p.Endpoint, &endpoint.Request{
		Messages:  messages,
		Preprompt: instructions,
	})
	if err != nil {
		return nil, fmt.Errorf("tool planner: %w", err)
	}
	return ParseCalls(text, tools)
}

func planInstructions(tools []*Tool, preprompt string) (string, error) {
	schemas := make([]map[string]any, 0, len(tools)+1)
	for _, t := range tools {
		schemas = append(schemas, t.ToJSONSchema())
	}
	schemas = append(schemas, (&Tool{
		Name:        DirectAnswer,
		Description: "Answer the user without calling any tool.",
	}).ToJSONSchema())
	defs, err := json.MarshalIndent(schemas, "", "  ")
	if err != nil {
		return "", fmt.Errorf("tool planner: marshal tools: %w", err)
	}

	b := prompt.NewBuilder()
	if preprompt != "" {
		b.AddLine(preprompt).AddLine("")
	}
	b.AddSection("Available tools", string(defs)).
		AddLine("Decide which tools, if any, help answer the last user message.").
		AddLine(`Reply with a JSON array only, like [{"name": "tool_name", "arguments": {"param": "value"}}].`).
		AddFormat(`Reply with [{"name": %q, "arguments": {}}] when no tool is needed.`, DirectAnswer)
	return b.Build(), nil
}

// ParseCalls extracts tool calls from model output. Text around the JSON
// array is ignored, as are calls to unknown tools and to DirectAnswer.
func ParseCalls(text string, tools []*Tool) ([]message.ToolCall, error) {
	start, end := strings.Index(text, "["), strings.LastIndex(text, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("tool planner: no JSON array in %q: %w", text, errorskg.ErrProtocol)
	}
	raw := text[start : end+1]
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("tool planner: invalid JSON %q: %w", raw, errorskg.ErrProtocol)
	}

	known := make(map[string]bool, len(tools))
	for _, t := range tools {
		known[t.Name] = true
	}

	var calls []message.ToolCall
	gjson.Parse(raw).ForEach(func(_, item gjson.Result) bool {
		name := item.Get("name").String()
		if name == DirectAnswer || !known[name] {
			return true
		}
		args, _ := item.Get("arguments").Value().(map[string]any)
		if args == nil {
			args = map[string]any{}
		}
		calls = append(calls, message.ToolCall{ID: uuid.NewString(), Name: name, Args: args})
		return true
	})
	return calls, nil
}
