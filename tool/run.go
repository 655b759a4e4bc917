package tool

import (
	"context"
	"iter"
	"log/slog"

	"github.com/google/uuid"

	"github.com/sweetpotato0/textgen/endpoint"
	"github.com/sweetpotato0/textgen/message"
	"github.com/sweetpotato0/textgen/pkg/logging"
)

// Result is the outcome of one tool call.
type Result struct {
	Call   message.ToolCall
	Output string
	Error  string
}

// Endpoint converts r for an endpoint request.
func (r *Result) Endpoint() endpoint.ToolResult {
	return endpoint.ToolResult{Name: r.Call.Name, Args: r.Call.Args, Output: r.Output, Error: r.Error}
}

// Runner plans and executes tool calls.
type Runner struct {
	planner Planner
	logger  *slog.Logger
}

// NewRunner creates a runner that asks planner which tools to call.
func NewRunner(planner Planner) *Runner {
	return &Runner{planner: planner, logger: logging.WithComponent("tool")}
}

// Run plans the calls for in and executes them one after the other. Each call
// yields a call update, the updates the tool emits while running, then a
// result or error update whose Payload is the *Result. A failing tool or
// planner never ends the sequence with an error.
func (r *Runner) Run(ctx context.Context, in RunInput, tools []*Tool, preprompt string) iter.Seq2[*message.Update, error] {
	return func(yield func(*message.Update, error) bool) {
		if len(tools) == 0 || r.planner == nil {
			return
		}
		calls, err := r.planner.Plan(ctx, in, tools, preprompt)
		if err != nil {
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}
			r.logger.Warn("tool planning failed", "conversation_id", in.ConversationID, "error", err)
			return
		}

		byName := make(map[string]*Tool, len(tools))
		for _, t := range tools {
			byName[t.Name] = t
		}

		for _, call := range calls {
			if call.ID == "" {
				call.ID = uuid.NewString()
			}
			t, ok := byName[call.Name]
			if !ok {
				continue
			}
			if !yield(message.NewToolCallUpdate(call), nil) {
				return
			}

			stopped := false
			toolCtx := WithEmitter(ctx, func(u *message.Update) bool {
				if stopped {
					return false
				}
				if u.Type == message.UpdateTool && u.Tool != nil && u.Tool.UUID == "" {
					u.Tool.UUID = call.ID
				}
				if !yield(u, nil) {
					stopped = true
				}
				return !stopped
			})
			output, err := t.Execute(toolCtx, call.Args)
			if stopped {
				return
			}

			res := &Result{Call: call, Output: output}
			var u *message.Update
			if err != nil {
				res.Error = err.Error()
				r.logger.Warn("tool call failed", "tool", call.Name, "conversation_id", in.ConversationID, "error", err)
				u = message.NewToolErrorUpdate(call, res.Error, res)
			} else {
				u = message.NewToolResultUpdate(call, output, res)
			}
			if !yield(u, nil) {
				return
			}
		}
	}
}
