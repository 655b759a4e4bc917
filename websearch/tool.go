package websearch

import (
	"context"
	"errors"
	"strings"

	"github.com/sweetpotato0/textgen/message"
	"github.com/sweetpotato0/textgen/tool"
)

// ToolName is the name of the web search tool.
const ToolName = "websearch"

// NewTool exposes r as a tool. Search progress is forwarded to the emitter
// of the calling context; the tool output is the rendered page extracts.
func NewTool(r *Runner) *tool.Tool {
	return &tool.Tool{
		Name:        ToolName,
		DisplayName: "Web Search",
		Description: "Search the web for up-to-date information and return the most relevant page extracts.",
		Parameters: []tool.Parameter{
			{Name: "query", Type: "string", Description: "A search query which will be used to fetch the most relevant snippets regarding the user's query", Required: true},
		},
		OnByDefault:   true,
		AssistantSafe: true,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			if strings.TrimSpace(query) == "" {
				return "", errors.New("query cannot be empty")
			}
			ws, ok := r.search(ctx, query, nil, func(u *message.Update) bool { return tool.Emit(ctx, u) })
			if !ok {
				return "", context.Canceled
			}
			if err := ctx.Err(); err != nil {
				return "", err
			}
			if len(ws.Contexts) == 0 {
				return "", errors.New("no web results found")
			}
			tool.Emit(ctx, message.NewWebSearchFinishedUpdate(ws))
			return ws.ContextText(), nil
		},
	}
}
