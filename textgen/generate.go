package textgen

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/sweetpotato0/textgen/endpoint"
	errorskg "github.com/sweetpotato0/textgen/errors"
	"github.com/sweetpotato0/textgen/message"
	"github.com/sweetpotato0/textgen/model"
	"github.com/sweetpotato0/textgen/tool"
)

// generate streams the endpoint output for c. Tokens become stream updates,
// the final output becomes the finalAnswer update. A remote job failure is
// reported as a status:error update; other endpoint errors end the sequence.
func (g *Generator) generate(ctx context.Context, c *Context, results []*tool.Result, preprompt string) iter.Seq2[*message.Update, error] {
	return func(yield func(*message.Update, error) bool) {
		if c.Model == nil {
			yield(nil, fmt.Errorf("textgen: model is required: %w", errorskg.ErrInvalidInput))
			return
		}
		ep, err := g.endpoints.Resolve(c.Model)
		if err != nil {
			yield(nil, fmt.Errorf("textgen: %w", err))
			return
		}

		var overrides *model.Settings
		if c.Assistant != nil && c.Assistant.Generate != nil {
			merged := model.Merge(c.Assistant.Generate, c.Settings)
			overrides = &merged
		} else {
			overrides = c.Settings
		}
		stops := model.Merge(&c.Model.Parameters, overrides).Stop

		req := &endpoint.Request{
			Messages:  c.Messages,
			Preprompt: preprompt,
			Continue:  c.Continue,
			Settings:  overrides,
		}
		for _, r := range results {
			req.ToolResults = append(req.ToolResults, r.Endpoint())
		}

		var (
			tokens   strings.Builder
			answered bool
		)
		for out, err := range ep.Generate(ctx, req) {
			if err != nil {
				if errors.Is(err, errorskg.ErrJobFailed) {
					g.logger.Warn("generation job failed", "conversation_id", c.Conversation.ID, "error", err)
					yield(message.NewStatusUpdate(message.StatusError, err.Error()), nil)
					return
				}
				yield(nil, err)
				return
			}
			if out == nil {
				continue
			}
			if out.GeneratedText != "" {
				text, interrupted := trimStops(out.GeneratedText, stops, !out.Token.Special)
				answered = true
				if !yield(message.NewFinalAnswerUpdate(text, interrupted), nil) {
					return
				}
				continue
			}
			if out.Token.Special || out.Token.Text == "" {
				continue
			}
			tokens.WriteString(out.Token.Text)
			if !yield(message.NewStreamUpdate(out.Token.Text), nil) {
				return
			}
		}
		if !answered {
			text, interrupted := trimStops(tokens.String(), stops, true)
			yield(message.NewFinalAnswerUpdate(text, interrupted), nil)
		}
	}
}

// trimStops removes trailing whitespace and stop sequences from text. An
// answer ending with a stop sequence was not interrupted.
func trimStops(text string, stops []string, interrupted bool) (string, bool) {
	text = strings.TrimRight(text, " \t\r\n")
	for _, stop := range stops {
		if stop == "" || !strings.HasSuffix(text, stop) {
			continue
		}
		interrupted = false
		text = strings.TrimSuffix(text, stop)
	}
	return text, interrupted
}
