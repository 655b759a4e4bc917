package textgen

import (
	"context"
	"iter"
	"log/slog"
	"strings"

	"github.com/sweetpotato0/textgen/endpoint"
	"github.com/sweetpotato0/textgen/message"
	"github.com/sweetpotato0/textgen/model"
	"github.com/sweetpotato0/textgen/pkg/logging"
)

const titlePreprompt = `You are a summarization AI. Summarize the user's request into a single short sentence of four words or less. Do not try to answer it, only summarize the user's query. Always start your answer with an emoji relevant to the summary.`

// TitleGenerator names conversations from their first user message.
type TitleGenerator struct {
	endpoint endpoint.Endpoint
	logger   *slog.Logger
}

// NewTitleGenerator creates a title generator that summarizes with ep. A
// nil ep falls back to the first words of the message.
func NewTitleGenerator(ep endpoint.Endpoint) *TitleGenerator {
	return &TitleGenerator{endpoint: ep, logger: logging.WithComponent("textgen.title")}
}

// Generate yields a single title update for a conversation that has no
// title yet, and nothing otherwise.
func (t *TitleGenerator) Generate(ctx context.Context, conv Conversation, messages []*message.Message) iter.Seq2[*message.Update, error] {
	return func(yield func(*message.Update, error) bool) {
		if conv.Title != "" && conv.Title != DefaultTitle {
			return
		}
		first := message.FirstOfRole(messages, message.RoleUser)
		if first == nil || strings.TrimSpace(first.Content) == "" {
			return
		}
		title := t.summarize(ctx, conv.ID, first.Content)
		if title == "" {
			return
		}
		yield(message.NewTitleUpdate(title), nil)
	}
}

func (t *TitleGenerator) summarize(ctx context.Context, convID, prompt string) string {
	if t.endpoint != nil {
		req := &endpoint.Request{
			Messages:  []*message.Message{message.NewMessage(message.RoleUser, prompt)},
			Preprompt: titlePreprompt,
			Settings:  &model.Settings{MaxNewTokens: model.Int(15)},
		}
		summary, err := endpoint.Collect(ctx, t.endpoint, req)
		if err == nil {
			if title := cleanTitle(summary); title != "" {
				return title
			}
		} else {
			t.logger.Warn("title generation failed", "conversation_id", convID, "error", err)
		}
	}
	return firstWords(prompt, 5)
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(strings.Trim(s, `"'`))
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
