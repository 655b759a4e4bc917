// Package preprocess prepares conversation messages for an endpoint.
package preprocess

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sweetpotato0/textgen/message"
	"github.com/sweetpotato0/textgen/pkg/logging"
	"github.com/sweetpotato0/textgen/tokenizer"
	"github.com/sweetpotato0/textgen/websearch"
)

// Preprocessor merges, trims and augments messages before generation.
type Preprocessor struct {
	tok       tokenizer.Tokenizer
	maxTokens int
	now       func() time.Time
	logger    *slog.Logger
}

// Option customizes a Preprocessor.
type Option func(*Preprocessor)

// WithTokenizer sets the tokenizer used to measure the history.
func WithTokenizer(t tokenizer.Tokenizer) Option {
	return func(p *Preprocessor) {
		if t != nil {
			p.tok = t
		}
	}
}

// WithMaxTokens bounds the history. Zero disables trimming.
func WithMaxTokens(n int) Option {
	return func(p *Preprocessor) { p.maxTokens = n }
}

// WithClock overrides the clock used for the date in web search context.
func WithClock(now func() time.Time) Option {
	return func(p *Preprocessor) { p.now = now }
}

// New creates a Preprocessor.
func New(opts ...Option) *Preprocessor {
	p := &Preprocessor{
		tok:    tokenizer.NewSimpleTokenizer(),
		now:    time.Now,
		logger: logging.WithComponent("preprocess"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Messages returns a new slice ready for the prompt builder: consecutive
// messages of the same role are merged, the web search context (when
// present) is injected into the last user message and the oldest turns are
// dropped until the history fits the token budget. The input is not modified.
func (p *Preprocessor) Messages(ctx context.Context, messages []*message.Message, ws *websearch.WebSearch, convID string) ([]*message.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := mergeConsecutive(messages)
	if ws != nil && len(ws.Contexts) > 0 {
		p.injectWebSearch(out, ws)
	}
	if p.maxTokens > 0 {
		before := len(out)
		out = p.trim(out)
		if dropped := before - len(out); dropped > 0 {
			p.logger.Debug("history trimmed", "conversation_id", convID, "dropped", dropped, "max_tokens", p.maxTokens)
		}
	}
	return out, nil
}

func mergeConsecutive(messages []*message.Message) []*message.Message {
	out := make([]*message.Message, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == msg.Role && msg.Role != message.RoleSystem {
			out[n-1].Content = out[n-1].Content + "\n\n" + msg.Content
			continue
		}
		out = append(out, message.Clone(msg))
	}
	return out
}

func (p *Preprocessor) injectWebSearch(messages []*message.Message, ws *websearch.WebSearch) {
	var last *message.Message
	var previous []string
	for _, msg := range messages {
		if msg.Role != message.RoleUser {
			continue
		}
		if last != nil {
			previous = append(previous, last.Content)
		}
		last = msg
	}
	if last == nil {
		return
	}

	var prev string
	if len(previous) > 0 {
		prev = "Previous questions: \n- " + strings.Join(previous, "\n- ")
	}
	last.Content = fmt.Sprintf(`I searched the web using the query: %s.
Today is %s and here are the results.
When answering the question, if you use sources, cite them in the answer with their index:
=====================
%s
=====================
%s
Answer the question: %s`, ws.SearchQuery, p.now().Format("January 2, 2006"), ws.ContextText(), prev, last.Content)
}

// trim drops the oldest non-system messages until the total fits. The
// system prompt and the last message are always kept.
func (p *Preprocessor) trim(messages []*message.Message) []*message.Message {
	total := 0
	for _, msg := range messages {
		total += p.tok.CountTokens(msg.Content)
	}
	for total > p.maxTokens {
		i := 0
		for i < len(messages)-1 && messages[i].Role == message.RoleSystem {
			i++
		}
		if i >= len(messages)-1 {
			break
		}
		total -= p.tok.CountTokens(messages[i].Content)
		messages = append(messages[:i], messages[i+1:]...)
	}
	return messages
}
