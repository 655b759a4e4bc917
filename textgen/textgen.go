// Package textgen generates the answer of a conversation turn as an ordered
// sequence of message updates.
//
// A generation resolves the assistant, optionally searches the web or runs
// tools, preprocesses the history and streams the endpoint output. Every
// step reports progress as *message.Update values; collaborators that fail
// mid-way are reported as updates rather than ending the sequence.
package textgen

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sweetpotato0/textgen/assistant"
	"github.com/sweetpotato0/textgen/endpoint"
	errorskg "github.com/sweetpotato0/textgen/errors"
	"github.com/sweetpotato0/textgen/message"
	"github.com/sweetpotato0/textgen/pkg/logging"
	"github.com/sweetpotato0/textgen/pkg/telemetry"
	"github.com/sweetpotato0/textgen/tool"
	"github.com/sweetpotato0/textgen/websearch"
)

// WebSearcher runs a web search for the last user message.
// The final webSearch/finished update carries the *websearch.WebSearch.
type WebSearcher interface {
	Run(ctx context.Context, convID string, messages []*message.Message, rag *assistant.RAG) iter.Seq2[*message.Update, error]
}

// PrepromptProcessor expands a dynamic preprompt.
type PrepromptProcessor interface {
	Process(ctx context.Context, preprompt string) (string, error)
}

// ToolRunner plans and runs tool calls. Result updates carry a *tool.Result.
type ToolRunner interface {
	Run(ctx context.Context, in tool.RunInput, tools []*tool.Tool, preprompt string) iter.Seq2[*message.Update, error]
}

// MessagePreprocessor prepares the history for the endpoint.
type MessagePreprocessor interface {
	Messages(ctx context.Context, messages []*message.Message, ws *websearch.WebSearch, convID string) ([]*message.Message, error)
}

// Generator produces answers.
type Generator struct {
	endpoints    endpoint.Resolver
	assistants   assistant.Store
	webSearch    WebSearcher
	preprompts   PrepromptProcessor
	tools        *tool.Registry
	toolRunner   ToolRunner
	preprocessor MessagePreprocessor
	title        *TitleGenerator
	logger       *slog.Logger
	tracer       trace.Tracer
}

// Option configures a Generator.
type Option func(*Generator)

// WithAssistantStore resolves assistants referenced by id only.
func WithAssistantStore(s assistant.Store) Option {
	return func(g *Generator) { g.assistants = s }
}

// WithWebSearch enables standalone web searches.
func WithWebSearch(w WebSearcher) Option {
	return func(g *Generator) { g.webSearch = w }
}

// WithPrepromptProcessor enables dynamic assistant preprompts.
func WithPrepromptProcessor(p PrepromptProcessor) Option {
	return func(g *Generator) { g.preprompts = p }
}

// WithTools enables tool calls for models that support them.
func WithTools(reg *tool.Registry, runner ToolRunner) Option {
	return func(g *Generator) {
		g.tools = reg
		g.toolRunner = runner
	}
}

// WithPreprocessor sets the message preprocessor.
func WithPreprocessor(p MessagePreprocessor) Option {
	return func(g *Generator) {
		if p != nil {
			g.preprocessor = p
		}
	}
}

// WithTitleGenerator names new conversations alongside the answer.
func WithTitleGenerator(t *TitleGenerator) Option {
	return func(g *Generator) { g.title = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates a Generator that picks endpoints from endpoints.
func New(endpoints endpoint.Resolver, opts ...Option) (*Generator, error) {
	if endpoints == nil {
		return nil, fmt.Errorf("textgen: endpoint resolver is required: %w", errorskg.ErrInvalidInput)
	}
	g := &Generator{
		endpoints:    endpoints,
		preprocessor: passthrough{},
		logger:       logging.WithComponent("textgen"),
		tracer:       telemetry.Tracer("textgen"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// TextGeneration generates the answer for c. The first update is always
// status:started. When a title generator is configured, the title update is
// merged into the sequence. The sequence only fails on setup or transport
// errors; everything else is reported as updates.
func (g *Generator) TextGeneration(ctx context.Context, c *Context) iter.Seq2[*message.Update, error] {
	if g.title == nil {
		return g.textGenerationWithoutTitle(ctx, c)
	}

	started := make(chan struct{})
	var once sync.Once
	primary := func(ctx context.Context) iter.Seq2[*message.Update, error] {
		return func(yield func(*message.Update, error) bool) {
			defer once.Do(func() { close(started) })
			for u, err := range g.textGenerationWithoutTitle(ctx, c) {
				if !yield(u, err) {
					return
				}
				once.Do(func() { close(started) })
			}
		}
	}
	title := func(ctx context.Context) iter.Seq2[*message.Update, error] {
		return func(yield func(*message.Update, error) bool) {
			select {
			case <-started:
			case <-ctx.Done():
				return
			}
			for u, err := range g.title.Generate(ctx, c.Conversation, c.Messages) {
				if !yield(u, err) {
					return
				}
			}
		}
	}
	return Merge(ctx, primary, title)
}

func (g *Generator) textGenerationWithoutTitle(ctx context.Context, c *Context) iter.Seq2[*message.Update, error] {
	return func(yield func(*message.Update, error) bool) {
		if !yield(message.NewStatusUpdate(message.StatusStarted, ""), nil) {
			return
		}

		ctx, span := g.tracer.Start(ctx, "textgen.generation", trace.WithAttributes(
			attribute.String("conversation_id", c.Conversation.ID),
		))
		var err error
		defer func() { telemetry.End(span, err) }()

		a := c.Assistant
		if a == nil {
			if a, err = resolveAssistant(ctx, g.assistants, c.Conversation.AssistantID); err != nil {
				yield(nil, err)
				return
			}
		}
		conv := c.Conversation
		messages := c.Messages
		convID := conv.ID
		logger := g.logger.With("conversation_id", convID)
		if c.Model != nil {
			logger = logger.With("model", c.Model.Name)
		}

		var rag *assistant.RAG
		if a != nil {
			rag = a.RAG
		}
		var ws *websearch.WebSearch
		if g.webSearch != nil && !c.Continue && (c.Model == nil || !c.Model.Tools) &&
			((c.WebSearch && conv.AssistantID == "") || a.HasWebSearch()) {
			for u, serr := range g.webSearch.Run(ctx, convID, messages, rag) {
				if serr != nil {
					err = serr
					yield(nil, err)
					return
				}
				if res, ok := u.Payload.(*websearch.WebSearch); ok {
					ws = res
				}
				if !yield(u, nil) {
					return
				}
			}
		}

		preprompt := conv.Preprompt
		if preprompt == "" && a != nil {
			preprompt = a.Preprompt
		}
		if a.HasDynamicPrompt() && preprompt != "" && g.preprompts != nil {
			processed, perr := g.preprompts.Process(ctx, preprompt)
			if perr != nil {
				logger.Warn("preprompt processing failed", "error", perr)
			} else {
				preprompt = processed
				if len(messages) > 0 && messages[0] != nil && messages[0].Role == message.RoleSystem {
					messages = append([]*message.Message(nil), messages...)
					messages[0] = message.Clone(messages[0])
					messages[0].Content = preprompt
				}
			}
		}

		var results []*tool.Result
		if g.toolRunner != nil && c.Model != nil && c.Model.Tools {
			preference := c.ToolsPreference
			if a != nil {
				preference = make(map[string]bool, len(a.Tools))
				for _, name := range a.Tools {
					preference[name] = true
				}
			}
			tools := tool.Pick(g.tools, preference, a != nil)
			in := tool.RunInput{ConversationID: convID, Messages: messages}
			for u, terr := range g.toolRunner.Run(ctx, in, tools, preprompt) {
				if terr != nil {
					err = terr
					yield(nil, err)
					return
				}
				if res, ok := u.Payload.(*tool.Result); ok {
					results = append(results, res)
				}
				if !yield(u, nil) {
					return
				}
			}
		}

		processed, err := g.preprocessor.Messages(ctx, messages, ws, convID)
		if err != nil {
			err = fmt.Errorf("textgen: preprocess messages: %w", err)
			yield(nil, err)
			return
		}

		gc := *c
		gc.Assistant = a
		gc.Messages = processed
		for u, gerr := range g.generate(ctx, &gc, results, preprompt) {
			if gerr != nil {
				err = gerr
				logger.Error("generation failed", "error", err)
				yield(nil, err)
				return
			}
			if !yield(u, nil) {
				return
			}
		}
	}
}

type passthrough struct{}

func (passthrough) Messages(_ context.Context, messages []*message.Message, _ *websearch.WebSearch, _ string) ([]*message.Message, error) {
	return messages, nil
}
