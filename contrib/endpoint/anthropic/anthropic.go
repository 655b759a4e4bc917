// Package anthropic implements a streaming endpoint over the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sweetpotato0/textgen/config"
	"github.com/sweetpotato0/textgen/endpoint"
	"github.com/sweetpotato0/textgen/message"
	"github.com/sweetpotato0/textgen/model"
	"github.com/sweetpotato0/textgen/pkg/logging"
	"github.com/sweetpotato0/textgen/pkg/telemetry"
)

// Type is the endpoint type tag in configuration.
const Type = "anthropic"

// DefaultMaxTokens is used when no max_new_tokens setting applies; the API
// requires one.
const DefaultMaxTokens = 4096

// Endpoint streams messages from Claude models.
type Endpoint struct {
	client    anthropic.Client
	model     *model.Model
	modelName string
	logger    *slog.Logger
	tracer    trace.Tracer
}

// New validates cfg and creates the endpoint.
func New(cfg endpoint.Config, opts ...option.RequestOption) (*Endpoint, error) {
	v := config.NewValidator()
	v.Require("type", cfg.Type == Type, fmt.Sprintf("type must be %q, got %q", Type, cfg.Type))
	v.Require("model", cfg.Model != nil, "model is required")
	if cfg.BaseURL != "" {
		v.RequireURL("base_url", cfg.BaseURL)
	}
	if err := v.Error(); err != nil {
		return nil, fmt.Errorf("anthropic endpoint: %w", err)
	}

	name := cfg.ModelName
	if name == "" {
		name = cfg.Model.Name
	}
	options := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithAuthToken(""),
	}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	options = append(options, opts...)

	return &Endpoint{
		client:    anthropic.NewClient(options...),
		model:     cfg.Model,
		modelName: name,
		logger:    logging.WithComponent("endpoint.anthropic"),
		tracer:    telemetry.Tracer("endpoint/anthropic"),
	}, nil
}

// Factory builds Anthropic endpoints for an endpoint.Registry.
func Factory(cfg endpoint.Config) (endpoint.Endpoint, error) {
	return New(cfg)
}

// Generate streams one output per text delta, then a final output with the
// whole answer. The final token is special when the model ended its turn or
// hit a stop sequence.
func (e *Endpoint) Generate(ctx context.Context, req *endpoint.Request) iter.Seq2[*endpoint.TokenOutput, error] {
	return func(yield func(*endpoint.TokenOutput, error) bool) {
		ctx, span := e.tracer.Start(ctx, "textgen.endpoint.anthropic", trace.WithAttributes(
			attribute.String("model", e.modelName),
		))
		var err error
		defer func() { telemetry.End(span, err) }()

		stream := e.client.Messages.NewStreaming(ctx, e.params(req))
		defer stream.Close()

		var (
			text       strings.Builder
			n          int
			stopReason string
		)
		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "content_block_delta":
				delta := event.AsContentBlockDelta()
				if delta.Delta.Type != "text_delta" || delta.Delta.Text == "" {
					continue
				}
				text.WriteString(delta.Delta.Text)
				out := &endpoint.TokenOutput{Token: endpoint.Token{ID: n, Text: delta.Delta.Text}}
				n++
				if !yield(out, nil) {
					return
				}
			case "message_delta":
				stopReason = string(event.AsMessageDelta().Delta.StopReason)
			}
		}
		if err = stream.Err(); err != nil {
			err = fmt.Errorf("anthropic: stream: %w", err)
			yield(nil, err)
			return
		}

		e.logger.Debug("message finished", "model", e.modelName, "tokens", n, "stop_reason", stopReason)
		yield(&endpoint.TokenOutput{
			Token:         endpoint.Token{ID: n, Special: stopReason == "end_turn" || stopReason == "stop_sequence"},
			GeneratedText: text.String(),
			Details:       &endpoint.Details{FinishReason: stopReason, GeneratedTokens: n},
		}, nil)
	}
}

func (e *Endpoint) params(req *endpoint.Request) anthropic.MessageNewParams {
	sys, turns := endpoint.ChatTurns(req)
	msgs := make([]anthropic.MessageParam, 0, len(turns))
	for _, msg := range turns {
		switch msg.Role {
		case message.RoleUser:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case message.RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	s := model.Merge(&e.model.Parameters, req.Settings)
	maxTokens := int64(DefaultMaxTokens)
	if s.MaxNewTokens != nil {
		maxTokens = int64(*s.MaxNewTokens)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(e.modelName),
		Messages:  msgs,
		MaxTokens: maxTokens,
	}
	if sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}
	if s.Temperature != nil {
		params.Temperature = param.NewOpt(*s.Temperature)
	}
	if s.TopP != nil {
		params.TopP = param.NewOpt(*s.TopP)
	}
	if s.TopK != nil {
		params.TopK = param.NewOpt(int64(*s.TopK))
	}
	if len(s.Stop) > 0 {
		params.StopSequences = s.Stop
	}
	return params
}
