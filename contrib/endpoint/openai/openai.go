// Package openai implements a streaming endpoint over the OpenAI chat
// completions API and compatible servers (vLLM, Groq, Ollama).
package openai

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
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
const Type = "openai"

// Endpoint streams chat completions.
type Endpoint struct {
	client    openai.Client
	model     *model.Model
	modelName string
	logger    *slog.Logger
	tracer    trace.Tracer
}

// New validates cfg and creates the endpoint. ModelName defaults to the
// served model's name.
func New(cfg endpoint.Config, opts ...option.RequestOption) (*Endpoint, error) {
	v := config.NewValidator()
	v.Require("type", cfg.Type == Type, fmt.Sprintf("type must be %q, got %q", Type, cfg.Type))
	v.Require("model", cfg.Model != nil, "model is required")
	if cfg.BaseURL != "" {
		v.RequireURL("base_url", cfg.BaseURL)
	}
	if err := v.Error(); err != nil {
		return nil, fmt.Errorf("openai endpoint: %w", err)
	}

	name := cfg.ModelName
	if name == "" {
		name = cfg.Model.Name
	}
	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	options = append(options, opts...)

	return &Endpoint{
		client:    openai.NewClient(options...),
		model:     cfg.Model,
		modelName: name,
		logger:    logging.WithComponent("endpoint.openai"),
		tracer:    telemetry.Tracer("endpoint/openai"),
	}, nil
}

// Factory builds OpenAI endpoints for an endpoint.Registry.
func Factory(cfg endpoint.Config) (endpoint.Endpoint, error) {
	return New(cfg)
}

// Generate streams one output per content delta, then a final output with
// the whole answer. The final token is special when the model stopped on
// its own.
func (e *Endpoint) Generate(ctx context.Context, req *endpoint.Request) iter.Seq2[*endpoint.TokenOutput, error] {
	return func(yield func(*endpoint.TokenOutput, error) bool) {
		ctx, span := e.tracer.Start(ctx, "textgen.endpoint.openai", trace.WithAttributes(
			attribute.String("model", e.modelName),
		))
		var err error
		defer func() { telemetry.End(span, err) }()

		stream := e.client.Chat.Completions.NewStreaming(ctx, e.params(req))
		defer stream.Close()

		var (
			text   strings.Builder
			n      int
			finish string
		)
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if choice.FinishReason != "" {
				finish = choice.FinishReason
			}
			if choice.Delta.Content == "" {
				continue
			}
			text.WriteString(choice.Delta.Content)
			out := &endpoint.TokenOutput{Token: endpoint.Token{ID: n, Text: choice.Delta.Content}}
			n++
			if !yield(out, nil) {
				return
			}
		}
		if err = stream.Err(); err != nil {
			err = fmt.Errorf("openai: stream: %w", err)
			yield(nil, err)
			return
		}

		e.logger.Debug("completion finished", "model", e.modelName, "tokens", n, "finish_reason", finish)
		yield(&endpoint.TokenOutput{
			Token:         endpoint.Token{ID: n, Special: finish == "stop"},
			GeneratedText: text.String(),
			Details:       &endpoint.Details{FinishReason: finish, GeneratedTokens: n},
		}, nil)
	}
}

func (e *Endpoint) params(req *endpoint.Request) openai.ChatCompletionNewParams {
	sys, turns := endpoint.ChatTurns(req)
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns)+1)
	if sys != "" {
		msgs = append(msgs, openai.SystemMessage(sys))
	}
	for _, msg := range turns {
		switch msg.Role {
		case message.RoleUser:
			msgs = append(msgs, openai.UserMessage(msg.Content))
		case message.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    openai.ChatModel(e.modelName),
	}
	s := model.Merge(&e.model.Parameters, req.Settings)
	if s.Temperature != nil {
		params.Temperature = openai.Float(*s.Temperature)
	}
	if s.TopP != nil {
		params.TopP = openai.Float(*s.TopP)
	}
	if s.MaxNewTokens != nil {
		params.MaxCompletionTokens = openai.Int(int64(*s.MaxNewTokens))
	}
	if len(s.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: s.Stop}
	}
	return params
}
