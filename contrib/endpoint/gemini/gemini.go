// Package gemini implements a streaming endpoint over the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/sweetpotato0/textgen/config"
	"github.com/sweetpotato0/textgen/endpoint"
	"github.com/sweetpotato0/textgen/message"
	"github.com/sweetpotato0/textgen/model"
	"github.com/sweetpotato0/textgen/pkg/logging"
	"github.com/sweetpotato0/textgen/pkg/telemetry"
)

// Type is the endpoint type tag in configuration.
const Type = "gemini"

// Endpoint streams chat responses from Gemini models. The API client is
// created on first use.
type Endpoint struct {
	model      *model.Model
	modelName  string
	clientOpts []option.ClientOption

	mu     sync.Mutex
	client *genai.Client

	logger *slog.Logger
	tracer trace.Tracer
}

// New validates cfg and creates the endpoint. No connection is made until
// the first generation.
func New(cfg endpoint.Config, opts ...option.ClientOption) (*Endpoint, error) {
	v := config.NewValidator()
	v.Require("type", cfg.Type == Type, fmt.Sprintf("type must be %q, got %q", Type, cfg.Type))
	v.Require("model", cfg.Model != nil, "model is required")
	v.RequireNonEmpty("api_key", cfg.APIKey)
	if err := v.Error(); err != nil {
		return nil, fmt.Errorf("gemini endpoint: %w", err)
	}

	name := cfg.ModelName
	if name == "" {
		name = cfg.Model.Name
	}
	clientOpts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.BaseURL))
	}
	return &Endpoint{
		model:      cfg.Model,
		modelName:  name,
		clientOpts: append(clientOpts, opts...),
		logger:     logging.WithComponent("endpoint.gemini"),
		tracer:     telemetry.Tracer("endpoint/gemini"),
	}, nil
}

// Factory builds Gemini endpoints for an endpoint.Registry.
func Factory(cfg endpoint.Config) (endpoint.Endpoint, error) {
	return New(cfg)
}

// Close releases the API client.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}

func (e *Endpoint) getClient(ctx context.Context) (*genai.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return e.client, nil
	}
	c, err := genai.NewClient(ctx, e.clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	e.client = c
	return c, nil
}

// Generate streams one output per text chunk, then a final output with the
// whole answer.
func (e *Endpoint) Generate(ctx context.Context, req *endpoint.Request) iter.Seq2[*endpoint.TokenOutput, error] {
	return func(yield func(*endpoint.TokenOutput, error) bool) {
		ctx, span := e.tracer.Start(ctx, "textgen.endpoint.gemini", trace.WithAttributes(
			attribute.String("model", e.modelName),
		))
		var err error
		defer func() { telemetry.End(span, err) }()

		sys, turns := endpoint.ChatTurns(req)
		if len(turns) == 0 {
			err = errors.New("gemini: request has no user message")
			yield(nil, err)
			return
		}

		client, err := e.getClient(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		gm := client.GenerativeModel(e.modelName)
		configure(gm, sys, model.Merge(&e.model.Parameters, req.Settings))

		cs := gm.StartChat()
		cs.History = history(turns[:len(turns)-1])
		it := cs.SendMessageStream(ctx, genai.Text(turns[len(turns)-1].Content))

		var (
			text   strings.Builder
			n      int
			finish genai.FinishReason
		)
		for {
			resp, nerr := it.Next()
			if errors.Is(nerr, iterator.Done) {
				break
			}
			if nerr != nil {
				err = fmt.Errorf("gemini: stream: %w", nerr)
				yield(nil, err)
				return
			}
			chunk, reason := candidateText(resp)
			if reason != genai.FinishReasonUnspecified {
				finish = reason
			}
			if chunk == "" {
				continue
			}
			text.WriteString(chunk)
			out := &endpoint.TokenOutput{Token: endpoint.Token{ID: n, Text: chunk}}
			n++
			if !yield(out, nil) {
				return
			}
		}

		e.logger.Debug("chat finished", "model", e.modelName, "chunks", n, "finish_reason", finish.String())
		yield(&endpoint.TokenOutput{
			Token:         endpoint.Token{ID: n, Special: finish == genai.FinishReasonStop},
			GeneratedText: text.String(),
			Details:       &endpoint.Details{FinishReason: finish.String(), GeneratedTokens: n},
		}, nil)
	}
}

func configure(gm *genai.GenerativeModel, sys string, s model.Settings) {
	if sys != "" {
		gm.SystemInstruction = genai.NewUserContent(genai.Text(sys))
	}
	if s.Temperature != nil {
		gm.SetTemperature(float32(*s.Temperature))
	}
	if s.TopP != nil {
		gm.SetTopP(float32(*s.TopP))
	}
	if s.TopK != nil {
		gm.SetTopK(int32(*s.TopK))
	}
	if s.MaxNewTokens != nil {
		gm.SetMaxOutputTokens(int32(*s.MaxNewTokens))
	}
	if len(s.Stop) > 0 {
		gm.StopSequences = s.Stop
	}
}

func history(turns []*message.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(turns))
	for _, msg := range turns {
		role := "user"
		if msg.Role == message.RoleAssistant {
			role = "model"
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}
	return out
}

func candidateText(resp *genai.GenerateContentResponse) (string, genai.FinishReason) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", genai.FinishReasonUnspecified
	}
	cand := resp.Candidates[0]
	var b strings.Builder
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
	}
	return b.String(), cand.FinishReason
}
