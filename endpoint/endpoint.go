// Package endpoint defines the contract between the generation pipeline and
// the backends that actually produce text.
//
// An Endpoint turns a Request into a lazy sequence of TokenOutput values.
// Streaming backends yield one output per token; backends that cannot stream
// yield a single output carrying the whole answer.
package endpoint

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/sweetpotato0/textgen/message"
	"github.com/sweetpotato0/textgen/model"
)

// Token is one unit of generated text.
type Token struct {
	ID      int     `json:"id"`
	Text    string  `json:"text"`
	LogProb float64 `json:"logprob"`
	// Special marks control tokens (end of sequence). The final output of a
	// stream that ended naturally carries a special token.
	Special bool `json:"special"`
}

// TokenOutput is a single element of an endpoint's output stream.
type TokenOutput struct {
	Token Token `json:"token"`
	// GeneratedText is the cumulative answer. It is only set on the final output.
	GeneratedText string   `json:"generated_text,omitempty"`
	Details       *Details `json:"details"`
}

// Details carries optional generation metadata.
type Details struct {
	FinishReason    string `json:"finish_reason,omitempty"`
	GeneratedTokens int    `json:"generated_tokens,omitempty"`
}

// ToolResult is the outcome of a tool call fed back into generation.
type ToolResult struct {
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
	Output string         `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Request is the input of one generation call.
type Request struct {
	Messages    []*message.Message
	Preprompt   string
	Continue    bool
	Settings    *model.Settings
	ToolResults []ToolResult
}

// Endpoint produces text for a request.
type Endpoint interface {
	Generate(ctx context.Context, req *Request) iter.Seq2[*TokenOutput, error]
}

// Func adapts a plain function to the Endpoint interface.
type Func func(ctx context.Context, req *Request) iter.Seq2[*TokenOutput, error]

// Generate calls f.
func (f Func) Generate(ctx context.Context, req *Request) iter.Seq2[*TokenOutput, error] {
	return f(ctx, req)
}

// Config is the declarative description of an endpoint, as found in the
// application configuration. Fields irrelevant to a type are ignored.
type Config struct {
	Type      string `koanf:"type"`
	Weight    *int   `koanf:"weight"`
	URL       string `koanf:"url"`
	StopURL   string `koanf:"stop_url"`
	BaseURL   string `koanf:"base_url"`
	APIKey    string `koanf:"api_key"`
	ModelName string `koanf:"model_name"`

	PollInterval time.Duration `koanf:"poll_interval"`
	MaxInterval  time.Duration `koanf:"max_interval"`
	MaxAttempts  uint          `koanf:"max_attempts"`
	Deadline     time.Duration `koanf:"deadline"`
	Backoff      string        `koanf:"backoff"`

	// Model is the model served by the endpoint. It is attached by the caller,
	// never read from configuration.
	Model *model.Model `koanf:"-"`
}

// DefaultWeight is the selection weight of an endpoint that sets none.
const DefaultWeight = 1

// EffectiveWeight returns the configured weight, or DefaultWeight when unset.
func (c Config) EffectiveWeight() int {
	if c.Weight == nil {
		return DefaultWeight
	}
	return *c.Weight
}

// PrepromptWithTools appends the tool results of req to its preprompt so that
// endpoints without native tool support still see them.
func PrepromptWithTools(req *Request) string {
	if len(req.ToolResults) == 0 {
		return req.Preprompt
	}
	var b strings.Builder
	b.WriteString(req.Preprompt)
	if req.Preprompt != "" {
		b.WriteString("\n\n")
	}
	b.WriteString("Results of the tools called for this answer:\n")
	for _, r := range req.ToolResults {
		b.WriteString("\n## ")
		b.WriteString(r.Name)
		b.WriteString("\n")
		if r.Error != "" {
			b.WriteString("Error: ")
			b.WriteString(r.Error)
		} else {
			b.WriteString(r.Output)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// ChatTurns splits req for chat-style backends: the system prompt (the
// preprompt, or the leading system message, followed by the tool results)
// and the user and assistant turns.
func ChatTurns(req *Request) (string, []*message.Message) {
	sys := req.Preprompt
	turns := make([]*message.Message, 0, len(req.Messages))
	for i, msg := range req.Messages {
		if msg == nil {
			continue
		}
		if msg.Role == message.RoleSystem {
			if i == 0 && sys == "" {
				sys = msg.Content
			}
			continue
		}
		turns = append(turns, msg)
	}
	withSys := *req
	withSys.Preprompt = sys
	return PrepromptWithTools(&withSys), turns
}

// Collect drains the output of ep for req and returns the generated text:
// the last GeneratedText, or the concatenated tokens when no output carried one.
func Collect(ctx context.Context, ep Endpoint, req *Request) (string, error) {
	var (
		tokens strings.Builder
		final  string
	)
	for out, err := range ep.Generate(ctx, req) {
		if err != nil {
			return "", err
		}
		if out == nil {
			continue
		}
		if out.GeneratedText != "" {
			final = out.GeneratedText
			continue
		}
		if !out.Token.Special {
			tokens.WriteString(out.Token.Text)
		}
	}
	if final != "" {
		return final, nil
	}
	return tokens.String(), nil
}
