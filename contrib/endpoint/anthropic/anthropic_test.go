package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sweetpotato0/textgen/endpoint"
	errorskg "github.com/sweetpotato0/textgen/errors"
	"github.com/sweetpotato0/textgen/message"
	"github.com/sweetpotato0/textgen/model"
)

func TestNewValidation(t *testing.T) {
	if _, err := New(endpoint.Config{Type: "openai", Model: &model.Model{Name: "claude"}}); !errors.Is(err, errorskg.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for wrong type, got %v", err)
	}
	if _, err := New(endpoint.Config{Type: Type}); !errors.Is(err, errorskg.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput without model, got %v", err)
	}
}

func TestParamsMapSettings(t *testing.T) {
	m := &model.Model{Name: "claude", Parameters: model.Settings{TopK: model.Int(40), Stop: []string{"\n\nHuman:"}}}
	ep, err := New(endpoint.Config{Type: Type, Model: m, ModelName: "claude-sonnet-4-5"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	params := ep.params(&endpoint.Request{
		Messages: []*message.Message{
			message.NewMessage(message.RoleSystem, "Be brief."),
			message.NewMessage(message.RoleUser, "hi"),
		},
	})
	if params.Model != "claude-sonnet-4-5" {
		t.Errorf("Expected configured model name, got %q", params.Model)
	}
	if params.MaxTokens != DefaultMaxTokens {
		t.Errorf("Expected default max tokens, got %d", params.MaxTokens)
	}
	if len(params.System) != 1 || params.System[0].Text != "Be brief." {
		t.Errorf("Expected system prompt, got %+v", params.System)
	}
	if len(params.Messages) != 1 {
		t.Errorf("Expected only the user turn, got %d messages", len(params.Messages))
	}
	if params.TopK.Value != 40 || len(params.StopSequences) != 1 {
		t.Errorf("Expected model parameters, got top_k=%v stop=%v", params.TopK.Value, params.StopSequences)
	}
}

func TestGenerateStreams(t *testing.T) {
	events := []struct{ name, data string }{
		{"message_start", `{"type":"message_start","message":{"id":"m1","type":"message","role":"assistant","model":"claude","content":[],"stop_reason":null,"usage":{"input_tokens":3,"output_tokens":0}}}`},
		{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`},
		{"content_block_stop", `{"type":"content_block_stop","index":0}`},
		{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":2}}`},
		{"message_stop", `{"type":"message_stop"}`},
	}
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range events {
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, ev.data)
		}
	}))
	defer srv.Close()

	ep, err := New(endpoint.Config{Type: Type, Model: &model.Model{Name: "claude"}, BaseURL: srv.URL, APIKey: "test"}, option.WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var outs []*endpoint.TokenOutput
	for out, err := range ep.Generate(context.Background(), &endpoint.Request{Messages: []*message.Message{message.NewMessage(message.RoleUser, "hi")}}) {
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		outs = append(outs, out)
	}
	if len(outs) != 3 {
		t.Fatalf("Expected 2 tokens and a final output, got %d", len(outs))
	}
	final := outs[2]
	if final.GeneratedText != "Hello" || !final.Token.Special || final.Details.FinishReason != "end_turn" {
		t.Errorf("Unexpected final output %+v", final)
	}
	if body["stream"] != true {
		t.Errorf("Expected a streaming request, got %v", body["stream"])
	}
}
