package tool

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"

	"github.com/sweetpotato0/textgen/endpoint"
	"github.com/sweetpotato0/textgen/message"
)

func staticPlanner(calls ...message.ToolCall) Planner {
	return PlannerFunc(func(ctx context.Context, in RunInput, tools []*Tool, preprompt string) ([]message.ToolCall, error) {
		return calls, nil
	})
}

func TestRunnerRun(t *testing.T) {
	calc := &Tool{
		Name: "calculator",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			Emit(ctx, message.NewWebSearchUpdate("thinking"))
			return "4", nil
		},
	}
	broken := &Tool{
		Name: "broken",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "", errors.New("unavailable")
		},
	}

	r := NewRunner(staticPlanner(
		message.ToolCall{Name: "calculator", Args: map[string]any{"expr": "2+2"}},
		message.ToolCall{Name: "unknown"},
		message.ToolCall{Name: "broken"},
	))

	var updates []*message.Update
	for u, err := range r.Run(context.Background(), RunInput{}, []*Tool{calc, broken}, "") {
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		updates = append(updates, u)
	}

	wantSubtypes := []string{
		message.ToolCallSubtype,
		message.WebSearchUpdateSubtype,
		message.ToolResultSubtype,
		message.ToolCallSubtype,
		message.ToolErrorSubtype,
	}
	if len(updates) != len(wantSubtypes) {
		t.Fatalf("Expected %d updates, got %d", len(wantSubtypes), len(updates))
	}
	for i, want := range wantSubtypes {
		if updates[i].Subtype != want {
			t.Errorf("update %d subtype = %q, want %q", i, updates[i].Subtype, want)
		}
	}

	res, ok := updates[2].Payload.(*Result)
	if !ok || res.Output != "4" || res.Call.ID == "" {
		t.Fatalf("Unexpected result payload: %+v", updates[2].Payload)
	}
	if updates[0].Tool.UUID != res.Call.ID {
		t.Error("Expected call and result updates to share the call id")
	}
	failed := updates[4].Payload.(*Result)
	if failed.Error != "unavailable" {
		t.Errorf("Expected tool error in result, got %+v", failed)
	}
	if got := failed.Endpoint(); got.Name != "broken" || got.Error != "unavailable" {
		t.Errorf("Unexpected endpoint tool result: %+v", got)
	}
}

func TestRunnerStopsWhenConsumerStops(t *testing.T) {
	ran := 0
	tl := &Tool{Name: "t", Handler: func(ctx context.Context, args map[string]any) (string, error) {
		ran++
		return "", nil
	}}
	r := NewRunner(staticPlanner(message.ToolCall{Name: "t"}, message.ToolCall{Name: "t"}))

	for range r.Run(context.Background(), RunInput{}, []*Tool{tl}, "") {
		break
	}
	if ran != 0 {
		t.Errorf("Expected no tool to run after the consumer stopped, ran %d", ran)
	}
}

func TestRunnerPlannerFailureIsNotFatal(t *testing.T) {
	r := NewRunner(PlannerFunc(func(ctx context.Context, in RunInput, tools []*Tool, preprompt string) ([]message.ToolCall, error) {
		return nil, errors.New("model offline")
	}))
	for u, err := range r.Run(context.Background(), RunInput{}, []*Tool{{Name: "t"}}, "") {
		t.Errorf("Expected no output, got %+v, %v", u, err)
	}
}

func TestEndpointPlanner(t *testing.T) {
	var gotPreprompt string
	ep := endpoint.Func(func(ctx context.Context, req *endpoint.Request) iter.Seq2[*endpoint.TokenOutput, error] {
		gotPreprompt = req.Preprompt
		return func(yield func(*endpoint.TokenOutput, error) bool) {
			text := "Sure! [{\"name\": \"calculator\", \"arguments\": {\"expr\": \"2+2\"}}, {\"name\": \"directly_answer\"}]"
			yield(&endpoint.TokenOutput{GeneratedText: text}, nil)
		}
	})
	p := &EndpointPlanner{Endpoint: ep}
	tools := []*Tool{{Name: "calculator", Description: "Evaluates arithmetic"}}

	calls, err := p.Plan(context.Background(), RunInput{Messages: []*message.Message{message.NewMessage(message.RoleUser, "2+2?")}}, tools, "Be exact.")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(calls) != 1 || calls[0].Name != "calculator" || calls[0].Args["expr"] != "2+2" {
		t.Fatalf("Unexpected calls: %+v", calls)
	}
	for _, want := range []string{"Be exact.", "Evaluates arithmetic", DirectAnswer} {
		if !strings.Contains(gotPreprompt, want) {
			t.Errorf("Expected %q in planner instructions", want)
		}
	}
}

func TestParseCallsRejectsGarbage(t *testing.T) {
	if _, err := ParseCalls("no json here", nil); err == nil {
		t.Error("Expected error without a JSON array")
	}
	if _, err := ParseCalls(`[{"name": broken]`, nil); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestRunnerTagsToolProgress(t *testing.T) {
	slow := &Tool{
		Name: "slow",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			Emit(ctx, message.NewToolProgressUpdate("slow", "halfway"))
			return "done", nil
		},
	}
	r := NewRunner(staticPlanner(message.ToolCall{ID: "call-1", Name: "slow"}))

	var progress *message.Update
	for u, err := range r.Run(context.Background(), RunInput{}, []*Tool{slow}, "") {
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if u.Subtype == message.ToolProgressSubtype {
			progress = u
		}
	}
	if progress == nil {
		t.Fatal("Expected the progress update to be forwarded")
	}
	if progress.Tool.UUID != "call-1" || progress.Message != "halfway" {
		t.Errorf("Unexpected progress update %+v", progress.Tool)
	}
}
