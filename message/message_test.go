package message

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewMessage(t *testing.T) {
	msg := NewMessage(RoleUser, "Hello, world!")

	if msg.Role != RoleUser {
		t.Errorf("Expected role %s, got %s", RoleUser, msg.Role)
	}

	if msg.Content != "Hello, world!" {
		t.Errorf("Expected content 'Hello, world!', got '%s'", msg.Content)
	}

	if msg.ID == "" {
		t.Error("Expected non-empty ID")
	}

	if msg.CreatedAt.IsZero() {
		t.Error("Expected non-zero created time")
	}
}

func TestCloneIsDeep(t *testing.T) {
	msg := NewMessage(RoleSystem, "preprompt")
	msg.Metadata["k"] = "v"

	cloned := Clone(msg)
	cloned.Content = "changed"
	cloned.Metadata["k"] = "other"

	if msg.Content != "preprompt" {
		t.Errorf("Expected original content untouched, got %q", msg.Content)
	}
	if msg.Metadata["k"] != "v" {
		t.Errorf("Expected original metadata untouched, got %v", msg.Metadata["k"])
	}
	if Clone(nil) != nil {
		t.Error("Expected nil clone of nil message")
	}
}

func TestLastAndFirstOfRole(t *testing.T) {
	msgs := []*Message{
		NewMessage(RoleSystem, "sys"),
		NewMessage(RoleUser, "first"),
		NewMessage(RoleAssistant, "answer"),
		NewMessage(RoleUser, "second"),
	}

	if got := LastOfRole(msgs, RoleUser); got == nil || got.Content != "second" {
		t.Errorf("Expected last user message 'second', got %v", got)
	}
	if got := FirstOfRole(msgs, RoleUser); got == nil || got.Content != "first" {
		t.Errorf("Expected first user message 'first', got %v", got)
	}
	if got := LastOfRole(msgs[:1], RoleUser); got != nil {
		t.Errorf("Expected nil, got %v", got)
	}
}

func TestUpdateJSONOmitsPayload(t *testing.T) {
	u := NewWebSearchFinishedUpdate(struct{ Secret string }{"x"})

	raw, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(raw), "Secret") {
		t.Errorf("Expected payload to be omitted, got %s", raw)
	}
	if !strings.Contains(string(raw), `"type":"webSearch"`) {
		t.Errorf("Expected webSearch type, got %s", raw)
	}
}

func TestToolUpdates(t *testing.T) {
	call := ToolCall{ID: "c1", Name: "calculator", Args: map[string]any{"expr": "1+1"}}

	started := NewToolCallUpdate(call)
	if started.Type != UpdateTool || started.Subtype != ToolCallSubtype {
		t.Fatalf("unexpected call update: %+v", started)
	}
	if started.Tool.Params["expr"] != "1+1" {
		t.Errorf("Expected params to be carried, got %v", started.Tool.Params)
	}

	failed := NewToolErrorUpdate(call, "boom", nil)
	if failed.Subtype != ToolErrorSubtype || failed.Tool.Error != "boom" {
		t.Errorf("unexpected error update: %+v", failed)
	}
}
