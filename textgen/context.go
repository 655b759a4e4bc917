package textgen

import (
	"context"
	"errors"
	"fmt"

	"github.com/sweetpotato0/textgen/assistant"
	errorskg "github.com/sweetpotato0/textgen/errors"
	"github.com/sweetpotato0/textgen/message"
	"github.com/sweetpotato0/textgen/model"
)

// DefaultTitle is the title of a conversation that has not been named yet.
const DefaultTitle = "New Chat"

// Conversation identifies the conversation an answer is generated for.
type Conversation struct {
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	Model       string `json:"model"`
	Preprompt   string `json:"preprompt,omitempty"`
	AssistantID string `json:"assistantId,omitempty"`
}

// Context is the input of one generation.
type Context struct {
	Conversation    Conversation
	Messages        []*message.Message
	Model           *model.Model
	Assistant       *assistant.Assistant
	WebSearch       bool
	ToolsPreference map[string]bool
	Continue        bool
	// Settings are caller overrides merged over the assistant and model defaults.
	Settings *model.Settings
}

// NewContext resolves every external reference of c and returns the context
// to generate with. The assistant named by the conversation is looked up in
// store unless c already carries it; an unknown assistant is not an error.
// Messages are copied, c is left untouched. A nil message is invalid input.
func NewContext(ctx context.Context, store assistant.Store, c Context) (*Context, error) {
	if c.Model == nil {
		return nil, fmt.Errorf("textgen: model is required: %w", errorskg.ErrInvalidInput)
	}
	for i, m := range c.Messages {
		if m == nil {
			return nil, fmt.Errorf("textgen: message %d is null: %w", i, errorskg.ErrInvalidInput)
		}
	}
	out := c
	out.Messages = message.CloneMessages(c.Messages)

	if out.Assistant == nil {
		a, err := resolveAssistant(ctx, store, c.Conversation.AssistantID)
		if err != nil {
			return nil, err
		}
		out.Assistant = a
	}
	if out.Assistant != nil && out.Conversation.Preprompt == "" {
		out.Conversation.Preprompt = out.Assistant.Preprompt
	}
	return &out, nil
}

func resolveAssistant(ctx context.Context, store assistant.Store, id string) (*assistant.Assistant, error) {
	if id == "" || store == nil {
		return nil, nil
	}
	a, err := store.Get(ctx, id)
	if errors.Is(err, errorskg.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("textgen: resolve assistant %s: %w", id, err)
	}
	return a, nil
}
