package prompt

import (
	"fmt"
	"strings"

	"github.com/sweetpotato0/textgen/message"
	"github.com/sweetpotato0/textgen/model"
)

// DefaultChatTemplate renders a zephyr-style chat prompt.
const DefaultChatTemplate = `{{- if .Preprompt}}<|system|>
{{.Preprompt}}</s>
{{end}}
{{- range .Messages}}
{{- if eq .Role "user"}}<|user|>
{{.Content}}</s>
<|assistant|>
{{else if eq .Role "assistant"}}{{.Content}}</s>
{{end}}
{{- end}}`

const defaultTemplateName = "default"

// ChatVars are the variables available to a chat prompt template.
type ChatVars struct {
	Preprompt string
	Messages  []*message.Message
}

var chatTemplates = NewManager()

// Build renders messages into the raw prompt expected by m.
//
// System messages are not rendered as turns: the preprompt, or the first
// system message when preprompt is empty, becomes the system section.
// When cont is set the prompt ends inside the last assistant turn, so the
// trailing whitespace and stop sequences are removed.
func Build(messages []*message.Message, cont bool, preprompt string, m *model.Model) (string, error) {
	if m == nil {
		return "", fmt.Errorf("build prompt: nil model")
	}
	tmpl, err := chatTemplate(m)
	if err != nil {
		return "", err
	}

	vars := ChatVars{Preprompt: preprompt}
	if vars.Preprompt == "" {
		if sys := message.FirstOfRole(messages, message.RoleSystem); sys != nil {
			vars.Preprompt = sys.Content
		}
	}
	for _, msg := range messages {
		if msg == nil || msg.Role == message.RoleSystem {
			continue
		}
		vars.Messages = append(vars.Messages, msg)
	}

	out, err := tmpl.Render(vars)
	if err != nil {
		return "", err
	}
	if cont {
		out = trimContinuation(out, m.Parameters.Stop)
	}
	return out, nil
}

func trimContinuation(prompt string, stops []string) string {
	prompt = strings.TrimRight(prompt, " \t\r\n")
	for {
		trimmed := false
		for _, stop := range stops {
			if stop != "" && strings.HasSuffix(prompt, stop) {
				prompt = strings.TrimRight(strings.TrimSuffix(prompt, stop), " \t\r\n")
				trimmed = true
			}
		}
		if !trimmed {
			return prompt
		}
	}
}

func chatTemplate(m *model.Model) (*Template, error) {
	name, content := defaultTemplateName, DefaultChatTemplate
	if m.ChatPromptTemplate != "" {
		name, content = "model:"+m.Name, m.ChatPromptTemplate
	}
	if tmpl, err := chatTemplates.Get(name); err == nil && tmpl.Content == content {
		return tmpl, nil
	}
	tmpl, err := NewTemplate(name, content)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", m.Name, err)
	}
	chatTemplates.Put(tmpl)
	return tmpl, nil
}
