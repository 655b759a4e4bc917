// Package model describes the chat models served by textgen and their
// generation settings.
package model

import "slices"

// Settings holds sampling parameters. Nil fields are unset and fall back to
// the next layer when merged.
type Settings struct {
	TopP              *float64 `json:"top_p,omitempty" koanf:"top_p"`
	TopK              *int     `json:"top_k,omitempty" koanf:"top_k"`
	Temperature       *float64 `json:"temperature,omitempty" koanf:"temperature"`
	RepetitionPenalty *float64 `json:"repetition_penalty,omitempty" koanf:"repetition_penalty"`
	Stop              []string `json:"stop,omitempty" koanf:"stop"`
	MaxNewTokens      *int     `json:"max_new_tokens,omitempty" koanf:"max_new_tokens"`
	// TruncateTokens bounds the prompt history, in tokens.
	TruncateTokens *int `json:"truncate,omitempty" koanf:"truncate"`
}

// Model is the descriptor of a served model.
type Model struct {
	Name        string `json:"name" koanf:"name"`
	DisplayName string `json:"displayName,omitempty" koanf:"display_name"`
	Description string `json:"description,omitempty" koanf:"description"`
	Preprompt   string `json:"preprompt,omitempty" koanf:"preprompt"`
	// ChatPromptTemplate is a text/template rendering the conversation into a
	// raw prompt. Empty means the default template.
	ChatPromptTemplate string `json:"-" koanf:"chat_prompt_template"`
	// Tools reports whether the model can be driven with tool calls.
	Tools      bool     `json:"tools" koanf:"tools"`
	Parameters Settings `json:"parameters" koanf:"parameters"`
}

// Merge layers settings left to right: for every key the last non-nil value wins.
func Merge(layers ...*Settings) Settings {
	var out Settings
	for _, s := range layers {
		if s == nil {
			continue
		}
		if s.TopP != nil {
			out.TopP = s.TopP
		}
		if s.TopK != nil {
			out.TopK = s.TopK
		}
		if s.Temperature != nil {
			out.Temperature = s.Temperature
		}
		if s.RepetitionPenalty != nil {
			out.RepetitionPenalty = s.RepetitionPenalty
		}
		if s.Stop != nil {
			out.Stop = slices.Clone(s.Stop)
		}
		if s.MaxNewTokens != nil {
			out.MaxNewTokens = s.MaxNewTokens
		}
		if s.TruncateTokens != nil {
			out.TruncateTokens = s.TruncateTokens
		}
	}
	return out
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
