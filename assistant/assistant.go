// Package assistant describes user-defined assistants: a named preprompt
// with optional web search restrictions, tools and generation settings.
package assistant

import (
	"context"

	"github.com/sweetpotato0/textgen/model"
)

// RAG restricts the web search performed on behalf of an assistant.
type RAG struct {
	AllowAllDomains bool     `json:"allowAllDomains" bson:"allowAllDomains" koanf:"allow_all_domains"`
	AllowedDomains  []string `json:"allowedDomains,omitempty" bson:"allowedDomains,omitempty" koanf:"allowed_domains"`
	AllowedLinks    []string `json:"allowedLinks,omitempty" bson:"allowedLinks,omitempty" koanf:"allowed_links"`
}

// Assistant is a stored assistant definition.
type Assistant struct {
	ID          string `json:"id" bson:"_id" koanf:"id"`
	Name        string `json:"name" bson:"name" koanf:"name"`
	Description string `json:"description,omitempty" bson:"description,omitempty" koanf:"description"`
	ModelID     string `json:"modelId" bson:"modelId" koanf:"model_id"`
	Preprompt   string `json:"preprompt,omitempty" bson:"preprompt,omitempty" koanf:"preprompt"`
	// DynamicPrompt enables template expansion of the preprompt at generation time.
	DynamicPrompt bool            `json:"dynamicPrompt,omitempty" bson:"dynamicPrompt,omitempty" koanf:"dynamic_prompt"`
	RAG           *RAG            `json:"rag,omitempty" bson:"rag,omitempty" koanf:"rag"`
	Tools         []string        `json:"tools,omitempty" bson:"tools,omitempty" koanf:"tools"`
	Generate      *model.Settings `json:"generateSettings,omitempty" bson:"generateSettings,omitempty" koanf:"generate_settings"`
}

// HasWebSearch reports whether the assistant requires a web search for every answer.
func (a *Assistant) HasWebSearch() bool {
	if a == nil || a.RAG == nil {
		return false
	}
	return a.RAG.AllowAllDomains || len(a.RAG.AllowedLinks) > 0 || len(a.RAG.AllowedDomains) > 0
}

// HasDynamicPrompt reports whether the assistant preprompt must be expanded.
func (a *Assistant) HasDynamicPrompt() bool {
	return a != nil && a.DynamicPrompt
}

// Store looks up assistants by id.
// Get returns an error matching errors.ErrNotFound when the id is unknown.
type Store interface {
	Get(ctx context.Context, id string) (*Assistant, error)
}
