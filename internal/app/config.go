// Package app assembles a textgen service from its configuration.
package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweetpotato0/textgen/assistant"
	"github.com/sweetpotato0/textgen/assistant/store"
	"github.com/sweetpotato0/textgen/config"
	"github.com/sweetpotato0/textgen/endpoint"
	"github.com/sweetpotato0/textgen/model"
	"github.com/sweetpotato0/textgen/pkg/telemetry"
	"github.com/sweetpotato0/textgen/server"
	"github.com/sweetpotato0/textgen/tool/mcp"
	"github.com/sweetpotato0/textgen/websearch"
)

// Assistant store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
)

// Config is the full application configuration.
type Config struct {
	Server    server.Config    `koanf:"server"`
	Log       LogConfig        `koanf:"log"`
	Telemetry telemetry.Config `koanf:"telemetry"`

	Models []ModelConfig `koanf:"models"`
	// TaskModel names the model used for titles and tool planning.
	// Empty means the first model.
	TaskModel string `koanf:"task_model"`

	Assistants AssistantsConfig `koanf:"assistants"`
	WebSearch  WebSearchConfig  `koanf:"websearch"`
	Tools      ToolsConfig      `koanf:"tools"`

	// Tokenizer is a tiktoken encoding name. Empty selects the built-in
	// word tokenizer.
	Tokenizer string `koanf:"tokenizer"`
	// HistoryTokens bounds the conversation history sent to a model.
	HistoryTokens   int  `koanf:"history_tokens"`
	TitleGeneration bool `koanf:"title_generation"`
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ModelConfig is a model and the endpoints serving it.
type ModelConfig struct {
	model.Model `koanf:",squash"`
	Endpoints   []endpoint.Config `koanf:"endpoints"`
}

// AssistantsConfig selects where assistants are stored.
type AssistantsConfig struct {
	Backend  string               `koanf:"backend"`
	Redis    store.RedisConfig    `koanf:"redis"`
	Mongo    store.MongoConfig    `koanf:"mongo"`
	Postgres store.PostgresConfig `koanf:"postgres"`
	// Seed is loaded into the memory backend.
	Seed []*assistant.Assistant `koanf:"seed"`
}

// WebSearchConfig enables web search.
type WebSearchConfig struct {
	Enabled          bool `koanf:"enabled"`
	websearch.Config `koanf:",squash"`
}

// ToolsConfig lists the MCP servers whose tools are offered to models.
type ToolsConfig struct {
	MCP []mcp.Config `koanf:"mcp"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: server.Config{
			Addr:           ":8080",
			MaxConcurrency: 10,
			MaxBodyBytes:   4 << 20,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Telemetry: telemetry.Config{
			ServiceName: "textgen",
			Disable:     true,
		},
		Assistants: AssistantsConfig{
			Backend:  BackendMemory,
			Redis:    store.RedisConfig{Addr: "localhost:6379", Prefix: "textgen:assistant:"},
			Mongo:    *store.DefaultMongoConfig(),
			Postgres: *store.DefaultPostgresConfig(),
		},
		WebSearch: WebSearchConfig{
			Config: websearch.Config{
				MaxResults:       5,
				MaxContextTokens: 2000,
				FetchTimeout:     10 * time.Second,
				Concurrency:      4,
			},
		},
		HistoryTokens: 4000,
	}
}

// Load reads the configuration at path over the defaults, then applies
// TEXTGEN_ environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := config.Load(path, config.EnvPrefix, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for missing or inconsistent values.
func (c *Config) Validate() error {
	v := config.NewValidator()
	v.RequireNonEmpty("server.addr", c.Server.Addr)
	v.RequireNonNegative("history_tokens", c.HistoryTokens)
	v.ValidateOneOf("log.format", c.Log.Format, "json", "text")
	v.Require("models", len(c.Models) > 0, "at least one model is required")

	seen := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		field := fmt.Sprintf("models[%d]", i)
		v.RequireNonEmpty(field+".name", m.Name)
		v.Require(field+".name", !seen[m.Name], fmt.Sprintf("duplicate model %q", m.Name))
		seen[m.Name] = true
		v.Require(field+".endpoints", len(m.Endpoints) > 0, "at least one endpoint is required")
		for j, e := range m.Endpoints {
			v.RequireNonEmpty(fmt.Sprintf("%s.endpoints[%d].type", field, j), e.Type)
			if e.Weight != nil {
				v.RequirePositive(fmt.Sprintf("%s.endpoints[%d].weight", field, j), *e.Weight)
			}
		}
	}
	if c.TaskModel != "" {
		v.Require("task_model", seen[c.TaskModel], fmt.Sprintf("unknown model %q", c.TaskModel))
	}

	v.ValidateOneOf("assistants.backend", c.Assistants.Backend, BackendMemory, BackendRedis, BackendMongo, BackendPostgres)
	errs := []error{config.ValidateRunnerConfig(c.Server.MaxConcurrency)}
	switch a := c.Assistants; a.Backend {
	case BackendRedis:
		errs = append(errs, prefixed("assistants.redis", config.ValidateRedisConfig(a.Redis.Addr, a.Redis.DB, a.Redis.Prefix)))
	case BackendMongo:
		errs = append(errs, prefixed("assistants.mongo", config.ValidateMongoDBConfig(a.Mongo.URI, a.Mongo.Database, a.Mongo.Collection)))
	case BackendPostgres:
		p := a.Postgres
		errs = append(errs, prefixed("assistants.postgres", config.ValidatePostgresConfig(p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)))
	}

	if c.WebSearch.Enabled {
		v.RequireURL("websearch.search_url", c.WebSearch.SearchURL)
	}
	for i, m := range c.Tools.MCP {
		v.Require(fmt.Sprintf("tools.mcp[%d]", i), m.Endpoint != "" || m.Command != "", "endpoint or command is required")
	}
	return errors.Join(append(errs, v.Error())...)
}

func prefixed(section string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", section, err)
}

// models returns the model descriptors in configuration order.
func (c *Config) models() []*model.Model {
	out := make([]*model.Model, 0, len(c.Models))
	for i := range c.Models {
		m := c.Models[i].Model
		out = append(out, &m)
	}
	return out
}
