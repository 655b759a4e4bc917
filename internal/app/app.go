package app

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/sweetpotato0/textgen/assistant"
	"github.com/sweetpotato0/textgen/assistant/store"
	"github.com/sweetpotato0/textgen/contrib/endpoint/anthropic"
	"github.com/sweetpotato0/textgen/contrib/endpoint/flask"
	"github.com/sweetpotato0/textgen/contrib/endpoint/gemini"
	"github.com/sweetpotato0/textgen/contrib/endpoint/openai"
	"github.com/sweetpotato0/textgen/contrib/tokenizer/tiktoken"
	"github.com/sweetpotato0/textgen/endpoint"
	"github.com/sweetpotato0/textgen/model"
	"github.com/sweetpotato0/textgen/pkg/logging"
	"github.com/sweetpotato0/textgen/preprocess"
	"github.com/sweetpotato0/textgen/runner"
	"github.com/sweetpotato0/textgen/server"
	"github.com/sweetpotato0/textgen/textgen"
	"github.com/sweetpotato0/textgen/tokenizer"
	"github.com/sweetpotato0/textgen/tool"
	"github.com/sweetpotato0/textgen/tool/mcp"
	"github.com/sweetpotato0/textgen/websearch"
)

// App is a wired textgen service.
type App struct {
	Config     *Config
	Models     []*model.Model
	Assistants assistant.Store
	Generator  *textgen.Generator
	Runner     runner.Runner
	Server     *server.Server

	logger  *slog.Logger
	cancel  context.CancelFunc
	closers []func() error
}

// NewEndpointRegistry returns a registry knowing every built-in endpoint type.
func NewEndpointRegistry() (*endpoint.Registry, error) {
	reg := endpoint.NewRegistry()
	for typ, f := range map[string]endpoint.Factory{
		flask.Type:     flask.Factory,
		openai.Type:    openai.Factory,
		anthropic.Type: anthropic.Factory,
		gemini.Type:    gemini.Factory,
	} {
		if err := reg.Register(typ, f); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Build wires the service described by cfg. Close releases what it opened,
// also when Build fails halfway.
func Build(ctx context.Context, cfg *Config) (a *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	a = &App{
		Config: cfg,
		Models: cfg.models(),
		logger: logging.WithComponent("app"),
		cancel: cancel,
	}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	byModel := make(map[*model.Model][]endpoint.Config, len(a.Models))
	for i, m := range a.Models {
		byModel[m] = cfg.Models[i].Endpoints
	}
	reg, err := NewEndpointRegistry()
	if err != nil {
		return a, err
	}
	pools, err := endpoint.Build(reg, byModel)
	if err != nil {
		return a, fmt.Errorf("building endpoints: %w", err)
	}
	task := taskEndpoint(pools, a.taskModel())

	tok, err := newTokenizer(cfg.Tokenizer)
	if err != nil {
		return a, err
	}

	st, err := openStore(ctx, cfg.Assistants)
	if err != nil {
		return a, fmt.Errorf("opening assistant store: %w", err)
	}
	a.Assistants = st
	a.closers = append(a.closers, st.Close)

	opts := []textgen.Option{
		textgen.WithAssistantStore(a.Assistants),
		textgen.WithPrepromptProcessor(assistant.NewPrepromptProcessor()),
		textgen.WithPreprocessor(preprocess.New(
			preprocess.WithTokenizer(tok),
			preprocess.WithMaxTokens(cfg.HistoryTokens),
		)),
	}

	tools := tool.NewRegistry()
	if cfg.WebSearch.Enabled {
		ws, err := websearch.New(cfg.WebSearch.Config, websearch.WithTokenizer(tok))
		if err != nil {
			return a, err
		}
		opts = append(opts, textgen.WithWebSearch(ws))
		if err := tools.Register(websearch.NewTool(ws)); err != nil {
			return a, err
		}
	}
	for _, mc := range cfg.Tools.MCP {
		p, err := mcp.NewProvider(ctx, mc, mcp.WithLogger(a.logger))
		if err != nil {
			return a, fmt.Errorf("mcp server %q: %w", mc.Name, err)
		}
		a.closers = append(a.closers, p.Close)
		if err := tools.Load(ctx, p); err != nil {
			return a, fmt.Errorf("mcp server %q: %w", mc.Name, err)
		}
		go tools.Watch(watchCtx, p, a.logger)
	}
	opts = append(opts, textgen.WithTools(tools, tool.NewRunner(&tool.EndpointPlanner{Endpoint: task})))

	if cfg.TitleGeneration {
		opts = append(opts, textgen.WithTitleGenerator(textgen.NewTitleGenerator(task)))
	}

	a.Generator, err = textgen.New(pools, opts...)
	if err != nil {
		return a, err
	}
	a.Runner = runner.New(a.Generator, cfg.Server.MaxConcurrency)
	a.Server = server.New(cfg.Server, a.Runner, a.Models, a.Assistants)

	a.logger.Info("service assembled",
		"models", len(a.Models),
		"tools", len(tools.List()),
		"assistants_backend", cfg.Assistants.Backend,
	)
	return a, nil
}

// Model returns the configured model called name.
func (a *App) Model(name string) (*model.Model, bool) {
	for _, m := range a.Models {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// Close stops background watchers and releases stores and tool providers.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	if a.cancel != nil {
		a.cancel()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) taskModel() *model.Model {
	if m, ok := a.Model(a.Config.TaskModel); ok {
		return m
	}
	return a.Models[0]
}

// taskEndpoint picks a fresh endpoint of m's pool on every request.
func taskEndpoint(r endpoint.Resolver, m *model.Model) endpoint.Endpoint {
	return endpoint.Func(func(ctx context.Context, req *endpoint.Request) iter.Seq2[*endpoint.TokenOutput, error] {
		ep, err := r.Resolve(m)
		if err != nil {
			return func(yield func(*endpoint.TokenOutput, error) bool) { yield(nil, err) }
		}
		return ep.Generate(ctx, req)
	})
}

func newTokenizer(name string) (tokenizer.Tokenizer, error) {
	if name == "" {
		return tokenizer.NewSimpleTokenizer(), nil
	}
	t, err := tiktoken.New(name)
	if err != nil {
		return nil, fmt.Errorf("tokenizer %q: %w", name, err)
	}
	return t, nil
}

type closingStore interface {
	assistant.Store
	Close() error
}

func openStore(ctx context.Context, cfg AssistantsConfig) (closingStore, error) {
	switch cfg.Backend {
	case BackendRedis:
		s := store.NewRedisStore(&cfg.Redis)
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	case BackendMongo:
		s, err := store.NewMongoStore(ctx, &cfg.Mongo)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendPostgres:
		s, err := store.NewPostgresStore(ctx, &cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return store.NewInMemoryStore(cfg.Seed...), nil
	}
}
