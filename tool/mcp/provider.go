package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sweetpotato0/textgen/tool"
)

// Transport enumerates the supported MCP transport types.
type Transport string

const (
	// TransportStreamable indicates the streamable HTTP (SSE) transport.
	TransportStreamable Transport = "streamable"
	// TransportCommand indicates the stdio/command transport.
	TransportCommand Transport = "command"
)

// Config describes how to connect to an MCP server.
type Config struct {
	Name string `koanf:"name"`
	// Transport selects how to connect to the MCP server. If empty, defaults to
	// command transport when Command is set, otherwise streamable HTTP.
	Transport Transport `koanf:"transport"`
	// Endpoint is required for streamable HTTP connections.
	Endpoint string `koanf:"endpoint"`
	// Command is required for command transport connections.
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`
	Env     []string `koanf:"env"`
	// KeepAlive is the ping interval. Zero disables pings.
	KeepAlive time.Duration `koanf:"keep_alive"`
}

type provider struct {
	client *Client
}

// NewProvider connects to the server described by cfg and checks that its
// tools can be listed.
func NewProvider(ctx context.Context, cfg Config, opts ...Option) (tool.Provider, error) {
	if cfg.KeepAlive > 0 {
		opts = append([]Option{WithKeepAlive(cfg.KeepAlive)}, opts...)
	}
	transport := cfg.Transport
	if transport == "" {
		if cfg.Command != "" {
			transport = TransportCommand
		} else {
			transport = TransportStreamable
		}
	}

	var (
		client *Client
		err    error
	)
	switch transport {
	case TransportStreamable:
		if strings.TrimSpace(cfg.Endpoint) == "" {
			return nil, errors.New("mcp: endpoint is required for streamable transport")
		}
		client, err = NewStreamableClient(ctx, cfg.Endpoint, opts...)
	case TransportCommand:
		opts = append([]Option{WithCommandArgs(cfg.Args...), WithCommandEnv(cfg.Env...)}, opts...)
		client, err = NewStdioClient(ctx, cfg.Command, opts...)
	default:
		return nil, fmt.Errorf("mcp: unsupported transport %q", transport)
	}
	if err != nil {
		return nil, err
	}

	p := &provider{client: client}
	if _, err := p.Tools(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return p, nil
}

func (p *provider) Tools(ctx context.Context) ([]*tool.Tool, error) {
	if p == nil || p.client == nil {
		return nil, errors.New("mcp: provider is not initialized")
	}
	return p.client.Tools(ctx)
}

func (p *provider) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

func (p *provider) ToolsChanged() <-chan struct{} {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.ToolsChanged()
}
