package tool

import (
	"context"
	"fmt"
	"log/slog"
)

// Provider supplies tools from an external source.
type Provider interface {
	// Tools returns the provider's current tool definitions.
	Tools(ctx context.Context) ([]*Tool, error)
	// Close releases resources owned by the provider.
	Close() error
	// ToolsChanged returns a channel that fires when the tool set is updated.
	// Providers that do not support live updates should return nil.
	ToolsChanged() <-chan struct{}
}

// Load upserts the tools of provider into reg.
func (r *Registry) Load(ctx context.Context, provider Provider) error {
	tools, err := provider.Tools(ctx)
	if err != nil {
		return fmt.Errorf("load tools from provider: %w", err)
	}
	for _, t := range tools {
		if t == nil || t.Name == "" {
			continue
		}
		if err := r.Upsert(t); err != nil {
			return err
		}
	}
	return nil
}

// Watch reloads the tools of provider every time it reports a change, until
// ctx is done or the provider closes its channel. It blocks.
func (r *Registry) Watch(ctx context.Context, provider Provider, logger *slog.Logger) {
	ch := provider.ToolsChanged()
	if ch == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			if err := r.Load(ctx, provider); err != nil && logger != nil {
				logger.Warn("failed to refresh tools", "error", err)
			}
		}
	}
}
