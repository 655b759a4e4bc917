// Package store provides assistant.Store implementations.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/sweetpotato0/textgen/assistant"
	errorskg "github.com/sweetpotato0/textgen/errors"
)

// InMemoryStore keeps assistants in a map.
type InMemoryStore struct {
	assistants map[string]*assistant.Assistant
	mu         sync.RWMutex
}

// NewInMemoryStore creates a store seeded with the given assistants.
func NewInMemoryStore(seed ...*assistant.Assistant) *InMemoryStore {
	s := &InMemoryStore{assistants: make(map[string]*assistant.Assistant, len(seed))}
	for _, a := range seed {
		if a != nil && a.ID != "" {
			s.assistants[a.ID] = a
		}
	}
	return s
}

// Get returns the assistant with the given id.
func (s *InMemoryStore) Get(ctx context.Context, id string) (*assistant.Assistant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assistants[id]
	if !ok {
		return nil, fmt.Errorf("assistant %q: %w", id, errorskg.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

// Put adds or replaces an assistant.
func (s *InMemoryStore) Put(ctx context.Context, a *assistant.Assistant) error {
	if err := validate(a); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.assistants[a.ID] = &cp
	return nil
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }

func validate(a *assistant.Assistant) error {
	if a == nil {
		return fmt.Errorf("assistant cannot be nil: %w", errorskg.ErrInvalidInput)
	}
	if a.ID == "" {
		return fmt.Errorf("assistant id cannot be empty: %w", errorskg.ErrInvalidInput)
	}
	return nil
}
