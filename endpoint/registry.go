package endpoint

import (
	"fmt"
	"math/rand/v2"
	"sync"

	errorskg "github.com/sweetpotato0/textgen/errors"
	"github.com/sweetpotato0/textgen/model"
)

// Factory builds an endpoint from its configuration.
type Factory func(cfg Config) (Endpoint, error)

// Registry maps endpoint type tags to factories.
// All operations are thread-safe using RWMutex protection
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for the given type tag.
func (r *Registry) Register(typ string, f Factory) error {
	if typ == "" {
		return fmt.Errorf("endpoint type cannot be empty")
	}
	if f == nil {
		return fmt.Errorf("endpoint %s: nil factory", typ)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[typ]; exists {
		return fmt.Errorf("endpoint type %s already registered", typ)
	}
	r.factories[typ] = f
	return nil
}

// New builds an endpoint for cfg using the factory registered for cfg.Type.
func (r *Registry) New(cfg Config) (Endpoint, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("endpoint type %q: %w", cfg.Type, errorskg.ErrNotFound)
	}
	return f(cfg)
}

// Weighted pairs an endpoint with its selection weight.
type Weighted struct {
	Endpoint Endpoint
	Weight   int
}

// Pool picks one of several endpoints serving the same model, at random,
// proportionally to their weights.
type Pool struct {
	entries []Weighted
	total   int
}

// NewPool creates a pool. Non-positive weights count as 1.
func NewPool(entries ...Weighted) (*Pool, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("endpoint pool: no endpoints: %w", errorskg.ErrInvalidInput)
	}
	p := &Pool{entries: make([]Weighted, 0, len(entries))}
	for _, e := range entries {
		if e.Endpoint == nil {
			return nil, fmt.Errorf("endpoint pool: nil endpoint: %w", errorskg.ErrInvalidInput)
		}
		if e.Weight <= 0 {
			e.Weight = 1
		}
		p.entries = append(p.entries, e)
		p.total += e.Weight
	}
	return p, nil
}

// Pick returns an endpoint of the pool.
func (p *Pool) Pick() Endpoint {
	if len(p.entries) == 1 {
		return p.entries[0].Endpoint
	}
	n := rand.IntN(p.total)
	for _, e := range p.entries {
		if n < e.Weight {
			return e.Endpoint
		}
		n -= e.Weight
	}
	return p.entries[len(p.entries)-1].Endpoint
}

// Len returns the number of endpoints in the pool.
func (p *Pool) Len() int { return len(p.entries) }

// Resolver finds the endpoint that should serve a model.
type Resolver interface {
	Resolve(m *model.Model) (Endpoint, error)
}

// Pools is a Resolver keyed by model name.
type Pools map[string]*Pool

// Resolve picks an endpoint of the pool registered for m.
func (ps Pools) Resolve(m *model.Model) (Endpoint, error) {
	if m == nil {
		return nil, fmt.Errorf("resolve endpoint: nil model: %w", errorskg.ErrInvalidInput)
	}
	p, ok := ps[m.Name]
	if !ok {
		return nil, fmt.Errorf("no endpoint for model %q: %w", m.Name, errorskg.ErrNotFound)
	}
	return p.Pick(), nil
}

// Build creates one pool per model from the endpoint configurations.
func Build(reg *Registry, models map[*model.Model][]Config) (Pools, error) {
	pools := make(Pools, len(models))
	for m, cfgs := range models {
		entries := make([]Weighted, 0, len(cfgs))
		for _, cfg := range cfgs {
			cfg.Model = m
			ep, err := reg.New(cfg)
			if err != nil {
				return nil, fmt.Errorf("model %s: %w", m.Name, err)
			}
			entries = append(entries, Weighted{Endpoint: ep, Weight: cfg.EffectiveWeight()})
		}
		pool, err := NewPool(entries...)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", m.Name, err)
		}
		pools[m.Name] = pool
	}
	return pools, nil
}
