package content

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrUnknownProvider   = errors.New("content: unknown provider")
	ErrDuplicateProvider = errors.New("content: duplicate provider")
)

// Registry holds providers in registration order and tracks which are
// enabled. The registry's switch overrides the provider's own default.
type Registry struct {
	mu        sync.RWMutex
	order     []string
	providers map[string]Provider
	enabled   map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		enabled:   make(map[string]bool),
	}
}

// Register adds p. IDs must be unique.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[p.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, p.ID())
	}
	r.order = append(r.order, p.ID())
	r.providers[p.ID()] = p
	r.enabled[p.ID()] = p.Enabled()
	return nil
}

// SetEnabled switches a provider on or off.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	r.enabled[id] = enabled
	return nil
}

// Get returns the provider with id, reflecting the registry's switch.
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[id]
	if !ok {
		return nil, false
	}
	return toggled{Provider: p, enabled: r.enabled[id]}, true
}

// Providers returns every provider in registration order.
func (r *Registry) Providers(_ context.Context) ([]Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, toggled{Provider: r.providers[id], enabled: r.enabled[id]})
	}
	return out, nil
}

// List describes every provider in registration order.
func (r *Registry) List() []Info {
	providers, _ := r.Providers(context.Background())
	infos := make([]Info, 0, len(providers))
	for _, p := range providers {
		infos = append(infos, Describe(p))
	}
	return infos
}

// Scan fetches a single batch from one provider.
func (r *Registry) Scan(ctx context.Context, id string, cursor Cursor) (*Batch, error) {
	p, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return ScanOnce(ctx, p, cursor)
}

// ScanOnce fetches one batch from p. A nil batch reads as an empty, final one.
func ScanOnce(ctx context.Context, p Provider, cursor Cursor) (*Batch, error) {
	batch, err := p.Scan(ctx, cursor)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		batch = &Batch{}
	}
	return batch, nil
}

type toggled struct {
	Provider
	enabled bool
}

func (t toggled) Enabled() bool { return t.enabled }
