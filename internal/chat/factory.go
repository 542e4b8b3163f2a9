package chat

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"rolechat/internal/llm"
	"rolechat/internal/retrieval"
	"rolechat/internal/roles"
	"rolechat/internal/types"
)

// History is the slice of the history store services depend on.
type History interface {
	AppendExchange(sessionID, userText, reply string) error
	Recent(sessionID string, n int) ([]llm.Message, error)
}

// ConfigUpdater lets a live service write back a session config value
// (e.g. a rolling conversation summary). Implementations persist the
// change without evicting the service that requested it.
type ConfigUpdater func(sessionID, key, value string)

// Deps carries the collaborators factories hand to new services.
type Deps struct {
	// NewModel returns a fresh model binding per service, so SwapModel
	// on one session never affects another.
	NewModel func() (llm.Client, error)

	History      History
	Roles        *roles.Registry
	Retrieval    *retrieval.Engine
	UpdateConfig ConfigUpdater
	Logger       *zap.Logger
}

// Factory builds a Service for one session mode. New validates the
// session fields its mode requires and fails fast without side effects
// when they are unmet.
type Factory interface {
	Mode() string
	New(info *types.SessionInfo) (Service, error)
}

// Registry maps a mode name to its factory. Adding a mode means
// registering a factory, not editing a dispatch chain.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewFactoryRegistry returns an empty factory registry.
func NewFactoryRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory, replacing any previous one for the mode.
func (r *Registry) Register(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[f.Mode()] = f
}

// Lookup returns the factory for mode.
func (r *Registry) Lookup(mode string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[mode]
	if !ok {
		return nil, fmt.Errorf("unknown session mode %q (known modes: %v)", mode, r.modesLocked())
	}
	return f, nil
}

// Modes returns the registered mode names, sorted.
func (r *Registry) Modes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.modesLocked()
}

func (r *Registry) modesLocked() []string {
	out := make([]string, 0, len(r.factories))
	for mode := range r.factories {
		out = append(out, mode)
	}
	sort.Strings(out)
	return out
}

// DefaultRegistry wires the built-in roleplay and plain factories.
func DefaultRegistry(deps Deps) *Registry {
	r := NewFactoryRegistry()
	r.Register(&RoleplayFactory{Deps: deps})
	r.Register(&PlainFactory{Deps: deps})
	return r
}
