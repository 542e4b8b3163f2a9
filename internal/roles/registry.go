// Package roles maintains the known-roles registry: the set of bot
// personas a roleplay session may use, with their descriptive text.
package roles

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ValidationError reports an unknown role name together with the
// currently valid choices.
type ValidationError struct {
	Role      string
	Available []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid role %q. Available roles: %s", e.Role, strings.Join(e.Available, ", "))
}

// Registry holds the known roles, loaded once at startup from a JSON
// document mapping role name to persona description. It is not
// hot-reloaded; Reload is invoked only by an explicit admin operation.
type Registry struct {
	path   string
	logger *zap.Logger

	mu    sync.RWMutex
	roles map[string]string
}

// NewRegistry loads the registry from path. A missing file yields an
// empty registry with a warning rather than an error; roleplay sessions
// cannot be created until roles exist.
func NewRegistry(path string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{path: path, logger: logger}
	if err := r.Reload(); err != nil {
		logger.Warn("roles config not loaded", zap.String("path", path), zap.Error(err))
	}
	return r
}

// NewRegistryFromMap builds a registry over an in-memory role set.
// Reload is a no-op for registries built this way.
func NewRegistryFromMap(roles map[string]string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{logger: logger, roles: roles}
}

// Reload re-reads the roles document from disk. On failure the previous
// contents are kept.
func (r *Registry) Reload() error {
	if r.path == "" {
		return nil
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("failed to read roles config: %w", err)
	}

	var roles map[string]string
	if err := json.Unmarshal(data, &roles); err != nil {
		return fmt.Errorf("failed to parse roles config %s: %w", r.path, err)
	}

	r.mu.Lock()
	r.roles = roles
	r.mu.Unlock()

	r.logger.Info("roles config loaded", zap.String("path", r.path), zap.Int("roles", len(roles)))
	return nil
}

// Validate returns a ValidationError when name is not a known role.
func (r *Registry) Validate(name string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.roles[name]; !ok {
		return &ValidationError{Role: name, Available: r.namesLocked()}
	}
	return nil
}

// Describe returns the persona description for a known role.
func (r *Registry) Describe(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, ok := r.roles[name]
	return desc, ok
}

// Names returns all known role names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.roles))
	for name := range r.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
