// Package admin gates privileged operations behind a static allow-list
// and dispatches the admin command set.
package admin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// NotAuthorizedError is returned when a caller outside the allow-list
// invokes a privileged operation. It is distinguishable from validation
// errors and carries the caller id for auditing.
type NotAuthorizedError struct {
	Caller  string
	Allowed []string
}

func (e *NotAuthorizedError) Error() string {
	return fmt.Sprintf("user %s is not authorized for admin commands (allowed: %s)",
		e.Caller, strings.Join(e.Allowed, ", "))
}

// Gate checks callers against the configured allow-list.
type Gate struct {
	allowed map[string]bool
	logger  *zap.Logger
}

// NewGate builds a gate over the given user ids.
func NewGate(userIDs []string, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		allowed[id] = true
	}
	return &Gate{allowed: allowed, logger: logger}
}

// Check returns a NotAuthorizedError when callerID is not allowed.
func (g *Gate) Check(callerID string) error {
	if g.allowed[callerID] {
		return nil
	}
	ids := make([]string, 0, len(g.allowed))
	for id := range g.allowed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return &NotAuthorizedError{Caller: callerID, Allowed: ids}
}

// HandlerFunc handles one admin command. The caller id travels with
// the call so handlers can log who triggered what.
type HandlerFunc func(ctx context.Context, callerID, args string) string

// Require wraps a handler with the gate check. The wrap is applied at
// registration time, so handlers themselves stay permission-unaware.
func Require(gate *Gate, h HandlerFunc) HandlerFunc {
	return func(ctx context.Context, callerID, args string) string {
		if err := gate.Check(callerID); err != nil {
			gate.logger.Warn("admin command refused",
				zap.String("caller", callerID))
			return err.Error()
		}
		return h(ctx, callerID, args)
	}
}

// Dispatcher routes admin-prefixed input to registered handlers. Every
// handler registered through Register is gate-wrapped.
type Dispatcher struct {
	gate   *Gate
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	help     map[string]string
}

// NewDispatcher builds an empty dispatcher over gate.
func NewDispatcher(gate *Gate, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		gate:     gate,
		logger:   logger,
		handlers: make(map[string]HandlerFunc),
		help:     make(map[string]string),
	}
}

// Register adds a gated handler under name.
func (d *Dispatcher) Register(name, help string, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[strings.ToLower(name)] = Require(d.gate, h)
	d.help[strings.ToLower(name)] = help
}

// Handle implements the admin entry point: input is the text after the
// admin prefix, "command args...".
func (d *Dispatcher) Handle(ctx context.Context, callerID, input string) string {
	name, args, _ := strings.Cut(strings.TrimSpace(input), " ")
	name = strings.ToLower(name)
	if name == "" {
		return d.usage()
	}

	d.mu.RLock()
	h, ok := d.handlers[name]
	d.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("Unknown admin command %q.\n%s", name, d.usage())
	}

	d.logger.Info("admin command",
		zap.String("caller", callerID), zap.String("command", name))
	return h(ctx, callerID, strings.TrimSpace(args))
}

func (d *Dispatcher) usage() string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.help))
	for name := range d.help {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Admin commands:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  /admin %-14s %s\n", name, d.help[name])
	}
	return strings.TrimRight(b.String(), "\n")
}
