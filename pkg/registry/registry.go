// Package registry is the static name-to-handler mapping the DAG builder
// validates against and the executor invokes through. Registration happens
// once at process start; there is no hot-reload.
package registry

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/jordigilh/kubernaut-workflow-engine/internal/apperrors"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/retrypolicy"
)

// HandlerFunc is the function bound to a node via the registry. args holds
// the job payload: the trigger-derived payload for a root node, or the
// upstream node's combined result for a downstream node. upstream is a
// separate upstream-result argument; pkg/executor always passes nil for it.
type HandlerFunc func(ctx context.Context, args json.RawMessage, upstream json.RawMessage) (json.RawMessage, error)

// InputContract declares what a handler expects: named positional
// arguments supplied by composition, plus whether it accepts a single
// upstream-result argument filled by sequencing.
type InputContract struct {
	PositionalArgs  []string
	AcceptsUpstream bool
}

// Entry is a registered handler together with its retry profile and input
// contract.
type Entry struct {
	Name          string
	Handler       HandlerFunc
	RetryPolicy   retrypolicy.Policy
	InputContract InputContract
}

// Registry is a concurrency-safe name -> Entry map.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds a new handler entry. Registering the same name twice is an
// error — registrations happen once, at process start.
func (r *Registry) Register(entry Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[entry.Name]; exists {
		return apperrors.NewValidationError("handler already registered: " + entry.Name)
	}
	r.entries[entry.Name] = entry
	return nil
}

// Has reports whether name is registered, satisfying pkg/dag.Registry.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Get returns the Entry for name.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Invoke resolves name and calls its handler. An unknown handler is a
// permanent failure per spec.md §4.9 step 1.
func (r *Registry) Invoke(ctx context.Context, name string, args, upstream json.RawMessage) (json.RawMessage, error) {
	entry, ok := r.Get(name)
	if !ok {
		return nil, apperrors.NewValidationError("unknown handler: " + name)
	}
	return entry.Handler(ctx, args, upstream)
}

// Names returns every registered handler name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered handlers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
