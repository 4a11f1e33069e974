// Package registry maps (event, version) pairs to registered handlers.
package registry

import (
	"sort"
	"sync"

	"github.com/kiket-dev/kiket-go-sdk/pkg/handler"
)

// Registration binds a handler to an event name and version, with the scopes
// a delivery's credential must grant before the handler runs.
type Registration struct {
	Event          string
	Version        string
	RequiredScopes []string
	Handler        handler.Func
}

type key struct {
	event   string
	version string
}

// Registry is the process-wide handler mapping.  Registration happens at
// startup;  lookups are read-only thereafter.  Construct one per test for
// isolation rather than sharing a package-level instance.
type Registry struct {
	mu       sync.RWMutex
	handlers map[key]Registration
}

func New() *Registry {
	return &Registry{handlers: map[key]Registration{}}
}

// Register upserts the handler for (event, version).  Re-registering the
// same pair replaces the prior entry;  other versions of the event are
// untouched.
func (r *Registry) Register(event, version string, fn handler.Func, requiredScopes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[key{event, version}] = Registration{
		Event:          event,
		Version:        version,
		RequiredScopes: requiredScopes,
		Handler:        fn,
	}
}

// Lookup returns the registration for the exact (event, version) pair.
// Version aliasing (eg. "1" for "v1") is dispatcher policy, not handled
// here.
func (r *Registry) Lookup(event, version string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handlers[key{event, version}]
	return reg, ok
}

// EventNames returns the distinct event names across all registered
// versions, sorted for stable output.
func (r *Registry) EventNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := map[string]struct{}{}
	for k := range r.handlers {
		seen[k.event] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every registration in no particular order.
func (r *Registry) All() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]Registration, 0, len(r.handlers))
	for _, reg := range r.handlers {
		all = append(all, reg)
	}
	return all
}
