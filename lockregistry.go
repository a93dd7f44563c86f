package reprivileger

import (
	"sync"
	"time"
)

// LockRegistry is a process-wide flat map from scope key to Coordinator.
// Coordinators are created on first use and never removed mid-flight, so a
// scope key always resolves to the same coordinator for the life of the
// process. Each logical entity gets its own coordinator to keep unrelated
// scopes from contending.
type LockRegistry struct {
	mu             sync.Mutex
	coordinators   map[string]*Coordinator
	acquireTimeout time.Duration
}

// NewLockRegistry creates an empty registry. The timeout, if nonzero, is
// applied to every coordinator the registry creates.
func NewLockRegistry(acquireTimeout time.Duration) *LockRegistry {
	return &LockRegistry{
		coordinators:   make(map[string]*Coordinator),
		acquireTimeout: acquireTimeout,
	}
}

// Get returns the coordinator for a scope key, creating it on first use.
func (r *LockRegistry) Get(scope string) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.coordinators[scope]; ok {
		return c
	}
	c := NewCoordinator(scope).WithAcquireTimeout(r.acquireTimeout)
	r.coordinators[scope] = c
	return c
}

// Scopes returns the keys of every coordinator created so far.
func (r *LockRegistry) Scopes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	scopes := make([]string, 0, len(r.coordinators))
	for scope := range r.coordinators {
		scopes = append(scopes, scope)
	}
	return scopes
}
