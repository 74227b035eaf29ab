package signerset

import (
	"sync"

	"Cosign/internal/account"
)

// ReplaceFunc is notified after an account's signer set is replaced.
type ReplaceFunc func(acct account.ID, previous, current *SignerSet)

// Registry holds the active signer set per account.
// It is safe for concurrent access.
type Registry struct {
	mu        sync.RWMutex
	sets      map[account.ID]*SignerSet
	listeners []ReplaceFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sets: make(map[account.ID]*SignerSet)}
}

// Get returns the active set for an account.
func (r *Registry) Get(acct account.ID) (*SignerSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sets[acct]
	return s, ok
}

// Replace activates set for acct with the next version and returns the activated copy.
// Listeners run after the swap, outside the lock.
func (r *Registry) Replace(acct account.ID, set *SignerSet) *SignerSet {
	r.mu.Lock()
	previous := r.sets[acct]

	var next uint64 = 1
	if previous != nil {
		next = previous.version + 1
	}

	active := set.WithVersion(next)
	r.sets[acct] = active
	listeners := r.listeners
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(acct, previous, active)
	}

	return active
}

// Restore installs a set with an already-assigned version, without notifying listeners.
// Used when loading persisted state.
func (r *Registry) Restore(acct account.ID, set *SignerSet) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sets[acct] = set
}

// OnReplace registers fn to be called after every replacement.
func (r *Registry) OnReplace(fn ReplaceFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.listeners = append(r.listeners, fn)
}
