package kstock

import (
	"sync"

	"github.com/gookit/goutil/arrutil"
)

// SubscriptionRegistry ordered set of subscribed stock codes.
//
// The registry only grows during a session: selecting an instrument adds
// its code, deselecting never removes it, so the full set can be replayed
// on every reconnect without tearing down earlier subscriptions.
type SubscriptionRegistry struct {
	mu    sync.RWMutex
	codes []string
	index map[string]struct{}
}

// NewSubscriptionRegistry creates an empty registry.
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		codes: make([]string, 0),
		index: make(map[string]struct{}),
	}
}

// Add inserts codes not yet present, keeping insertion order.
// Returns the codes that were actually new.
func (r *SubscriptionRegistry) Add(codes ...string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := make([]string, 0, len(codes))
	for _, code := range arrutil.Unique(codes) {
		if code == "" {
			continue
		}
		if _, ok := r.index[code]; ok {
			continue
		}
		r.index[code] = struct{}{}
		r.codes = append(r.codes, code)
		added = append(added, code)
	}
	return added
}

// Contains reports whether code is subscribed.
func (r *SubscriptionRegistry) Contains(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.index[code]
	return ok
}

// Snapshot returns a copy of the full code set in insertion order.
func (r *SubscriptionRegistry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.codes))
	copy(out, r.codes)
	return out
}

// Len returns the number of subscribed codes.
func (r *SubscriptionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.codes)
}

// Clear empties the registry. Only callers winding a session down
// should use this; normal deselection keeps the subscription alive.
func (r *SubscriptionRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes = r.codes[:0]
	r.index = make(map[string]struct{})
}
