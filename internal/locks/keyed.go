// Package locks provides per-key mutual exclusion for read-modify-write
// cycles against the store.
package locks

import "sync"

// Keyed hands out one mutex per key. Entries are never removed; the table
// is bounded by the number of keys ever seen, which matches the store's
// retain-forever row lifecycle.
type Keyed struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

// Lock acquires the mutex for key and returns its unlock func.
func (k *Keyed) Lock(key string) func() {
	k.mu.Lock()
	if k.m == nil {
		k.m = make(map[string]*sync.Mutex)
	}
	km, ok := k.m[key]
	if !ok {
		km = &sync.Mutex{}
		k.m[key] = km
	}
	k.mu.Unlock()

	km.Lock()
	return km.Unlock
}
