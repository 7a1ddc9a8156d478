package flow

import "sync"

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// keyedMutex serializes session read-modify-write sections per user. Entries
// are reference counted and removed once unused, so the map stays bounded by
// the number of users with in-flight events.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[int64]*lockEntry
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[int64]*lockEntry)}
}

// Lock acquires the per-key mutex and returns its unlock function.
// The lock must never be held across the coalescer's quiet-window wait.
func (k *keyedMutex) Lock(key int64) func() {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &lockEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
