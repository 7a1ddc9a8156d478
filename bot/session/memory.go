package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	sess      *Session
	expiresAt time.Time
}

// MemoryStore is an in-memory Store with per-entry TTL, used for the memory
// storage backend and for tests. Expiry is lazy: expired entries are dropped
// on access.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[int64]memoryEntry
	ttl     time.Duration

	now func() time.Time
}

// NewMemoryStore constructs a MemoryStore with the given TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[int64]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns a copy of the stored session, or (nil, nil) when absent or expired.
func (m *MemoryStore) Get(_ context.Context, userID int64) (*Session, error) {
	m.mu.RLock()
	entry, ok := m.entries[userID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if m.now().After(entry.expiresAt) {
		m.mu.Lock()
		// Re-check under the write lock; a Put may have refreshed it.
		if cur, ok := m.entries[userID]; ok && m.now().After(cur.expiresAt) {
			delete(m.entries, userID)
		}
		m.mu.Unlock()
		return nil, nil
	}
	return entry.sess.Clone(), nil
}

// Put stores a copy of the session and resets its TTL.
func (m *MemoryStore) Put(_ context.Context, userID int64, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[userID] = memoryEntry{
		sess:      s.Clone(),
		expiresAt: m.now().Add(m.ttl),
	}
	return nil
}

// Delete removes the session; deleting an absent session is a no-op.
func (m *MemoryStore) Delete(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, userID)
	return nil
}
