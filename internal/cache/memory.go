package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store with LRU eviction and lazy expiry.
// It serves both as the always-present fallback behind a durable primary
// and as the sole backend when no durable store is configured.
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used

	// now is swappable for expiry tests.
	now func() time.Time
}

type memoryEntry struct {
	key       string
	entry     *Entry
	expiresAt time.Time
}

// NewMemoryStore creates a MemoryStore holding at most capacity entries.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity < 1 {
		capacity = 1
	}
	return &MemoryStore{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get returns the entry for key or ErrNotFound. Expired entries are purged
// lazily on access.
func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}

	me := elem.Value.(*memoryEntry)
	if s.now().After(me.expiresAt) {
		s.order.Remove(elem)
		delete(s.entries, key)
		return nil, ErrNotFound
	}

	s.order.MoveToFront(elem)
	return me.entry, nil
}

// Set stores the entry, evicting the least recently used entry when the
// store exceeds its capacity.
func (s *MemoryStore) Set(_ context.Context, key string, entry *Entry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := s.now().Add(ttl)

	if elem, ok := s.entries[key]; ok {
		me := elem.Value.(*memoryEntry)
		me.entry = entry
		me.expiresAt = expiresAt
		s.order.MoveToFront(elem)
		return nil
	}

	elem := s.order.PushFront(&memoryEntry{key: key, entry: entry, expiresAt: expiresAt})
	s.entries[key] = elem

	for len(s.entries) > s.capacity {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		s.order.Remove(oldest)
		delete(s.entries, oldest.Value.(*memoryEntry).key)
	}
	return nil
}

// Delete removes the entry for key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		s.order.Remove(elem)
		delete(s.entries, key)
	}
	return nil
}

// Close is a no-op for the in-process store.
func (s *MemoryStore) Close() error {
	return nil
}

// Len reports the number of stored entries, including not-yet-purged
// expired ones.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
