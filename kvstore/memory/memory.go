// Package memory provides an in-process LRU implementation of the kvstore
// contract. It is suitable for development, testing, and single-instance
// deployments.
package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/authrelay/oauth-client/kvstore"
)

// DefaultCleanupInterval is how often the janitor sweeps expired entries.
const DefaultCleanupInterval = time.Minute

// Config holds configuration for the in-memory store.
type Config struct {
	// MaxEntries bounds the number of entries; the least recently used
	// entry is evicted when the bound is reached. Zero means unbounded.
	MaxEntries int

	// CleanupInterval is how often expired entries are swept. Zero uses
	// DefaultCleanupInterval; a negative value disables the janitor
	// (expired entries are still dropped lazily on Get).
	CleanupInterval time.Duration
}

// entry is a single cached value with its absolute expiry, computed at
// insertion time.
type entry struct {
	key       string
	value     string
	expiresAt time.Time
}

// Store is an in-process LRU implementation of kvstore.Store.
type Store struct {
	mu         sync.Mutex
	entries    map[string]*list.Element // key -> element holding *entry
	lru        *list.List               // front = most recently used
	maxEntries int

	stopCleanup chan struct{}
	stopOnce    sync.Once

	// now is overridable in tests
	now func() time.Time
}

// Compile-time interface check
var _ kvstore.Store = (*Store)(nil)

// New creates an unbounded in-memory store with the default janitor.
func New() *Store {
	return NewWithConfig(Config{})
}

// NewWithConfig creates an in-memory store with the given bounds and
// cleanup interval.
func NewWithConfig(cfg Config) *Store {
	s := &Store{
		entries:     make(map[string]*list.Element),
		lru:         list.New(),
		maxEntries:  cfg.MaxEntries,
		stopCleanup: make(chan struct{}),
		now:         time.Now,
	}

	interval := cfg.CleanupInterval
	if interval == 0 {
		interval = DefaultCleanupInterval
	}
	if interval > 0 {
		go s.cleanupLoop(interval)
	}

	return s
}

// Get returns the value stored under key. Expired entries are removed and
// reported as a miss.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}

	e := elem.Value.(*entry)
	if !s.now().Before(e.expiresAt) {
		s.removeElement(elem)
		return "", false, nil
	}

	s.lru.MoveToFront(elem)
	return e.value, true, nil
}

// Set stores value under key. The absolute expiry is computed from now+ttl
// at insertion time. A ttl <= 0 is a successful no-op.
func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := s.now().Add(ttl)

	if elem, ok := s.entries[key]; ok {
		e := elem.Value.(*entry)
		e.value = value
		e.expiresAt = expiresAt
		s.lru.MoveToFront(elem)
		return nil
	}

	if s.maxEntries > 0 && s.lru.Len() >= s.maxEntries {
		s.evictOldest()
	}

	s.entries[key] = s.lru.PushFront(&entry{
		key:       key,
		value:     value,
		expiresAt: expiresAt,
	})
	return nil
}

// Delete removes key. Missing keys are ignored.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		s.removeElement(elem)
	}
	return nil
}

// Len returns the current number of entries, including not-yet-swept
// expired ones.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// Stop terminates the janitor goroutine. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// evictOldest drops the least recently used entry. Caller must hold mu.
func (s *Store) evictOldest() {
	if elem := s.lru.Back(); elem != nil {
		s.removeElement(elem)
	}
}

// removeElement unlinks an element from both the map and the LRU list.
// Caller must hold mu.
func (s *Store) removeElement(elem *list.Element) {
	e := elem.Value.(*entry)
	delete(s.entries, e.key)
	s.lru.Remove(elem)
}

// cleanupLoop periodically sweeps expired entries until Stop is called.
func (s *Store) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.removeExpired()
		case <-s.stopCleanup:
			return
		}
	}
}

// removeExpired drops all entries whose expiry has passed.
func (s *Store) removeExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for elem := s.lru.Back(); elem != nil; {
		prev := elem.Prev()
		if e := elem.Value.(*entry); !now.Before(e.expiresAt) {
			s.removeElement(elem)
		}
		elem = prev
	}
}
