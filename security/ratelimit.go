package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// defaultMaxEntries bounds the number of tracked identifiers
	defaultMaxEntries = 10000

	// limiterIdleTimeout is how long an idle limiter is kept before cleanup
	limiterIdleTimeout = 10 * time.Minute

	// cleanupInterval is how often idle limiters are swept
	cleanupInterval = time.Minute
)

// limiterEntry tracks a rate limiter and its last access time
type limiterEntry struct {
	identifier string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter provides per-identifier (typically per-IP) rate limiting
// using a token bucket, with LRU eviction to prevent unbounded memory
// growth on the login endpoints.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*list.Element // identifier -> element holding *limiterEntry
	lruList  *list.List               // front = most recently used

	rate       int
	burst      int
	maxEntries int
	logger     *slog.Logger

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewRateLimiter creates a rate limiter allowing requestsPerSecond with
// the given burst per identifier. A nil logger uses slog.Default().
func NewRateLimiter(requestsPerSecond, burst int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}

	rl := &RateLimiter{
		limiters:    make(map[string]*list.Element),
		lruList:     list.New(),
		rate:        requestsPerSecond,
		burst:       burst,
		maxEntries:  defaultMaxEntries,
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}

	go rl.cleanupLoop()
	return rl
}

// Allow reports whether a request from identifier may proceed.
func (rl *RateLimiter) Allow(identifier string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	var entry *limiterEntry
	if elem, ok := rl.limiters[identifier]; ok {
		entry = elem.Value.(*limiterEntry)
		rl.lruList.MoveToFront(elem)
	} else {
		if rl.lruList.Len() >= rl.maxEntries {
			rl.evictOldest()
		}
		entry = &limiterEntry{
			identifier: identifier,
			limiter:    rate.NewLimiter(rate.Limit(rl.rate), rl.burst),
		}
		rl.limiters[identifier] = rl.lruList.PushFront(entry)
	}

	entry.lastAccess = time.Now()
	return entry.limiter.Allow()
}

// Stop terminates the cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

// evictOldest removes the least recently used limiter. Caller must hold mu.
func (rl *RateLimiter) evictOldest() {
	elem := rl.lruList.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*limiterEntry)
	delete(rl.limiters, entry.identifier)
	rl.lruList.Remove(elem)
	rl.logger.Debug("Evicted rate limiter entry", "identifier", entry.identifier)
}

// cleanupLoop periodically drops limiters idle longer than the timeout.
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.removeIdle()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *RateLimiter) removeIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-limiterIdleTimeout)
	for elem := rl.lruList.Back(); elem != nil; {
		prev := elem.Prev()
		entry := elem.Value.(*limiterEntry)
		if entry.lastAccess.After(cutoff) {
			// LRU order: everything nearer the front is more recent.
			break
		}
		delete(rl.limiters, entry.identifier)
		rl.lruList.Remove(elem)
		elem = prev
	}
}
