package license

import (
	"sync"
	"time"
)

// cacheEntry is a memoized validation outcome for one (client, domain) pair.
type cacheEntry struct {
	clientID string
	result   ValidationResult
	cachedAt time.Time
	hits     int
}

// CacheStats is a snapshot of ValidationCache counters.
type CacheStats struct {
	Entries    int     `json:"entries"`
	MaxSize    int     `json:"max_size"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRatio   float64 `json:"hit_ratio"`
	TTLSeconds float64 `json:"ttl_seconds"`
}

// ValidationCache memoizes validation results for a short TTL. Entries are
// keyed by clientID and domain so results never leak across domains.
type ValidationCache struct {
	entries map[string]cacheEntry
	// generations counts InvalidateClient calls per client. A result
	// computed under an older generation is never stored.
	generations map[string]uint64
	mutex       sync.RWMutex
	ttl         time.Duration
	maxSize     int
	now         Clock
	hits        int64
	misses      int64
	stopChan    chan struct{}
	stopOnce    sync.Once
}

// NewValidationCache creates a cache and starts its background sweeper.
func NewValidationCache(ttl time.Duration, maxSize int, now Clock) *ValidationCache {
	if now == nil {
		now = time.Now
	}
	cache := &ValidationCache{
		entries:     make(map[string]cacheEntry),
		generations: make(map[string]uint64),
		ttl:         ttl,
		maxSize:     maxSize,
		now:         now,
		stopChan:    make(chan struct{}),
	}

	go cache.sweep()

	return cache
}

func cacheKey(clientID, domain string) string {
	return clientID + ":" + domain
}

// Get returns a fresh entry and updates hit/miss counters.
func (c *ValidationCache) Get(clientID, domain string) (ValidationResult, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	key := cacheKey(clientID, domain)
	entry, ok := c.entries[key]
	if !ok || !c.fresh(entry) {
		c.misses++
		return ValidationResult{}, false
	}

	entry.hits++
	c.entries[key] = entry
	c.hits++
	return cloneResult(entry.result), true
}

// peek is Get without touching the counters.
func (c *ValidationCache) peek(clientID, domain string) (ValidationResult, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, ok := c.entries[cacheKey(clientID, domain)]
	if !ok || !c.fresh(entry) {
		return ValidationResult{}, false
	}
	return cloneResult(entry.result), true
}

// Generation returns the client's current invalidation generation.
func (c *ValidationCache) Generation(clientID string) uint64 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.generations[clientID]
}

// Set stores a result stamped with the current clock.
func (c *ValidationCache) Set(clientID, domain string, result ValidationResult) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.store(clientID, domain, result)
}

// SetIfCurrent stores result only when no InvalidateClient call for
// clientID happened since generation was read. It reports whether the
// result was stored.
func (c *ValidationCache) SetIfCurrent(clientID, domain string, generation uint64, result ValidationResult) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.generations[clientID] != generation {
		return false
	}
	return c.store(clientID, domain, result)
}

// store must be called with the mutex held.
func (c *ValidationCache) store(clientID, domain string, result ValidationResult) bool {
	if c.maxSize <= 0 {
		return false
	}

	key := cacheKey(clientID, domain)
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[key] = cacheEntry{
		clientID: clientID,
		result:   cloneResult(result),
		cachedAt: c.now(),
	}
	return true
}

// Invalidate drops the entry for one (client, domain) pair.
func (c *ValidationCache) Invalidate(clientID, domain string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.entries, cacheKey(clientID, domain))
}

// InvalidateClient drops every entry belonging to clientID and starts a
// new generation, so checks already running for the client cannot store
// their results.
func (c *ValidationCache) InvalidateClient(clientID string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.generations[clientID]++

	for key, entry := range c.entries {
		if entry.clientID == clientID {
			delete(c.entries, key)
		}
	}
}

// Stats returns a snapshot of cache counters.
func (c *ValidationCache) Stats() CacheStats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	total := c.hits + c.misses
	ratio := float64(0)
	if total > 0 {
		ratio = float64(c.hits) / float64(total)
	}

	return CacheStats{
		Entries:    len(c.entries),
		MaxSize:    c.maxSize,
		Hits:       c.hits,
		Misses:     c.misses,
		HitRatio:   ratio,
		TTLSeconds: c.ttl.Seconds(),
	}
}

// Stop halts the sweeper. Safe to call more than once.
func (c *ValidationCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
}

// cloneResult copies result deeply enough that callers cannot reach the
// cached record.
func cloneResult(result ValidationResult) ValidationResult {
	if result.License == nil {
		return result
	}
	rec := *result.License
	if rec.LastValidated != nil {
		at := *rec.LastValidated
		rec.LastValidated = &at
	}
	result.License = &rec
	return result
}

// fresh must be called with the mutex held.
func (c *ValidationCache) fresh(entry cacheEntry) bool {
	return c.now().Sub(entry.cachedAt) < c.ttl
}

func (c *ValidationCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.cachedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.cachedAt
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *ValidationCache) sweep() {
	interval := c.ttl
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mutex.Lock()
			for key, entry := range c.entries {
				if !c.fresh(entry) {
					delete(c.entries, key)
				}
			}
			c.mutex.Unlock()
		case <-c.stopChan:
			return
		}
	}
}
