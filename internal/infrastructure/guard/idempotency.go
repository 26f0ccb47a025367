package guard

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"
)

const idempotencyCleanupInterval = 5 * time.Minute

// Entry is one cached response bound to the hash of the request body
// that produced it
type Entry struct {
	BodyHash   string
	Response   []byte
	StatusCode int
	Headers    map[string]string
	CreatedAt  time.Time
}

// IdempotencyCache deduplicates mutating requests by client-supplied
// key within a TTL. A replay with the same key but a different body is
// reported as a conflict so the caller can reject it as misuse.
type IdempotencyCache struct {
	mu          sync.Mutex
	maxEntries  int
	ttl         time.Duration
	entries     map[string]*Entry
	lastCleanup time.Time
	now         func() time.Time
}

func NewIdempotencyCache(maxEntries, ttlSeconds int) *IdempotencyCache {
	if maxEntries <= 0 {
		maxEntries = 100000
	}
	if ttlSeconds <= 0 {
		ttlSeconds = 86400
	}
	now := time.Now
	return &IdempotencyCache{
		maxEntries:  maxEntries,
		ttl:         time.Duration(ttlSeconds) * time.Second,
		entries:     make(map[string]*Entry),
		lastCleanup: now(),
		now:         now,
	}
}

// BodyHash is the canonical request body digest
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Lookup returns the cached entry for the key when its body hash
// matches. conflict is true when the key exists unexpired but was
// stored for a different body.
func (c *IdempotencyCache) Lookup(key, bodyHash string) (entry *Entry, conflict bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.maybeCleanup(now)

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if now.Sub(e.CreatedAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	if e.BodyHash != bodyHash {
		return nil, true
	}
	return e, false
}

// Set stores or overwrites the entry for the key, evicting the oldest
// fifth of the cache when full
func (c *IdempotencyCache) Set(key, bodyHash string, response []byte, statusCode int, headers map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}

	c.entries[key] = &Entry{
		BodyHash:   bodyHash,
		Response:   response,
		StatusCode: statusCode,
		Headers:    headers,
		CreatedAt:  c.now(),
	}
}

// evictOldest removes the oldest 20% of entries by creation time,
// under the caller's lock
func (c *IdempotencyCache) evictOldest() {
	type aged struct {
		key       string
		createdAt time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for key, e := range c.entries {
		all = append(all, aged{key, e.CreatedAt})
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].createdAt.Before(all[j].createdAt)
	})

	evict := len(all) / 5
	if evict < 1 {
		evict = 1
	}
	for _, a := range all[:evict] {
		delete(c.entries, a.key)
	}
}

func (c *IdempotencyCache) maybeCleanup(now time.Time) {
	if now.Sub(c.lastCleanup) <= idempotencyCleanupInterval {
		return
	}
	for key, e := range c.entries {
		if now.Sub(e.CreatedAt) > c.ttl {
			delete(c.entries, key)
		}
	}
	c.lastCleanup = now
}

// Stats reports the cache's observable state
func (c *IdempotencyCache) Stats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]interface{}{
		"entries":     len(c.entries),
		"max_entries": c.maxEntries,
		"ttl_seconds": int(c.ttl.Seconds()),
	}
}
