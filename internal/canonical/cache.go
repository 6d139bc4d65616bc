package canonical

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/wavecrest/heatsync/internal/models"
)

// DefaultTTL bounds how stale a cached canonical read may be. Canonical
// scores are otherwise recomputed on every read.
const DefaultTTL = 3 * time.Second

type cacheEntry struct {
	scores  []models.CanonicalScore
	savedAt time.Time
}

// Cache is a short time-boxed read-through cache over Canonicalize, keyed by
// heat id. It only bounds repeated-fetch cost; it never serves entries past
// the TTL window.
type Cache struct {
	ttl   time.Duration
	clock clockwork.Clock

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCache returns a cache with the given TTL; ttl <= 0 uses DefaultTTL.
func NewCache(ttl time.Duration, clock clockwork.Clock) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the cached canonical scores for heatID, or calls fetch for the
// raw rows, canonicalizes and caches the result.
func (c *Cache) Get(heatID string, fetch func() ([]models.Score, error)) ([]models.CanonicalScore, error) {
	key := models.NormalizeHeatID(heatID)
	now := c.clock.Now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && now.Sub(e.savedAt) < c.ttl {
		c.mu.Unlock()
		return e.scores, nil
	}
	c.mu.Unlock()

	raw, err := fetch()
	if err != nil {
		return nil, err
	}
	scores := Canonicalize(raw)

	c.mu.Lock()
	c.entries[key] = cacheEntry{scores: scores, savedAt: now}
	c.mu.Unlock()
	return scores, nil
}

// Invalidate drops the cached entry for heatID, forcing the next read to
// refetch. Called on local score-changed notifications.
func (c *Cache) Invalidate(heatID string) {
	c.mu.Lock()
	delete(c.entries, models.NormalizeHeatID(heatID))
	c.mu.Unlock()
}
