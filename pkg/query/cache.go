package query

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/tesselab/ariadne/pkg/common"
)

// resultCache is a small in-process TTL cache keyed by a content hash of
// tenant, route request, and query text. It smooths over repeated identical
// queries; it is not shared across instances.
type resultCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]cacheEntry
}

type cacheEntry struct {
	answer    common.Answer
	expiresAt time.Time
}

func newResultCache(ttl time.Duration, maxEntries int) *resultCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &resultCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]cacheEntry),
	}
}

func cacheKey(req Request) string {
	h := sha256.New()
	h.Write([]byte(req.TenantID))
	h.Write([]byte{0})
	h.Write([]byte(req.ForcedRoute))
	h.Write([]byte{0})
	h.Write([]byte(req.ResponseType))
	h.Write([]byte{0})
	h.Write([]byte(req.Query))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *resultCache) get(key string) (common.Answer, bool) {
	if c == nil {
		return common.Answer{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return common.Answer{}, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return common.Answer{}, false
	}
	return cloneAnswer(entry.answer), true
}

// cloneAnswer copies the answer's maps and slices so a cached entry is never
// aliased by callers. Hits run concurrently and mutate their copy freely.
func cloneAnswer(a common.Answer) common.Answer {
	clone := a
	if a.Metadata != nil {
		clone.Metadata = make(map[string]any, len(a.Metadata))
		for k, v := range a.Metadata {
			clone.Metadata[k] = v
		}
	}
	if a.Citations != nil {
		clone.Citations = append([]common.Citation(nil), a.Citations...)
	}
	if a.EvidenceIDs != nil {
		clone.EvidenceIDs = append([]string(nil), a.EvidenceIDs...)
	}
	return clone
}

func (c *resultCache) put(key string, answer common.Answer) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxEntries {
		// Evict expired entries first; fall back to dropping everything
		// rather than tracking recency for a best-effort cache.
		now := time.Now()
		for k, e := range c.entries {
			if now.After(e.expiresAt) {
				delete(c.entries, k)
			}
		}
		if len(c.entries) >= c.maxEntries {
			c.entries = make(map[string]cacheEntry)
		}
	}
	c.entries[key] = cacheEntry{answer: cloneAnswer(answer), expiresAt: time.Now().Add(c.ttl)}
}
