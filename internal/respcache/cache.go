// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package respcache caches completed model responses keyed by normalized
// prompt text. Lookups try an exact key first, then fall back to a fuzzy
// scan using Jaccard word-set similarity against entries for the same model.
// Expired entries are evicted lazily on access; capacity pressure evicts the
// globally oldest entry by insertion time.
package respcache

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/openclaw/gateway/internal/config"
)

var punctRe = regexp.MustCompile(`[^\w\s]`)
var spaceRe = regexp.MustCompile(`\s+`)

// Entry is a cached response together with its bookkeeping.
type Entry struct {
	Prompt     string    `json:"prompt"`
	Normalized string    `json:"-"`
	Model      string    `json:"model"`
	Response   string    `json:"response"`
	Tokens     int       `json:"tokens"`
	CreatedAt  time.Time `json:"created_at"`
	Hits       int64     `json:"hits"`

	words map[string]struct{}
	seq   uint64
}

// Stats is a point-in-time summary of cache effectiveness.
type Stats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	FuzzyHits  int64   `json:"fuzzy_hits"`
	Evictions  int64   `json:"evictions"`
	HitRate    float64 `json:"hit_rate"`
}

// Cache stores responses with TTL expiry and bounded capacity.
type Cache struct {
	cfg config.CacheConfig
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]*Entry
	seq     uint64 // monotonic insertion counter, orders entries exactly

	hits      int64
	misses    int64
	fuzzyHits int64
	evictions int64

	now func() time.Time
}

// New creates a cache with the given settings.
func New(cfg config.CacheConfig) *Cache {
	return &Cache{
		cfg:     cfg,
		ttl:     time.Duration(cfg.TTLSeconds) * time.Second,
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

// Normalize canonicalizes prompt text for cache keying: lowercase, strip
// punctuation, collapse runs of whitespace to single spaces, trim.
func Normalize(prompt string) string {
	s := strings.ToLower(prompt)
	s = punctRe.ReplaceAllString(s, "")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Key derives the exact-match cache key for a model and prompt.
func Key(model, prompt string) string {
	sum := sha256.Sum256([]byte(model + ":" + Normalize(prompt)))
	return hex.EncodeToString(sum[:])
}

// Jaccard computes word-set similarity between two normalized strings.
// Two empty word sets have similarity 0, not 1.
func Jaccard(a, b string) float64 {
	return jaccardSets(wordSet(a), wordSet(b))
}

func wordSet(normalized string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(normalized) {
		set[w] = struct{}{}
	}
	return set
}

func jaccardSets(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Get looks up a cached response for the model and prompt. The exact key is
// tried first; on a miss every live entry for the same model is scanned and
// the best Jaccard match at or above the similarity threshold wins, with
// ties broken in favor of the earliest-inserted entry.
func (c *Cache) Get(model, prompt string) (*Entry, bool) {
	if !c.cfg.Enabled {
		return nil, false
	}

	normalized := Normalize(prompt)
	key := Key(model, prompt)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		if c.expired(e, now) {
			delete(c.entries, key)
			c.evictions++
		} else {
			e.Hits++
			c.hits++
			return copyEntry(e), true
		}
	}

	// Fuzzy fallback over same-model entries. A threshold of 1.0 disables it.
	if c.cfg.SimilarityThreshold >= 1.0 {
		c.misses++
		return nil, false
	}
	queryWords := wordSet(normalized)
	var best *Entry
	var bestScore float64
	for k, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, k)
			c.evictions++
			continue
		}
		if e.Model != model {
			continue
		}
		score := jaccardSets(queryWords, e.words)
		if score < c.cfg.SimilarityThreshold {
			continue
		}
		// Map iteration order is random; ties at equal score go to the
		// earliest-inserted entry.
		if best == nil || score > bestScore || (score == bestScore && e.seq < best.seq) {
			best = e
			bestScore = score
		}
	}

	if best != nil {
		best.Hits++
		c.hits++
		c.fuzzyHits++
		log.Debugf("fuzzy cache hit for model %s (similarity %.3f)", model, bestScore)
		return copyEntry(best), true
	}

	c.misses++
	return nil, false
}

// Put stores a response. Storing under an existing key overwrites the entry
// and refreshes its insertion time. When the cache is at capacity the oldest
// entry by CreatedAt is evicted first.
func (c *Cache) Put(model, prompt, response string, tokens int) {
	if !c.cfg.Enabled {
		return
	}

	normalized := Normalize(prompt)
	key := Key(model, prompt)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.cfg.MaxEntries {
		c.evictOldest()
	}

	c.seq++
	c.entries[key] = &Entry{
		Prompt:     prompt,
		Normalized: normalized,
		Model:      model,
		Response:   response,
		Tokens:     tokens,
		CreatedAt:  now,
		words:      wordSet(normalized),
		seq:        c.seq,
	}
}

// Invalidate removes entries whose original prompt contains substr. An empty
// substr clears the whole cache. Returns the number of entries removed.
func (c *Cache) Invalidate(substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if substr == "" {
		n := len(c.entries)
		c.entries = make(map[string]*Entry)
		return n
	}

	needle := strings.ToLower(substr)
	removed := 0
	for k, e := range c.entries {
		if strings.Contains(strings.ToLower(e.Prompt), needle) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Stats returns a snapshot of cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Entries:    len(c.entries),
		MaxEntries: c.cfg.MaxEntries,
		Hits:       c.hits,
		Misses:     c.misses,
		FuzzyHits:  c.fuzzyHits,
		Evictions:  c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// Len returns the current number of entries, including any not yet lazily
// expired.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) expired(e *Entry, now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.CreatedAt) > c.ttl
}

// evictOldest removes the earliest-inserted entry. Must be called with the
// lock held.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldestSeq uint64
	for k, e := range c.entries {
		if oldestKey == "" || e.seq < oldestSeq {
			oldestKey = k
			oldestSeq = e.seq
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}

func copyEntry(e *Entry) *Entry {
	cp := *e
	cp.words = nil
	return &cp
}
