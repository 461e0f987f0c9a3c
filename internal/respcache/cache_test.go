// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package respcache

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/gateway/internal/config"
)

func newTestCache(maxEntries, ttlSeconds int, threshold float64) (*Cache, *time.Time) {
	c := New(config.CacheConfig{
		Enabled:             true,
		MaxEntries:          maxEntries,
		TTLSeconds:          ttlSeconds,
		SimilarityThreshold: threshold,
	})
	now := time.Unix(1700000000, 0)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Hello, World!", "hello world"},
		{"  what   is\tthe    weather? ", "what is the weather"},
		{"UPPER lower MiXeD", "upper lower mixed"},
		{"!!!", ""},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Normalize(tc.in), "input %q", tc.in)
	}
}

func TestExactHitSurvivesFormattingDifferences(t *testing.T) {
	c, _ := newTestCache(10, 3600, 0.92)

	c.Put("claude-sonnet-4", "What is the weather?", "sunny", 42)

	// Same words, different case, punctuation and spacing: same key.
	e, ok := c.Get("claude-sonnet-4", "what IS   the weather")
	require.True(t, ok)
	assert.Equal(t, "sunny", e.Response)
	assert.Equal(t, 42, e.Tokens)
}

func TestModelIsolation(t *testing.T) {
	c, _ := newTestCache(10, 3600, 0.92)

	c.Put("claude-sonnet-4", "what is the weather", "sunny", 0)

	_, ok := c.Get("gpt-4o", "what is the weather")
	assert.False(t, ok)
}

func TestFuzzyHit(t *testing.T) {
	c, _ := newTestCache(10, 3600, 0.80)

	c.Put("m", "please summarize this document for me today", "done", 0)

	// Two extra words push similarity to 6/9 and miss the 0.80 threshold;
	// dropping one word gives 6/7 and hits.
	_, ok := c.Get("m", "please summarize this document for me tomorrow now")
	assert.False(t, ok)

	e, ok := c.Get("m", "please summarize this document for me")
	require.True(t, ok)
	assert.Equal(t, "done", e.Response)

	s := c.Stats()
	assert.Equal(t, int64(1), s.FuzzyHits)
}

// TestFuzzyTieBreaksByInsertionOrder pins the winner when two entries score
// identically against the query: the earliest-inserted entry wins every time,
// regardless of map iteration order.
func TestFuzzyTieBreaksByInsertionOrder(t *testing.T) {
	c, _ := newTestCache(10, 3600, 0.60)

	// Both entries share four of six union words with the query: 4/6 each.
	c.Put("m", "alpha beta gamma delta one", "first", 0)
	c.Put("m", "alpha beta gamma delta two", "second", 0)

	for i := 0; i < 30; i++ {
		e, ok := c.Get("m", "alpha beta gamma delta echo")
		require.True(t, ok)
		assert.Equal(t, "first", e.Response)
	}
}

func TestJaccardEdgeCases(t *testing.T) {
	assert.Equal(t, 0.0, Jaccard("", ""))
	assert.Equal(t, 0.0, Jaccard("hello", ""))
	assert.Equal(t, 1.0, Jaccard("a b c", "c b a"))
	assert.InDelta(t, 1.0/3.0, Jaccard("a b", "b c"), 0.001)
}

func TestTTLExpiry(t *testing.T) {
	c, now := newTestCache(10, 60, 0.92)

	c.Put("m", "cached prompt here", "resp", 0)

	_, ok := c.Get("m", "cached prompt here")
	require.True(t, ok)

	*now = now.Add(61 * time.Second)
	_, ok = c.Get("m", "cached prompt here")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestEvictOldestByInsertionTime(t *testing.T) {
	c, now := newTestCache(3, 3600, 0.92)

	c.Put("m", "first entry alpha", "1", 0)
	*now = now.Add(time.Second)
	c.Put("m", "second entry bravo", "2", 0)
	*now = now.Add(time.Second)
	c.Put("m", "third entry charlie", "3", 0)
	*now = now.Add(time.Second)

	// A hit on the oldest entry does not protect it. Eviction follows
	// insertion time, not recency of use.
	_, ok := c.Get("m", "first entry alpha")
	require.True(t, ok)

	c.Put("m", "fourth entry delta", "4", 0)

	_, ok = c.Get("m", "first entry alpha")
	assert.False(t, ok)
	_, ok = c.Get("m", "second entry bravo")
	assert.True(t, ok)
	assert.Equal(t, 3, c.Len())
}

func TestPutSameKeyOverwrites(t *testing.T) {
	c, _ := newTestCache(1, 3600, 0.92)

	c.Put("m", "same prompt", "old", 0)
	c.Put("m", "Same   Prompt!", "new", 0)

	e, ok := c.Get("m", "same prompt")
	require.True(t, ok)
	assert.Equal(t, "new", e.Response)
	assert.Equal(t, 1, c.Len())
}

func TestInvalidate(t *testing.T) {
	c, _ := newTestCache(10, 3600, 0.92)

	c.Put("m", "tell me about Paris", "a", 0)
	c.Put("m", "tell me about London", "b", 0)
	c.Put("m", "unrelated question", "c", 0)

	assert.Equal(t, 2, c.Invalidate("tell me"))
	assert.Equal(t, 1, c.Len())

	assert.Equal(t, 1, c.Invalidate(""))
	assert.Equal(t, 0, c.Len())
}

func TestDisabledCacheIsInert(t *testing.T) {
	c := New(config.CacheConfig{Enabled: false, MaxEntries: 10})

	c.Put("m", "prompt", "resp", 0)
	_, ok := c.Get("m", "prompt")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestStats(t *testing.T) {
	c, _ := newTestCache(10, 3600, 0.92)

	c.Put("m", "a prompt", "r", 0)
	c.Get("m", "a prompt")
	c.Get("m", "a prompt")
	c.Get("m", "completely different words entirely")

	s := c.Stats()
	assert.Equal(t, int64(2), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.InDelta(t, 2.0/3.0, s.HitRate, 0.001)
	assert.Equal(t, 1, s.Entries)
}

// TestProperty_CacheNeverExceedsCapacity fills the cache well past its limit
// with distinct prompts and checks the size bound holds throughout.
func TestProperty_CacheNeverExceedsCapacity(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("size is bounded by max entries", prop.ForAll(
		func(maxEntries int, inserts int) bool {
			c, now := newTestCache(maxEntries, 0, 0.99)
			for i := 0; i < inserts; i++ {
				c.Put("m", fmt.Sprintf("unique prompt number %d", i), "r", 0)
				*now = now.Add(time.Millisecond)
				if c.Len() > maxEntries {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 20),
		gen.IntRange(0, 100),
	))

	properties.Property("jaccard is symmetric and within [0,1]", prop.ForAll(
		func(a, b string) bool {
			x := Jaccard(Normalize(a), Normalize(b))
			y := Jaccard(Normalize(b), Normalize(a))
			return x == y && x >= 0 && x <= 1
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
