// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ratelimit implements a token-aware sliding-window admission gate.
// Each client is tracked on two independent dimensions over a fixed 60-second
// window: request count and token consumption. Admission appends to the
// window atomically under a per-client lock, so two concurrent requests from
// the same client can never both slip through the final slot.
package ratelimit

import (
	"sync"
	"time"

	"github.com/openclaw/gateway/internal/config"
)

// Window is the fixed sliding-window length.
const Window = 60 * time.Second

// Deny reasons returned in Result.Reason.
const (
	ReasonRequestRate = "request_rate_exceeded"
	ReasonTokenRate   = "token_rate_exceeded"
)

// Result reports an admission decision with remaining-budget hints that map
// directly onto Retry-After style response headers.
type Result struct {
	Allowed bool `json:"allowed"`

	// Reason is set only on denial: ReasonRequestRate or ReasonTokenRate.
	Reason string `json:"reason,omitempty"`

	RequestsRemaining int       `json:"requests_remaining"`
	TokensRemaining   int       `json:"tokens_remaining"`
	ResetAt           time.Time `json:"reset_at"`

	// RetryAfter is how long until the oldest relevant entry leaves the
	// window. Zero when allowed.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

type tokenEntry struct {
	at    time.Time
	count int
}

// clientWindows holds the two sliding windows for one client. Entries are
// appended in time order; purging drops the expired prefix.
type clientWindows struct {
	mu       sync.Mutex
	requests []time.Time
	tokens   []tokenEntry
}

// Limiter is the per-client admission gate. Windows are created lazily on a
// client's first request and bounded by natural expiry of old entries.
type Limiter struct {
	cfg config.RateLimitConfig

	mu      sync.Mutex
	clients map[string]*clientWindows

	now func() time.Time
}

// New creates a limiter with the given settings.
func New(cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		cfg:     cfg,
		clients: make(map[string]*clientWindows),
		now:     time.Now,
	}
}

// CheckAndAdmit decides whether a request with the given estimated token
// cost may proceed. On admission the request is recorded immediately, so the
// decision and the ledger update are atomic per client. estimatedTokens is a
// caller-supplied upper bound; the true cost is corrected later via
// RecordActualTokens.
func (l *Limiter) CheckAndAdmit(clientID string, estimatedTokens int) Result {
	if !l.cfg.Enabled {
		return Result{Allowed: true}
	}

	cw := l.client(clientID)
	now := l.now()

	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.purge(now)

	reqLimit := int(float64(l.cfg.RequestsPerMinute) * l.cfg.BurstMultiplier)
	tokLimit := int(float64(l.cfg.TokensPerMinute) * l.cfg.BurstMultiplier)

	reqCount := len(cw.requests)
	tokSum := 0
	for _, e := range cw.tokens {
		tokSum += e.count
	}

	res := Result{
		RequestsRemaining: max(0, reqLimit-reqCount),
		TokensRemaining:   max(0, tokLimit-tokSum),
		ResetAt:           now.Add(Window),
	}

	if reqCount >= reqLimit {
		res.Reason = ReasonRequestRate
		res.RetryAfter = retryAfter(now, cw.requests[0])
		return res
	}
	if tokSum+estimatedTokens > tokLimit {
		res.Reason = ReasonTokenRate
		if len(cw.tokens) > 0 {
			res.RetryAfter = retryAfter(now, cw.tokens[0].at)
		} else {
			res.RetryAfter = Window
		}
		return res
	}

	cw.requests = append(cw.requests, now)
	if estimatedTokens > 0 {
		cw.tokens = append(cw.tokens, tokenEntry{at: now, count: estimatedTokens})
	}

	res.Allowed = true
	res.RequestsRemaining = max(0, reqLimit-reqCount-1)
	res.TokensRemaining = max(0, tokLimit-tokSum-estimatedTokens)
	return res
}

// RecordActualTokens trues up the token ledger once real usage is known.
// The correction may exceed the original estimate; it is recorded as-is and
// never retroactively rejects an admitted request.
func (l *Limiter) RecordActualTokens(clientID string, tokens int) {
	if !l.cfg.Enabled || tokens <= 0 {
		return
	}

	cw := l.client(clientID)
	now := l.now()

	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.tokens = append(cw.tokens, tokenEntry{at: now, count: tokens})
}

// client returns the window pair for clientID, creating it on first use.
func (l *Limiter) client(clientID string) *clientWindows {
	l.mu.Lock()
	defer l.mu.Unlock()

	cw, ok := l.clients[clientID]
	if !ok {
		cw = &clientWindows{}
		l.clients[clientID] = cw
	}
	return cw
}

// purge drops entries older than the window. Must be called with cw.mu held.
func (cw *clientWindows) purge(now time.Time) {
	cutoff := now.Add(-Window)

	i := 0
	for i < len(cw.requests) && !cw.requests[i].After(cutoff) {
		i++
	}
	if i > 0 {
		cw.requests = append(cw.requests[:0:0], cw.requests[i:]...)
	}

	j := 0
	for j < len(cw.tokens) && !cw.tokens[j].at.After(cutoff) {
		j++
	}
	if j > 0 {
		cw.tokens = append(cw.tokens[:0:0], cw.tokens[j:]...)
	}
}

func retryAfter(now, oldest time.Time) time.Duration {
	d := Window - now.Sub(oldest)
	if d < 0 {
		return 0
	}
	return d
}
