// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package router resolves model requests to concrete provider targets and
// tracks per-provider health for failover decisions. Health is binary: a
// provider flips unhealthy after three consecutive failures and recovers on
// the next recorded success. Unhealthy providers become eligible again after
// an exponential backoff capped at 60 seconds.
package router

import (
	"errors"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/openclaw/gateway/internal/config"
)

// ErrNoBackendAvailable indicates that no configured provider is healthy or
// within its retry window. It is fatal to the request.
var ErrNoBackendAvailable = errors.New("no healthy provider available")

const (
	// unhealthyThreshold is the number of consecutive failures before a
	// provider is marked unhealthy.
	unhealthyThreshold = 3

	// maxBackoff caps the retry backoff for unhealthy providers.
	maxBackoff = 60 * time.Second

	// maxBackoffExponent caps the backoff exponent so 2^n cannot overflow.
	maxBackoffExponent = 6

	// latencyWindow is how many recent latency samples feed the average.
	latencyWindow = 100
)

// RouteDecision is a resolved, concrete target. It is recomputed per request
// and never persisted.
type RouteDecision struct {
	Provider string
	Model    string
}

// ProviderHealth tracks the rolling health of one provider. All fields are
// guarded by the owning Router's lock.
type ProviderHealth struct {
	Name          string
	Healthy       bool
	ErrorCount    int
	LastErrorTime time.Time
	AvgLatencyMs  float64
	TotalRequests int64
	TotalTokens   int64

	latencies []float64
}

// recordSuccess resets the failure state and folds the latency sample into
// the rolling average.
func (h *ProviderHealth) recordSuccess(latencyMs float64, tokens int64) {
	h.Healthy = true
	h.ErrorCount = 0
	h.TotalRequests++
	h.TotalTokens += tokens

	h.latencies = append(h.latencies, latencyMs)
	if len(h.latencies) > latencyWindow {
		h.latencies = h.latencies[len(h.latencies)-latencyWindow:]
	}
	var sum float64
	for _, l := range h.latencies {
		sum += l
	}
	h.AvgLatencyMs = sum / float64(len(h.latencies))
}

func (h *ProviderHealth) recordFailure(now time.Time) {
	h.ErrorCount++
	h.LastErrorTime = now
	h.TotalRequests++
	if h.ErrorCount >= unhealthyThreshold {
		h.Healthy = false
	}
}

// backoff returns the current retry backoff for the provider.
func (h *ProviderHealth) backoff() time.Duration {
	exp := h.ErrorCount
	if exp > maxBackoffExponent {
		exp = maxBackoffExponent
	}
	d := time.Duration(1<<uint(exp)) * time.Second
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// eligible reports whether the provider may be routed to: either healthy,
// or unhealthy but past its backoff window.
func (h *ProviderHealth) eligible(now time.Time) bool {
	if h.Healthy {
		return true
	}
	return now.Sub(h.LastErrorTime) > h.backoff()
}

// HealthSnapshot is a copy of a provider's health for stats reporting.
type HealthSnapshot struct {
	Name          string  `json:"name"`
	Healthy       bool    `json:"healthy"`
	ErrorCount    int     `json:"error_count"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	TotalRequests int64   `json:"total_requests"`
	TotalTokens   int64   `json:"total_tokens"`
}

// Router resolves requested models to provider targets using configured
// provider definitions and the live health table.
type Router struct {
	mu        sync.RWMutex
	providers []config.ProviderConfig // declaration order = priority order
	health    map[string]*ProviderHealth

	now func() time.Time
}

// New creates a router for the enabled providers in cfg, in declaration order.
func New(cfg *config.Config) *Router {
	r := &Router{
		providers: cfg.EnabledProviders(),
		health:    make(map[string]*ProviderHealth),
		now:       time.Now,
	}
	for _, p := range r.providers {
		r.health[p.Name] = &ProviderHealth{Name: p.Name, Healthy: true}
	}
	return r
}

// Resolve maps a requested model to a (provider, model) target.
//
// Resolution order:
//  1. "provider/model" names the provider explicitly; honored if configured.
//  2. A bare model name is matched against every eligible provider's model
//     list by ID or case-insensitive alias.
//  3. Otherwise the first eligible provider with a default model wins.
//
// Returns ErrNoBackendAvailable when nothing is eligible.
func (r *Router) Resolve(requestedModel string) (RouteDecision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if provider, model, ok := strings.Cut(requestedModel, "/"); ok {
		if _, configured := r.health[provider]; configured {
			return RouteDecision{Provider: provider, Model: model}, nil
		}
	}

	now := r.now()

	if requestedModel != "" {
		for _, p := range r.providers {
			h := r.health[p.Name]
			if !h.eligible(now) {
				continue
			}
			for _, m := range p.Models {
				if m.ID == requestedModel || strings.EqualFold(m.Name, requestedModel) {
					return RouteDecision{Provider: p.Name, Model: m.ID}, nil
				}
			}
		}
	}

	return r.defaultRouteLocked(now, "")
}

// FailoverCandidate returns an alternative target after failedProvider
// failed, or ok=false when no eligible alternative exists. Only a single
// failover hop is ever attempted per request; chaining is the caller's
// responsibility to avoid.
func (r *Router) FailoverCandidate(failedProvider string) (RouteDecision, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	decision, err := r.defaultRouteLocked(r.now(), failedProvider)
	if err != nil {
		return RouteDecision{}, false
	}
	log.Warnf("failing over from %s to %s", failedProvider, decision.Provider)
	return decision, true
}

// defaultRouteLocked picks the first eligible provider (skipping exclude)
// that has a default model configured. Callers must hold at least a read lock.
func (r *Router) defaultRouteLocked(now time.Time, exclude string) (RouteDecision, error) {
	for _, p := range r.providers {
		if p.Name == exclude {
			continue
		}
		if p.DefaultModel == "" {
			continue
		}
		if !r.health[p.Name].eligible(now) {
			continue
		}
		return RouteDecision{Provider: p.Name, Model: p.DefaultModel}, nil
	}
	return RouteDecision{}, ErrNoBackendAvailable
}

// RecordSuccess records a completed call against the provider's health.
// Unknown providers are ignored.
func (r *Router) RecordSuccess(provider string, latencyMs float64, tokens int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.health[provider]; ok {
		h.recordSuccess(latencyMs, tokens)
	}
}

// RecordFailure records a failed call against the provider's health.
// Unknown providers are ignored.
func (r *Router) RecordFailure(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.health[provider]; ok {
		h.recordFailure(r.now())
		if !h.Healthy {
			log.Warnf("provider %s marked unhealthy after %d consecutive failures", provider, h.ErrorCount)
		}
	}
}

// Health returns a snapshot of one provider's health.
func (r *Router) Health(provider string) (HealthSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.health[provider]
	if !ok {
		return HealthSnapshot{}, false
	}
	return snapshot(h), true
}

// Stats returns health snapshots for all providers keyed by name.
func (r *Router) Stats() map[string]HealthSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]HealthSnapshot, len(r.health))
	for name, h := range r.health {
		out[name] = snapshot(h)
	}
	return out
}

func snapshot(h *ProviderHealth) HealthSnapshot {
	return HealthSnapshot{
		Name:          h.Name,
		Healthy:       h.Healthy,
		ErrorCount:    h.ErrorCount,
		AvgLatencyMs:  h.AvgLatencyMs,
		TotalRequests: h.TotalRequests,
		TotalTokens:   h.TotalTokens,
	}
}
