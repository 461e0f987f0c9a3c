// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tracestore

import (
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/openclaw/gateway/internal/config"
)

// Store persists completed traces. Implementations must be safe for
// concurrent use.
type Store interface {
	SaveTrace(t *Trace) error
	LoadTrace(traceID string) (*Trace, error)
	Close() error
}

// Stats summarizes recorder activity.
type Stats struct {
	TotalTraces       int     `json:"total_traces"`
	ActiveTraces      int     `json:"active_traces"`
	Completed         int     `json:"completed"`
	Errors            int     `json:"errors"`
	AvgDurationMs     float64 `json:"avg_duration_ms"`
	P95DurationMs     float64 `json:"p95_duration_ms"`
	MaxTracesCapacity int     `json:"max_traces_capacity"`
}

// Recorder keeps recent traces in a bounded buffer and optionally persists
// completed ones to a Store. Persistence failures are logged, never fatal.
type Recorder struct {
	cfg   config.TracingConfig
	store Store

	mu     sync.Mutex
	recent []*Trace // oldest first, bounded by cfg.MaxTraces
	active map[string]*Trace

	now func() time.Time
}

// NewRecorder creates a recorder. store may be nil to disable persistence.
func NewRecorder(cfg config.TracingConfig, store Store) *Recorder {
	if cfg.MaxTraces <= 0 {
		cfg.MaxTraces = 500
	}
	return &Recorder{
		cfg:    cfg,
		store:  store,
		active: make(map[string]*Trace),
		now:    time.Now,
	}
}

// StartTrace begins a trace for a user request. With tracing disabled the
// trace is still returned for the caller to thread through, but never stored.
func (r *Recorder) StartTrace(userInput, sessionID string, metadata map[string]interface{}) *Trace {
	t := &Trace{
		TraceID:   newTraceID(),
		SessionID: sessionID,
		UserInput: userInput,
		StartTime: r.now(),
		Status:    TraceInProgress,
		Metadata:  metadata,
	}
	if !r.cfg.Enabled {
		return t
	}

	r.mu.Lock()
	r.active[t.TraceID] = t
	r.mu.Unlock()

	log.Debugf("trace started: %s", t.TraceID)
	return t
}

// StartSpan adds a span to a trace.
func (r *Recorder) StartSpan(t *Trace, kind SpanKind, name string, attributes map[string]interface{}) *Span {
	s := &Span{
		SpanID:     newSpanID(),
		TraceID:    t.TraceID,
		Kind:       kind,
		Name:       name,
		StartTime:  r.now(),
		Status:     "ok",
		Attributes: attributes,
	}

	r.mu.Lock()
	t.Spans = append(t.Spans, s)
	r.mu.Unlock()
	return s
}

// FinishSpan completes a span with its final status and extra attributes.
func (r *Recorder) FinishSpan(s *Span, status string, attributes map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if attributes != nil {
		if s.Attributes == nil {
			s.Attributes = make(map[string]interface{}, len(attributes))
		}
		for k, v := range attributes {
			s.Attributes[k] = v
		}
	}
	s.EndTime = r.now()
	s.DurationMs = float64(s.EndTime.Sub(s.StartTime).Microseconds()) / 1000
	s.Status = status
}

// FinishTrace completes a trace, moves it to the recent buffer and persists
// it when persistence is enabled.
func (r *Recorder) FinishTrace(t *Trace, finalResponse, status string) {
	r.mu.Lock()
	t.FinalResponse = finalResponse
	t.EndTime = r.now()
	t.DurationMs = float64(t.EndTime.Sub(t.StartTime).Microseconds()) / 1000
	t.Status = status

	if _, tracked := r.active[t.TraceID]; !tracked && !r.cfg.Enabled {
		r.mu.Unlock()
		return
	}
	delete(r.active, t.TraceID)

	r.recent = append(r.recent, t)
	if len(r.recent) > r.cfg.MaxTraces {
		r.recent = append(r.recent[:0:0], r.recent[len(r.recent)-r.cfg.MaxTraces:]...)
	}
	r.mu.Unlock()

	if r.cfg.Persist && r.store != nil {
		if err := r.store.SaveTrace(t); err != nil {
			log.Errorf("failed to persist trace %s: %v", t.TraceID, err)
		}
	}

	log.Debugf("trace completed: %s (%.2fms, %d spans)", t.TraceID, t.DurationMs, len(t.Spans))
}

// GetTrace looks a trace up by id: active first, then the recent buffer,
// then the persistent store.
func (r *Recorder) GetTrace(traceID string) (*Trace, bool) {
	r.mu.Lock()
	if t, ok := r.active[traceID]; ok {
		r.mu.Unlock()
		return t, true
	}
	for _, t := range r.recent {
		if t.TraceID == traceID {
			r.mu.Unlock()
			return t, true
		}
	}
	r.mu.Unlock()

	if r.store != nil {
		if t, err := r.store.LoadTrace(traceID); err == nil && t != nil {
			return t, true
		}
	}
	return nil, false
}

// ListTraces returns summaries of recent traces, most recent first, with
// optional session and status filters.
func (r *Recorder) ListTraces(sessionID, status string, limit, offset int) []Summary {
	if limit <= 0 {
		limit = 50
	}

	r.mu.Lock()
	filtered := make([]*Trace, 0, len(r.recent))
	for _, t := range r.recent {
		if sessionID != "" && t.SessionID != sessionID {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		filtered = append(filtered, t)
	}
	r.mu.Unlock()

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].StartTime.After(filtered[j].StartTime)
	})

	if offset >= len(filtered) {
		return []Summary{}
	}
	filtered = filtered[offset:]
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}

	out := make([]Summary, len(filtered))
	for i, t := range filtered {
		out[i] = t.Summary()
	}
	return out
}

// SearchTraces scans recent traces for prompts containing query, newest
// first.
func (r *Recorder) SearchTraces(query string, limit int) []Summary {
	if limit <= 0 {
		limit = 20
	}
	needle := strings.ToLower(query)

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Summary, 0, limit)
	for i := len(r.recent) - 1; i >= 0 && len(out) < limit; i-- {
		if strings.Contains(strings.ToLower(r.recent[i].UserInput), needle) {
			out = append(out, r.recent[i].Summary())
		}
	}
	return out
}

// GetStats summarizes recorder contents.
func (r *Recorder) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{
		TotalTraces:       len(r.recent),
		ActiveTraces:      len(r.active),
		MaxTracesCapacity: r.cfg.MaxTraces,
	}

	var durations []float64
	for _, t := range r.recent {
		switch t.Status {
		case TraceCompleted:
			s.Completed++
			if t.DurationMs > 0 {
				durations = append(durations, t.DurationMs)
			}
		case TraceError:
			s.Errors++
		}
	}
	if len(durations) > 0 {
		sum := 0.0
		for _, d := range durations {
			sum += d
		}
		s.AvgDurationMs = sum / float64(len(durations))

		sort.Float64s(durations)
		s.P95DurationMs = durations[int(float64(len(durations))*0.95)]
	}
	return s
}
