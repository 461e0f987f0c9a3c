// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tracestore records structured traces of request pipelines: the
// inbound prompt, each processing step as a span, and the final response.
// Recent traces live in a bounded in-memory buffer; completed traces can
// additionally be persisted to SQLite.
package tracestore

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SpanKind identifies the pipeline step a span covers, aligned with
// OpenTelemetry conventions.
type SpanKind string

const (
	SpanRequest   SpanKind = "request"
	SpanRetrieval SpanKind = "retrieval"
	SpanLLMCall   SpanKind = "llm_call"
	SpanToolExec  SpanKind = "tool_exec"
	SpanApproval  SpanKind = "approval"
	SpanResponse  SpanKind = "response"
)

// SpanEvent is a point-in-time annotation inside a span.
type SpanEvent struct {
	Name       string                 `json:"name"`
	Timestamp  time.Time              `json:"timestamp"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Span is one pipeline step inside a trace.
type Span struct {
	SpanID       string                 `json:"span_id"`
	TraceID      string                 `json:"trace_id"`
	ParentSpanID string                 `json:"parent_span_id,omitempty"`
	Kind         SpanKind               `json:"kind"`
	Name         string                 `json:"name"`
	StartTime    time.Time              `json:"start_time"`
	EndTime      time.Time              `json:"end_time,omitempty"`
	DurationMs   float64                `json:"duration_ms,omitempty"`
	Status       string                 `json:"status"`
	Attributes   map[string]interface{} `json:"attributes,omitempty"`
	Events       []SpanEvent            `json:"events,omitempty"`
}

// AddEvent appends an annotation to the span.
func (s *Span) AddEvent(name string, attributes map[string]interface{}) {
	s.Events = append(s.Events, SpanEvent{
		Name:       name,
		Timestamp:  time.Now(),
		Attributes: attributes,
	})
}

// Trace statuses.
const (
	TraceInProgress = "in_progress"
	TraceCompleted  = "completed"
	TraceError      = "error"
)

// Trace is one full request through the pipeline.
type Trace struct {
	TraceID       string                 `json:"trace_id"`
	SessionID     string                 `json:"session_id"`
	UserInput     string                 `json:"user_input"`
	FinalResponse string                 `json:"final_response"`
	StartTime     time.Time              `json:"start_time"`
	EndTime       time.Time              `json:"end_time,omitempty"`
	DurationMs    float64                `json:"duration_ms,omitempty"`
	Status        string                 `json:"status"`
	Spans         []*Span                `json:"spans"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Summary is the compact listing shape.
type Summary struct {
	TraceID    string    `json:"trace_id"`
	SessionID  string    `json:"session_id"`
	UserInput  string    `json:"user_input"`
	Status     string    `json:"status"`
	DurationMs float64   `json:"duration_ms"`
	SpanCount  int       `json:"span_count"`
	StartTime  time.Time `json:"start_time"`
}

// Summary returns the compact form, truncating the prompt preview.
func (t *Trace) Summary() Summary {
	return Summary{
		TraceID:    t.TraceID,
		SessionID:  t.SessionID,
		UserInput:  truncate(t.UserInput, 100),
		Status:     t.Status,
		DurationMs: t.DurationMs,
		SpanCount:  len(t.Spans),
		StartTime:  t.StartTime,
	}
}

func newTraceID() string {
	return "trace_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func newSpanID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
