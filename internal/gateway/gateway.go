// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package gateway orchestrates a chat request end to end: security
// screening, rate limiting, cache lookup, route resolution, backend
// invocation with a single failover hop, health bookkeeping, and post-hoc
// token accounting. Tool calls additionally pass the human approval gate.
package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/openclaw/gateway/internal/approval"
	"github.com/openclaw/gateway/internal/backend"
	"github.com/openclaw/gateway/internal/config"
	"github.com/openclaw/gateway/internal/events"
	"github.com/openclaw/gateway/internal/ratelimit"
	"github.com/openclaw/gateway/internal/respcache"
	"github.com/openclaw/gateway/internal/router"
	"github.com/openclaw/gateway/internal/security"
	"github.com/openclaw/gateway/internal/session"
	"github.com/openclaw/gateway/internal/tokencount"
	"github.com/openclaw/gateway/internal/tracestore"
)

// defaultMaxTokens is the response-budget guess used for admission when the
// caller does not cap the response.
const defaultMaxTokens = 1000

// RateLimitError carries the admission result of a denied request so the
// transport layer can emit Retry-After style headers.
type RateLimitError struct {
	Result ratelimit.Result
}

func (e *RateLimitError) Error() string {
	return e.Result.Reason
}

// ChatInvoker is the backend-calling collaborator.
type ChatInvoker interface {
	Invoke(ctx context.Context, provider, model string, messages []session.Message, opts backend.Options) (*backend.ChatResult, error)
}

// ChatRequest is one inbound chat call.
type ChatRequest struct {
	ClientID    string
	SessionID   string
	Model       string
	Messages    []session.Message
	Temperature *float64
	MaxTokens   int
	APIKey      string
	Metadata    map[string]interface{}
}

// ChatResponse is the gateway's answer to a chat call.
type ChatResponse struct {
	ID        string             `json:"id"`
	SessionID string             `json:"session_id"`
	Content   string             `json:"content"`
	Role      string             `json:"role"`
	Model     string             `json:"model"`
	Provider  string             `json:"provider"`
	Usage     backend.Usage      `json:"usage"`
	ToolCalls []backend.ToolCall `json:"tool_calls,omitempty"`
	Cached    bool               `json:"cached"`
	RateInfo  ratelimit.Result   `json:"-"`
	CreatedAt time.Time          `json:"created_at"`
}

// Stats aggregates component statistics for the stats endpoint.
type Stats struct {
	UptimeSeconds  float64                          `json:"uptime_seconds"`
	ActiveSessions int                              `json:"active_sessions"`
	Providers      map[string]router.HealthSnapshot `json:"providers"`
	Cache          respcache.Stats                  `json:"cache"`
	Tracing        tracestore.Stats                 `json:"tracing"`
}

// Gateway wires the resilience components together.
type Gateway struct {
	cfg       *config.Config
	router    *router.Router
	limiter   *ratelimit.Limiter
	cache     *respcache.Cache
	gate      *approval.Gate
	invoker   ChatInvoker
	estimator *tokencount.Estimator
	screen    *security.Screen
	sessions  *session.Manager
	recorder  *tracestore.Recorder
	bus       *events.Bus
	startTime time.Time
}

// Deps bundles the collaborators for New.
type Deps struct {
	Router    *router.Router
	Limiter   *ratelimit.Limiter
	Cache     *respcache.Cache
	Gate      *approval.Gate
	Invoker   ChatInvoker
	Estimator *tokencount.Estimator
	Screen    *security.Screen
	Sessions  *session.Manager
	Recorder  *tracestore.Recorder
	Bus       *events.Bus
}

// New creates a gateway over the given collaborators.
func New(cfg *config.Config, deps Deps) *Gateway {
	return &Gateway{
		cfg:       cfg,
		router:    deps.Router,
		limiter:   deps.Limiter,
		cache:     deps.Cache,
		gate:      deps.Gate,
		invoker:   deps.Invoker,
		estimator: deps.Estimator,
		screen:    deps.Screen,
		sessions:  deps.Sessions,
		recorder:  deps.Recorder,
		bus:       deps.Bus,
		startTime: time.Now(),
	}
}

// Chat runs one chat request through the full pipeline.
func (g *Gateway) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	prompt := joinContents(req.Messages)

	if err := g.screen.ValidateRequest(prompt, req.APIKey); err != nil {
		return nil, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	estimated := g.estimator.EstimateMessages(toEstimatorMessages(req.Messages)) + maxTokens

	rate := g.limiter.CheckAndAdmit(req.ClientID, estimated)
	if !rate.Allowed {
		g.emit(events.EventRateLimited, map[string]interface{}{
			"client_id": req.ClientID,
			"reason":    rate.Reason,
		})
		return nil, &RateLimitError{Result: rate}
	}

	sess := g.sessions.GetOrCreate(req.SessionID)
	for _, m := range req.Messages {
		g.sessions.AddMessage(sess.ID, m.Role, m.Content, m.Metadata)
	}

	trace := g.recorder.StartTrace(prompt, sess.ID, req.Metadata)

	if entry, ok := g.cache.Get(req.Model, prompt); ok {
		g.emit(events.EventCacheHit, map[string]interface{}{"model": req.Model})
		g.sessions.AddMessage(sess.ID, "assistant", entry.Response, nil)
		g.recorder.FinishTrace(trace, entry.Response, tracestore.TraceCompleted)

		return &ChatResponse{
			ID:        newResponseID(),
			SessionID: sess.ID,
			Content:   g.screen.FilterOutput(entry.Response),
			Role:      "assistant",
			Model:     entry.Model,
			Usage:     backend.Usage{OutputTokens: entry.Tokens},
			Cached:    true,
			RateInfo:  rate,
			CreatedAt: time.Now(),
		}, nil
	}

	decision, err := g.router.Resolve(req.Model)
	if err != nil {
		g.recorder.FinishTrace(trace, "", tracestore.TraceError)
		return nil, err
	}

	result, provider, err := g.invokeWithFailover(ctx, trace, decision, sess.ID, req)
	if err != nil {
		g.recorder.FinishTrace(trace, "", tracestore.TraceError)
		g.emit(events.EventRequestFailed, map[string]interface{}{
			"provider": provider,
			"error":    err.Error(),
		})
		return nil, err
	}

	totalTokens := result.Usage.InputTokens + result.Usage.OutputTokens
	// The estimate was reserved at admission; only the overage is corrected.
	g.limiter.RecordActualTokens(req.ClientID, totalTokens-estimated)
	g.cache.Put(req.Model, prompt, result.Content, result.Usage.OutputTokens)
	g.sessions.AddMessage(sess.ID, "assistant", result.Content, nil)
	g.recorder.FinishTrace(trace, result.Content, tracestore.TraceCompleted)

	return &ChatResponse{
		ID:        newResponseID(),
		SessionID: sess.ID,
		Content:   g.screen.FilterOutput(result.Content),
		Role:      "assistant",
		Model:     result.Model,
		Provider:  provider,
		Usage:     result.Usage,
		ToolCalls: result.ToolCalls,
		RateInfo:  rate,
		CreatedAt: time.Now(),
	}, nil
}

// invokeWithFailover calls the resolved provider, and on failure retries
// once against a failover candidate. It returns the provider that actually
// answered.
func (g *Gateway) invokeWithFailover(ctx context.Context, trace *tracestore.Trace, decision router.RouteDecision, sessionID string, req ChatRequest) (*backend.ChatResult, string, error) {
	history := g.sessions.History(sessionID, 50)
	if len(history) == 0 {
		history = req.Messages
	}
	opts := backend.Options{Temperature: req.Temperature, MaxTokens: req.MaxTokens}

	result, err := g.invokeOnce(ctx, trace, decision, history, opts)
	if err == nil {
		return result, decision.Provider, nil
	}

	log.Warnf("provider %s failed: %v", decision.Provider, err)

	alt, ok := g.router.FailoverCandidate(decision.Provider)
	if !ok {
		return nil, decision.Provider, err
	}
	g.emit(events.EventProviderFailover, map[string]interface{}{
		"from": decision.Provider,
		"to":   alt.Provider,
	})

	result, err = g.invokeOnce(ctx, trace, alt, history, opts)
	if err != nil {
		return nil, alt.Provider, err
	}
	return result, alt.Provider, nil
}

func (g *Gateway) invokeOnce(ctx context.Context, trace *tracestore.Trace, decision router.RouteDecision, messages []session.Message, opts backend.Options) (*backend.ChatResult, error) {
	span := g.recorder.StartSpan(trace, tracestore.SpanLLMCall, decision.Provider+"."+decision.Model, map[string]interface{}{
		"provider": decision.Provider,
		"model":    decision.Model,
	})

	start := time.Now()
	result, err := g.invoker.Invoke(ctx, decision.Provider, decision.Model, messages, opts)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000

	if err != nil {
		g.router.RecordFailure(decision.Provider)
		g.recorder.FinishSpan(span, "error", map[string]interface{}{"error": err.Error()})
		if h, ok := g.router.Health(decision.Provider); ok && !h.Healthy {
			g.emit(events.EventProviderDown, map[string]interface{}{"provider": decision.Provider})
		}
		return nil, err
	}

	tokens := int64(result.Usage.InputTokens + result.Usage.OutputTokens)
	g.router.RecordSuccess(decision.Provider, latencyMs, tokens)
	g.recorder.FinishSpan(span, "ok", map[string]interface{}{
		"latency_ms": latencyMs,
		"tokens":     tokens,
	})
	return result, nil
}

// CheckToolCall runs a tool invocation through the approval gate, recording
// an approval span on the trace when one is supplied.
func (g *Gateway) CheckToolCall(ctx context.Context, trace *tracestore.Trace, toolName, serverName string, arguments map[string]interface{}, sessionID string) (bool, string) {
	var span *tracestore.Span
	if trace != nil {
		span = g.recorder.StartSpan(trace, tracestore.SpanApproval, toolName, map[string]interface{}{
			"server": serverName,
		})
	}

	approved, reason := g.gate.CheckApproval(ctx, toolName, serverName, arguments, sessionID)

	if span != nil {
		status := "ok"
		if !approved {
			status = "error"
		}
		g.recorder.FinishSpan(span, status, map[string]interface{}{
			"approved": approved,
			"reason":   reason,
		})
	}
	g.emit(events.EventApprovalResolved, map[string]interface{}{
		"tool":     toolName,
		"approved": approved,
		"reason":   reason,
	})
	return approved, reason
}

// Stats aggregates component statistics.
func (g *Gateway) Stats() Stats {
	return Stats{
		UptimeSeconds:  time.Since(g.startTime).Seconds(),
		ActiveSessions: g.sessions.ActiveCount(),
		Providers:      g.router.Stats(),
		Cache:          g.cache.Stats(),
		Tracing:        g.recorder.GetStats(),
	}
}

// Approvals exposes the approval gate for the API layer.
func (g *Gateway) Approvals() *approval.Gate {
	return g.gate
}

// Sessions exposes the session manager for the API layer.
func (g *Gateway) Sessions() *session.Manager {
	return g.sessions
}

// Traces exposes the trace recorder for the API layer.
func (g *Gateway) Traces() *tracestore.Recorder {
	return g.recorder
}

// Cache exposes the response cache for the API layer.
func (g *Gateway) Cache() *respcache.Cache {
	return g.cache
}

func (g *Gateway) emit(event events.Event, data map[string]interface{}) {
	if g.bus != nil {
		g.bus.Emit(event, data)
	}
}

func joinContents(messages []session.Message) string {
	parts := make([]string, len(messages))
	for i, m := range messages {
		parts[i] = m.Content
	}
	return strings.Join(parts, "\n")
}

func toEstimatorMessages(messages []session.Message) []tokencount.Message {
	out := make([]tokencount.Message, len(messages))
	for i, m := range messages {
		out[i] = tokencount.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

func newResponseID() string {
	return "resp_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
