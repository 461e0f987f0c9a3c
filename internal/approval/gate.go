// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package approval implements the human-in-the-loop gate for tool calls.
// Safe tools pass through, trusted tools bypass the gate for a bounded time,
// everything else suspends the caller until a human resolves the request or
// a deadline expires. A request's decision settles exactly once no matter
// how the resolution race between user, timeout and cancellation plays out.
package approval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/openclaw/gateway/internal/config"
)

// Reasons returned by CheckApproval.
const (
	ReasonDisabled     = "approval_disabled"
	ReasonAutoSafe     = "auto_approved_safe"
	ReasonTrusted      = "trusted"
	ReasonUserApproved = "user_approved"
	ReasonUserDenied   = "user_denied"
	ReasonTimeout      = "timeout"
	ReasonCancelled    = "cancelled"
)

// Request statuses.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusDenied   = "denied"
	StatusExpired  = "expired"
)

// Notifier delivers approval events to watching UI clients. Delivery is
// best-effort; a failed or absent notifier never blocks the gate, approvals
// still work through direct Resolve calls.
type Notifier interface {
	Broadcast(event map[string]interface{})
}

// Request is one in-flight approval awaiting a decision.
type Request struct {
	ID          string                 `json:"id"`
	ToolName    string                 `json:"tool_name"`
	ServerName  string                 `json:"server_name"`
	Arguments   map[string]interface{} `json:"-"`
	SafetyLevel SafetyLevel            `json:"safety_level"`
	Description string                 `json:"description"`
	SessionID   string                 `json:"session_id"`
	CreatedAt   time.Time              `json:"created_at"`
	Status      string                 `json:"status"`
	DecidedAt   time.Time              `json:"decided_at,omitempty"`
	DecidedBy   string                 `json:"decided_by,omitempty"`

	fut *future
}

// PendingView is the redacted listing shape for pending requests.
type PendingView struct {
	ID             string      `json:"id"`
	Tool           string      `json:"tool"`
	Server         string      `json:"server"`
	Safety         SafetyLevel `json:"safety"`
	Description    string      `json:"description"`
	CreatedAt      time.Time   `json:"created_at"`
	TimeoutSeconds int         `json:"timeout_seconds"`
}

// BatchResult summarizes a ResolveBatch call.
type BatchResult struct {
	Resolved     int      `json:"resolved"`
	NotFound     int      `json:"not_found"`
	Approved     bool     `json:"approved"`
	TrustMinutes int      `json:"trust_minutes"`
	TrustedTools []string `json:"trusted_tools"`
}

// Gate coordinates classification, trust and suspended approval waits.
type Gate struct {
	cfg        config.ApprovalConfig
	timeout    time.Duration
	classifier *Classifier
	trust      *TrustStore
	notifier   Notifier
	history    *historyBuffer

	mu      sync.Mutex
	pending map[string]*Request

	now func() time.Time
}

// New creates an approval gate. notifier may be nil; approvals then rely on
// callers polling GetPending.
func New(cfg config.ApprovalConfig, notifier Notifier) *Gate {
	return &Gate{
		cfg:        cfg,
		timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
		classifier: NewClassifier(cfg.ToolOverrides),
		trust:      NewTrustStore(cfg.TrustDurationMinutes),
		notifier:   notifier,
		history:    newHistoryBuffer(cfg.HistorySize),
		pending:    make(map[string]*Request),
		now:        time.Now,
	}
}

// Classify exposes the gate's classifier.
func (g *Gate) Classify(toolName, serverName string) SafetyLevel {
	return g.classifier.Classify(toolName, serverName)
}

// CheckApproval decides whether a tool call may proceed. It returns
// immediately for disabled gates, auto-approved safe tools and trusted
// tools; otherwise it suspends until a human resolves the request, the
// configured timeout elapses, or ctx is cancelled. Cancellation settles the
// request as denied so it never leaks in the pending set.
func (g *Gate) CheckApproval(ctx context.Context, toolName, serverName string, arguments map[string]interface{}, sessionID string) (bool, string) {
	if !g.cfg.Enabled {
		return true, ReasonDisabled
	}

	safety := g.classifier.Classify(toolName, serverName)

	if safety == SafetySafe && g.cfg.AutoApproveSafe {
		log.Debugf("tool %q auto-approved (safe)", toolName)
		return true, ReasonAutoSafe
	}

	resourcePath := extractResourcePath(arguments)
	if g.trust.IsTrusted(toolName, serverName, resourcePath) {
		log.Debugf("tool %q auto-approved (trusted, path=%s)", toolName, orStar(resourcePath))
		return true, ReasonTrusted
	}

	return g.requestApproval(ctx, toolName, serverName, arguments, safety, sessionID)
}

func (g *Gate) requestApproval(ctx context.Context, toolName, serverName string, arguments map[string]interface{}, safety SafetyLevel, sessionID string) (bool, string) {
	req := &Request{
		ID:          "approval_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		ToolName:    toolName,
		ServerName:  serverName,
		Arguments:   arguments,
		SafetyLevel: safety,
		Description: buildDescription(toolName, serverName, arguments, safety),
		SessionID:   sessionID,
		CreatedAt:   g.now(),
		Status:      StatusPending,
		fut:         newFuture(),
	}

	g.mu.Lock()
	g.pending[req.ID] = req
	g.mu.Unlock()

	log.Infof("approval requested: %s - %s (level=%s, server=%s)", req.ID, toolName, safety, serverName)

	g.notify(req)

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	var approved bool
	var reason string
	var decidedBy string

	select {
	case <-req.fut.done:
		approved = req.fut.approved
		decidedBy = req.fut.decidedBy
		reason = ReasonUserApproved
		if !approved {
			reason = ReasonUserDenied
		}
	case <-timer.C:
		if req.fut.resolve(false, "") {
			approved = false
			reason = ReasonTimeout
			req.Status = StatusExpired
			log.Warnf("approval %s expired after %s", req.ID, g.timeout)
		} else {
			// A resolution landed just as the deadline fired. It wins.
			approved = req.fut.wait()
			decidedBy = req.fut.decidedBy
			reason = ReasonUserApproved
			if !approved {
				reason = ReasonUserDenied
			}
		}
	case <-ctx.Done():
		if req.fut.resolve(false, "") {
			approved = false
			reason = ReasonCancelled
			req.Status = StatusDenied
			log.Warnf("approval %s cancelled by caller", req.ID)
		} else {
			approved = req.fut.wait()
			decidedBy = req.fut.decidedBy
			reason = ReasonUserApproved
			if !approved {
				reason = ReasonUserDenied
			}
		}
	}

	g.mu.Lock()
	delete(g.pending, req.ID)
	g.mu.Unlock()

	g.history.append(Record{
		ID:        req.ID,
		Tool:      toolName,
		Server:    serverName,
		Safety:    safety,
		Approved:  approved,
		Reason:    reason,
		DecidedBy: decidedBy,
		CreatedAt: req.CreatedAt,
		DecidedAt: g.now(),
	})

	return approved, reason
}

func (g *Gate) notify(req *Request) {
	if g.notifier == nil {
		log.Warn("no notifier attached, approval requires a direct API call")
		return
	}
	g.notifier.Broadcast(map[string]interface{}{
		"type":              "approval_request",
		"id":                req.ID,
		"tool_name":         req.ToolName,
		"server_name":       req.ServerName,
		"safety_level":      string(req.SafetyLevel),
		"description":       req.Description,
		"arguments_preview": RedactArguments(req.Arguments),
		"session_id":        req.SessionID,
		"created_at":        req.CreatedAt,
		"timeout_seconds":   g.cfg.TimeoutSeconds,
	})
}

// Resolve settles a pending request. It reports false for unknown ids and
// for requests that already settled; in both cases it has no side effects.
func (g *Gate) Resolve(id string, approved bool, decidedBy string) bool {
	g.mu.Lock()
	req, ok := g.pending[id]
	g.mu.Unlock()

	if !ok {
		log.Warnf("approval %s not found or already resolved", id)
		return false
	}

	// The decider rides on the future so the woken waiter can read it; the
	// Request fields below are written only after winning the race and are
	// never touched by the waiter.
	if !req.fut.resolve(approved, decidedBy) {
		return false
	}

	req.Status = StatusApproved
	if !approved {
		req.Status = StatusDenied
	}
	req.DecidedAt = g.now()
	req.DecidedBy = decidedBy

	verdict := "approved"
	if !approved {
		verdict = "denied"
	}
	log.Infof("approval %s resolved: %s by %s", id, verdict, decidedBy)
	return true
}

// ResolveBatch settles several requests with one decision. Tool identities
// are captured before resolving, since a resolved request leaves the pending
// set as soon as its waiter wakes up. With trustMinutes > 0 every approved
// tool also receives a trust grant.
func (g *Gate) ResolveBatch(ids []string, approved bool, decidedBy string, trustMinutes int) BatchResult {
	res := BatchResult{Approved: approved, TrustedTools: []string{}}
	if approved {
		res.TrustMinutes = trustMinutes
	}

	for _, id := range ids {
		g.mu.Lock()
		req := g.pending[id]
		g.mu.Unlock()

		if !g.Resolve(id, approved, decidedBy) {
			res.NotFound++
			continue
		}
		res.Resolved++

		if approved && trustMinutes > 0 && req != nil {
			g.trust.Grant(req.ToolName, req.ServerName, trustMinutes, "")
			res.TrustedTools = append(res.TrustedTools, req.ToolName)
		}
	}

	verdict := "approved"
	if !approved {
		verdict = "denied"
	}
	log.Infof("batch approval: %d resolved, %d not found, %s", res.Resolved, res.NotFound, verdict)
	return res
}

// GetPending lists in-flight requests, oldest first.
func (g *Gate) GetPending() []PendingView {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]PendingView, 0, len(g.pending))
	for _, r := range g.pending {
		out = append(out, PendingView{
			ID:             r.ID,
			Tool:           r.ToolName,
			Server:         r.ServerName,
			Safety:         r.SafetyLevel,
			Description:    r.Description,
			CreatedAt:      r.CreatedAt,
			TimeoutSeconds: g.cfg.TimeoutSeconds,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// GetHistory returns the most recent terminal records, oldest first.
func (g *Gate) GetHistory(limit int) []Record {
	if limit <= 0 {
		limit = 50
	}
	return g.history.last(limit)
}

// GrantTrust adds a trust grant and returns its expiry.
func (g *Gate) GrantTrust(toolName, serverName string, minutes int, resourcePath string) time.Time {
	return g.trust.Grant(toolName, serverName, minutes, resourcePath)
}

// RevokeTrust removes one grant, or all grants when called with empty names.
func (g *Gate) RevokeTrust(toolName, serverName, resourcePath string) int {
	return g.trust.Revoke(toolName, serverName, resourcePath)
}

// GetTrusted lists active trust grants.
func (g *Gate) GetTrusted() []TrustInfo {
	return g.trust.List()
}

// pathArgKeys are the argument names checked, in order, when extracting the
// resource a tool call targets.
var pathArgKeys = []string{"path", "file_path", "repo", "repository", "channel", "directory"}

func extractResourcePath(arguments map[string]interface{}) string {
	for _, key := range pathArgKeys {
		if v, ok := arguments[key]; ok {
			if s := fmt.Sprintf("%v", v); s != "" {
				return s
			}
		}
	}
	return ""
}

func buildDescription(toolName, serverName string, arguments map[string]interface{}, safety SafetyLevel) string {
	keys := make([]string, 0, len(arguments))
	for k := range arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 5 {
		keys = keys[:5]
	}

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := fmt.Sprintf("%v", arguments[k])
		if len(v) > 50 {
			v = v[:50]
		}
		parts = append(parts, fmt.Sprintf("%s=%s", k, v))
	}

	return fmt.Sprintf("[%s] agent wants to run %q via %s. Arguments: %s",
		strings.ToUpper(string(safety)), toolName, serverName, strings.Join(parts, ", "))
}

// RedactArguments builds a loggable preview of tool arguments. Values are
// truncated and anything that looks like a credential is masked.
func RedactArguments(arguments map[string]interface{}) map[string]string {
	const maxLen = 200

	preview := make(map[string]string, len(arguments))
	for key, value := range arguments {
		s := fmt.Sprintf("%v", value)
		if len(s) > maxLen {
			s = s[:maxLen] + "..."
		}
		lower := strings.ToLower(key)
		for _, secret := range []string{"token", "secret", "password", "key", "auth"} {
			if strings.Contains(lower, secret) {
				s = "***REDACTED***"
				break
			}
		}
		preview[key] = s
	}
	return preview
}

func orStar(s string) string {
	if s == "" {
		return "*"
	}
	return s
}
