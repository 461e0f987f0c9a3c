// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/openclaw/gateway/internal/gateway"
	"github.com/openclaw/gateway/internal/session"
)

// The gateway binds to loopback by default; browser UI pages are served from
// the same host, so origin checking is not enforced here.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsMessage is the envelope for every inbound WebSocket frame.
type wsMessage struct {
	Type         string   `json:"type"`
	ID           string   `json:"id"`
	IDs          []string `json:"ids"`
	Approved     bool     `json:"approved"`
	TrustMinutes int      `json:"trust_minutes"`
	Content      string   `json:"content"`
	SessionID    string   `json:"session_id"`
}

func (s *Server) handleWebSocket(c *gin.Context) {
	clientID := c.Param("client_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnf("websocket upgrade failed for %s: %v", clientID, err)
		return
	}

	s.hub.Register(clientID, conn)
	defer func() {
		s.hub.Unregister(clientID)
		_ = conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.hub.SendTo(clientID, map[string]interface{}{
				"type":  "error",
				"error": "invalid message",
			})
			continue
		}

		switch msg.Type {
		case "approval_response":
			s.wsApprovalResponse(clientID, msg)
		case "batch_approval":
			s.wsBatchApproval(clientID, msg)
		case "message":
			s.wsChatMessage(c, clientID, msg)
		case "ping":
			s.hub.SendTo(clientID, map[string]interface{}{"type": "pong"})
		default:
			s.hub.SendTo(clientID, map[string]interface{}{
				"type":  "error",
				"error": "unknown message type: " + msg.Type,
			})
		}
	}
}

func (s *Server) wsApprovalResponse(clientID string, msg wsMessage) {
	gate := s.gw.Approvals()

	// Capture the tool identity before resolving; the pending entry is gone
	// the moment the suspended caller wakes up.
	var tool, server string
	for _, p := range gate.GetPending() {
		if p.ID == msg.ID {
			tool, server = p.Tool, p.Server
			break
		}
	}

	ok := gate.Resolve(msg.ID, msg.Approved, clientID)
	if ok && msg.Approved && msg.TrustMinutes > 0 && tool != "" {
		gate.GrantTrust(tool, server, msg.TrustMinutes, "")
	}

	s.hub.SendTo(clientID, map[string]interface{}{
		"type":     "approval_resolved",
		"id":       msg.ID,
		"approved": msg.Approved,
		"success":  ok,
	})
}

func (s *Server) wsBatchApproval(clientID string, msg wsMessage) {
	res := s.gw.Approvals().ResolveBatch(msg.IDs, msg.Approved, clientID, msg.TrustMinutes)

	s.hub.SendTo(clientID, map[string]interface{}{
		"type":          "batch_resolved",
		"resolved":      res.Resolved,
		"not_found":     res.NotFound,
		"approved":      res.Approved,
		"trusted_tools": res.TrustedTools,
	})
}

func (s *Server) wsChatMessage(c *gin.Context, clientID string, msg wsMessage) {
	if msg.Content == "" {
		s.hub.SendTo(clientID, map[string]interface{}{
			"type":  "error",
			"error": "empty message",
		})
		return
	}

	resp, err := s.gw.Chat(c.Request.Context(), gateway.ChatRequest{
		ClientID:  clientID,
		SessionID: msg.SessionID,
		Messages:  []session.Message{{Role: "user", Content: msg.Content}},
	})
	if err != nil {
		s.hub.SendTo(clientID, map[string]interface{}{
			"type":  "error",
			"error": err.Error(),
		})
		return
	}

	s.hub.SendTo(clientID, map[string]interface{}{
		"type":       "message",
		"content":    resp.Content,
		"session_id": resp.SessionID,
		"cached":     resp.Cached,
	})
}
