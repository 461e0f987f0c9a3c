// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/openclaw/gateway/internal/gateway"
	"github.com/openclaw/gateway/internal/ratelimit"
	"github.com/openclaw/gateway/internal/router"
	"github.com/openclaw/gateway/internal/session"
)

type chatMessage struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages    []chatMessage `json:"messages" binding:"required,min=1"`
	Model       string        `json:"model"`
	SessionID   string        `json:"session_id"`
	Temperature *float64      `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type simpleChatRequest struct {
	Message   string `json:"message"`
	Content   string `json:"content"`
	SessionID string `json:"session_id"`
}

// clientID identifies the caller for rate limiting: the X-Client-Id header
// when present, otherwise the peer address.
func clientID(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader("X-Client-Id")); id != "" {
		return id
	}
	return c.ClientIP()
}

func apiKey(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return after
	}
	return c.GetHeader("X-Api-Key")
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	messages := make([]session.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = session.Message{Role: m.Role, Content: m.Content}
	}

	resp, err := s.gw.Chat(c.Request.Context(), gateway.ChatRequest{
		ClientID:    clientID(c),
		SessionID:   req.SessionID,
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		APIKey:      apiKey(c),
	})
	if err != nil {
		s.writeChatError(c, err)
		return
	}

	writeRateHeaders(c, resp.RateInfo)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleChatSimple(c *gin.Context) {
	var req simpleChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	text := req.Message
	if text == "" {
		text = req.Content
	}
	if strings.TrimSpace(text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	resp, err := s.gw.Chat(c.Request.Context(), gateway.ChatRequest{
		ClientID:  clientID(c),
		SessionID: req.SessionID,
		Messages:  []session.Message{{Role: "user", Content: text}},
		APIKey:    apiKey(c),
	})
	if err != nil {
		s.writeChatError(c, err)
		return
	}

	writeRateHeaders(c, resp.RateInfo)
	c.JSON(http.StatusOK, gin.H{
		"reply":      resp.Content,
		"session_id": resp.SessionID,
		"cached":     resp.Cached,
	})
}

// writeChatError maps pipeline failures to HTTP statuses: rate limiting to
// 429 with budget headers, no available backend to 503, everything else
// (screening rejections, malformed input) to 400.
func (s *Server) writeChatError(c *gin.Context, err error) {
	var rle *gateway.RateLimitError
	if errors.As(err, &rle) {
		writeRateHeaders(c, rle.Result)
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(rle.Result.RetryAfter.Seconds()))))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":  "rate limit exceeded",
			"reason": rle.Result.Reason,
		})
		return
	}
	if errors.Is(err, router.ErrNoBackendAvailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func writeRateHeaders(c *gin.Context, res ratelimit.Result) {
	c.Header("X-RateLimit-Remaining", strconv.Itoa(res.RequestsRemaining))
	c.Header("X-RateLimit-Tokens-Remaining", strconv.Itoa(res.TokensRemaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}

func intQuery(c *gin.Context, name string, def int) int {
	if v := c.Query(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
