// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api exposes the gateway over HTTP: chat endpoints, session and
// model listings, the approval workflow, trace inspection, and a WebSocket
// channel for interactive approval prompts.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/openclaw/gateway/internal/buildinfo"
	"github.com/openclaw/gateway/internal/config"
	"github.com/openclaw/gateway/internal/gateway"
	"github.com/openclaw/gateway/internal/wshub"
)

// Server is the HTTP/WebSocket front of the gateway.
type Server struct {
	cfg       *config.Config
	gw        *gateway.Gateway
	hub       *wshub.Hub
	startTime time.Time
}

// NewServer creates a server over an assembled gateway.
func NewServer(cfg *config.Config, gw *gateway.Gateway, hub *wshub.Hub) *Server {
	return &Server{
		cfg:       cfg,
		gw:        gw,
		hub:       hub,
		startTime: time.Now(),
	}
}

// Routes builds the gin engine with all endpoints registered.
func (s *Server) Routes() *gin.Engine {
	if !s.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)

	api := r.Group("/api")
	{
		api.GET("/info", s.handleInfo)
		api.GET("/models", s.handleModels)
		api.GET("/stats", s.handleStats)

		api.POST("/chat", s.handleChat)
		api.POST("/chat/simple", s.handleChatSimple)

		api.GET("/sessions", s.handleListSessions)
		api.GET("/sessions/:id/history", s.handleSessionHistory)
		api.DELETE("/sessions/:id", s.handleDeleteSession)

		api.GET("/approvals/pending", s.handlePendingApprovals)
		api.GET("/approvals/history", s.handleApprovalHistory)
		api.POST("/approvals/batch", s.handleBatchApproval)
		api.GET("/approvals/trusted", s.handleListTrusted)
		api.POST("/approvals/trust", s.handleGrantTrust)
		api.DELETE("/approvals/trust", s.handleRevokeTrust)
		api.POST("/approvals/:id", s.handleResolveApproval)

		// Static trace routes must register before the parameterized one.
		api.GET("/traces/stats", s.handleTraceStats)
		api.GET("/traces/search/:query", s.handleTraceSearch)
		api.GET("/traces", s.handleListTraces)
		api.GET("/traces/:trace_id", s.handleGetTrace)
	}

	r.GET("/ws/:client_id", s.handleWebSocket)

	return r
}

// Run starts the HTTP server on the configured bind address.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	log.Infof("gateway listening on %s", addr)
	return s.Routes().Run(addr)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"version":         buildinfo.Version,
		"uptime_seconds":  time.Since(s.startTime).Seconds(),
		"active_sessions": s.gw.Sessions().ActiveCount(),
	})
}

func (s *Server) handleInfo(c *gin.Context) {
	providers := make([]string, 0, len(s.cfg.Providers))
	for _, p := range s.cfg.EnabledProviders() {
		providers = append(providers, p.Name)
	}
	c.JSON(http.StatusOK, gin.H{
		"name":      "openclaw-gateway",
		"version":   buildinfo.Version,
		"commit":    buildinfo.Commit,
		"providers": providers,
		"features": gin.H{
			"rate_limiting": s.cfg.RateLimit.Enabled,
			"caching":       s.cfg.Cache.Enabled,
			"approvals":     s.cfg.Approval.Enabled,
			"tracing":       s.cfg.Tracing.Enabled,
		},
	})
}

func (s *Server) handleModels(c *gin.Context) {
	type modelInfo struct {
		ID       string `json:"id"`
		Name     string `json:"name,omitempty"`
		Provider string `json:"provider"`
		Default  bool   `json:"default"`
	}

	models := make([]modelInfo, 0)
	for _, p := range s.cfg.EnabledProviders() {
		for _, m := range p.Models {
			models = append(models, modelInfo{
				ID:       m.ID,
				Name:     m.Name,
				Provider: p.Name,
				Default:  m.ID == p.DefaultModel,
			})
		}
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.gw.Stats())
}

func (s *Server) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.gw.Sessions().List()})
}

func (s *Server) handleSessionHistory(c *gin.Context) {
	id := c.Param("id")
	limit := intQuery(c, "limit", 0)

	history := s.gw.Sessions().History(id, limit)
	if history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "messages": history})
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	id := c.Param("id")
	if !s.gw.Sessions().Delete(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
