// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type resolveRequest struct {
	Approved     bool   `json:"approved"`
	DecidedBy    string `json:"decided_by"`
	TrustMinutes int    `json:"trust_minutes"`
}

type batchResolveRequest struct {
	IDs          []string `json:"ids" binding:"required,min=1"`
	Approved     bool     `json:"approved"`
	DecidedBy    string   `json:"decided_by"`
	TrustMinutes int      `json:"trust_minutes"`
}

type grantTrustRequest struct {
	ToolName   string `json:"tool_name" binding:"required"`
	ServerName string `json:"server_name"`
	Minutes    int    `json:"minutes"`
	Path       string `json:"path"`
}

func (s *Server) handlePendingApprovals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pending": s.gw.Approvals().GetPending()})
}

func (s *Server) handleResolveApproval(c *gin.Context) {
	id := c.Param("id")

	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	decidedBy := req.DecidedBy
	if decidedBy == "" {
		decidedBy = "api"
	}

	// Tool identity must be captured before resolving: a resolved request
	// leaves the pending set as soon as its waiter wakes up.
	gate := s.gw.Approvals()
	var tool, server string
	for _, p := range gate.GetPending() {
		if p.ID == id {
			tool, server = p.Tool, p.Server
			break
		}
	}

	if !gate.Resolve(id, req.Approved, decidedBy) {
		c.JSON(http.StatusNotFound, gin.H{"error": "approval not found or already resolved"})
		return
	}

	if req.Approved && req.TrustMinutes > 0 && tool != "" {
		gate.GrantTrust(tool, server, req.TrustMinutes, "")
	}

	c.JSON(http.StatusOK, gin.H{
		"id":       id,
		"approved": req.Approved,
	})
}

func (s *Server) handleApprovalHistory(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	c.JSON(http.StatusOK, gin.H{"history": s.gw.Approvals().GetHistory(limit)})
}

func (s *Server) handleBatchApproval(c *gin.Context) {
	var req batchResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	decidedBy := req.DecidedBy
	if decidedBy == "" {
		decidedBy = "api"
	}

	res := s.gw.Approvals().ResolveBatch(req.IDs, req.Approved, decidedBy, req.TrustMinutes)
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleListTrusted(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"trusted": s.gw.Approvals().GetTrusted()})
}

func (s *Server) handleGrantTrust(c *gin.Context) {
	var req grantTrustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	expires := s.gw.Approvals().GrantTrust(req.ToolName, req.ServerName, req.Minutes, req.Path)
	c.JSON(http.StatusOK, gin.H{
		"tool_name":  req.ToolName,
		"expires_at": expires,
	})
}

func (s *Server) handleRevokeTrust(c *gin.Context) {
	tool := c.Query("tool")
	server := c.Query("server")
	path := c.Query("path")

	removed := s.gw.Approvals().RevokeTrust(tool, server, path)
	c.JSON(http.StatusOK, gin.H{"revoked": removed})
}
