// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleListTraces(c *gin.Context) {
	traces := s.gw.Traces().ListTraces(
		c.Query("session_id"),
		c.Query("status"),
		intQuery(c, "limit", 50),
		intQuery(c, "offset", 0),
	)
	c.JSON(http.StatusOK, gin.H{"traces": traces, "count": len(traces)})
}

func (s *Server) handleGetTrace(c *gin.Context) {
	id := c.Param("trace_id")
	trace, ok := s.gw.Traces().GetTrace(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "trace not found"})
		return
	}
	c.JSON(http.StatusOK, trace)
}

func (s *Server) handleTraceSearch(c *gin.Context) {
	results := s.gw.Traces().SearchTraces(c.Param("query"), intQuery(c, "limit", 20))
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

func (s *Server) handleTraceStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.gw.Traces().GetStats())
}
