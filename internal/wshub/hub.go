// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package wshub tracks connected WebSocket clients and fans messages out to
// them. Broadcast is best-effort: a dead connection never fails the caller,
// it is just dropped from the table.
package wshub

import (
	"sync"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// client wraps a connection with a write lock, since gorilla connections
// allow only one concurrent writer.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub is the connection table for UI clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]*client)}
}

// Register adds a connection under clientID, replacing any previous
// connection with the same id.
func (h *Hub) Register(clientID string, conn *websocket.Conn) {
	h.mu.Lock()
	old := h.clients[clientID]
	h.clients[clientID] = &client{conn: conn}
	h.mu.Unlock()

	if old != nil {
		_ = old.conn.Close()
	}
	log.Infof("websocket connected: %s", clientID)
}

// Unregister removes a client. The connection itself is closed by the
// caller's read loop.
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	delete(h.clients, clientID)
	h.mu.Unlock()

	log.Infof("websocket disconnected: %s", clientID)
}

// SendTo delivers a message to one client. Unknown clients are a no-op.
func (h *Hub) SendTo(clientID string, message map[string]interface{}) {
	h.mu.RLock()
	c := h.clients[clientID]
	h.mu.RUnlock()
	if c == nil {
		return
	}

	payload, err := json.Marshal(message)
	if err != nil {
		log.Errorf("failed to encode websocket message: %v", err)
		return
	}
	if err := c.send(payload); err != nil {
		log.Debugf("websocket send to %s failed: %v", clientID, err)
	}
}

// Broadcast delivers a message to every connected client. Send failures are
// swallowed.
func (h *Hub) Broadcast(message map[string]interface{}) {
	payload, err := json.Marshal(message)
	if err != nil {
		log.Errorf("failed to encode websocket broadcast: %v", err)
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		_ = c.send(payload)
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
