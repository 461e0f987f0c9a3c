// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package session keeps in-memory chat sessions with bounded-lookback
// history. Sessions are reaped after a configurable idle period by a
// background loop.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/openclaw/gateway/internal/config"
)

// Message is one entry in a session transcript.
type Message struct {
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Session is one active conversation.
type Session struct {
	ID         string                 `json:"id"`
	Messages   []Message              `json:"messages"`
	CreatedAt  time.Time              `json:"created_at"`
	LastActive time.Time              `json:"last_active"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Summary is the listing shape for sessions, without the transcript.
type Summary struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActive   time.Time `json:"last_active"`
	MessageCount int       `json:"message_count"`
}

// Manager owns the session table.
type Manager struct {
	cfg config.SessionConfig

	mu       sync.Mutex
	sessions map[string]*Session

	now func() time.Time
}

// NewManager creates a session manager.
func NewManager(cfg config.SessionConfig) *Manager {
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// GetOrCreate returns the session with the given id, refreshing its activity
// time, or creates a new one. An empty id always creates a fresh session
// with a generated id.
func (m *Manager) GetOrCreate(sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if sessionID != "" {
		if s, ok := m.sessions[sessionID]; ok {
			s.LastActive = now
			return s
		}
	}

	id := sessionID
	if id == "" {
		id = "session_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}
	s := &Session{
		ID:         id,
		CreatedAt:  now,
		LastActive: now,
		Metadata:   make(map[string]interface{}),
	}
	m.sessions[id] = s
	return s
}

// AddMessage appends to a session's transcript. Unknown sessions are ignored.
func (m *Manager) AddMessage(sessionID, role, content string, metadata map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	s.Messages = append(s.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: m.now(),
		Metadata:  metadata,
	})
	s.LastActive = m.now()
}

// History returns up to limit most recent messages, oldest first. Returns
// nil for unknown sessions.
func (m *Manager) History(sessionID string, limit int) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	if limit <= 0 || limit > len(s.Messages) {
		limit = len(s.Messages)
	}
	out := make([]Message, limit)
	copy(out, s.Messages[len(s.Messages)-limit:])
	return out
}

// Delete removes a session and reports whether it existed.
func (m *Manager) Delete(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return false
	}
	delete(m.sessions, sessionID)
	return true
}

// List returns summaries of all sessions.
func (m *Manager) List() []Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Summary, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, Summary{
			ID:           s.ID,
			CreatedAt:    s.CreatedAt,
			LastActive:   s.LastActive,
			MessageCount: len(s.Messages),
		})
	}
	return out
}

// ActiveCount returns the number of live sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CleanupStale removes sessions idle longer than maxAge and returns how many
// were removed.
func (m *Manager) CleanupStale(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, s := range m.sessions {
		if now.Sub(s.LastActive) > maxAge {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// StartReaper runs the stale-session cleanup loop until ctx is cancelled.
func (m *Manager) StartReaper(ctx context.Context) {
	interval := time.Duration(m.cfg.CleanupIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	maxAge := time.Duration(m.cfg.MaxAgeSeconds) * time.Second
	if maxAge <= 0 {
		maxAge = 2 * time.Hour
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.CleanupStale(maxAge); n > 0 {
					log.Infof("cleaned up %d stale sessions", n)
				}
			}
		}
	}()
}
