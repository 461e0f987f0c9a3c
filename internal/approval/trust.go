// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package approval

import (
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// fallbackTrustMinutes is the hard floor used when neither the caller nor the
// deployment configured a trust duration.
const fallbackTrustMinutes = 5

// TrustInfo describes one active trust grant for listing.
type TrustInfo struct {
	TrustKey         string    `json:"trust_key"`
	ExpiresAt        time.Time `json:"expires_at"`
	RemainingSeconds int       `json:"remaining_seconds"`
}

// TrustStore holds time-boxed waivers that bypass human approval. Grants are
// keyed by tool and server, optionally scoped to a resource path prefix.
// Expired grants are inert and purged whenever they are encountered.
type TrustStore struct {
	defaultMinutes int

	mu     sync.Mutex
	grants map[string]time.Time
	now    func() time.Time
}

// NewTrustStore creates a trust store with the deployment's default grant
// duration in minutes.
func NewTrustStore(defaultMinutes int) *TrustStore {
	return &TrustStore{
		defaultMinutes: defaultMinutes,
		grants:         make(map[string]time.Time),
		now:            time.Now,
	}
}

// trustKey builds the grant key: "server::tool", with "@path" appended for
// path-scoped grants.
func trustKey(toolName, serverName, resourcePath string) string {
	base := toolName
	if serverName != "" {
		base = serverName + "::" + toolName
	}
	if resourcePath != "" {
		return base + "@" + resourcePath
	}
	return base
}

// Grant trusts a tool for the given number of minutes and returns the expiry.
// minutes <= 0 falls back to the configured default, then to a 5-minute floor.
// An empty resourcePath grants tool-level trust with no path restriction.
func (s *TrustStore) Grant(toolName, serverName string, minutes int, resourcePath string) time.Time {
	if minutes <= 0 {
		minutes = s.defaultMinutes
	}
	if minutes <= 0 {
		minutes = fallbackTrustMinutes
	}

	key := trustKey(toolName, serverName, resourcePath)
	expiry := s.now().Add(time.Duration(minutes) * time.Minute)

	s.mu.Lock()
	s.grants[key] = expiry
	s.mu.Unlock()

	scope := "global"
	if resourcePath != "" {
		scope = "path=" + resourcePath
	}
	log.Infof("trust granted: %s for %dmin (%s)", key, minutes, scope)
	return expiry
}

// IsTrusted reports whether a live grant covers the tool invocation.
//
// Resolution order, most specific first:
//  1. An exact grant on (tool, server, resourcePath).
//  2. A path-scoped grant whose path is a prefix of resourcePath. Trusting
//     "/workspace/" covers "/workspace/sub/file", never the other way round.
//  3. A tool-level grant with no path restriction.
//
// Expired grants found along the way are removed.
func (s *TrustStore) IsTrusted(toolName, serverName, resourcePath string) bool {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if resourcePath != "" {
		exactKey := trustKey(toolName, serverName, resourcePath)
		if expiry, ok := s.grants[exactKey]; ok {
			if !now.After(expiry) {
				return true
			}
			delete(s.grants, exactKey)
		}

		prefix := trustKey(toolName, serverName, "") + "@"
		for key, expiry := range s.grants {
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			if now.After(expiry) {
				delete(s.grants, key)
				continue
			}
			trustedPath := key[len(prefix):]
			if strings.HasPrefix(resourcePath, trustedPath) {
				return true
			}
		}
	}

	toolKey := trustKey(toolName, serverName, "")
	if expiry, ok := s.grants[toolKey]; ok {
		if !now.After(expiry) {
			return true
		}
		delete(s.grants, toolKey)
	}

	return false
}

// Revoke removes a specific grant and returns how many entries were removed.
// Called with empty toolName and serverName it clears the entire table.
func (s *TrustStore) Revoke(toolName, serverName, resourcePath string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if toolName == "" && serverName == "" {
		n := len(s.grants)
		s.grants = make(map[string]time.Time)
		log.Infof("all temporary trust revoked (%d entries)", n)
		return n
	}

	key := trustKey(toolName, serverName, resourcePath)
	if _, ok := s.grants[key]; !ok {
		return 0
	}
	delete(s.grants, key)
	log.Infof("trust revoked: %s", key)
	return 1
}

// List returns the active grants, purging any that have expired.
func (s *TrustStore) List() []TrustInfo {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TrustInfo, 0, len(s.grants))
	for key, expiry := range s.grants {
		if now.After(expiry) {
			delete(s.grants, key)
			continue
		}
		out = append(out, TrustInfo{
			TrustKey:         key,
			ExpiresAt:        expiry,
			RemainingSeconds: int(expiry.Sub(now).Seconds()),
		})
	}
	return out
}
