// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package security screens inbound prompts and outbound responses. It
// detects prompt-injection attempts, enforces prompt length limits, verifies
// client API keys against bcrypt hashes, and redacts PII from responses.
package security

import (
	"fmt"
	"regexp"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/openclaw/gateway/internal/config"
)

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?prior`),
	regexp.MustCompile(`(?i)forget\s+everything`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(DAN|evil|unrestricted)`),
	regexp.MustCompile(`(?i)system\s*:\s*override`),
	regexp.MustCompile(`(?i)\[INST\].*\[/INST\]`),
	regexp.MustCompile(`(?i)<\|im_start\|>system`),
}

type piiPattern struct {
	name string
	re   *regexp.Regexp
}

var piiPatterns = []piiPattern{
	{"EMAIL", regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)},
	{"PHONE", regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)},
	{"SSN", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"CREDIT_CARD", regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`)},
}

// Screen validates requests and filters responses.
type Screen struct {
	cfg config.SecurityConfig
}

// NewScreen creates a security screen with the given settings.
func NewScreen(cfg config.SecurityConfig) *Screen {
	return &Screen{cfg: cfg}
}

// ValidateRequest checks an inbound prompt and API key. A non-nil error is
// the user-visible rejection message.
func (s *Screen) ValidateRequest(content, apiKey string) error {
	if s.cfg.APIKeyRequired && !s.verifyKey(apiKey) {
		return fmt.Errorf("invalid API key")
	}

	maxLen := s.cfg.MaxPromptLength
	if maxLen <= 0 {
		maxLen = 32000
	}
	if len(content) > maxLen {
		return fmt.Errorf("prompt exceeds maximum length (%d chars)", maxLen)
	}

	if s.cfg.ContentFiltering {
		for _, re := range injectionPatterns {
			if re.MatchString(content) {
				log.Warn("potential prompt injection detected")
				return fmt.Errorf("request blocked: suspicious content detected")
			}
		}
	}

	return nil
}

// FilterOutput redacts PII from response content when detection is enabled.
func (s *Screen) FilterOutput(content string) string {
	if !s.cfg.PIIDetection {
		return content
	}

	filtered := content
	for _, p := range piiPatterns {
		filtered = p.re.ReplaceAllString(filtered, "["+p.name+"_REDACTED]")
	}
	return filtered
}

// verifyKey compares the presented key against the configured bcrypt hashes.
func (s *Screen) verifyKey(apiKey string) bool {
	if apiKey == "" {
		return false
	}
	for _, hash := range s.cfg.APIKeyHashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(apiKey)) == nil {
			return true
		}
	}
	return false
}

// HashAPIKey produces a bcrypt hash suitable for the api-key-hashes config
// list. Used by the key provisioning CLI path.
func HashAPIKey(apiKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash api key: %w", err)
	}
	return string(hash), nil
}
