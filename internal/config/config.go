// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config provides configuration management for the OpenClaw gateway.
// It handles loading and parsing YAML configuration files and provides structured
// access to application settings including server binding, provider definitions,
// rate limits, response caching, approval policy, and tracing.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides.
// OPENCLAW_RATE_LIMIT__REQUESTS_PER_MINUTE=120 overrides rate-limit.requests-per-minute.
const EnvPrefix = "OPENCLAW_"

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the network host/interface on which the API server will bind.
	// Default is "127.0.0.1" for local-only access.
	Host string `yaml:"host" json:"-"`
	// Port is the network port on which the API server will listen.
	Port int `yaml:"port" json:"-"`

	// Debug enables or disables debug-level logging and other debug features.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile controls whether application logs are written to rotating files or stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogsMaxTotalSizeMB limits the total size (in MB) of log files under the logs directory.
	// When exceeded, the oldest log files are deleted until within the limit. Set to 0 to disable.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb"`

	// Providers lists the configured LLM backends in priority order.
	// Declaration order is the default-route and failover priority order.
	Providers []ProviderConfig `yaml:"providers" json:"providers"`

	// RateLimit controls the per-client admission gate.
	RateLimit RateLimitConfig `yaml:"rate-limit" json:"rate-limit"`

	// Cache controls the response cache.
	Cache CacheConfig `yaml:"cache" json:"cache"`

	// Security controls request screening and API key verification.
	Security SecurityConfig `yaml:"security" json:"security"`

	// Approval controls the human-in-the-loop tool approval gate.
	Approval ApprovalConfig `yaml:"approval" json:"approval"`

	// Tracing controls the request trace recorder.
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`

	// Sessions controls the in-memory chat session store.
	Sessions SessionConfig `yaml:"sessions" json:"sessions"`

	// Hooks lists event hook definitions evaluated against gateway telemetry events.
	Hooks []HookConfig `yaml:"hooks" json:"hooks"`
}

// ProviderConfig describes a single LLM backend.
type ProviderConfig struct {
	// Name is the provider identifier used in routing (e.g. "anthropic", "openai").
	Name string `yaml:"name" json:"name"`

	// Enabled toggles the provider. Disabled providers are never routed to.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// BaseURL is the OpenAI-compatible endpoint base (e.g. "https://api.openai.com/v1").
	BaseURL string `yaml:"base-url" json:"base-url"`

	// APIKey authenticates requests to the provider.
	APIKey string `yaml:"api-key" json:"-"`

	// DefaultModel is used when the caller does not name a model.
	DefaultModel string `yaml:"default-model" json:"default-model"`

	// Models lists the models this provider serves.
	Models []ModelConfig `yaml:"models" json:"models"`

	// TimeoutSeconds bounds a single upstream call. 0 means the built-in default (120s).
	TimeoutSeconds int `yaml:"timeout-seconds" json:"timeout-seconds"`
}

// ModelConfig describes one model served by a provider.
type ModelConfig struct {
	// ID is the provider-native model identifier.
	ID string `yaml:"id" json:"id"`
	// Name is an optional human-friendly alias matched case-insensitively during resolution.
	Name string `yaml:"name" json:"name"`
}

// RateLimitConfig holds sliding-window admission settings.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"`
	RequestsPerMinute int     `yaml:"requests-per-minute" json:"requests-per-minute"`
	TokensPerMinute   int     `yaml:"tokens-per-minute" json:"tokens-per-minute"`
	BurstMultiplier   float64 `yaml:"burst-multiplier" json:"burst-multiplier"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	MaxEntries int  `yaml:"max-entries" json:"max-entries"`
	TTLSeconds int  `yaml:"ttl-seconds" json:"ttl-seconds"`

	// SimilarityThreshold is the minimum Jaccard token overlap for a fuzzy hit.
	// 1.0 disables fuzzy matching entirely.
	SimilarityThreshold float64 `yaml:"similarity-threshold" json:"similarity-threshold"`
}

// SecurityConfig holds request screening settings.
type SecurityConfig struct {
	// APIKeyRequired enforces client API key verification on chat endpoints.
	APIKeyRequired bool `yaml:"api-key-required" json:"api-key-required"`

	// APIKeyHashes holds bcrypt hashes of accepted client API keys.
	APIKeyHashes []string `yaml:"api-key-hashes" json:"-"`

	// MaxPromptLength bounds inbound prompt size in characters.
	MaxPromptLength int `yaml:"max-prompt-length" json:"max-prompt-length"`

	// ContentFiltering toggles prompt-injection screening.
	ContentFiltering bool `yaml:"content-filtering" json:"content-filtering"`

	// PIIDetection toggles redaction of emails, phone numbers, SSNs, and card
	// numbers in responses.
	PIIDetection bool `yaml:"pii-detection" json:"pii-detection"`
}

// ApprovalConfig holds the human-in-the-loop approval gate settings.
type ApprovalConfig struct {
	Enabled         bool `yaml:"enabled" json:"enabled"`
	TimeoutSeconds  int  `yaml:"timeout-seconds" json:"timeout-seconds"`
	AutoApproveSafe bool `yaml:"auto-approve-safe" json:"auto-approve-safe"`

	// TrustDurationMinutes is the default duration for trust grants when the
	// caller does not specify one. 0 falls back to a hard 5-minute floor.
	TrustDurationMinutes int `yaml:"trust-duration-minutes" json:"trust-duration-minutes"`

	// ToolOverrides maps tool names (optionally "server_tool") to safety levels
	// ("safe", "sensitive", "critical"), taking precedence over built-in rules.
	ToolOverrides map[string]string `yaml:"tool-overrides" json:"tool-overrides"`

	// HistorySize bounds the terminal approval history ring buffer.
	HistorySize int `yaml:"history-size" json:"history-size"`
}

// TracingConfig holds trace recorder settings.
type TracingConfig struct {
	Enabled   bool `yaml:"enabled" json:"enabled"`
	MaxTraces int  `yaml:"max-traces" json:"max-traces"`

	// Persist enables SQLite persistence of completed traces.
	Persist bool `yaml:"persist" json:"persist"`

	// StorePath is the SQLite database path used when Persist is true.
	StorePath string `yaml:"store-path" json:"store-path"`
}

// SessionConfig holds chat session store settings.
type SessionConfig struct {
	// MaxAgeSeconds is the idle age after which sessions are reaped.
	MaxAgeSeconds int `yaml:"max-age-seconds" json:"max-age-seconds"`

	// CleanupIntervalSeconds controls how often the reaper runs.
	CleanupIntervalSeconds int `yaml:"cleanup-interval-seconds" json:"cleanup-interval-seconds"`
}

// HookConfig defines a condition/action pair evaluated on gateway events.
type HookConfig struct {
	// Name identifies the hook in logs.
	Name string `yaml:"name" json:"name"`

	// Event is the event type the hook listens for (e.g. "provider_failover").
	Event string `yaml:"event" json:"event"`

	// Condition is an optional expr-lang expression over the event data.
	// An empty condition always matches.
	Condition string `yaml:"condition" json:"condition"`

	// Action is the registered action to run ("log_warning", "log_info", "broadcast").
	Action string `yaml:"action" json:"action"`

	// Enabled toggles the hook.
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// DefaultConfig returns a Config populated with built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Host: "127.0.0.1",
		Port: 18789,
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 60,
			TokensPerMinute:   100000,
			BurstMultiplier:   2.0,
		},
		Cache: CacheConfig{
			Enabled:             true,
			MaxEntries:          1000,
			TTLSeconds:          3600,
			SimilarityThreshold: 0.92,
		},
		Security: SecurityConfig{
			MaxPromptLength:  32000,
			ContentFiltering: true,
		},
		Approval: ApprovalConfig{
			Enabled:         true,
			TimeoutSeconds:  120,
			AutoApproveSafe: true,
			HistorySize:     500,
		},
		Tracing: TracingConfig{
			Enabled:   true,
			MaxTraces: 500,
			StorePath: "logs/traces.db",
		},
		Sessions: SessionConfig{
			MaxAgeSeconds:          7200,
			CleanupIntervalSeconds: 300,
		},
	}
}

// LoadConfig reads YAML from configFile, applies defaults for absent keys,
// applies OPENCLAW_* environment overrides, and validates the result.
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides(os.Environ())

	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.RateLimit.BurstMultiplier <= 0 {
		return fmt.Errorf("rate-limit burst-multiplier must be positive, got %v", c.RateLimit.BurstMultiplier)
	}
	if c.Cache.SimilarityThreshold < 0 || c.Cache.SimilarityThreshold > 1 {
		return fmt.Errorf("cache similarity-threshold must be in [0,1], got %v", c.Cache.SimilarityThreshold)
	}
	seen := make(map[string]bool, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Name == "" {
			return fmt.Errorf("provider %d has no name", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider name: %s", p.Name)
		}
		seen[p.Name] = true
	}
	for tool, level := range c.Approval.ToolOverrides {
		switch strings.ToLower(level) {
		case "safe", "sensitive", "critical":
		default:
			return fmt.Errorf("invalid safety level %q for tool override %q", level, tool)
		}
	}
	return nil
}

// EnabledProviders returns the enabled providers in declaration order.
func (c *Config) EnabledProviders() []ProviderConfig {
	out := make([]ProviderConfig, 0, len(c.Providers))
	for _, p := range c.Providers {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// Provider looks up a provider by name. Returns nil if absent.
func (c *Config) Provider(name string) *ProviderConfig {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i]
		}
	}
	return nil
}

// applyEnvOverrides overlays OPENCLAW_SECTION__KEY environment variables.
// Double underscores separate nesting levels. Only scalar leaves are supported.
func (c *Config) applyEnvOverrides(environ []string) {
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.Index(kv, "=")
		if eq < 0 {
			continue
		}
		key := kv[len(EnvPrefix):eq]
		value := kv[eq+1:]
		c.applyOverride(strings.Split(strings.ToLower(key), "__"), value)
	}
}

func (c *Config) applyOverride(path []string, value string) {
	switch strings.Join(path, ".") {
	case "host":
		c.Host = value
	case "port":
		if n, err := strconv.Atoi(value); err == nil {
			c.Port = n
		}
	case "debug":
		c.Debug = parseBool(value)
	case "logging_to_file":
		c.LoggingToFile = parseBool(value)
	case "rate_limit.enabled":
		c.RateLimit.Enabled = parseBool(value)
	case "rate_limit.requests_per_minute":
		if n, err := strconv.Atoi(value); err == nil {
			c.RateLimit.RequestsPerMinute = n
		}
	case "rate_limit.tokens_per_minute":
		if n, err := strconv.Atoi(value); err == nil {
			c.RateLimit.TokensPerMinute = n
		}
	case "rate_limit.burst_multiplier":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			c.RateLimit.BurstMultiplier = f
		}
	case "cache.enabled":
		c.Cache.Enabled = parseBool(value)
	case "cache.max_entries":
		if n, err := strconv.Atoi(value); err == nil {
			c.Cache.MaxEntries = n
		}
	case "cache.ttl_seconds":
		if n, err := strconv.Atoi(value); err == nil {
			c.Cache.TTLSeconds = n
		}
	case "cache.similarity_threshold":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			c.Cache.SimilarityThreshold = f
		}
	case "approval.enabled":
		c.Approval.Enabled = parseBool(value)
	case "approval.timeout_seconds":
		if n, err := strconv.Atoi(value); err == nil {
			c.Approval.TimeoutSeconds = n
		}
	case "approval.auto_approve_safe":
		c.Approval.AutoApproveSafe = parseBool(value)
	case "approval.trust_duration_minutes":
		if n, err := strconv.Atoi(value); err == nil {
			c.Approval.TrustDurationMinutes = n
		}
	case "tracing.enabled":
		c.Tracing.Enabled = parseBool(value)
	case "tracing.persist":
		c.Tracing.Persist = parseBool(value)
	}
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
