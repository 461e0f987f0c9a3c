// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package backend calls OpenAI-compatible provider endpoints. The invoker
// reports latency and success or failure for health tracking and is agnostic
// to most of the payload shape; only content, usage and tool calls are
// pulled out of the response.
package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"
	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/net/http2"

	"github.com/openclaw/gateway/internal/config"
	"github.com/openclaw/gateway/internal/session"
)

// defaultTimeout bounds a single upstream call when the provider does not
// configure one.
const defaultTimeout = 120 * time.Second

// Usage is the token accounting returned by a provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatResult is a completed provider response.
type ChatResult struct {
	Content   string     `json:"content"`
	Model     string     `json:"model"`
	Usage     Usage      `json:"usage"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Options tunes a single invocation.
type Options struct {
	Temperature *float64
	MaxTokens   int
}

// Invoker sends chat requests to configured providers.
type Invoker struct {
	cfg    *config.Config
	client *http.Client
}

// NewInvoker creates an invoker over the configured providers. The shared
// transport speaks HTTP/2 where the provider supports it.
func NewInvoker(cfg *config.Config) *Invoker {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		// Decompression is handled explicitly so br can be offered too.
		DisableCompression: true,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		log.Warnf("http2 transport configuration failed, continuing with http/1.1: %v", err)
	}

	return &Invoker{
		cfg:    cfg,
		client: &http.Client{Transport: transport},
	}
}

// Invoke calls the provider's chat completion endpoint and returns the
// parsed result. ctx bounds the call together with the provider's
// configured timeout.
func (inv *Invoker) Invoke(ctx context.Context, provider, model string, messages []session.Message, opts Options) (*ChatResult, error) {
	p := inv.cfg.Provider(provider)
	if p == nil {
		return nil, fmt.Errorf("provider %q is not configured", provider)
	}

	payload, err := buildPayload(model, messages, opts)
	if err != nil {
		return nil, err
	}

	timeout := defaultTimeout
	if p.TimeoutSeconds > 0 {
		timeout = time.Duration(p.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, br")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := inv.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider %s call failed: %w", provider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := decodeBody(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", provider, err)
	}

	if resp.StatusCode >= 400 {
		msg := gjson.GetBytes(body, "error.message").String()
		if msg == "" {
			msg = string(truncateBytes(body, 200))
		}
		return nil, fmt.Errorf("provider %s returned status %d: %s", provider, resp.StatusCode, msg)
	}

	return parseResult(body, model), nil
}

// buildPayload assembles the OpenAI-compatible request body.
func buildPayload(model string, messages []session.Message, opts Options) ([]byte, error) {
	msgs := make([]map[string]string, len(messages))
	for i, m := range messages {
		msgs[i] = map[string]string{"role": m.Role, "content": m.Content}
	}

	base, err := json.Marshal(map[string]interface{}{
		"model":    model,
		"messages": msgs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request payload: %w", err)
	}

	payload := string(base)
	if opts.Temperature != nil {
		if payload, err = sjson.Set(payload, "temperature", *opts.Temperature); err != nil {
			return nil, err
		}
	}
	if opts.MaxTokens > 0 {
		if payload, err = sjson.Set(payload, "max_tokens", opts.MaxTokens); err != nil {
			return nil, err
		}
	}
	return []byte(payload), nil
}

// parseResult extracts the fields the gateway cares about. requestedModel is
// the fallback when the provider omits the model echo.
func parseResult(body []byte, requestedModel string) *ChatResult {
	res := &ChatResult{
		Content: gjson.GetBytes(body, "choices.0.message.content").String(),
		Model:   gjson.GetBytes(body, "model").String(),
		Usage: Usage{
			InputTokens:  int(gjson.GetBytes(body, "usage.prompt_tokens").Int()),
			OutputTokens: int(gjson.GetBytes(body, "usage.completion_tokens").Int()),
		},
	}
	if res.Model == "" {
		res.Model = requestedModel
	}

	gjson.GetBytes(body, "choices.0.message.tool_calls").ForEach(func(_, tc gjson.Result) bool {
		res.ToolCalls = append(res.ToolCalls, ToolCall{
			ID:        tc.Get("id").String(),
			Name:      tc.Get("function.name").String(),
			Arguments: tc.Get("function.arguments").String(),
		})
		return true
	})
	return res
}

// decodeBody reads the response body, transparently decompressing gzip and
// brotli encodings.
func decodeBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body

	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	}

	return io.ReadAll(reader)
}

func truncateBytes(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
