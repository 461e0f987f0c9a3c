// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package backend

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/openclaw/gateway/internal/config"
	"github.com/openclaw/gateway/internal/session"
)

const sampleResponse = `{
	"model": "gpt-4o-2024-11",
	"choices": [{"message": {"role": "assistant", "content": "hello there"}}],
	"usage": {"prompt_tokens": 12, "completion_tokens": 5}
}`

func testInvoker(baseURL string) *Invoker {
	cfg := config.DefaultConfig()
	cfg.Providers = []config.ProviderConfig{
		{Name: "openai", Enabled: true, BaseURL: baseURL, APIKey: "sk-test", DefaultModel: "gpt-4o"},
	}
	return NewInvoker(cfg)
}

func TestInvokeParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "gpt-4o", gjson.GetBytes(body, "model").String())
		assert.Equal(t, "hi", gjson.GetBytes(body, "messages.0.content").String())
		assert.Equal(t, float64(0.7), gjson.GetBytes(body, "temperature").Float())
		assert.Equal(t, int64(256), gjson.GetBytes(body, "max_tokens").Int())

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	temp := 0.7
	inv := testInvoker(srv.URL)
	res, err := inv.Invoke(context.Background(), "openai", "gpt-4o",
		[]session.Message{{Role: "user", Content: "hi"}},
		Options{Temperature: &temp, MaxTokens: 256})

	require.NoError(t, err)
	assert.Equal(t, "hello there", res.Content)
	assert.Equal(t, "gpt-4o-2024-11", res.Model)
	assert.Equal(t, 12, res.Usage.InputTokens)
	assert.Equal(t, 5, res.Usage.OutputTokens)
	assert.Empty(t, res.ToolCalls)
}

func TestInvokeDecodesGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte(sampleResponse))
		_ = gz.Close()
	}))
	defer srv.Close()

	inv := testInvoker(srv.URL)
	res, err := inv.Invoke(context.Background(), "openai", "gpt-4o", nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "hello there", res.Content)
}

func TestInvokeDecodesBrotli(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "br")
		br := brotli.NewWriter(w)
		_, _ = br.Write([]byte(sampleResponse))
		_ = br.Close()
	}))
	defer srv.Close()

	inv := testInvoker(srv.URL)
	res, err := inv.Invoke(context.Background(), "openai", "gpt-4o", nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "hello there", res.Content)
}

func TestInvokeToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"content": "", "tool_calls": [
				{"id": "call_1", "function": {"name": "write_file", "arguments": "{\"path\":\"/tmp/x\"}"}}
			]}}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 1}
		}`))
	}))
	defer srv.Close()

	inv := testInvoker(srv.URL)
	res, err := inv.Invoke(context.Background(), "openai", "gpt-4o", nil, Options{})
	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "write_file", res.ToolCalls[0].Name)
	assert.Contains(t, res.ToolCalls[0].Arguments, "/tmp/x")

	// Model echo absent: fall back to the requested model.
	assert.Equal(t, "gpt-4o", res.Model)
}

func TestInvokeErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "overloaded"}}`))
	}))
	defer srv.Close()

	inv := testInvoker(srv.URL)
	_, err := inv.Invoke(context.Background(), "openai", "gpt-4o", nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "overloaded")
}

func TestInvokeUnknownProvider(t *testing.T) {
	inv := testInvoker("http://unused")
	_, err := inv.Invoke(context.Background(), "nope", "m", nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}
