// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tokencount estimates token costs for rate limiting and usage
// accounting. The accurate path encodes with a BPE tokenizer; when encoding
// fails or the estimator runs in simple mode, a characters-per-token
// approximation is used instead.
package tokencount

import (
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tiktoken-go/tokenizer"
)

// charsPerToken is the simple-mode approximation ratio for English text.
const charsPerToken = 4

// Estimator counts tokens in prompt text.
type Estimator struct {
	method string

	once sync.Once
	enc  tokenizer.Codec
}

// NewEstimator creates an estimator. Valid methods are "simple" (fast
// approximation) and "tiktoken" (BPE encoding); anything else falls back to
// "tiktoken".
func NewEstimator(method string) *Estimator {
	if method != "simple" && method != "tiktoken" {
		method = "tiktoken"
	}
	return &Estimator{method: method}
}

// Method returns the configured estimation method.
func (e *Estimator) Method() string {
	return e.method
}

// Estimate returns the token count for text. Never returns a negative value;
// empty text counts as zero.
func (e *Estimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	if e.method == "simple" {
		return simpleEstimate(text)
	}

	e.once.Do(func() {
		enc, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			log.Warnf("tokenizer unavailable, falling back to simple estimation: %v", err)
			return
		}
		e.enc = enc
	})

	if e.enc == nil {
		return simpleEstimate(text)
	}

	ids, _, err := e.enc.Encode(text)
	if err != nil {
		return simpleEstimate(text)
	}
	return len(ids)
}

// EstimateMessages sums the token counts of a chat transcript, adding a
// small per-message overhead for role and framing tokens.
func (e *Estimator) EstimateMessages(messages []Message) int {
	const perMessageOverhead = 4

	total := 0
	for _, m := range messages {
		total += e.Estimate(m.Content) + perMessageOverhead
	}
	return total
}

// Message is the minimal chat message shape the estimator needs.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func simpleEstimate(text string) int {
	n := len(strings.TrimSpace(text))
	if n == 0 {
		return 0
	}
	tokens := n / charsPerToken
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}
