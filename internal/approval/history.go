// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package approval

import (
	"sync"
	"time"
)

// Record is a terminal summary of one approval request. Arguments are kept
// only in redacted form.
type Record struct {
	ID        string      `json:"id"`
	Tool      string      `json:"tool"`
	Server    string      `json:"server"`
	Safety    SafetyLevel `json:"safety"`
	Approved  bool        `json:"approved"`
	Reason    string      `json:"reason"`
	DecidedBy string      `json:"decided_by,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	DecidedAt time.Time   `json:"decided_at"`
}

// historyBuffer is a fixed-capacity ring of approval records. When full, the
// oldest record is overwritten.
type historyBuffer struct {
	mu     sync.RWMutex
	buffer []Record
	size   int
	head   int
	count  int
}

func newHistoryBuffer(size int) *historyBuffer {
	if size <= 0 {
		size = 500
	}
	return &historyBuffer{
		buffer: make([]Record, size),
		size:   size,
	}
}

func (h *historyBuffer) append(r Record) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buffer[h.head] = r
	h.head = (h.head + 1) % h.size
	if h.count < h.size {
		h.count++
	}
}

// last returns up to n records in chronological order.
func (h *historyBuffer) last(n int) []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || h.count == 0 {
		return []Record{}
	}
	if n > h.count {
		n = h.count
	}

	result := make([]Record, n)
	start := (h.head - n + h.size) % h.size
	for i := 0; i < n; i++ {
		result[i] = h.buffer[(start+i)%h.size]
	}
	return result
}

func (h *historyBuffer) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}
