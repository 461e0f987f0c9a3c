// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package approval

import "sync"

// future carries a single decision from a resolver to a waiter. It settles
// exactly once; every later resolve attempt is a no-op. The decision fields
// are written before done closes, so a waiter that returned from wait (or
// received from done) reads them without further synchronization.
type future struct {
	once      sync.Once
	done      chan struct{}
	approved  bool
	decidedBy string
}

func newFuture() *future {
	return &future{done: make(chan struct{})}
}

// resolve settles the future and reports whether this call was the one that
// settled it. Losing a resolution race is not an error.
func (f *future) resolve(approved bool, decidedBy string) bool {
	first := false
	f.once.Do(func() {
		f.approved = approved
		f.decidedBy = decidedBy
		first = true
		close(f.done)
	})
	return first
}

// wait blocks until the future settles and returns the decision.
func (f *future) wait() bool {
	<-f.done
	return f.approved
}
