// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/gateway/internal/config"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	b := NewBus()
	defer b.Shutdown()

	var got []Event
	b.Subscribe(EventCacheHit, func(ec *Context) { got = append(got, ec.Event) })
	b.Subscribe(EventRateLimited, func(ec *Context) { got = append(got, ec.Event) })

	b.Publish(&Context{Event: EventCacheHit})
	b.Publish(&Context{Event: EventCacheHit})

	assert.Equal(t, []Event{EventCacheHit, EventCacheHit}, got)
}

func TestUnsubscribe(t *testing.T) {
	b := NewBus()
	defer b.Shutdown()

	calls := 0
	sub := b.Subscribe(EventProviderDown, func(*Context) { calls++ })

	b.Publish(&Context{Event: EventProviderDown})
	sub.Unsubscribe()
	b.Publish(&Context{Event: EventProviderDown})

	assert.Equal(t, 1, calls)
}

func TestSubscriberPanicIsContained(t *testing.T) {
	b := NewBus()
	defer b.Shutdown()

	second := false
	b.Subscribe(EventRequestFailed, func(*Context) { panic("boom") })
	b.Subscribe(EventRequestFailed, func(*Context) { second = true })

	assert.NotPanics(t, func() {
		b.Publish(&Context{Event: EventRequestFailed})
	})
	assert.True(t, second)
}

func TestEmitAsync(t *testing.T) {
	b := NewBus()
	defer b.Shutdown()

	var mu sync.Mutex
	var data map[string]interface{}
	done := make(chan struct{})
	b.Subscribe(EventProviderFailover, func(ec *Context) {
		mu.Lock()
		data = ec.Data
		mu.Unlock()
		close(done)
	})

	b.Emit(EventProviderFailover, map[string]interface{}{"from": "anthropic", "to": "openai"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "anthropic", data["from"])
}

// TestShutdownRacingEmits stops the bus while emitters are mid-flight. A send
// after shutdown must be dropped, never panic.
func TestShutdownRacingEmits(t *testing.T) {
	b := NewBus()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				b.Emit(EventCacheHit, nil)
			}
		}()
	}

	b.Shutdown()
	wg.Wait()
}

func TestEmitAfterShutdownIsIgnored(t *testing.T) {
	b := NewBus()
	b.Shutdown()

	assert.NotPanics(t, func() {
		b.Emit(EventCacheHit, nil)
	})
}

func TestHookConditionFiltering(t *testing.T) {
	b := NewBus()
	defer b.Shutdown()

	engine := NewHookEngine([]config.HookConfig{
		{
			Name:      "slow-requests",
			Event:     string(EventRequestCompleted),
			Condition: "latency_ms > 1000",
			Action:    "broadcast",
			Enabled:   true,
		},
		{
			Name:    "disabled-hook",
			Event:   string(EventRequestCompleted),
			Action:  "broadcast",
			Enabled: false,
		},
	}, nil)

	fired := &captureBroadcaster{}
	engine.broadcaster = fired
	engine.Attach(b)
	defer engine.Detach()

	b.Publish(&Context{Event: EventRequestCompleted, Data: map[string]interface{}{"latency_ms": 50}})
	assert.Empty(t, fired.events)

	b.Publish(&Context{Event: EventRequestCompleted, Data: map[string]interface{}{"latency_ms": 2500}})
	require.Len(t, fired.events, 1)
	assert.Equal(t, "hook_fired", fired.events[0]["type"])
	assert.Equal(t, "slow-requests", fired.events[0]["hook"])
}

func TestHookInvalidConditionSkipped(t *testing.T) {
	engine := NewHookEngine([]config.HookConfig{
		{Name: "broken", Event: "x", Condition: "((", Action: "log_info", Enabled: true},
	}, nil)

	assert.Empty(t, engine.hooks)
}

type captureBroadcaster struct {
	mu     sync.Mutex
	events []map[string]interface{}
}

func (c *captureBroadcaster) Broadcast(event map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}
