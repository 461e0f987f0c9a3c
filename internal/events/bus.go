// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package events distributes gateway telemetry events to subscribers and
// runs configured hooks against them. Delivery is best-effort: a slow or
// panicking subscriber never propagates back into the request path.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Event identifies a telemetry event type.
type Event string

// Events emitted by the gateway.
const (
	EventRequestCompleted Event = "request_completed"
	EventRequestFailed    Event = "request_failed"
	EventProviderDown     Event = "provider_down"
	EventProviderFailover Event = "provider_failover"
	EventRateLimited      Event = "rate_limited"
	EventCacheHit         Event = "cache_hit"
	EventApprovalResolved Event = "approval_resolved"
)

// Context carries one event instance through the bus.
type Context struct {
	Event     Event
	Timestamp time.Time
	Data      map[string]interface{}
}

// Subscription is a handle for a registered subscriber.
type Subscription struct {
	ID          string
	Event       Event
	Callback    func(*Context)
	Unsubscribe func()
}

// Bus fans events out to subscribers. Publishing is synchronous; the async
// path goes through a bounded queue and drops on overflow.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Event][]*Subscription
	queue       chan *Context

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	shutdown     bool
}

// NewBus creates a bus and starts its async processor.
func NewBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		subscribers: make(map[Event][]*Subscription),
		queue:       make(chan *Context, 1000),
		ctx:         ctx,
		cancel:      cancel,
	}
	go b.processQueue()
	return b
}

// Subscribe registers a callback for an event type.
func (b *Bus) Subscribe(event Event, callback func(*Context)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		ID:       fmt.Sprintf("%d", time.Now().UnixNano()),
		Event:    event,
		Callback: callback,
	}
	sub.Unsubscribe = func() { b.unsubscribe(sub) }

	b.subscribers[event] = append(b.subscribers[event], sub)
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[sub.Event]
	for i, s := range subs {
		if s.ID == sub.ID {
			b.subscribers[sub.Event] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

// Publish delivers an event to all subscribers synchronously.
func (b *Bus) Publish(ctx *Context) {
	b.mu.RLock()
	subs := b.subscribers[ctx.Event]
	active := make([]*Subscription, len(subs))
	copy(active, subs)
	b.mu.RUnlock()

	for _, sub := range active {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("panic in event subscriber for %s: %v", ctx.Event, r)
				}
			}()
			sub.Callback(ctx)
		}()
	}
}

// Emit builds a Context and publishes it asynchronously. The queue is
// bounded; under sustained overload events are dropped with a warning.
func (b *Bus) Emit(event Event, data map[string]interface{}) {
	b.mu.RLock()
	stopped := b.shutdown
	b.mu.RUnlock()
	if stopped {
		return
	}

	ec := &Context{Event: event, Timestamp: time.Now(), Data: data}

	select {
	case <-b.ctx.Done():
	case b.queue <- ec:
	default:
		log.Warnf("event queue full, dropping event: %s", event)
	}
}

func (b *Bus) processQueue() {
	for {
		select {
		case <-b.ctx.Done():
			return
		case ec := <-b.queue:
			if ec != nil {
				b.Publish(ec)
			}
		}
	}
}

// Shutdown stops the bus. Further Emit calls are ignored. The queue is never
// closed: a concurrent Emit may still be between its shutdown check and its
// send, and cancellation alone is enough to stop the processor.
func (b *Bus) Shutdown() {
	b.shutdownOnce.Do(func() {
		b.mu.Lock()
		b.shutdown = true
		b.mu.Unlock()

		b.cancel()
	})
}
