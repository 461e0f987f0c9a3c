// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package events

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	log "github.com/sirupsen/logrus"

	"github.com/openclaw/gateway/internal/config"
)

// Broadcaster pushes hook output to watching UI clients.
type Broadcaster interface {
	Broadcast(event map[string]interface{})
}

type compiledHook struct {
	cfg     config.HookConfig
	program *vm.Program
}

// HookEngine evaluates configured condition/action hooks against bus events.
// Conditions are expr expressions over the event's data map; a hook with no
// condition matches every event of its type.
type HookEngine struct {
	broadcaster Broadcaster
	hooks       []compiledHook
	subs        []*Subscription
}

// NewHookEngine compiles the hook definitions. Hooks with invalid
// expressions are skipped with an error log rather than failing startup.
func NewHookEngine(hooks []config.HookConfig, broadcaster Broadcaster) *HookEngine {
	e := &HookEngine{broadcaster: broadcaster}

	for _, h := range hooks {
		if !h.Enabled {
			continue
		}
		ch := compiledHook{cfg: h}
		if h.Condition != "" {
			program, err := expr.Compile(h.Condition, expr.AsBool(), expr.AllowUndefinedVariables())
			if err != nil {
				log.Errorf("hook %q: invalid condition: %v", h.Name, err)
				continue
			}
			ch.program = program
		}
		e.hooks = append(e.hooks, ch)
	}
	return e
}

// Attach subscribes the engine's hooks to the bus.
func (e *HookEngine) Attach(bus *Bus) {
	for i := range e.hooks {
		h := &e.hooks[i]
		sub := bus.Subscribe(Event(h.cfg.Event), func(ec *Context) {
			e.run(h, ec)
		})
		e.subs = append(e.subs, sub)
	}
}

// Detach removes all subscriptions.
func (e *HookEngine) Detach() {
	for _, sub := range e.subs {
		sub.Unsubscribe()
	}
	e.subs = nil
}

func (e *HookEngine) run(h *compiledHook, ec *Context) {
	if h.program != nil {
		env := ec.Data
		if env == nil {
			env = map[string]interface{}{}
		}
		out, err := expr.Run(h.program, env)
		if err != nil {
			log.Errorf("hook %q: condition error: %v", h.cfg.Name, err)
			return
		}
		if matched, _ := out.(bool); !matched {
			return
		}
	}

	switch h.cfg.Action {
	case "log_warning":
		log.Warnf("hook %s fired on %s: %v", h.cfg.Name, ec.Event, ec.Data)
	case "log_info":
		log.Infof("hook %s fired on %s: %v", h.cfg.Name, ec.Event, ec.Data)
	case "broadcast":
		if e.broadcaster != nil {
			payload := map[string]interface{}{
				"type":  "hook_fired",
				"hook":  h.cfg.Name,
				"event": string(ec.Event),
			}
			for k, v := range ec.Data {
				payload[k] = v
			}
			e.broadcaster.Broadcast(payload)
		}
	default:
		log.Warnf("hook %s: unknown action %q", h.cfg.Name, h.cfg.Action)
	}
}
