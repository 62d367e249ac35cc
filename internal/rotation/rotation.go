// Package rotation selects which message template an account is currently
// sending. Templates rotate on a timed window; the check runs lazily once
// per dispatch tick instead of on a dedicated clock.
package rotation

import (
	"sync"
	"time"

	"outreachd/internal/eventbus"
)

// WrapEvent is published once per full cyclic pass, when the index wraps
// back to zero.
type WrapEvent struct {
	Account string `json:"account"`
	Passes  int    `json:"passes"`
}

type Config struct {
	TemplateCount int
	Window        time.Duration
	Cyclic        bool
}

// Engine is exclusively owned by one account.
type Engine struct {
	account string
	bus     eventbus.Bus

	mu          sync.Mutex
	cfg         Config
	index       int
	windowStart time.Time
	passes      int
}

func New(account string, cfg Config, bus eventbus.Bus) *Engine {
	e := &Engine{account: account, bus: bus}
	e.Apply(cfg)
	return e
}

// Apply swaps the configuration and re-normalizes the index so it always
// stays below the template count.
func (e *Engine) Apply(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	e.normalizeLocked()
}

// Current performs the lazy transition check and returns the active
// template index. Window expiry advances the index; overflow wraps to 0
// when cyclic (with a notify side-effect, once per pass) and otherwise
// clamps to the last index so a running campaign never silently stops.
func (e *Engine) Current(now time.Time) int {
	e.mu.Lock()

	if e.cfg.TemplateCount <= 0 {
		e.mu.Unlock()
		return 0
	}
	if e.windowStart.IsZero() {
		e.windowStart = now
	}
	var wrapped *WrapEvent
	if e.cfg.Window > 0 && now.Sub(e.windowStart) >= e.cfg.Window {
		e.index++
		e.windowStart = now
		if e.index >= e.cfg.TemplateCount {
			if e.cfg.Cyclic {
				e.index = 0
				e.passes++
				wrapped = &WrapEvent{Account: e.account, Passes: e.passes}
			} else {
				e.index = e.cfg.TemplateCount - 1
			}
		}
	}
	idx := e.index
	bus := e.bus
	e.mu.Unlock()

	if wrapped != nil && bus != nil {
		bus.Publish(eventbus.Event{Type: eventbus.TypeRotationWrap, Account: e.account, Data: *wrapped})
	}
	return idx
}

// Index returns the current index without performing a transition check.
func (e *Engine) Index() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index
}

// normalizeLocked clamps index into [0, TemplateCount).
func (e *Engine) normalizeLocked() {
	if e.cfg.TemplateCount <= 0 {
		e.index = 0
		return
	}
	if e.index >= e.cfg.TemplateCount {
		e.index = e.cfg.TemplateCount - 1
	}
	if e.index < 0 {
		e.index = 0
	}
}
