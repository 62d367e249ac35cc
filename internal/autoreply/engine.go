// Package autoreply runs the per-recipient follow-up chain: a scripted
// sequence of delayed messages triggered by an inbound contact, independent
// of the main send loop.
//
// The engine owns real timers, so cancellation is the part that matters:
// CancelAll must leave zero pending timers or stopped accounts keep sending.
package autoreply

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"outreachd/internal/eventbus"
	"outreachd/internal/platform"
	logx "outreachd/pkg/logx"
)

const defaultSendTimeout = 30 * time.Second

// Step is one scripted follow-up: wait Delay, then send Body.
type Step struct {
	Delay time.Duration
	Body  string
}

type Config struct {
	Enabled     bool
	Steps       []Step
	SendTimeout time.Duration
}

// SendFunc delivers one chain message. The engine calls the primary path
// first and falls back to the alternate path once per step.
type SendFunc func(ctx context.Context, rec platform.Recipient, body string) error

// ChainEvent is published when a chain ends, either finished (all steps
// sent) or destroyed after a failed step.
type ChainEvent struct {
	Account     string `json:"account"`
	ChainID     string `json:"chain_id"`
	RecipientID string `json:"recipient_id"`
	StepsSent   int    `json:"steps_sent"`
	Finished    bool   `json:"finished"`
}

type chain struct {
	id    string
	rec   platform.Recipient
	step  int
	timer *time.Timer
}

// Engine is exclusively owned by one account.
type Engine struct {
	account  string
	log      logx.Logger
	bus      eventbus.Bus
	send     SendFunc
	fallback SendFunc
	running  func() bool // main loop gate for this mode

	mu     sync.Mutex
	cfg    Config
	chains map[string]*chain
	gen    uint64 // bumped by CancelAll; stale timer fires become no-ops
}

func New(account string, cfg Config, send, fallback SendFunc, running func() bool, log logx.Logger, bus eventbus.Bus) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if running == nil {
		running = func() bool { return true }
	}
	return &Engine{
		account:  account,
		log:      log,
		bus:      bus,
		send:     send,
		fallback: fallback,
		running:  running,
		cfg:      cfg,
		chains:   map[string]*chain{},
	}
}

// Apply swaps the chain script. Active chains keep the script they started
// with only up to the current step; subsequent steps use the new script.
func (e *Engine) Apply(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

// Start begins a chain for rec. Entry conditions: auto-reply enabled, the
// main loop running, at least one step configured, and no chain already
// active for this recipient. Returns whether a chain was started.
func (e *Engine) Start(rec platform.Recipient) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.cfg.Enabled || len(e.cfg.Steps) == 0 || !e.running() {
		return false
	}
	if _, active := e.chains[rec.ID]; active {
		return false
	}

	c := &chain{id: uuid.NewString(), rec: rec}
	e.chains[rec.ID] = c
	e.armLocked(c, e.cfg.Steps[0].Delay)
	e.log.Debug("auto-reply chain started", logx.String("recipient", rec.ID), logx.String("chain", c.id))
	return true
}

// Cancel tears down the chain for one recipient (e.g. they fully replied).
func (e *Engine) Cancel(recipientID string) {
	e.mu.Lock()
	c := e.chains[recipientID]
	if c != nil {
		delete(e.chains, recipientID)
		if c.timer != nil {
			c.timer.Stop()
		}
	}
	e.mu.Unlock()
}

// CancelAll deterministically stops every pending timer. After it returns,
// no queued step will send.
func (e *Engine) CancelAll() {
	e.mu.Lock()
	e.gen++
	for id, c := range e.chains {
		if c.timer != nil {
			c.timer.Stop()
		}
		delete(e.chains, id)
	}
	e.mu.Unlock()
}

// Active reports whether a chain is live for the recipient.
func (e *Engine) Active(recipientID string) bool {
	e.mu.Lock()
	_, ok := e.chains[recipientID]
	e.mu.Unlock()
	return ok
}

// ActiveCount reports the number of live chains.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	n := len(e.chains)
	e.mu.Unlock()
	return n
}

func (e *Engine) armLocked(c *chain, delay time.Duration) {
	gen := e.gen
	c.timer = time.AfterFunc(delay, func() { e.fire(c.rec.ID, gen) })
}

func (e *Engine) fire(recipientID string, gen uint64) {
	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}
	c := e.chains[recipientID]
	if c == nil {
		e.mu.Unlock()
		return
	}
	cfg := e.cfg
	step := c.step
	e.mu.Unlock()

	if step >= len(cfg.Steps) {
		// Script shrank under a running chain; treat as finished.
		e.finish(c, step, true)
		return
	}

	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	body := cfg.Steps[step].Body
	err := e.send(ctx, c.rec, body)
	if err != nil && e.fallback != nil {
		e.log.Debug("auto-reply step falling back",
			logx.String("recipient", recipientID), logx.Int("step", step), logx.Err(err))
		err = e.fallback(ctx, c.rec, body)
	}
	if err != nil {
		e.log.Warn("auto-reply chain destroyed",
			logx.String("recipient", recipientID), logx.Int("step", step), logx.Err(err))
		e.finish(c, step, false)
		return
	}

	e.mu.Lock()
	if gen != e.gen || e.chains[recipientID] != c {
		e.mu.Unlock()
		return
	}
	c.step++
	if c.step >= len(cfg.Steps) {
		e.mu.Unlock()
		e.finish(c, c.step, true)
		return
	}
	e.armLocked(c, cfg.Steps[c.step].Delay)
	e.mu.Unlock()
}

func (e *Engine) finish(c *chain, stepsSent int, finished bool) {
	e.mu.Lock()
	if e.chains[c.rec.ID] == c {
		delete(e.chains, c.rec.ID)
	}
	e.mu.Unlock()

	if e.bus != nil {
		e.bus.Publish(eventbus.Event{
			Type:    eventbus.TypeChainFinished,
			Account: e.account,
			Data: ChainEvent{
				Account:     e.account,
				ChainID:     c.id,
				RecipientID: c.rec.ID,
				StepsSent:   stepsSent,
				Finished:    finished,
			},
		})
	}
}
