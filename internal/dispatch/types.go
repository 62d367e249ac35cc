package dispatch

import (
	"time"

	"outreachd/internal/platform"
)

// State is the dispatch loop's explicit state. There are no side flags:
// every transition goes through one point under the loop mutex.
type State int

const (
	StateStopped State = iota
	StateWaiting
	StateSending
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateWaiting:
		return "waiting"
	case StateSending:
		return "sending"
	default:
		return "unknown"
	}
}

// StateEvent is published on the bus when the loop starts or stops.
type StateEvent struct {
	Account string `json:"account"`
	Mode    string `json:"mode"`
	State   string `json:"state"`
}

// Stats are the per-mode counters surfaced to operators.
type Stats struct {
	Sent    int
	Errored int
	Waiting int // retry-queue depth at last snapshot
}

// Settings is the per-tick view of the account's send configuration.
// The loop re-reads it through its provider at the start of every tick, so
// remote-control updates land between ticks without a restart.
type Settings struct {
	Pool        platform.Pool
	AutoAdvance bool
	PhotoOnly   bool
	CustomIDs   []string

	Templates      []string
	RotationWindow time.Duration
	RotationCyclic bool

	Attachment *platform.Attachment

	// Delay policy: Smart draws uniformly from [SmartMin, SmartMax]
	// (default 15s–120s), otherwise FixedDelay applies.
	Smart      bool
	SmartMin   time.Duration
	SmartMax   time.Duration
	FixedDelay time.Duration
}

// Config holds the loop's own knobs, mapped once at construction.
type Config struct {
	SendTimeout time.Duration // per external call; default 30s
	BackoffBase time.Duration // first next-tick delay after a transport error; default 30s
	BackoffMax  time.Duration // backoff cap; default 10m
}

func (c Config) withDefaults() Config {
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 30 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 10 * time.Minute
	}
	return c
}

const (
	defaultFixedDelay = 30 * time.Second
	defaultSmartMin   = 15 * time.Second
	defaultSmartMax   = 120 * time.Second
)
