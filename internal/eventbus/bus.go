package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Well-known event types published by the core.
//
// Components subscribe by buffer, not by type; filtering is the
// subscriber's job. Keep payloads small and JSON-serializable.
const (
	TypeSendAttempt   = "send.attempt"   // Data: telemetry.SendEvent
	TypeInboundSeen   = "inbound.seen"   // Data: telemetry.InboundEvent
	TypeRotationWrap  = "rotation.wrap"  // Data: rotation.WrapEvent
	TypeGlobalLimit   = "platform.limit" // Data: hotqueue.LimitEvent
	TypeAccountState  = "account.state"  // Data: dispatch.StateEvent
	TypeChainFinished = "autoreply.done" // Data: autoreply.ChainEvent
)

// Event is a lightweight, in-memory signal used to decouple the per-account
// schedulers from the telemetry sink and the operator notifier.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
type Event struct {
	Type    string
	Account string // originating account id, "" for process-wide events
	Time    time.Time
	Data    any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())

	// Dropped reports how many events were discarded because a
	// subscriber's buffer was full. Diagnostics only.
	Dropped() uint64
}

// New returns a simple in-memory fanout bus.
//
// It intentionally does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. If subscriber is slow, we drop.
		// If a subscriber unsubscribes concurrently and the channel closes,
		// recover from a possible panic (send on closed channel).
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
				b.dropped.Add(1)
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
