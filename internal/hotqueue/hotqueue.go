// Package hotqueue is the one piece of cross-account shared state: a
// process-wide table of recently contacted recipients that any account may
// claim, plus the global send gate and the rate-limit fanout.
//
// The table is built by the host and injected into every account; there are
// no ambient globals. Every operation runs under a single mutex so
// publish/claim never interleave into an inconsistent read-modify-write.
package hotqueue

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"outreachd/internal/eventbus"
	"outreachd/internal/platform"
)

// DefaultTTL bounds how long an entry stays hot. Stale hotness is worse
// than no hotness: the recipient has moved on.
const DefaultTTL = 10 * time.Minute

// LimitEvent is published on the bus when the platform reports a
// recipient-specific rate limit. Every account drops the recipient.
type LimitEvent struct {
	RecipientID string `json:"recipient_id"`
	ReportedBy  string `json:"reported_by"`
}

type Config struct {
	TTL time.Duration

	// GlobalRatePerMin caps sends per minute across all accounts in the
	// process. 0 disables the gate.
	GlobalRatePerMin int
}

type entry struct {
	rec         platform.Recipient
	contactedBy string
	at          time.Time
}

// Table is the shared coordinator. One instance per process.
type Table struct {
	bus eventbus.Bus

	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*entry
	gate    *rate.Limiter
	now     func() time.Time
}

func New(cfg Config, bus eventbus.Bus) *Table {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	var gate *rate.Limiter
	if cfg.GlobalRatePerMin > 0 {
		gate = rate.NewLimiter(rate.Limit(float64(cfg.GlobalRatePerMin)/60.0), cfg.GlobalRatePerMin)
	}
	return &Table{
		bus:     bus,
		ttl:     ttl,
		entries: map[string]*entry{},
		gate:    gate,
		now:     time.Now,
	}
}

// Publish inserts or refreshes a hot entry after byAccount contacted rec.
func (t *Table) Publish(rec platform.Recipient, byAccount string) {
	t.mu.Lock()
	t.entries[rec.ID] = &entry{rec: rec, contactedBy: byAccount, at: t.now()}
	t.mu.Unlock()
}

// Claim removes and returns one non-expired entry that forAccount did not
// publish itself. Each entry is claimable exactly once; expired entries are
// swept as a side effect.
func (t *Table) Claim(forAccount string) (platform.Recipient, bool) {
	return t.ClaimIf(forAccount, nil)
}

// ClaimIf is Claim with an acceptance check. An entry the claimer cannot
// use (already excluded for it, filtered out) stays in the table, still
// claimable by every other account; only an accepted entry is consumed.
func (t *Table) ClaimIf(forAccount string, accept func(platform.Recipient) bool) (platform.Recipient, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for id, e := range t.entries {
		if now.Sub(e.at) > t.ttl {
			delete(t.entries, id)
			continue
		}
		if e.contactedBy == forAccount {
			continue
		}
		if accept != nil && !accept(e.rec) {
			continue
		}
		delete(t.entries, id)
		return e.rec, true
	}
	return platform.Recipient{}, false
}

// ReportGlobalLimit handles a platform rate-limit error tied to one
// recipient. The entry is removed and every account is told via the bus so
// none of them keep retrying a doomed send.
func (t *Table) ReportGlobalLimit(recipientID, reportedBy string) {
	t.mu.Lock()
	delete(t.entries, recipientID)
	t.mu.Unlock()

	if t.bus != nil {
		t.bus.Publish(eventbus.Event{
			Type:    eventbus.TypeGlobalLimit,
			Account: reportedBy,
			Data:    LimitEvent{RecipientID: recipientID, ReportedBy: reportedBy},
		})
	}
}

// AllowSend consults the process-wide send gate. Non-blocking: the dispatch
// loop treats a denial as a wait condition rather than sleeping on the
// limiter.
func (t *Table) AllowSend() bool {
	t.mu.Lock()
	gate := t.gate
	t.mu.Unlock()
	if gate == nil {
		return true
	}
	return gate.Allow()
}

// Len reports the number of live entries, sweeping expired ones first.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for id, e := range t.entries {
		if now.Sub(e.at) > t.ttl {
			delete(t.entries, id)
		}
	}
	return len(t.entries)
}
