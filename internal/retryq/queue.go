// Package retryq holds recipients whose previous send failed recoverably.
// Entries cool down between attempts; exhausting the attempt budget is a
// terminal transition that writes straight into the dedup ledger.
package retryq

import (
	"math/rand"
	"sync"
	"time"

	"outreachd/internal/ledger"
	"outreachd/internal/platform"
)

const (
	DefaultMaxAttempts = 3
	DefaultCooldown    = 60 * time.Second
)

type Config struct {
	MaxAttempts int
	Cooldown    time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	return c
}

type entry struct {
	rec         platform.Recipient
	attempts    int
	lastFailure time.Time
}

// Queue is exclusively owned by one account.
type Queue struct {
	cfg Config
	led *ledger.Ledger

	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
	rng     *rand.Rand
}

func New(cfg Config, led *ledger.Ledger) *Queue {
	return &Queue{
		cfg:     cfg.withDefaults(),
		led:     led,
		entries: map[string]*entry{},
		now:     time.Now,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RecordFailure appends or bumps the entry for rec. When the attempt budget
// is exhausted the entry is dropped and the recipient becomes errored in the
// ledger, in the same call; the return value reports that terminal
// transition.
func (q *Queue) RecordFailure(rec platform.Recipient) (terminal bool) {
	q.mu.Lock()
	e := q.entries[rec.ID]
	if e == nil {
		e = &entry{rec: rec}
		q.entries[rec.ID] = e
	}
	e.attempts++
	e.lastFailure = q.now()
	if e.attempts >= q.cfg.MaxAttempts {
		delete(q.entries, rec.ID)
		q.mu.Unlock()
		q.led.Mark(rec.ID, ledger.StateErrored)
		return true
	}
	q.mu.Unlock()
	return false
}

// RecordSuccess removes any pending entry for the recipient.
func (q *Queue) RecordSuccess(recipientID string) {
	q.mu.Lock()
	delete(q.entries, recipientID)
	q.mu.Unlock()
}

// Drop removes an entry without a terminal write. Used by the global-limit
// fanout, which marks the ledger itself.
func (q *Queue) Drop(recipientID string) {
	q.mu.Lock()
	delete(q.entries, recipientID)
	q.mu.Unlock()
}

// NextEligible returns one entry past its cooldown, chosen uniformly among
// all eligible entries so retry order stays unpredictable.
func (q *Queue) NextEligible() (platform.Recipient, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	eligible := make([]*entry, 0, len(q.entries))
	for _, e := range q.entries {
		if now.Sub(e.lastFailure) >= q.cfg.Cooldown {
			eligible = append(eligible, e)
		}
	}
	if len(eligible) == 0 {
		return platform.Recipient{}, false
	}
	return eligible[q.rng.Intn(len(eligible))].rec, true
}

// Attempts reports the recorded attempt count for a recipient. Zero means
// no pending entry.
func (q *Queue) Attempts(recipientID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e := q.entries[recipientID]; e != nil {
		return e.attempts
	}
	return 0
}

// Len reports the number of waiting entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	n := len(q.entries)
	q.mu.Unlock()
	return n
}
