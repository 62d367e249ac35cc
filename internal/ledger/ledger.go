// Package ledger keeps the per-account record of everyone an account must
// never contact again: already sent-to, errored-out, blacklisted, or
// permanently ignoring the account. The four lists are one predicate.
package ledger

import (
	"sync"
	"time"
)

// State is a terminal contact state. Once a recipient holds any state for an
// account, automatic targeting must never return them again.
type State string

const (
	StateSent        State = "sent"
	StateErrored     State = "errored"
	StateBlacklisted State = "blacklisted"
	StateIgnored     State = "ignored"
)

// Journal receives terminal writes for persistence. Implementations must not
// block for long; errors are the implementation's problem (the in-memory
// ledger is authoritative for the running process).
type Journal interface {
	Record(account, recipientID string, state State, at time.Time)
}

// Ledger is exclusively owned by one account. The mutex only guards against
// the auto-reply timer goroutines touching it alongside the dispatch loop.
type Ledger struct {
	account string
	journal Journal

	mu      sync.Mutex
	entries map[string]State
	now     func() time.Time
}

func New(account string, journal Journal) *Ledger {
	return &Ledger{
		account: account,
		journal: journal,
		entries: map[string]State{},
		now:     time.Now,
	}
}

// Excluded is the combined dedup predicate.
func (l *Ledger) Excluded(recipientID string) bool {
	l.mu.Lock()
	_, ok := l.entries[recipientID]
	l.mu.Unlock()
	return ok
}

// Mark records a terminal state. The first write wins: a recipient already
// excluded keeps its original state and no duplicate journal record is
// emitted.
func (l *Ledger) Mark(recipientID string, state State) bool {
	l.mu.Lock()
	if _, ok := l.entries[recipientID]; ok {
		l.mu.Unlock()
		return false
	}
	l.entries[recipientID] = state
	j := l.journal
	at := l.now()
	l.mu.Unlock()

	if j != nil {
		j.Record(l.account, recipientID, state, at)
	}
	return true
}

// Restore seeds an entry during startup load without journaling it back.
func (l *Ledger) Restore(recipientID string, state State) {
	l.mu.Lock()
	if _, ok := l.entries[recipientID]; !ok {
		l.entries[recipientID] = state
	}
	l.mu.Unlock()
}

// StateOf reports the recorded state, if any.
func (l *Ledger) StateOf(recipientID string) (State, bool) {
	l.mu.Lock()
	s, ok := l.entries[recipientID]
	l.mu.Unlock()
	return s, ok
}

// Len reports how many recipients are excluded. Diagnostics only.
func (l *Ledger) Len() int {
	l.mu.Lock()
	n := len(l.entries)
	l.mu.Unlock()
	return n
}
