// Package convo tracks first/last contact per recipient and derives
// response times from the gap between contacts.
package convo

import (
	"sync"
	"time"
)

// Record is the per-recipient conversation bookkeeping.
type Record struct {
	FirstContact time.Time
	LastContact  time.Time
	MessageCount int
}

// Tracker is exclusively owned by one account.
type Tracker struct {
	mu      sync.Mutex
	records map[string]*Record
}

func New() *Tracker {
	return &Tracker{records: map[string]*Record{}}
}

// Touch records a contact at now and returns the response time: the gap
// since the previous contact, measured before the update. The first contact
// has no response time (ok=false).
func (t *Tracker) Touch(recipientID string, now time.Time) (responseTime time.Duration, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.records[recipientID]
	if r == nil {
		t.records[recipientID] = &Record{FirstContact: now, LastContact: now, MessageCount: 1}
		return 0, false
	}
	responseTime = now.Sub(r.LastContact)
	r.LastContact = now
	r.MessageCount++
	return responseTime, true
}

// Restore seeds a record during startup load.
func (t *Tracker) Restore(recipientID string, r Record) {
	t.mu.Lock()
	if _, exists := t.records[recipientID]; !exists {
		cp := r
		t.records[recipientID] = &cp
	}
	t.mu.Unlock()
}

// Lookup returns a copy of the record for a recipient.
func (t *Tracker) Lookup(recipientID string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r := t.records[recipientID]; r != nil {
		return *r, true
	}
	return Record{}, false
}

// Snapshot copies every record, keyed by recipient ID. Used to flush the
// tracker to persistent storage.
func (t *Tracker) Snapshot() map[string]Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Record, len(t.records))
	for id, r := range t.records {
		out[id] = *r
	}
	return out
}

// Len reports the number of tracked conversations.
func (t *Tracker) Len() int {
	t.mu.Lock()
	n := len(t.records)
	t.mu.Unlock()
	return n
}
