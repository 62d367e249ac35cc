package ledger

import (
	"sync"
	"testing"
	"time"
)

type recordedWrite struct {
	account     string
	recipientID string
	state       State
}

type fakeJournal struct {
	mu     sync.Mutex
	writes []recordedWrite
}

func (j *fakeJournal) Record(account, recipientID string, state State, at time.Time) {
	j.mu.Lock()
	j.writes = append(j.writes, recordedWrite{account, recipientID, state})
	j.mu.Unlock()
}

func TestMarkFirstWriteWins(t *testing.T) {
	t.Parallel()
	j := &fakeJournal{}
	l := New("acc1", j)

	if !l.Mark("r1", StateSent) {
		t.Fatal("first Mark should report a new write")
	}
	if l.Mark("r1", StateErrored) {
		t.Fatal("second Mark must not overwrite")
	}

	st, ok := l.StateOf("r1")
	if !ok || st != StateSent {
		t.Fatalf("StateOf = %v, %v; want sent, true", st, ok)
	}
	if len(j.writes) != 1 {
		t.Fatalf("journal writes = %d, want 1", len(j.writes))
	}
	if j.writes[0] != (recordedWrite{"acc1", "r1", StateSent}) {
		t.Fatalf("unexpected journal write: %+v", j.writes[0])
	}
}

func TestExcludedCoversEveryState(t *testing.T) {
	t.Parallel()
	l := New("acc1", nil)

	states := []State{StateSent, StateErrored, StateBlacklisted, StateIgnored}
	for i, st := range states {
		id := string(rune('a' + i))
		l.Mark(id, st)
		if !l.Excluded(id) {
			t.Fatalf("recipient with state %s should be excluded", st)
		}
	}
	if l.Excluded("unknown") {
		t.Fatal("unknown recipient must not be excluded")
	}
	if l.Len() != len(states) {
		t.Fatalf("Len = %d, want %d", l.Len(), len(states))
	}
}

func TestRestoreDoesNotJournal(t *testing.T) {
	t.Parallel()
	j := &fakeJournal{}
	l := New("acc1", j)

	l.Restore("r1", StateBlacklisted)
	if !l.Excluded("r1") {
		t.Fatal("restored recipient should be excluded")
	}
	if len(j.writes) != 0 {
		t.Fatalf("Restore must not journal, got %d writes", len(j.writes))
	}

	// Restore never overwrites either.
	l.Restore("r1", StateSent)
	if st, _ := l.StateOf("r1"); st != StateBlacklisted {
		t.Fatalf("StateOf = %v, want blacklisted", st)
	}
}

func TestMarkWithNilJournal(t *testing.T) {
	t.Parallel()
	l := New("acc1", nil)
	if !l.Mark("r1", StateIgnored) {
		t.Fatal("Mark should succeed without a journal")
	}
}
