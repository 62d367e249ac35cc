package retryq

import (
	"testing"
	"time"

	"outreachd/internal/ledger"
	"outreachd/internal/platform"
)

func newClockedQueue(t *testing.T, cfg Config) (*Queue, *ledger.Ledger, *time.Time) {
	t.Helper()
	led := ledger.New("acc1", nil)
	q := New(cfg, led)
	now := time.Unix(1_700_000_000, 0)
	q.now = func() time.Time { return now }
	return q, led, &now
}

func TestExhaustionIsTerminal(t *testing.T) {
	t.Parallel()
	q, led, now := newClockedQueue(t, Config{MaxAttempts: 3, Cooldown: time.Minute})
	rec := platform.Recipient{ID: "r1"}

	if q.RecordFailure(rec) {
		t.Fatal("attempt 1 must not be terminal")
	}
	*now = now.Add(time.Minute)
	if q.RecordFailure(rec) {
		t.Fatal("attempt 2 must not be terminal")
	}
	*now = now.Add(time.Minute)
	if !q.RecordFailure(rec) {
		t.Fatal("attempt 3 must be terminal")
	}

	// Terminal transition: queue entry gone, ledger errored, same call.
	if q.Len() != 0 {
		t.Fatalf("Len = %d, want 0 after terminal failure", q.Len())
	}
	st, ok := led.StateOf("r1")
	if !ok || st != ledger.StateErrored {
		t.Fatalf("ledger state = %v, %v; want errored, true", st, ok)
	}
}

func TestNextEligibleHonorsCooldown(t *testing.T) {
	t.Parallel()
	q, _, now := newClockedQueue(t, Config{MaxAttempts: 3, Cooldown: time.Minute})
	q.RecordFailure(platform.Recipient{ID: "r1"})

	if _, ok := q.NextEligible(); ok {
		t.Fatal("entry must cool down before it is eligible")
	}
	*now = now.Add(59 * time.Second)
	if _, ok := q.NextEligible(); ok {
		t.Fatal("entry still cooling down at 59s")
	}
	*now = now.Add(time.Second)
	rec, ok := q.NextEligible()
	if !ok || rec.ID != "r1" {
		t.Fatalf("NextEligible = %v, %v; want r1, true", rec.ID, ok)
	}
}

func TestSuccessAndDropClearEntries(t *testing.T) {
	t.Parallel()
	q, led, _ := newClockedQueue(t, Config{})
	q.RecordFailure(platform.Recipient{ID: "r1"})
	q.RecordFailure(platform.Recipient{ID: "r2"})

	q.RecordSuccess("r1")
	q.Drop("r2")

	if q.Len() != 0 {
		t.Fatalf("Len = %d, want 0", q.Len())
	}
	if q.Attempts("r1") != 0 || q.Attempts("r2") != 0 {
		t.Fatal("cleared entries must report zero attempts")
	}
	// Neither path writes the ledger.
	if led.Len() != 0 {
		t.Fatalf("ledger Len = %d, want 0", led.Len())
	}
}

func TestDefaults(t *testing.T) {
	t.Parallel()
	cfg := Config{}.withDefaults()
	if cfg.MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("MaxAttempts = %d, want %d", cfg.MaxAttempts, DefaultMaxAttempts)
	}
	if cfg.Cooldown != DefaultCooldown {
		t.Fatalf("Cooldown = %v, want %v", cfg.Cooldown, DefaultCooldown)
	}
}
