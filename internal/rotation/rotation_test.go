package rotation

import (
	"testing"
	"time"

	"outreachd/internal/eventbus"
)

func TestCurrentAdvancesPerWindow(t *testing.T) {
	t.Parallel()
	e := New("acc1", Config{TemplateCount: 3, Window: time.Hour}, nil)
	start := time.Unix(1_700_000_000, 0)

	if got := e.Current(start); got != 0 {
		t.Fatalf("initial index = %d, want 0", got)
	}
	if got := e.Current(start.Add(30 * time.Minute)); got != 0 {
		t.Fatalf("index within window = %d, want 0", got)
	}
	if got := e.Current(start.Add(time.Hour)); got != 1 {
		t.Fatalf("index after one window = %d, want 1", got)
	}
	if got := e.Current(start.Add(2 * time.Hour)); got != 2 {
		t.Fatalf("index after two windows = %d, want 2", got)
	}
}

func TestNonCyclicClampsOnLast(t *testing.T) {
	t.Parallel()
	e := New("acc1", Config{TemplateCount: 2, Window: time.Minute}, nil)
	now := time.Unix(1_700_000_000, 0)

	e.Current(now)
	now = now.Add(time.Minute)
	if got := e.Current(now); got != 1 {
		t.Fatalf("index = %d, want 1", got)
	}
	for i := 0; i < 5; i++ {
		now = now.Add(time.Minute)
		if got := e.Current(now); got != 1 {
			t.Fatalf("clamped index = %d, want 1", got)
		}
	}
}

func TestCyclicWrapPublishesOnce(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	e := New("acc1", Config{TemplateCount: 2, Window: time.Minute, Cyclic: true}, bus)
	now := time.Unix(1_700_000_000, 0)

	e.Current(now)                              // 0
	e.Current(now.Add(time.Minute))             // 1
	if got := e.Current(now.Add(2 * time.Minute)); got != 0 { // wrap
		t.Fatalf("index after wrap = %d, want 0", got)
	}

	select {
	case ev := <-events:
		if ev.Type != eventbus.TypeRotationWrap {
			t.Fatalf("event type = %s, want %s", ev.Type, eventbus.TypeRotationWrap)
		}
		w, ok := ev.Data.(WrapEvent)
		if !ok || w.Passes != 1 || w.Account != "acc1" {
			t.Fatalf("unexpected wrap payload: %+v", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no wrap event published")
	}

	// Mid-pass checks must not publish again.
	e.Current(now.Add(2*time.Minute + time.Second))
	select {
	case ev := <-events:
		t.Fatalf("unexpected extra event: %+v", ev)
	default:
	}
}

func TestApplyNormalizesIndex(t *testing.T) {
	t.Parallel()
	e := New("acc1", Config{TemplateCount: 5, Window: time.Minute}, nil)
	now := time.Unix(1_700_000_000, 0)
	e.Current(now)
	e.Current(now.Add(time.Minute))
	e.Current(now.Add(2 * time.Minute))
	if e.Index() != 2 {
		t.Fatalf("Index = %d, want 2", e.Index())
	}

	// Shrinking the template list clamps the index into range.
	e.Apply(Config{TemplateCount: 2, Window: time.Minute})
	if e.Index() != 1 {
		t.Fatalf("Index after shrink = %d, want 1", e.Index())
	}

	e.Apply(Config{TemplateCount: 0})
	if e.Index() != 0 {
		t.Fatalf("Index with no templates = %d, want 0", e.Index())
	}
}
