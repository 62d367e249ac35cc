package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"outreachd/internal/eventbus"
	logx "outreachd/pkg/logx"
)

type captureSink struct {
	mu       sync.Mutex
	payloads []any
}

func (s *captureSink) Report(ctx context.Context, event any) error {
	s.mu.Lock()
	s.payloads = append(s.payloads, event)
	s.mu.Unlock()
	return nil
}

func (s *captureSink) snapshot() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.payloads...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not met before deadline")
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestForwardsSendAndInboundEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	sink := &captureSink{}
	svc := New(Config{}, sink, logx.Nop(), bus)
	svc.Start(context.Background())
	defer svc.Stop()

	bus.Publish(eventbus.Event{
		Type:    eventbus.TypeSendAttempt,
		Account: "a1",
		Data:    SendEvent{ID: "e1", Account: "a1", Outcome: OutcomeSent},
	})
	bus.Publish(eventbus.Event{
		Type:    eventbus.TypeInboundSeen,
		Account: "a1",
		Data:    InboundEvent{ID: "e2", Account: "a1", RecipientID: "r1"},
	})
	// State events count in metrics but are not forwarded to the sink.
	bus.Publish(eventbus.Event{Type: eventbus.TypeAccountState, Account: "a1"})

	waitFor(t, func() bool { return len(sink.snapshot()) >= 2 })

	got := sink.snapshot()
	if len(got) != 2 {
		t.Fatalf("sink payloads = %d, want 2", len(got))
	}
	if se, ok := got[0].(SendEvent); !ok || se.ID != "e1" {
		t.Fatalf("first payload = %+v", got[0])
	}
	if ie, ok := got[1].(InboundEvent); !ok || ie.ID != "e2" {
		t.Fatalf("second payload = %+v", got[1])
	}
}

func TestNilSinkKeepsConsuming(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	svc := New(Config{}, nil, logx.Nop(), bus)
	svc.Start(context.Background())
	defer svc.Stop()

	for i := 0; i < 10; i++ {
		bus.Publish(eventbus.Event{
			Type: eventbus.TypeSendAttempt,
			Data: SendEvent{ID: "x", Outcome: OutcomeSent},
		})
	}
	// Nothing to assert beyond "does not deadlock or panic".
	time.Sleep(10 * time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()
	svc := New(Config{}, &captureSink{}, logx.Nop(), eventbus.New())
	svc.Start(context.Background())
	svc.Stop()
	svc.Stop()
	svc.Start(context.Background())
	svc.Stop()
}

func TestHTTPSinkPostsJSON(t *testing.T) {
	t.Parallel()
	var got SendEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL)
	err := sink.Report(context.Background(), SendEvent{ID: "e1", Account: "a1", Outcome: OutcomeSent})
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if got.ID != "e1" || got.Outcome != OutcomeSent {
		t.Fatalf("collector received %+v", got)
	}
}

func TestHTTPSinkRejectsBadStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewHTTPSink(srv.URL).Report(context.Background(), SendEvent{ID: "e1"}); err == nil {
		t.Fatal("non-2xx collector response must error")
	}
}
