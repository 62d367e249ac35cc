package account

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"outreachd/internal/config"
	"outreachd/internal/eventbus"
	"outreachd/internal/hotqueue"
	"outreachd/internal/ledger"
	"outreachd/internal/platform"
	"outreachd/internal/storage"
	"outreachd/internal/telemetry"
	logx "outreachd/pkg/logx"
)

type idleClient struct{}

func (idleClient) FetchPool(ctx context.Context, pool platform.Pool, acct platform.AccountRef) ([]platform.Recipient, error) {
	return nil, nil
}
func (idleClient) SendChat(ctx context.Context, acct platform.AccountRef, to platform.Recipient, body string) error {
	return nil
}
func (idleClient) CheckMailEligibility(ctx context.Context, acct platform.AccountRef, to platform.Recipient) (platform.MailToken, bool, error) {
	return "", false, nil
}
func (idleClient) SendMail(ctx context.Context, acct platform.AccountRef, tok platform.MailToken, body string, att *platform.Attachment) error {
	return nil
}
func (idleClient) SessionReady(acct platform.AccountRef) bool { return false }

func testOptions(bus eventbus.Bus, store storage.Store) Options {
	return Options{
		Client:      idleClient{},
		Store:       store,
		Hot:         hotqueue.New(hotqueue.Config{}, bus),
		Bus:         bus,
		Log:         logx.Nop(),
		ProcessMode: func() platform.Mode { return platform.ModeChat },
	}
}

func baseAccountConfig() config.AccountConfig {
	return config.AccountConfig{
		Enabled:   true,
		Pool:      "online",
		Templates: []string{"hello"},
	}
}

func TestNewSeedsBlacklist(t *testing.T) {
	t.Parallel()
	cfg := baseAccountConfig()
	cfg.Blacklist = []string{"bad1", "bad2"}

	a, err := New(context.Background(), "acc1", cfg, testOptions(eventbus.New(), nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := a.Status().LedgerSize; got != 2 {
		t.Fatalf("ledger size = %d, want 2 blacklisted", got)
	}
	if s, _ := a.led.StateOf("bad1"); s != ledger.StateBlacklisted {
		t.Fatalf("state = %v, want blacklisted", s)
	}
}

func TestNewRestoresFromStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer st.Close()

	if err := st.PutContact(ctx, storage.ContactRecord{Account: "acc1", RecipientID: "r1", State: "sent"}); err != nil {
		t.Fatalf("PutContact: %v", err)
	}
	if err := st.PutContact(ctx, storage.ContactRecord{Account: "other", RecipientID: "r2", State: "sent"}); err != nil {
		t.Fatalf("PutContact: %v", err)
	}
	if err := st.PutConversation(ctx, storage.ConversationRecord{Account: "acc1", RecipientID: "r1", MessageCount: 3}); err != nil {
		t.Fatalf("PutConversation: %v", err)
	}

	a, err := New(ctx, "acc1", baseAccountConfig(), testOptions(eventbus.New(), st))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	status := a.Status()
	if status.LedgerSize != 1 {
		t.Fatalf("ledger size = %d; only this account's contacts restore", status.LedgerSize)
	}
	if status.Conversations != 1 {
		t.Fatalf("conversations = %d, want 1", status.Conversations)
	}
	if r, ok := a.convo.Lookup("r1"); !ok || r.MessageCount != 3 {
		t.Fatalf("restored conversation = %+v, %v", r, ok)
	}
}

func TestHandleInboundPublishesAndTracks(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	a, err := New(context.Background(), "acc1", baseAccountConfig(), testOptions(bus, nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	a.HandleInbound(platform.Recipient{ID: "r1"})

	select {
	case e := <-events:
		if e.Type != eventbus.TypeInboundSeen {
			t.Fatalf("event type = %s", e.Type)
		}
		ev, ok := e.Data.(telemetry.InboundEvent)
		if !ok || ev.RecipientID != "r1" || !ev.FirstContact {
			t.Fatalf("inbound event = %+v", e.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no inbound event")
	}

	if r, ok := a.convo.Lookup("r1"); !ok || r.MessageCount != 1 {
		t.Fatalf("conversation = %+v, %v", r, ok)
	}
}

func TestHandleInboundIgnoresStaleObservations(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	a, err := New(context.Background(), "acc1", baseAccountConfig(), testOptions(bus, nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	now := time.Now()
	a.convo.Touch("r1", now)

	// The poller re-reports a message already folded into the tracker.
	a.HandleInbound(platform.Recipient{ID: "r1", LastSeen: now.Add(-time.Minute)})
	if r, _ := a.convo.Lookup("r1"); r.MessageCount != 1 {
		t.Fatalf("stale observation bumped the tracker: %+v", r)
	}

	// A genuinely newer contact goes through.
	a.HandleInbound(platform.Recipient{ID: "r1", LastSeen: now.Add(time.Minute)})
	if r, _ := a.convo.Lookup("r1"); r.MessageCount != 2 {
		t.Fatalf("fresh observation not counted: %+v", r)
	}
}

func TestInboundRestartsReplyChain(t *testing.T) {
	t.Parallel()
	cfg := baseAccountConfig()
	cfg.AutoReply = &config.AutoReplyConfig{
		Enabled: true,
		Steps:   []config.AutoReplyStep{{Delay: "1h", Body: "still there?"}},
	}

	a, err := New(context.Background(), "acc1", cfg, testOptions(eventbus.New(), nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Chains only start while dispatch runs.
	a.HandleInbound(platform.Recipient{ID: "r1"})
	if got := a.Status().ActiveChains; got != 0 {
		t.Fatalf("chains while stopped = %d, want 0", got)
	}

	a.StartDispatch(context.Background())
	a.HandleInbound(platform.Recipient{ID: "r1"})
	if got := a.Status().ActiveChains; got != 1 {
		t.Fatalf("chains = %d, want 1", got)
	}

	// Another inbound restarts rather than stacks the chain.
	a.HandleInbound(platform.Recipient{ID: "r1"})
	if got := a.Status().ActiveChains; got != 1 {
		t.Fatalf("chains after restart = %d, want 1", got)
	}

	a.StopDispatch()
	if got := a.Status().ActiveChains; got != 0 {
		t.Fatalf("chains after stop = %d, want 0", got)
	}
}

func TestNewDefaultsProcessMode(t *testing.T) {
	t.Parallel()
	opts := testOptions(eventbus.New(), nil)
	opts.ProcessMode = nil

	a, err := New(context.Background(), "acc1", baseAccountConfig(), opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Both consult the mode; neither may blow up without a resolver wired.
	a.HandleInbound(platform.Recipient{ID: "r1"})
	if a.Running() {
		t.Fatal("Running = true before StartDispatch")
	}
}

func TestApplyGlobalLimit(t *testing.T) {
	t.Parallel()
	a, err := New(context.Background(), "acc1", baseAccountConfig(), testOptions(eventbus.New(), nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Own reports were already recorded locally by the dispatch loop.
	a.ApplyGlobalLimit(hotqueue.LimitEvent{RecipientID: "r1", ReportedBy: "acc1"})
	if a.led.Excluded("r1") {
		t.Fatal("own report must not re-apply")
	}

	a.ApplyGlobalLimit(hotqueue.LimitEvent{RecipientID: "r1", ReportedBy: "acc2"})
	if s, _ := a.led.StateOf("r1"); s != ledger.StateErrored {
		t.Fatalf("state = %v, want errored", s)
	}
}

func TestApplySwapsSettings(t *testing.T) {
	t.Parallel()
	a, err := New(context.Background(), "acc1", baseAccountConfig(), testOptions(eventbus.New(), nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cfg := baseAccountConfig()
	cfg.Pool = "payers"
	cfg.Templates = []string{"one", "two"}
	a.Apply(cfg)

	st := a.Settings()
	if st.Pool != platform.PoolPayers || len(st.Templates) != 2 {
		t.Fatalf("settings after Apply = %+v", st)
	}
}
