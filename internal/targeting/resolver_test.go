package targeting

import (
	"context"
	"errors"
	"testing"
	"time"

	"outreachd/internal/hotqueue"
	"outreachd/internal/ledger"
	"outreachd/internal/platform"
	"outreachd/internal/retryq"
	logx "outreachd/pkg/logx"
)

type fakeClient struct {
	pools   map[platform.Pool][]platform.Recipient
	fetches []platform.Pool
	err     error
}

func (c *fakeClient) FetchPool(ctx context.Context, pool platform.Pool, acct platform.AccountRef) ([]platform.Recipient, error) {
	c.fetches = append(c.fetches, pool)
	if c.err != nil {
		return nil, c.err
	}
	return c.pools[pool], nil
}

func (c *fakeClient) SendChat(ctx context.Context, acct platform.AccountRef, to platform.Recipient, body string) error {
	return nil
}

func (c *fakeClient) CheckMailEligibility(ctx context.Context, acct platform.AccountRef, to platform.Recipient) (platform.MailToken, bool, error) {
	return "", false, nil
}

func (c *fakeClient) SendMail(ctx context.Context, acct platform.AccountRef, tok platform.MailToken, body string, att *platform.Attachment) error {
	return nil
}

func (c *fakeClient) SessionReady(acct platform.AccountRef) bool { return true }

func newResolver(client *fakeClient) (*Resolver, *ledger.Ledger, *retryq.Queue, *hotqueue.Table) {
	led := ledger.New("acc1", nil)
	rq := retryq.New(retryq.Config{Cooldown: time.Nanosecond}, led)
	hot := hotqueue.New(hotqueue.Config{}, nil)
	r := New(platform.AccountRef{ID: "acc1"}, client, led, rq, hot, logx.Nop())
	return r, led, rq, hot
}

func TestResolveFiltersThroughLedger(t *testing.T) {
	t.Parallel()
	client := &fakeClient{pools: map[platform.Pool][]platform.Recipient{
		platform.PoolOnline: {{ID: "seen"}, {ID: "fresh"}},
	}}
	r, led, _, _ := newResolver(client)
	led.Mark("seen", ledger.StateSent)

	rec, ok, err := r.Resolve(context.Background(), Params{Pool: platform.PoolOnline})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if !ok || rec.ID != "fresh" {
		t.Fatalf("Resolve = %v, %v; want fresh, true", rec.ID, ok)
	}
}

func TestResolvePhotoOnly(t *testing.T) {
	t.Parallel()
	client := &fakeClient{pools: map[platform.Pool][]platform.Recipient{
		platform.PoolOnline: {{ID: "plain"}, {ID: "photo", HasPhoto: true}},
	}}
	r, _, _, _ := newResolver(client)

	rec, ok, err := r.Resolve(context.Background(), Params{Pool: platform.PoolOnline, PhotoOnly: true})
	if err != nil || !ok || rec.ID != "photo" {
		t.Fatalf("Resolve = %v, %v, %v; want photo, true, nil", rec.ID, ok, err)
	}
}

func TestResolveFallsBackToRetryQueue(t *testing.T) {
	t.Parallel()
	client := &fakeClient{}
	r, _, rq, _ := newResolver(client)
	rq.RecordFailure(platform.Recipient{ID: "again"})
	time.Sleep(time.Millisecond) // past the nanosecond cooldown

	rec, ok, err := r.Resolve(context.Background(), Params{Pool: platform.PoolOnline})
	if err != nil || !ok || rec.ID != "again" {
		t.Fatalf("Resolve = %v, %v, %v; want again, true, nil", rec.ID, ok, err)
	}
}

func TestResolveAutoAdvancesOnce(t *testing.T) {
	t.Parallel()
	client := &fakeClient{pools: map[platform.Pool][]platform.Recipient{
		platform.PoolPayers: {{ID: "payer"}},
	}}
	r, _, _, _ := newResolver(client)

	// online is empty; auto-advance moves to payers within the same call.
	rec, ok, err := r.Resolve(context.Background(), Params{Pool: platform.PoolOnline, AutoAdvance: true})
	if err != nil || !ok || rec.ID != "payer" {
		t.Fatalf("Resolve = %v, %v, %v; want payer, true, nil", rec.ID, ok, err)
	}

	// Without auto-advance an empty pool is simply a miss.
	client2 := &fakeClient{}
	r2, _, _, _ := newResolver(client2)
	if _, ok, _ := r2.Resolve(context.Background(), Params{Pool: platform.PoolOnline}); ok {
		t.Fatal("empty pool without auto-advance must resolve nothing")
	}
}

func TestResolveHotPool(t *testing.T) {
	t.Parallel()
	r, _, _, hot := newResolver(&fakeClient{})
	hot.Publish(platform.Recipient{ID: "mine"}, "acc1")
	hot.Publish(platform.Recipient{ID: "theirs"}, "acc2")

	rec, ok, err := r.Resolve(context.Background(), Params{Pool: platform.PoolHot})
	if err != nil || !ok || rec.ID != "theirs" {
		t.Fatalf("Resolve = %v, %v, %v; want theirs, true, nil", rec.ID, ok, err)
	}
}

func TestHotPoolKeepsEntriesItCannotUse(t *testing.T) {
	t.Parallel()
	r, led, _, hot := newResolver(&fakeClient{})
	hot.Publish(platform.Recipient{ID: "x"}, "acc2")
	led.Mark("x", ledger.StateSent)

	if _, ok, _ := r.Resolve(context.Background(), Params{Pool: platform.PoolHot}); ok {
		t.Fatal("excluded hot entry must not resolve")
	}
	// The handoff survives for accounts that have not contacted x.
	if rec, ok := hot.Claim("acc3"); !ok || rec.ID != "x" {
		t.Fatalf("Claim = %v, %v; entry must stay claimable by others", rec.ID, ok)
	}
}

func TestCustomIDCursor(t *testing.T) {
	t.Parallel()
	r, led, _, _ := newResolver(&fakeClient{})
	led.Mark("b", ledger.StateSent)
	ids := []string{"a", "b", "c"}

	p := Params{Pool: platform.PoolCustomIDs, CustomIDs: ids}
	first, ok, _ := r.Resolve(context.Background(), p)
	if !ok || first.ID != "a" {
		t.Fatalf("first = %v, %v; want a", first.ID, ok)
	}
	second, ok, _ := r.Resolve(context.Background(), p)
	if !ok || second.ID != "c" {
		t.Fatalf("second = %v, %v; want c (b is excluded)", second.ID, ok)
	}
	if _, ok, _ := r.Resolve(context.Background(), p); ok {
		t.Fatal("exhausted id list must resolve nothing")
	}

	// A changed list resets the cursor.
	p.CustomIDs = []string{"d"}
	rec, ok, _ := r.Resolve(context.Background(), p)
	if !ok || rec.ID != "d" {
		t.Fatalf("after reset = %v, %v; want d", rec.ID, ok)
	}
}

func TestFetchErrorPropagates(t *testing.T) {
	t.Parallel()
	client := &fakeClient{err: errors.New("boom")}
	r, _, _, _ := newResolver(client)
	if _, _, err := r.Resolve(context.Background(), Params{Pool: platform.PoolOnline}); err == nil {
		t.Fatal("fetch failure must surface as an error")
	}
}
