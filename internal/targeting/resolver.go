// Package targeting resolves the next recipient for a dispatch tick: pull a
// batch from the configured pool, filter it through the dedup ledger, fall
// back to the retry queue, and optionally auto-advance to the next pool.
package targeting

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"outreachd/internal/hotqueue"
	"outreachd/internal/ledger"
	"outreachd/internal/platform"
	"outreachd/internal/retryq"
	logx "outreachd/pkg/logx"
)

// Params is the per-tick view of the account's targeting settings. The
// caller rebuilds it from live config on every tick.
type Params struct {
	Pool        platform.Pool
	AutoAdvance bool

	// PhotoOnly drops candidates without a profile photo (mail option).
	PhotoOnly bool

	// CustomIDs backs the custom-id-list pool; ids are consumed in order.
	CustomIDs []string
}

// Resolver is exclusively owned by one account.
type Resolver struct {
	acct   platform.AccountRef
	client platform.Client
	led    *ledger.Ledger
	rq     *retryq.Queue
	hot    *hotqueue.Table
	log    logx.Logger

	mu         sync.Mutex
	customNext int
	customIDs  []string
	rng        *rand.Rand
}

func New(acct platform.AccountRef, client platform.Client, led *ledger.Ledger, rq *retryq.Queue, hot *hotqueue.Table, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{
		acct:   acct,
		client: client,
		led:    led,
		rq:     rq,
		hot:    hot,
		log:    log,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Resolve returns the next recipient, or ok=false when no target is
// available anywhere. No target is a wait condition, not an error; a
// returned error is always a fetch failure from the platform.
func (r *Resolver) Resolve(ctx context.Context, p Params) (platform.Recipient, bool, error) {
	return r.resolve(ctx, p, false)
}

func (r *Resolver) resolve(ctx context.Context, p Params, advanced bool) (platform.Recipient, bool, error) {
	candidates, err := r.candidates(ctx, p)
	if err != nil {
		return platform.Recipient{}, false, err
	}

	if len(candidates) > 0 {
		// Uniform-random pick: predictable contact ordering is what the
		// platform fingerprints.
		r.mu.Lock()
		rec := candidates[r.rng.Intn(len(candidates))]
		r.mu.Unlock()
		return rec, true, nil
	}

	if rec, ok := r.rq.NextEligible(); ok {
		r.log.Debug("target from retry queue", logx.String("recipient", rec.ID))
		return rec, true, nil
	}

	if p.AutoAdvance && !advanced {
		next := p.Pool
		p.Pool = platform.NextPool(p.Pool)
		r.log.Debug("pool exhausted, auto-advancing",
			logx.String("from", string(next)), logx.String("to", string(p.Pool)))
		return r.resolve(ctx, p, true)
	}

	return platform.Recipient{}, false, nil
}

func (r *Resolver) candidates(ctx context.Context, p Params) ([]platform.Recipient, error) {
	switch p.Pool {
	case platform.PoolHot:
		// ClaimIf so a handoff this account cannot use stays claimable by
		// the others instead of being consumed and lost.
		if rec, ok := r.hot.ClaimIf(r.acct.ID, func(rec platform.Recipient) bool {
			return r.admit(rec, p)
		}); ok {
			return []platform.Recipient{rec}, nil
		}
		return nil, nil

	case platform.PoolCustomIDs:
		if id, ok := r.nextCustomID(p.CustomIDs); ok {
			return []platform.Recipient{{ID: id}}, nil
		}
		return nil, nil

	default:
		batch, err := r.client.FetchPool(ctx, p.Pool, r.acct)
		if err != nil {
			return nil, err
		}
		out := batch[:0]
		for _, rec := range batch {
			if r.admit(rec, p) {
				out = append(out, rec)
			}
		}
		return out, nil
	}
}

func (r *Resolver) admit(rec platform.Recipient, p Params) bool {
	if rec.ID == "" || r.led.Excluded(rec.ID) {
		return false
	}
	if p.PhotoOnly && !rec.HasPhoto {
		return false
	}
	return true
}

// nextCustomID pulls the next unconsumed id. A changed id list resets the
// cursor; the ledger still filters ids that were already contacted.
func (r *Resolver) nextCustomID(ids []string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !sameIDs(r.customIDs, ids) {
		r.customIDs = append([]string(nil), ids...)
		r.customNext = 0
	}
	for r.customNext < len(r.customIDs) {
		id := r.customIDs[r.customNext]
		r.customNext++
		if id != "" && !r.led.Excluded(id) {
			return id, true
		}
	}
	return "", false
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
