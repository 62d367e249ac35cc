// Package dispatch runs the per-account, per-mode send loop: pick a target,
// send, record the outcome, schedule the next tick.
//
// The loop is a single logical scheduler. Sends are strictly sequential:
// the next tick is never armed before the previous outcome is fully
// recorded. The only timer is one rearmed handle with one cancellation
// point, so Stop() has nothing to chase.
package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"outreachd/internal/autoreply"
	"outreachd/internal/convo"
	"outreachd/internal/eventbus"
	"outreachd/internal/hotqueue"
	"outreachd/internal/ledger"
	"outreachd/internal/platform"
	"outreachd/internal/retryq"
	"outreachd/internal/targeting"
	"outreachd/internal/telemetry"
	logx "outreachd/pkg/logx"
)

// Deps bundles the account-owned components the loop drives.
type Deps struct {
	Client   platform.Client
	Resolver *targeting.Resolver
	Ledger   *ledger.Ledger
	RetryQ   *retryq.Queue
	Hot      *hotqueue.Table
	Rotation interface{ Current(time.Time) int }
	Convo    *convo.Tracker
	Replies  *autoreply.Engine // may be nil

	// Settings is re-read at the start of every tick.
	Settings func() Settings

	// ProcessMode is the process-wide mode switch; the loop refuses to
	// send while it disagrees with the loop's own mode. This is an
	// account-local precondition check, not a lock.
	ProcessMode func() platform.Mode

	Log logx.Logger
	Bus eventbus.Bus
}

type Loop struct {
	acct platform.AccountRef
	mode platform.Mode
	cfg  Config
	d    Deps
	log  logx.Logger

	mu        sync.Mutex
	state     State
	gen       uint64 // bumped on Start/Stop; stale timer fires become no-ops
	timer     *time.Timer
	runCtx    context.Context
	runCancel context.CancelFunc
	backoff   time.Duration
	stats     Stats
	rng       *rand.Rand
}

func New(acct platform.AccountRef, mode platform.Mode, cfg Config, d Deps) *Loop {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	if d.ProcessMode == nil {
		pm := mode
		d.ProcessMode = func() platform.Mode { return pm }
	}
	return &Loop{
		acct: acct,
		mode: mode,
		cfg:  cfg.withDefaults(),
		d:    d,
		log:  log.With(logx.String("account", acct.ID), logx.String("mode", string(mode))),
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start moves Stopped -> Waiting and arms the first tick immediately.
// Calling Start on a running loop is a no-op.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.state != StateStopped {
		l.mu.Unlock()
		return
	}
	l.gen++
	l.state = StateWaiting
	l.runCtx, l.runCancel = context.WithCancel(ctx)
	l.armLocked(0)
	l.mu.Unlock()

	l.log.Info("dispatch loop started")
	l.publishState(StateWaiting)
}

// Stop cancels the pending tick, the in-flight send (if any), and every
// auto-reply timer this account owns. After Stop returns, no further send
// is issued until Start is called again.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.state == StateStopped {
		l.mu.Unlock()
		return
	}
	l.gen++
	l.state = StateStopped
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	cancel := l.runCancel
	l.runCancel = nil
	l.runCtx = nil
	l.backoff = 0
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if l.d.Replies != nil {
		l.d.Replies.CancelAll()
	}

	l.log.Info("dispatch loop stopped")
	l.publishState(StateStopped)
}

// Running reports whether the loop is started. Used as the auto-reply
// engine's entry gate.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state != StateStopped
}

// State returns the current loop state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Stats snapshots the per-mode counters. Waiting reflects the current
// retry-queue depth.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	st := l.stats
	l.mu.Unlock()
	st.Waiting = l.d.RetryQ.Len()
	return st
}

// armLocked (re)arms the single tick timer. Caller holds l.mu.
func (l *Loop) armLocked(delay time.Duration) {
	if l.timer != nil {
		l.timer.Stop()
	}
	gen := l.gen
	l.timer = time.AfterFunc(delay, func() { l.tick(gen) })
}

func (l *Loop) rearm(gen uint64, delay time.Duration) {
	l.mu.Lock()
	if gen == l.gen && l.state != StateStopped {
		l.state = StateWaiting
		l.armLocked(delay)
	}
	l.mu.Unlock()
}

// tick is one send-or-wait cycle. Every path out of it rearms the timer;
// no error escapes past the outcome recording.
func (l *Loop) tick(gen uint64) {
	l.mu.Lock()
	if gen != l.gen || l.state == StateStopped {
		l.mu.Unlock()
		return
	}
	ctx := l.runCtx
	l.mu.Unlock()

	st := l.d.Settings()

	// Precondition guards: wrong process mode, session not ready, or the
	// global send gate closed. All of these are wait conditions.
	if l.d.ProcessMode() != l.mode {
		l.rearm(gen, l.nextDelay(st))
		return
	}
	if !l.d.Client.SessionReady(l.acct) {
		l.log.Debug("session not ready")
		l.rearm(gen, l.nextDelay(st))
		return
	}
	if !l.d.Hot.AllowSend() {
		l.log.Debug("global send gate closed")
		l.rearm(gen, l.nextDelay(st))
		return
	}

	rec, ok, err := l.d.Resolver.Resolve(ctx, targeting.Params{
		Pool:        st.Pool,
		AutoAdvance: st.AutoAdvance,
		PhotoOnly:   l.mode == platform.ModeMail && st.PhotoOnly,
		CustomIDs:   st.CustomIDs,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		if platform.IsTransport(err) {
			l.rearm(gen, l.bumpBackoff())
			return
		}
		l.log.Warn("target resolution failed", logx.Err(err))
		l.rearm(gen, l.nextDelay(st))
		return
	}
	if !ok {
		// Pool exhausted everywhere: not an error, just wait.
		l.rearm(gen, l.nextDelay(st))
		return
	}

	l.mu.Lock()
	if gen != l.gen || l.state == StateStopped {
		l.mu.Unlock()
		return
	}
	l.state = StateSending
	l.mu.Unlock()

	l.sendOne(ctx, st, rec)

	l.mu.Lock()
	delay := l.backoff
	l.mu.Unlock()
	if delay == 0 {
		delay = l.nextDelay(st)
	}
	l.rearm(gen, delay)
}

// sendOne performs the send and records the outcome into the ledger, retry
// queue, hot queue, conversation tracker, and stats.
func (l *Loop) sendOne(ctx context.Context, st Settings, rec platform.Recipient) {
	start := time.Now()

	if len(st.Templates) == 0 {
		l.log.Warn("no templates configured, skipping send")
		return
	}
	tmplIdx := l.d.Rotation.Current(start)
	if tmplIdx >= len(st.Templates) {
		tmplIdx = len(st.Templates) - 1
	}
	body := st.Templates[tmplIdx]

	callCtx, cancel := context.WithTimeout(ctx, l.cfg.SendTimeout)
	defer cancel()

	var err error
	switch l.mode {
	case platform.ModeMail:
		var tok platform.MailToken
		var eligible bool
		tok, eligible, err = l.d.Client.CheckMailEligibility(callCtx, l.acct, rec)
		if err == nil && !eligible {
			// Normal ineligibility, not a failure.
			l.log.Debug("recipient not mail-eligible", logx.String("recipient", rec.ID))
			l.resetBackoff()
			l.report(rec, telemetry.OutcomeIneligible, "", tmplIdx, start)
			return
		}
		if err == nil {
			err = l.d.Client.SendMail(callCtx, l.acct, tok, body, st.Attachment)
		}
	default:
		err = l.d.Client.SendChat(callCtx, l.acct, rec, body)
	}

	switch {
	case err == nil:
		l.d.Ledger.Mark(rec.ID, ledger.StateSent)
		l.d.RetryQ.RecordSuccess(rec.ID)
		l.d.Hot.Publish(rec, l.acct.ID)
		l.d.Convo.Touch(rec.ID, time.Now())
		l.mu.Lock()
		l.stats.Sent++
		l.backoff = 0
		l.mu.Unlock()
		l.log.Info("sent", logx.String("recipient", rec.ID), logx.Int("template", tmplIdx))
		l.report(rec, telemetry.OutcomeSent, "", tmplIdx, start)

	case errors.Is(err, context.Canceled):
		// Stop() raced the send; nothing to record.

	case platform.IsTransport(err):
		delay := l.bumpBackoff()
		l.log.Warn("transport failure", logx.Err(err), logx.Duration("backoff", delay))
		l.report(rec, telemetry.OutcomeTransport, err.Error(), tmplIdx, start)

	default:
		re, isReject := platform.AsRejected(err)
		if !isReject {
			// Unknown failure class: treat like transport (recoverable,
			// never touches the ledger).
			delay := l.bumpBackoff()
			l.log.Warn("send failed", logx.Err(err), logx.Duration("backoff", delay))
			l.report(rec, telemetry.OutcomeTransport, err.Error(), tmplIdx, start)
			return
		}
		l.recordRejection(rec, re, tmplIdx, start)
	}
}

func (l *Loop) recordRejection(rec platform.Recipient, re *platform.RejectedError, tmplIdx int, start time.Time) {
	// A rejection is a response, not an outage: any transport backoff in
	// force stops shaping the next tick.
	l.resetBackoff()
	switch {
	case re.Code == platform.RejectRateLimited:
		// Doomed recipient: drop locally and fan out to every account.
		l.d.RetryQ.Drop(rec.ID)
		l.d.Ledger.Mark(rec.ID, ledger.StateErrored)
		l.d.Hot.ReportGlobalLimit(rec.ID, l.acct.ID)
		l.bumpStat(func(s *Stats) { s.Errored++ })
		l.log.Warn("platform rate limit on recipient", logx.String("recipient", rec.ID))
		l.report(rec, telemetry.OutcomeRateLimited, re.Reason, tmplIdx, start)

	case re.Permanent():
		l.d.RetryQ.Drop(rec.ID)
		l.d.Ledger.Mark(rec.ID, ledger.StateIgnored)
		l.bumpStat(func(s *Stats) { s.Errored++ })
		l.log.Info("recipient permanently ignoring account",
			logx.String("recipient", rec.ID), logx.String("code", string(re.Code)))
		l.report(rec, telemetry.OutcomeIgnored, re.Reason, tmplIdx, start)

	default:
		if terminal := l.d.RetryQ.RecordFailure(rec); terminal {
			l.bumpStat(func(s *Stats) { s.Errored++ })
			l.log.Info("retries exhausted", logx.String("recipient", rec.ID))
			l.report(rec, telemetry.OutcomeRetriesSpent, re.Reason, tmplIdx, start)
		} else {
			l.log.Debug("send rejected, queued for retry",
				logx.String("recipient", rec.ID), logx.String("reason", re.Reason))
			l.report(rec, telemetry.OutcomeRejected, re.Reason, tmplIdx, start)
		}
	}
}

func (l *Loop) bumpStat(fn func(*Stats)) {
	l.mu.Lock()
	fn(&l.stats)
	l.mu.Unlock()
}

func (l *Loop) resetBackoff() {
	l.mu.Lock()
	l.backoff = 0
	l.mu.Unlock()
}

// bumpBackoff doubles the transport backoff up to the cap and returns the
// delay for the next tick. The backoff shapes only the next tick; the loop
// stays responsive to Stop throughout.
func (l *Loop) bumpBackoff() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.backoff == 0 {
		l.backoff = l.cfg.BackoffBase
	} else {
		l.backoff *= 2
		if l.backoff > l.cfg.BackoffMax {
			l.backoff = l.cfg.BackoffMax
		}
	}
	return l.backoff
}

// nextDelay draws the normal tick delay from the settings' policy.
func (l *Loop) nextDelay(st Settings) time.Duration {
	if st.Smart {
		lo, hi := st.SmartMin, st.SmartMax
		if lo <= 0 {
			lo = defaultSmartMin
		}
		if hi <= 0 {
			hi = defaultSmartMax
		}
		if hi <= lo {
			// Degenerate range (smart_min at or above the ceiling): the
			// lower bound is the delay. Int63n must never see a
			// non-positive argument here.
			return lo
		}
		l.mu.Lock()
		d := lo + time.Duration(l.rng.Int63n(int64(hi-lo)))
		l.mu.Unlock()
		return d
	}
	if st.FixedDelay > 0 {
		return st.FixedDelay
	}
	return defaultFixedDelay
}

func (l *Loop) report(rec platform.Recipient, outcome telemetry.Outcome, reason string, tmplIdx int, start time.Time) {
	if l.d.Bus == nil {
		return
	}
	l.d.Bus.Publish(eventbus.Event{
		Type:    eventbus.TypeSendAttempt,
		Account: l.acct.ID,
		Data: telemetry.SendEvent{
			ID:            uuid.NewString(),
			Account:       l.acct.ID,
			Mode:          string(l.mode),
			RecipientID:   rec.ID,
			Outcome:       outcome,
			Reason:        reason,
			TemplateIndex: tmplIdx,
			Elapsed:       time.Since(start),
		},
	})
}

func (l *Loop) publishState(s State) {
	if l.d.Bus == nil {
		return
	}
	l.d.Bus.Publish(eventbus.Event{
		Type:    eventbus.TypeAccountState,
		Account: l.acct.ID,
		Data:    StateEvent{Account: l.acct.ID, Mode: string(l.mode), State: s.String()},
	})
}
