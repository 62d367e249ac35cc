// Package account assembles the per-account machinery: dedup ledger, retry
// queue, template rotation, conversation tracker, auto-reply engine and one
// dispatch loop per mode. State is restored from storage on construction.
package account

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"outreachd/internal/autoreply"
	"outreachd/internal/config"
	"outreachd/internal/convo"
	"outreachd/internal/dispatch"
	"outreachd/internal/eventbus"
	"outreachd/internal/hotqueue"
	"outreachd/internal/ledger"
	"outreachd/internal/platform"
	"outreachd/internal/retryq"
	"outreachd/internal/rotation"
	"outreachd/internal/storage"
	"outreachd/internal/targeting"
	"outreachd/internal/telemetry"
	logx "outreachd/pkg/logx"
)

// Options carries the process-wide collaborators shared by all accounts.
type Options struct {
	Client platform.Client
	Store  storage.Store // may be nil (persistence disabled)
	Hot    *hotqueue.Table
	Bus    eventbus.Bus
	Log    logx.Logger

	// ProcessMode is the process-wide mail/chat switch.
	ProcessMode func() platform.Mode

	// Dispatch tunes send timeout and transport backoff; zero means defaults.
	Dispatch dispatch.Config
}

type Account struct {
	name string
	ref  platform.AccountRef
	opts Options
	log  logx.Logger

	led     *ledger.Ledger
	rq      *retryq.Queue
	rot     *rotation.Engine
	convo   *convo.Tracker
	replies *autoreply.Engine
	loops   map[platform.Mode]*dispatch.Loop

	mu       sync.Mutex
	cfg      config.AccountConfig
	settings dispatch.Settings
}

// New builds an account and restores its ledger and conversation state.
// Credentials are fixed at construction; a credentials change needs a
// rebuild, not an Apply.
func New(ctx context.Context, name string, cfg config.AccountConfig, opts Options) (*Account, error) {
	if opts.Client == nil {
		return nil, errors.New("account: nil client")
	}
	if opts.ProcessMode == nil {
		opts.ProcessMode = func() platform.Mode { return platform.ModeChat }
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("account", name))

	a := &Account{
		name:  name,
		ref:   platform.AccountRef{ID: name, Credentials: cfg.Credentials},
		opts:  opts,
		log:   log,
		cfg:   cfg,
		convo: convo.New(),
		loops: map[platform.Mode]*dispatch.Loop{},
	}
	a.settings = buildSettings(cfg)

	a.led = ledger.New(name, newJournal(opts.Store, log))
	for _, id := range cfg.Blacklist {
		a.led.Restore(id, ledger.StateBlacklisted)
	}
	if err := a.restore(ctx); err != nil {
		return nil, err
	}

	a.rq = retryq.New(buildRetry(cfg), a.led)
	a.rot = rotation.New(name, buildRotation(cfg), opts.Bus)
	a.replies = autoreply.New(name, buildAutoReply(cfg), a.sendReplyChat, a.sendReplyMail, a.Running, log, opts.Bus)

	resolver := targeting.New(a.ref, opts.Client, a.led, a.rq, opts.Hot, log)
	deps := dispatch.Deps{
		Client:      opts.Client,
		Resolver:    resolver,
		Ledger:      a.led,
		RetryQ:      a.rq,
		Hot:         opts.Hot,
		Rotation:    a.rot,
		Convo:       a.convo,
		Replies:     a.replies,
		Settings:    a.Settings,
		ProcessMode: opts.ProcessMode,
		Log:         log,
		Bus:         opts.Bus,
	}
	for _, mode := range []platform.Mode{platform.ModeMail, platform.ModeChat} {
		a.loops[mode] = dispatch.New(a.ref, mode, opts.Dispatch, deps)
	}

	log.Info("account assembled",
		logx.Int("ledger", a.led.Len()),
		logx.Int("conversations", a.convo.Len()),
		logx.Bool("auto_reply", cfg.AutoReply != nil && cfg.AutoReply.Enabled),
	)
	return a, nil
}

func (a *Account) restore(ctx context.Context) error {
	if a.opts.Store == nil {
		return nil
	}
	contacts, err := a.opts.Store.LoadContacts(ctx, a.name)
	if err != nil {
		return err
	}
	for _, r := range contacts {
		a.led.Restore(r.RecipientID, ledger.State(r.State))
	}
	convos, err := a.opts.Store.LoadConversations(ctx, a.name)
	if err != nil {
		return err
	}
	for _, r := range convos {
		a.convo.Restore(r.RecipientID, convo.Record{
			FirstContact: r.FirstContact,
			LastContact:  r.LastContact,
			MessageCount: r.MessageCount,
		})
	}
	return nil
}

func (a *Account) Name() string { return a.name }

// StartDispatch arms the dispatch loops. The loop whose mode disagrees with
// the process-wide switch idles until the switch flips.
func (a *Account) StartDispatch(ctx context.Context) {
	for _, l := range a.loops {
		l.Start(ctx)
	}
	a.log.Info("dispatch started")
}

// StopDispatch halts both loops and cancels every pending auto-reply timer.
func (a *Account) StopDispatch() {
	for _, l := range a.loops {
		l.Stop()
	}
	a.flushConversations()
	a.log.Info("dispatch stopped")
}

// Running reports whether the loop for the current process mode is live.
// Used by the auto-reply engine as a chain entry condition.
func (a *Account) Running() bool {
	l := a.loops[a.opts.ProcessMode()]
	return l != nil && l.Running()
}

// Settings is the dispatch loop's per-tick settings provider.
func (a *Account) Settings() dispatch.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// Apply installs updated account settings without restarting the loops.
// Retry-queue knobs (max attempts, cooldown) only take effect on rebuild.
func (a *Account) Apply(cfg config.AccountConfig) {
	a.mu.Lock()
	a.cfg = cfg
	a.settings = buildSettings(cfg)
	a.mu.Unlock()

	a.rot.Apply(buildRotation(cfg))
	a.replies.Apply(buildAutoReply(cfg))
	a.log.Info("account settings applied")
}

// HandleInbound processes one observed inbound message: it feeds the
// conversation tracker, persists the updated record, publishes the inbound
// event and restarts the recipient's auto-reply chain from step one.
func (a *Account) HandleInbound(rec platform.Recipient) {
	// The inbox poller re-reports old messages; only a contact newer than
	// what the tracker already has counts as a fresh inbound.
	if !rec.LastSeen.IsZero() {
		if r, ok := a.convo.Lookup(rec.ID); ok && !rec.LastSeen.After(r.LastContact) {
			return
		}
	}

	now := time.Now()
	responseTime, seen := a.convo.Touch(rec.ID, now)
	a.persistConversation(rec.ID)

	if a.opts.Bus != nil {
		a.opts.Bus.Publish(eventbus.Event{
			Type:    eventbus.TypeInboundSeen,
			Account: a.name,
			Time:    now,
			Data: telemetry.InboundEvent{
				ID:           uuid.NewString(),
				Account:      a.name,
				RecipientID:  rec.ID,
				ResponseTime: responseTime,
				FirstContact: !seen,
			},
		})
	}

	// A reply voids any scripted follow-ups in flight; the chain restarts
	// from the top so the next silence is handled again.
	a.replies.Cancel(rec.ID)
	a.replies.Start(rec)
}

// PollInbox scans the unreplied inbox and routes fresh messages through
// HandleInbound. Stale entries are filtered there by contact time.
func (a *Account) PollInbox(ctx context.Context) error {
	recs, err := a.opts.Client.FetchPool(ctx, platform.PoolInboxUnreplied, a.ref)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		a.HandleInbound(rec)
	}
	return nil
}

// ApplyGlobalLimit reacts to another account's rate-limit report: the
// recipient is dropped from retry and excluded here too.
func (a *Account) ApplyGlobalLimit(ev hotqueue.LimitEvent) {
	if ev.ReportedBy == a.name {
		return
	}
	a.rq.Drop(ev.RecipientID)
	if a.led.Mark(ev.RecipientID, ledger.StateErrored) {
		a.log.Debug("recipient excluded after remote limit report",
			logx.String("recipient", ev.RecipientID),
			logx.String("reported_by", ev.ReportedBy),
		)
	}
}

// Status is the operator-facing snapshot served by /statusz.
type Status struct {
	Name          string                    `json:"name"`
	State         string                    `json:"state"`
	Stats         map[string]dispatch.Stats `json:"stats"`
	LedgerSize    int                       `json:"ledger_size"`
	RetryQueue    int                       `json:"retry_queue"`
	Conversations int                       `json:"conversations"`
	ActiveChains  int                       `json:"active_chains"`
	TemplateIndex int                       `json:"template_index"`
}

func (a *Account) Status() Status {
	st := Status{
		Name:          a.name,
		State:         dispatch.StateStopped.String(),
		Stats:         map[string]dispatch.Stats{},
		LedgerSize:    a.led.Len(),
		RetryQueue:    a.rq.Len(),
		Conversations: a.convo.Len(),
		ActiveChains:  a.replies.ActiveCount(),
		TemplateIndex: a.rot.Index(),
	}
	if l := a.loops[a.opts.ProcessMode()]; l != nil {
		st.State = l.State().String()
	}
	for mode, l := range a.loops {
		st.Stats[string(mode)] = l.Stats()
	}
	return st
}

func (a *Account) sendReplyChat(ctx context.Context, rec platform.Recipient, body string) error {
	return a.opts.Client.SendChat(ctx, a.ref, rec, body)
}

// sendReplyMail is the chain's fallback path when chat delivery fails.
func (a *Account) sendReplyMail(ctx context.Context, rec platform.Recipient, body string) error {
	tok, ok, err := a.opts.Client.CheckMailEligibility(ctx, a.ref, rec)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("recipient not eligible for mail")
	}
	return a.opts.Client.SendMail(ctx, a.ref, tok, body, nil)
}

func (a *Account) persistConversation(recipientID string) {
	if a.opts.Store == nil {
		return
	}
	r, ok := a.convo.Lookup(recipientID)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	err := a.opts.Store.PutConversation(ctx, storage.ConversationRecord{
		Account:      a.name,
		RecipientID:  recipientID,
		FirstContact: r.FirstContact,
		LastContact:  r.LastContact,
		MessageCount: r.MessageCount,
	})
	if err != nil {
		a.log.Warn("conversation write failed", logx.String("recipient", recipientID), logx.Err(err))
	}
}

// flushConversations writes the whole tracker out, catching records whose
// last update came from the send path rather than HandleInbound.
func (a *Account) flushConversations() {
	if a.opts.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	for id, r := range a.convo.Snapshot() {
		err := a.opts.Store.PutConversation(ctx, storage.ConversationRecord{
			Account:      a.name,
			RecipientID:  id,
			FirstContact: r.FirstContact,
			LastContact:  r.LastContact,
			MessageCount: r.MessageCount,
		})
		if err != nil {
			a.log.Warn("conversation flush failed", logx.String("recipient", id), logx.Err(err))
			return
		}
	}
}
