// Package app is the host: it loads and watches the config file, opens
// storage, builds the shared hot queue and the per-account machinery, and
// supervises the ambient services (telemetry, operator alerts, the
// observability HTTP server, active-hours cron).
package app

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"outreachd/internal/account"
	"outreachd/internal/config"
	"outreachd/internal/eventbus"
	"outreachd/internal/hotqueue"
	"outreachd/internal/notify"
	"outreachd/internal/observability/httpserv"
	"outreachd/internal/platform"
	"outreachd/internal/storage"
	"outreachd/internal/telemetry"
	"outreachd/internal/vendorapi"
	logx "outreachd/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	logs *logx.Service
	log  logx.Logger

	bus    eventbus.Bus
	client *vendorapi.Client
	store  storage.Store
	hot    *hotqueue.Table
	telem  *telemetry.Service
	notif  *notify.Service
	obs    *httpserv.Service

	mu          sync.Mutex
	mode        platform.Mode
	inboundPoll time.Duration
	accounts    map[string]*account.Account
	cronSched   *cron.Cron

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogging(cfg))
	log = log.With(logx.String("comp", "app"))

	vcfg, err := mapVendor(cfg)
	if err != nil {
		return nil, err
	}
	client, err := vendorapi.New(vcfg, log.With(logx.String("comp", "vendor")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorage(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	hcfg, err := mapHotQueue(cfg)
	if err != nil {
		return nil, err
	}
	hot := hotqueue.New(hcfg, bus)

	tcfg, endpoint, err := mapTelemetry(cfg)
	if err != nil {
		return nil, err
	}
	var sink telemetry.Sink
	if strings.TrimSpace(endpoint) != "" {
		sink = telemetry.NewHTTPSink(endpoint)
	}
	telem := telemetry.New(tcfg, sink, log.With(logx.String("comp", "telemetry")), bus)

	notif, err := notify.New(mapNotify(cfg), log.With(logx.String("comp", "notify")), bus)
	if err != nil {
		return nil, err
	}

	mode, _ := platform.ParseMode(cfg.Mode)

	a := &App{
		cfgPath:     cfgPath,
		cfgm:        cfgm,
		logs:        logs,
		log:         log,
		bus:         bus,
		client:      client,
		store:       store,
		hot:         hot,
		telem:       telem,
		notif:       notif,
		mode:        mode,
		inboundPoll: mapInboundPoll(cfg),
		accounts:    map[string]*account.Account{},
	}

	ocfg, err := mapObservability(cfg)
	if err != nil {
		return nil, err
	}
	a.obs = httpserv.New(ocfg, a.statusSnapshot, log.With(logx.String("comp", "observability")))

	return a, nil
}

// ProcessMode is the process-wide mail/chat switch read by every dispatch
// loop before sending.
func (a *App) ProcessMode() platform.Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

func (a *App) Start(ctx context.Context) error {
	a.runCtx, a.runCancel = context.WithCancel(ctx)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	cfg := a.cfgm.Get()
	if err := a.buildAccounts(a.runCtx, cfg); err != nil {
		return err
	}

	a.telem.Start(a.runCtx)
	a.notif.Start(a.runCtx)
	if err := a.obs.Start(); err != nil {
		return err
	}
	a.rebuildCron(cfg)

	a.goWorker("limit.fanout", a.limitFanout)
	a.goWorker("inbound.poll", a.inboundLoop)
	a.goWorker("config.reload", a.reloadLoop)
	a.goWorker("config.watch", func(c context.Context) {
		_ = a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.String("mode", string(a.ProcessMode())),
		logx.Int("accounts", len(cfg.Accounts)),
	)
	return nil
}

func (a *App) Stop(ctx context.Context) {
	a.log.Info("stopping")

	a.mu.Lock()
	sched := a.cronSched
	a.cronSched = nil
	obs := a.obs
	accts := make([]*account.Account, 0, len(a.accounts))
	for _, acct := range a.accounts {
		accts = append(accts, acct)
	}
	a.mu.Unlock()

	if sched != nil {
		sched.Stop()
	}
	if a.runCancel != nil {
		a.runCancel()
	}
	for _, acct := range accts {
		acct.StopDispatch()
	}
	a.notif.Stop()
	a.telem.Stop()
	obs.Stop(ctx)
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
	a.wg.Wait()

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

// goWorker runs fn under the app waitgroup with panic containment, the same
// contract every service worker in this codebase follows.
func (a *App) goWorker(name string, fn func(context.Context)) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				a.log.Error("worker panic",
					logx.String("worker", name),
					logx.Any("panic", r),
					logx.Stack(string(debug.Stack())),
				)
			}
		}()
		fn(a.runCtx)
	}()
}

// limitFanout applies one account's recipient-level rate-limit report to
// every other account's ledger and retry queue.
func (a *App) limitFanout(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type != eventbus.TypeGlobalLimit {
				continue
			}
			ev, ok := e.Data.(hotqueue.LimitEvent)
			if !ok {
				continue
			}
			for _, acct := range a.accountList() {
				acct.ApplyGlobalLimit(ev)
			}
		}
	}
}

func (a *App) inboundLoop(ctx context.Context) {
	for {
		a.mu.Lock()
		interval := a.inboundPoll
		a.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		for _, acct := range a.accountList() {
			if !acct.Running() {
				continue
			}
			if err := acct.PollInbox(ctx); err != nil {
				a.log.Debug("inbox poll failed",
					logx.String("account", acct.Name()),
					logx.Err(err),
				)
			}
		}
	}
}

func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs, acctChanged := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}

			a.logs.Apply(mapLogging(newCfg))

			for _, s := range sections {
				switch s {
				case "storage", "vendor", "hot_queue", "notify", "telemetry":
					a.log.Warn("config section changed; restart required for changes to take effect",
						logx.String("section", s))
				}
			}

			if mode, ok := platform.ParseMode(newCfg.Mode); ok {
				a.mu.Lock()
				a.mode = mode
				a.inboundPoll = mapInboundPoll(newCfg)
				a.mu.Unlock()
			}

			a.applyObservability(ctx, newCfg)
			a.syncAccounts(ctx, newCfg, acctChanged)
			a.rebuildCron(newCfg)

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

func (a *App) applyObservability(ctx context.Context, cfg *config.Config) {
	ocfg, err := mapObservability(cfg)
	if err != nil {
		a.log.Warn("invalid observability config; keeping previous", logx.Err(err))
		return
	}
	a.mu.Lock()
	oldObs := a.obs
	a.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	oldObs.Stop(stopCtx)
	cancel()

	newObs := httpserv.New(ocfg, a.statusSnapshot, a.log.With(logx.String("comp", "observability")))
	a.mu.Lock()
	a.obs = newObs
	a.mu.Unlock()
	if err := newObs.Start(); err != nil {
		a.log.Warn("observability server restart failed", logx.Err(err))
	}
}

func (a *App) accountOptions() account.Options {
	return account.Options{
		Client:      a.client,
		Store:       a.store,
		Hot:         a.hot,
		Bus:         a.bus,
		Log:         a.log,
		ProcessMode: a.ProcessMode,
	}
}

func (a *App) buildAccounts(ctx context.Context, cfg *config.Config) error {
	for name, acfg := range cfg.Accounts {
		acct, err := account.New(ctx, name, acfg, a.accountOptions())
		if err != nil {
			return fmt.Errorf("account %s: %w", name, err)
		}
		a.mu.Lock()
		a.accounts[name] = acct
		a.mu.Unlock()

		// Accounts with an active-hours schedule wait for their cron
		// start; everything else enabled starts immediately.
		if acfg.Enabled && acfg.ActiveHours == nil {
			acct.StartDispatch(ctx)
		}
	}
	return nil
}

// syncAccounts reconciles running accounts with the reloaded config.
// A credentials change needs a rebuild; everything else applies live.
func (a *App) syncAccounts(ctx context.Context, cfg *config.Config, changed []string) {
	for _, name := range changed {
		a.mu.Lock()
		old := a.accounts[name]
		a.mu.Unlock()
		acfg, exists := cfg.Accounts[name]

		switch {
		case !exists:
			if old != nil {
				old.StopDispatch()
				a.mu.Lock()
				delete(a.accounts, name)
				a.mu.Unlock()
				a.log.Info("account removed", logx.String("account", name))
			}

		case old == nil:
			acct, err := account.New(ctx, name, acfg, a.accountOptions())
			if err != nil {
				a.log.Warn("account build failed", logx.String("account", name), logx.Err(err))
				continue
			}
			a.mu.Lock()
			a.accounts[name] = acct
			a.mu.Unlock()
			if acfg.Enabled && acfg.ActiveHours == nil {
				acct.StartDispatch(ctx)
			}
			a.log.Info("account added", logx.String("account", name))

		default:
			old.Apply(acfg)
			if acfg.Enabled && acfg.ActiveHours == nil {
				old.StartDispatch(ctx)
			}
			if !acfg.Enabled {
				old.StopDispatch()
			}
		}
	}
}

// rebuildCron replaces the active-hours schedule wholesale; entry sets are
// small and this keeps removal trivial.
func (a *App) rebuildCron(cfg *config.Config) {
	sched := cron.New()
	for name, acfg := range cfg.Accounts {
		if !acfg.Enabled || acfg.ActiveHours == nil {
			continue
		}
		name := name
		_, err := sched.AddFunc(acfg.ActiveHours.Start, func() {
			if acct := a.lookupAccount(name); acct != nil {
				a.log.Info("active hours: starting dispatch", logx.String("account", name))
				acct.StartDispatch(a.runCtx)
			}
		})
		if err == nil {
			_, err = sched.AddFunc(acfg.ActiveHours.Stop, func() {
				if acct := a.lookupAccount(name); acct != nil {
					a.log.Info("active hours: stopping dispatch", logx.String("account", name))
					acct.StopDispatch()
				}
			})
		}
		if err != nil {
			a.log.Warn("active hours schedule rejected", logx.String("account", name), logx.Err(err))
		}
	}
	sched.Start()

	a.mu.Lock()
	oldSched := a.cronSched
	a.cronSched = sched
	a.mu.Unlock()
	if oldSched != nil {
		oldSched.Stop()
	}
}

func (a *App) lookupAccount(name string) *account.Account {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accounts[name]
}

func (a *App) accountList() []*account.Account {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*account.Account, 0, len(a.accounts))
	for _, acct := range a.accounts {
		out = append(out, acct)
	}
	return out
}

// statusSnapshot backs the observability server's /statusz.
func (a *App) statusSnapshot() any {
	type snapshot struct {
		Mode       string           `json:"mode"`
		HotQueue   int              `json:"hot_queue"`
		BusDropped uint64           `json:"bus_dropped"`
		Accounts   []account.Status `json:"accounts"`
	}
	s := snapshot{
		Mode:     string(a.ProcessMode()),
		HotQueue: a.hot.Len(),
	}
	if a.bus != nil {
		s.BusDropped = a.bus.Dropped()
	}
	for _, acct := range a.accountList() {
		s.Accounts = append(s.Accounts, acct.Status())
	}
	return s
}
