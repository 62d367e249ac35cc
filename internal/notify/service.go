// Package notify pushes high-signal operator alerts (template rotation
// wraps, account start/stop, global rate-limit trips) to a Telegram chat.
//
// Alerts are best-effort and rate-limited; the core never waits on them.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tele "gopkg.in/telebot.v4"
	"golang.org/x/time/rate"

	"outreachd/internal/autoreply"
	"outreachd/internal/dispatch"
	"outreachd/internal/eventbus"
	"outreachd/internal/hotqueue"
	"outreachd/internal/rotation"
	logx "outreachd/pkg/logx"
)

type Config struct {
	Enabled    bool
	Token      string
	ChatID     int64
	RatePerSec int // default 1
}

type Service struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	bot     *tele.Bot
	limiter *rate.Limiter

	mu       sync.Mutex
	stopCh   chan struct{}
	unsub    func()
	workerWG sync.WaitGroup
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{cfg: cfg, log: log, bus: bus}
	if !cfg.Enabled {
		return s, nil
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("notify: telegram token is empty")
	}
	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	s.bot = bot
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	return s, nil
}

func (s *Service) Start(ctx context.Context) {
	if s.bot == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	events, unsub := s.bus.Subscribe(64)
	s.unsub = unsub

	stopCh := s.stopCh
	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()
		s.worker(ctx, stopCh, events)
	}()
}

func (s *Service) Stop() {
	s.mu.Lock()
	stopCh := s.stopCh
	unsub := s.unsub
	s.stopCh = nil
	s.unsub = nil
	s.mu.Unlock()

	if stopCh == nil {
		return
	}
	if unsub != nil {
		unsub()
	}
	close(stopCh)
	s.workerWG.Wait()
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			msg := format(e)
			if msg == "" {
				continue
			}
			if !s.limiter.Allow() {
				continue
			}
			if _, err := s.bot.Send(&tele.Chat{ID: s.cfg.ChatID}, msg); err != nil {
				s.log.Debug("operator alert failed", logx.Err(err))
			}
		}
	}
}

func format(e eventbus.Event) string {
	switch e.Type {
	case eventbus.TypeRotationWrap:
		if ev, ok := e.Data.(rotation.WrapEvent); ok {
			return fmt.Sprintf("🔄 %s: template rotation wrapped (pass %d)", ev.Account, ev.Passes)
		}
	case eventbus.TypeAccountState:
		if ev, ok := e.Data.(dispatch.StateEvent); ok && ev.State == "stopped" {
			return fmt.Sprintf("⏹ %s/%s stopped", ev.Account, ev.Mode)
		}
	case eventbus.TypeGlobalLimit:
		if ev, ok := e.Data.(hotqueue.LimitEvent); ok {
			return fmt.Sprintf("🚫 platform rate limit on recipient %s (reported by %s)", ev.RecipientID, ev.ReportedBy)
		}
	case eventbus.TypeChainFinished:
		if ev, ok := e.Data.(autoreply.ChainEvent); ok && !ev.Finished {
			return fmt.Sprintf("⚠️ %s: auto-reply chain for %s destroyed after %d step(s)", ev.Account, ev.RecipientID, ev.StepsSent)
		}
	}
	return ""
}
