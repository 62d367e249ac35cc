// Package telemetry forwards core events to the external stats sink and
// keeps the Prometheus counters. Sink delivery is fire-and-forget: a dead
// or slow sink must never block or fail a dispatch loop.
package telemetry

import (
	"context"
	"strconv"
	"sync"
	"time"

	"outreachd/internal/autoreply"
	"outreachd/internal/eventbus"
	"outreachd/internal/rotation"
	logx "outreachd/pkg/logx"
)

// Sink is the external stats/telemetry collaborator.
type Sink interface {
	Report(ctx context.Context, event any) error
}

type Config struct {
	QueueSize     int           // default 256
	ReportTimeout time.Duration // per Report call; default 5s
}

type Service struct {
	sink Sink
	log  logx.Logger
	bus  eventbus.Bus
	cfg  Config

	mu       sync.Mutex
	stopCh   chan struct{}
	unsub    func()
	queue    chan any
	workerWG sync.WaitGroup
}

func New(cfg Config, sink Sink, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{sink: sink, log: log, bus: bus, cfg: cfg}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.queue = make(chan any, s.cfg.QueueSize)

	events, unsub := s.bus.Subscribe(s.cfg.QueueSize)
	s.unsub = unsub

	stopCh := s.stopCh
	queue := s.queue

	s.workerWG.Add(2)
	go func() {
		defer s.workerWG.Done()
		s.consume(events, stopCh, queue)
	}()
	go func() {
		defer s.workerWG.Done()
		s.deliver(ctx, stopCh, queue)
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

// consume translates bus events into counters and queues sink payloads.
func (s *Service) consume(events <-chan eventbus.Event, stopCh <-chan struct{}, queue chan<- any) {
	for {
		select {
		case <-stopCh:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			s.observe(e)
			if !forwardable(e.Type) {
				continue
			}
			select {
			case queue <- e.Data:
			default:
				sinkDropped.Inc()
			}
		}
	}
}

func (s *Service) deliver(ctx context.Context, stopCh <-chan struct{}, queue <-chan any) {
	for {
		select {
		case <-stopCh:
			return
		case payload := <-queue:
			if s.sink == nil {
				continue
			}
			rctx, cancel := context.WithTimeout(ctx, s.cfg.ReportTimeout)
			if err := s.sink.Report(rctx, payload); err != nil {
				// Fire-and-forget: log at debug and move on.
				s.log.Debug("sink report failed", logx.Err(err))
			}
			cancel()
		}
	}
}

func (s *Service) observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.TypeSendAttempt:
		if ev, ok := e.Data.(SendEvent); ok {
			sendAttempts.WithLabelValues(ev.Account, ev.Mode, string(ev.Outcome)).Inc()
		}
	case eventbus.TypeInboundSeen:
		if ev, ok := e.Data.(InboundEvent); ok {
			inboundSeen.WithLabelValues(ev.Account).Inc()
		}
	case eventbus.TypeRotationWrap:
		if ev, ok := e.Data.(rotation.WrapEvent); ok {
			rotationWraps.WithLabelValues(ev.Account).Inc()
		}
	case eventbus.TypeGlobalLimit:
		globalLimits.Inc()
	case eventbus.TypeChainFinished:
		if ev, ok := e.Data.(autoreply.ChainEvent); ok {
			chainsEnded.WithLabelValues(ev.Account, strconv.FormatBool(ev.Finished)).Inc()
		}
	}
}

func forwardable(t string) bool {
	return t == eventbus.TypeSendAttempt || t == eventbus.TypeInboundSeen
}
