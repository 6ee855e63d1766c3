package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nutrex/credit-engine/internal/match"
	"github.com/nutrex/credit-engine/internal/metrics"
	"github.com/nutrex/credit-engine/internal/model"
	"github.com/nutrex/credit-engine/internal/store"
)

// Scheduler is the periodic driver: every interval it evaluates each active
// bot once, sequentially, then retries parked settlements. One bot's failure
// is logged and does not abort the rest of the tick.
type Scheduler struct {
	store      store.Store
	engine     *match.Engine
	interval   time.Duration
	strategies map[model.BotKind]Strategy

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler driving the given strategies.
func NewScheduler(st store.Store, engine *match.Engine, interval time.Duration, strategies ...Strategy) *Scheduler {
	byKind := make(map[model.BotKind]Strategy, len(strategies))
	for _, s := range strategies {
		byKind[s.Kind()] = s
	}
	return &Scheduler{
		store:      st,
		engine:     engine,
		interval:   interval,
		strategies: byKind,
	}
}

// Start launches the tick loop. Idempotent: calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)

	slog.Info("bot scheduler started", "interval", s.interval.String())
}

// Stop halts the loop and waits for the in-flight tick to finish. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	slog.Info("bot scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick evaluates every active bot once, then retries pending settlements.
func (s *Scheduler) tick(ctx context.Context) {
	bots, err := s.store.ListActiveBots(ctx)
	if err != nil {
		slog.Error("list active bots", "err", err)
		return
	}

	for i := range bots {
		b := &bots[i]
		strat, ok := s.strategies[b.Kind]
		if !ok {
			slog.Error("no strategy registered", "bot", b.ID, "kind", string(b.Kind))
			continue
		}

		start := time.Now()
		err := strat.Evaluate(ctx, b)
		metrics.BotTickDuration.WithLabelValues(string(b.Kind)).Observe(time.Since(start).Seconds())

		if err != nil {
			metrics.BotTicks.WithLabelValues(string(b.Kind), "error").Inc()
			slog.Error("bot evaluation failed", "bot", b.ID, "kind", string(b.Kind), "err", err)
			continue
		}
		metrics.BotTicks.WithLabelValues(string(b.Kind), "ok").Inc()
	}

	if settled := s.engine.RetrySettlements(ctx); settled > 0 {
		slog.Info("settlement retries succeeded", "count", settled)
	}
}
