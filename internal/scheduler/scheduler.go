package scheduler

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Scheduler repeats a scan on a fixed interval.
type Scheduler struct {
	interval time.Duration
	jitter   time.Duration
	log      *zap.Logger

	// stats (atomic) for observability
	runs uint64
}

type ScheduleOptions struct {
	Interval time.Duration
	Jitter   time.Duration
	Logger   *zap.Logger
}

// NewScheduler creates a scheduler that periodically calls a scan function.
// - Interval: base schedule interval
// - Jitter: random delay added each cycle (0..Jitter) to reduce herd effects
func NewScheduler(opts ScheduleOptions) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Scheduler{
		interval: opts.Interval,
		jitter:   opts.Jitter,
		log:      opts.Logger,
	}
}

// Run calls scan once immediately and then every interval until ctx is done.
// Scans never overlap: ticks missed while a scan runs are dropped by the ticker.
func (s *Scheduler) Run(ctx context.Context, scan func(context.Context)) {
	s.trigger(ctx, scan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.jitter > 0 {
				delay := time.Duration(rand.Int63n(int64(s.jitter)))
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			s.trigger(ctx, scan)
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context, scan func(context.Context)) {
	n := atomic.AddUint64(&s.runs, 1)
	start := time.Now()
	scan(ctx)
	s.log.Debug("scheduled scan done", zap.Uint64("run", n), zap.Duration("took", time.Since(start)))
}

func (s *Scheduler) Runs() uint64 {
	return atomic.LoadUint64(&s.runs)
}
