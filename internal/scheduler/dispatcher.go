package scheduler

import (
	"context"
	"iter"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// dispatcher feeds the connection queue from a job source.
type dispatcher struct {
	queue   chan<- Job
	results chan<- JobOutcome
	log     *zap.Logger

	enqueued  atomic.Uint64
	rejected  atomic.Uint64
	cancelled atomic.Uint64
}

// run pushes every job from src, blocking while the queue is full, then closes
// the queue so every worker sees the end of input. Jobs that are invalid, or
// that were read but could not be queued before ctx ended, are answered
// directly on the result channel.
func (d *dispatcher) run(ctx context.Context, src iter.Seq[Job]) {
	defer close(d.queue)

	for job := range src {
		job = job.withDefaults()
		if job.ID == "" {
			job.ID = uuid.NewString()
		}

		if err := job.Validate(); err != nil {
			d.rejected.Add(1)
			d.log.Warn("job rejected", zap.String("job_id", job.ID), zap.Error(err))
			d.results <- failedOutcome(job, err, time.Now())
			continue
		}

		if ctx.Err() != nil {
			d.abandon(ctx, job)
			return
		}
		select {
		case d.queue <- job:
			d.enqueued.Add(1)
		case <-ctx.Done():
			d.abandon(ctx, job)
			return
		}
	}
}

// abandon answers a job that was read from the source but never queued.
func (d *dispatcher) abandon(ctx context.Context, job Job) {
	d.cancelled.Add(1)
	d.results <- failedOutcome(job, ErrScanCancelled, time.Now())
	d.log.Info("job source abandoned", zap.Error(ctx.Err()))
}
