package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type worker struct {
	id        int
	connector *Connector
	log       *zap.Logger
	onDone    func(JobOutcome)
}

// run claims jobs until the queue is closed. Once ctx is cancelled, jobs still
// in the queue are answered with ErrScanCancelled instead of being dialled.
func (w *worker) run(ctx context.Context, queue <-chan Job, results chan<- JobOutcome) {
	w.log.Debug("worker started")

	for {
		job, err := next(queue)
		if err != nil {
			w.log.Debug("worker stopped", zap.Error(err))
			return
		}

		var out JobOutcome
		if ctx.Err() != nil {
			out = failedOutcome(job, ErrScanCancelled, time.Now())
		} else {
			// in-flight jobs are not interrupted by a global shutdown
			out = w.process(context.WithoutCancel(ctx), job)
		}

		results <- out
		w.notify(out)
	}
}

// notify calls the OnJobDone hook. A panicking hook is logged and ignored.
func (w *worker) notify(out JobOutcome) {
	if w.onDone == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("recovered panic in job done hook",
				zap.String("job_id", out.JobID), zap.Any("panic", r))
		}
	}()
	w.onDone(out)
}

func next(queue <-chan Job) (Job, error) {
	job, ok := <-queue
	if !ok {
		return Job{}, ErrQueueClosed
	}
	return job, nil
}

// process never panics and always returns exactly one outcome for job.
func (w *worker) process(ctx context.Context, job Job) (out JobOutcome) {
	started := time.Now()
	log := w.log.With(zap.String("job_id", job.ID), zap.String("target", job.Target))

	defer func() {
		if r := recover(); r != nil {
			log.Error("recovered panic while scanning host", zap.Any("panic", r), zap.Stack("stack"))
			out = failedOutcome(job, &PanicError{Value: r}, started)
		}
	}()

	sess, auth, err := w.connector.Connect(ctx, job)
	if err != nil {
		log.Info("connection failed", zap.Int("attempts", auth.Attempts), zap.Error(err))
		out = failedOutcome(job, err, started)
		out.Auth = auth
		return out
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Debug("close session", zap.Error(cerr))
		}
	}()

	log.Debug("authenticated", zap.Stringer("credential", auth.Matched), zap.Int("attempts", auth.Attempts))

	results, execErr := Executor{CommandTimeout: job.CommandTimeout}.Run(ctx, sess, job.Commands)
	if execErr != nil {
		log.Warn("command sequence aborted", zap.Error(execErr))
	}

	return JobOutcome{
		JobID:      job.ID,
		Target:     job.Target,
		Port:       job.Port,
		Labels:     job.Labels,
		Status:     StatusSuccess,
		Auth:       auth,
		Commands:   results,
		ExecErr:    execErr,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
}
