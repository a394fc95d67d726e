package scheduler

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var ErrEngineBusy = errors.New("engine is already running a scan")

type Options struct {
	// Workers is the fixed pool size W.
	Workers int
	// QueueSize is the connection queue buffer; defaults to 2*Workers.
	QueueSize int

	Dialer Dialer
	Sink   Sink
	Logger *zap.Logger

	// OnJobDone is called by a worker after its outcome has been queued for
	// the sink. It may be called concurrently.
	OnJobDone func(JobOutcome)
}

// Stats summarises one Run.
type Stats struct {
	Enqueued   int
	Rejected   int
	Cancelled  int
	Succeeded  int
	Failed     int
	SinkErrors int
}

// Outcomes is the number of outcomes delivered to the sink.
func (s Stats) Outcomes() int { return s.Succeeded + s.Failed }

// Engine runs a worker pool over a job source and serialises outcomes into a
// sink.
type Engine struct {
	workers   int
	queueSize int
	connector *Connector
	sink      Sink
	log       *zap.Logger
	onJobDone func(JobOutcome)

	running atomic.Bool
}

func New(opts Options) (*Engine, error) {
	if opts.Workers < 1 {
		return nil, errors.New("scheduler: at least one worker is required")
	}
	if opts.Dialer == nil {
		return nil, errors.New("scheduler: dialer is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("scheduler: sink is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 2 * opts.Workers
	}

	return &Engine{
		workers:   opts.Workers,
		queueSize: opts.QueueSize,
		connector: NewConnector(opts.Dialer, opts.Logger),
		sink:      opts.Sink,
		log:       opts.Logger,
		onJobDone: opts.OnJobDone,
	}, nil
}

// Run scans every job from src and returns once each one has produced exactly
// one outcome in the sink. Cancelling ctx stops new connections; jobs already
// connecting or executing finish normally.
func (e *Engine) Run(ctx context.Context, src iter.Seq[Job]) (Stats, error) {
	if !e.running.CompareAndSwap(false, true) {
		return Stats{}, ErrEngineBusy
	}
	defer e.running.Store(false)

	queue := make(chan Job, e.queueSize)
	results := make(chan JobOutcome, e.workers)

	agg := &aggregator{sink: e.sink, log: e.log}
	aggDone := make(chan struct{})
	go func() {
		defer close(aggDone)
		agg.run(results)
	}()

	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		w := &worker{
			id:        i,
			connector: e.connector,
			log:       e.log.With(zap.Int("worker", i)),
			onDone:    e.onJobDone,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.run(ctx, queue, results)
		}()
	}
	e.log.Info("scan started", zap.Int("workers", e.workers))

	d := &dispatcher{queue: queue, results: results, log: e.log}
	d.run(ctx, src)

	// every worker has pushed its last outcome before results is closed
	wg.Wait()
	close(results)
	<-aggDone

	stats := Stats{
		Enqueued:   int(d.enqueued.Load()),
		Rejected:   int(d.rejected.Load()),
		Cancelled:  int(d.cancelled.Load()),
		Succeeded:  agg.succeeded,
		Failed:     agg.failed,
		SinkErrors: agg.sinkErrors,
	}
	e.log.Info("scan finished",
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed),
		zap.Int("rejected", stats.Rejected),
		zap.Int("sink_errors", stats.SinkErrors))
	return stats, nil
}
