package main

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tastythames/sshscan/internal/cache"
	"github.com/tastythames/sshscan/internal/inventory"
	"github.com/tastythames/sshscan/internal/metrics"
	"github.com/tastythames/sshscan/internal/report"
	"github.com/tastythames/sshscan/internal/scheduler"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Rescan the inventory periodically and expose results as Prometheus metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
	addEngineFlags(cmd)
	f := cmd.Flags()
	f.String("listen", ":9222", "HTTP listen address for /metrics and /health")
	f.Duration("interval", 60*time.Second, "time between scans")
	f.Duration("jitter", 5*time.Second, "random extra delay before each scan")
	return cmd
}

// server holds what a serve process keeps between scan passes.
type server struct {
	a       *app
	results *cache.MemCache
	metrics *metrics.Metrics
	sink    scheduler.Sink
	engine  *scheduler.Engine

	// inv is replaced after every successful reload
	inv   *inventory.Inventory
	ready atomic.Bool
}

func (a *app) serve(ctx context.Context) error {
	inv, err := inventory.Load(a.fs, a.v.GetString("inventory"))
	if err != nil {
		return errors.Wrap(err, "load inventory")
	}
	dialer, err := a.dialer()
	if err != nil {
		return err
	}

	s := &server{a: a, inv: inv, results: cache.NewMemCache()}
	s.metrics = metrics.New(s.results)
	s.sink = s.results

	jsonl, err := a.jsonlSink()
	if err != nil {
		return err
	}
	if jsonl != nil {
		defer jsonl.Close()
		s.sink = report.NewMulti(s.results, jsonl)
	}

	s.engine, err = scheduler.New(scheduler.Options{
		Workers:   a.v.GetInt("workers"),
		QueueSize: a.v.GetInt("queue-size"),
		Dialer:    dialer,
		Sink:      s.sink,
		Logger:    a.log,
	})
	if err != nil {
		return err
	}

	sched := scheduler.NewScheduler(scheduler.ScheduleOptions{
		Interval: a.v.GetDuration("interval"),
		Jitter:   a.v.GetDuration("jitter"),
		Logger:   a.log,
	})

	srv := &http.Server{
		Addr:              a.v.GetString("listen"),
		Handler:           s.mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("sshscan listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		sched.Run(gctx, s.pass)
		return nil
	})

	err = g.Wait()
	a.log.Info("shutdown", zap.Uint64("scans", sched.Runs()))
	return err
}

// pass reloads the inventory and scans it once. A broken inventory keeps the
// previous one.
func (s *server) pass(ctx context.Context) {
	if inv, err := inventory.Load(s.a.fs, s.a.v.GetString("inventory")); err != nil {
		s.a.log.Warn("inventory reload failed, keeping previous", zap.Error(err))
	} else {
		s.inv = inv
	}

	started := time.Now()
	stats, err := s.engine.Run(ctx, s.inv.Jobs())
	if err != nil {
		s.a.log.Error("scan failed", zap.Error(err))
		return
	}
	s.metrics.ObserveScan(stats, time.Since(started))
	s.ready.Store(true)
}

func (s *server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, _ *http.Request) {
		if !s.ready.Load() {
			http.Error(w, "first scan still running", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}
