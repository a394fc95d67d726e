package metrics

import (
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tastythames/sshscan/internal/cache"
	"github.com/tastythames/sshscan/internal/scheduler"
)

// Metrics holds the registry with per-target results and scanner counters.
type Metrics struct {
	Registry *prometheus.Registry

	// ScansTotal counts completed scan passes.
	ScansTotal prometheus.Counter
	// OutcomesTotal counts host outcomes by connection status.
	OutcomesTotal *prometheus.CounterVec
	// ScanDuration tracks how long a whole pass over the inventory took.
	ScanDuration prometheus.Histogram
	// SinkErrors counts outcomes a report sink failed to write.
	SinkErrors prometheus.Counter
}

func New(c cache.Cache) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(c))
	f := promauto.With(reg)

	f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "up",
		Help:      "1 if the scanner process is running.",
	}).Set(1)

	return &Metrics{
		Registry: reg,
		ScansTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "runs_total",
			Help:      "Total number of completed scan passes",
		}),
		OutcomesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "outcomes_total",
			Help:      "Host outcomes by connection status",
		}, []string{"status"}),
		ScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "Duration of a full scan pass in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4m
		}),
		SinkErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "sink_errors_total",
			Help:      "Outcomes a report sink failed to write",
		}),
	}
}

// ObserveScan records one finished pass.
func (m *Metrics) ObserveScan(stats scheduler.Stats, took time.Duration) {
	m.ScansTotal.Inc()
	m.ScanDuration.Observe(took.Seconds())
	m.OutcomesTotal.WithLabelValues(string(scheduler.StatusSuccess)).Add(float64(stats.Succeeded))
	m.OutcomesTotal.WithLabelValues(string(scheduler.StatusFailed)).Add(float64(stats.Failed))
	m.SinkErrors.Add(float64(stats.SinkErrors))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry for node_exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return errors.Wrap(prometheus.WriteToTextfile(path, m.Registry), "write metrics textfile")
}
