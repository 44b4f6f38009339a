// Package observability provides Prometheus metrics and component health.
package observability

import (
	"net/http"

	"github.com/nexus-trading/forkwatch/internal/feed"
	"github.com/nexus-trading/forkwatch/internal/gate"
	"github.com/nexus-trading/forkwatch/internal/monitor"
	"github.com/nexus-trading/forkwatch/internal/onchain"
	"github.com/nexus-trading/forkwatch/internal/risk"
	"github.com/nexus-trading/forkwatch/internal/rugcheck"
	"github.com/nexus-trading/forkwatch/internal/solana"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes pipeline counters on a private registry. Most series read
// component Stats at scrape time.
type Metrics struct {
	namespace string
	registry  *prometheus.Registry

	AssessmentLatency *prometheus.HistogramVec
	AssessmentScore   prometheus.Histogram
}

// NewMetrics creates a registry with Go runtime collectors and the
// assessment histograms.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "forkwatch"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		namespace: namespace,
		registry:  reg,
		AssessmentLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "assessment_latency_seconds",
			Help:      "Assessment latency in seconds by risk level",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"level"}),
		AssessmentScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "assessment_score",
			Help:      "Distribution of risk scores",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
	}
	reg.MustRegister(m.AssessmentLatency, m.AssessmentScore)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Counter registers a counter read from fn at scrape time.
func (m *Metrics) Counter(subsystem, name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn))
}

// Gauge registers a gauge read from fn at scrape time.
func (m *Metrics) Gauge(subsystem, name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn))
}

// ObserveMonitor registers monitor and queue series and subscribes the
// assessment histograms to m's notifications.
func (m *Metrics) ObserveMonitor(mon *monitor.Monitor) monitor.SubscriptionID {
	stat := func(pick func(monitor.Stats) int64) func() float64 {
		return func() float64 { return float64(pick(mon.Stats())) }
	}
	m.Gauge("monitor", "running", "1 while the monitor is running", func() float64 {
		return boolGauge(mon.Running())
	})
	m.Counter("monitor", "candidates_total", "Candidates admitted to the queue",
		stat(func(s monitor.Stats) int64 { return s.Candidates }))
	m.Counter("monitor", "duplicates_total", "Candidates rejected as duplicates",
		stat(func(s monitor.Stats) int64 { return s.Duplicates }))
	m.Counter("monitor", "assessed_total", "Assessments completed",
		stat(func(s monitor.Stats) int64 { return s.Assessed }))
	m.Counter("monitor", "forkable_total", "Fork opportunities found",
		stat(func(s monitor.Stats) int64 { return s.Forkable }))
	m.Counter("monitor", "assess_errors_total", "Assessments that failed",
		stat(func(s monitor.Stats) int64 { return s.AssessErrors }))
	m.Counter("monitor", "adapter_errors_total", "Errors reported by event sources",
		stat(func(s monitor.Stats) int64 { return s.AdapterErrors }))
	m.Counter("monitor", "dropped_notifications_total", "Observer notifications dropped on shutdown",
		stat(func(s monitor.Stats) int64 { return s.DroppedNotifications }))

	q := mon.Queue()
	m.Gauge("queue", "depth", "Buffered candidates", func() float64 { return float64(q.Len()) })
	m.Counter("queue", "evicted_total", "Candidates dropped from a full queue", func() float64 {
		return float64(q.Stats().Evicted)
	})
	m.Counter("queue", "delivered_total", "Candidates handed to the engine", func() float64 {
		return float64(q.Stats().Delivered)
	})
	m.Counter("queue", "panics_total", "Deliveries that panicked", func() float64 {
		return float64(q.Stats().Panics)
	})

	return mon.Subscribe(monitor.Handlers{
		OnAssessment: func(_ feed.TokenLaunchEvent, a risk.Assessment) {
			m.AssessmentLatency.WithLabelValues(string(a.Level)).Observe(float64(a.LatencyMs) / 1000)
			m.AssessmentScore.Observe(float64(a.Score))
		},
	})
}

// ObserveGate registers request gate series.
func (m *Metrics) ObserveGate(g *gate.Gate) {
	m.Counter("gate", "attempts_total", "Requests attempted through the gate", func() float64 {
		return float64(g.Stats().Attempts)
	})
	m.Counter("gate", "rate_limited_total", "Attempts rejected by a rate limit", func() float64 {
		return float64(g.Stats().RateLimited)
	})
	m.Counter("gate", "exhausted_total", "Requests abandoned after all retries", func() float64 {
		return float64(g.Stats().Exhausted)
	})
	m.Counter("gate", "failures_total", "Requests that failed with a non rate-limit error", func() float64 {
		return float64(g.Stats().Failures)
	})
}

// ObserveEngine registers assessment engine series.
func (m *Metrics) ObserveEngine(e *risk.Engine) {
	m.Counter("risk", "report_misses_total", "Assessments without a third-party report", func() float64 {
		return float64(e.Stats().ReportMisses)
	})
	m.Counter("risk", "report_errors_total", "Third-party report fetch errors", func() float64 {
		return float64(e.Stats().ReportErrors)
	})
}

// ObserveRugCheck registers RugCheck client series.
func (m *Metrics) ObserveRugCheck(c *rugcheck.Client) {
	m.Counter("rugcheck", "requests_total", "Report requests sent", func() float64 {
		return float64(c.Stats().Requests)
	})
	m.Counter("rugcheck", "not_found_total", "Reports not available", func() float64 {
		return float64(c.Stats().NotFound)
	})
	m.Counter("rugcheck", "failures_total", "Report requests that failed", func() float64 {
		return float64(c.Stats().Failures)
	})
}

// ObserveVerifier registers on-chain verifier series.
func (m *Metrics) ObserveVerifier(v *onchain.Verifier) {
	m.Counter("onchain", "reads_total", "On-chain checks run", func() float64 {
		return float64(v.Stats().Reads)
	})
	m.Counter("onchain", "unknowns_total", "On-chain checks that left a flag unknown", func() float64 {
		return float64(v.Stats().Unknowns)
	})
	m.Counter("onchain", "failures_total", "On-chain reads that errored", func() float64 {
		return float64(v.Stats().Failures)
	})
}

// ObservePushFeed registers push adapter series.
func (m *Metrics) ObservePushFeed(a *feed.PushAdapter) {
	m.Gauge("push_feed", "connected", "1 while the push feed session is open", func() float64 {
		return boolGauge(a.Connected())
	})
	m.Counter("push_feed", "frames_total", "Frames received", func() float64 {
		return float64(a.Stats().Frames)
	})
	m.Counter("push_feed", "emitted_total", "Launch events emitted", func() float64 {
		return float64(a.Stats().Emitted)
	})
	m.Counter("push_feed", "malformed_total", "Frames that failed to parse", func() float64 {
		return float64(a.Stats().Malformed)
	})
	m.Counter("push_feed", "reconnects_total", "Feed reconnects", func() float64 {
		return float64(a.Stats().Reconnects)
	})
}

// ObserveLogFeed registers log-subscription adapter series.
func (m *Metrics) ObserveLogFeed(a *feed.LogAdapter, stream *solana.LogStream) {
	m.Counter("log_feed", "notifications_total", "Log notifications received", func() float64 {
		return float64(a.Stats().Notifications)
	})
	m.Counter("log_feed", "resolve_errors_total", "Transactions that could not be resolved", func() float64 {
		return float64(a.Stats().ResolveErrors)
	})
	m.Counter("log_feed", "emitted_total", "Launch events emitted", func() float64 {
		return float64(a.Stats().Emitted)
	})
	m.Gauge("log_feed", "seen_mints", "Mints remembered for dedup", func() float64 {
		return float64(a.Stats().Seen)
	})
	if stream == nil {
		return
	}
	m.Gauge("log_stream", "connected", "1 while the log websocket is connected", func() float64 {
		return boolGauge(stream.Connected())
	})
	m.Counter("log_stream", "reconnects_total", "Log websocket reconnects", func() float64 {
		return float64(stream.Stats().Reconnects)
	})
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
