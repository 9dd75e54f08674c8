package crawler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Page outcomes used as the status label.
const (
	statusIndexed = "indexed"
	statusSkipped = "skipped"
	statusFailed  = "failed"
)

// Metrics are the Prometheus collectors of the crawler.
type Metrics struct {
	Pages        *prometheus.CounterVec
	Chunks       prometheus.Counter
	Candidates   prometheus.Gauge
	PassDuration *prometheus.HistogramVec
}

// NewMetrics registers the crawler collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Pages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "travelkb",
			Subsystem: "crawler",
			Name:      "pages_total",
			Help:      "Pages handled by crawl passes, by outcome.",
		}, []string{"status"}),
		Chunks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "travelkb",
			Subsystem: "crawler",
			Name:      "chunks_inserted_total",
			Help:      "Chunks written to the knowledge store.",
		}),
		Candidates: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "travelkb",
			Subsystem: "crawler",
			Name:      "candidates",
			Help:      "Candidate URLs found by the last sitemap walk.",
		}),
		PassDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "travelkb",
			Subsystem: "crawler",
			Name:      "pass_duration_seconds",
			Help:      "Duration of crawl passes.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		}, []string{"mode"}),
	}
}

func (m *Metrics) page(status string) {
	if m != nil {
		m.Pages.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) chunks(n int) {
	if m != nil {
		m.Chunks.Add(float64(n))
	}
}

func (m *Metrics) candidates(n int) {
	if m != nil {
		m.Candidates.Set(float64(n))
	}
}

func (m *Metrics) pass(mode string, seconds float64) {
	if m != nil {
		m.PassDuration.WithLabelValues(mode).Observe(seconds)
	}
}
