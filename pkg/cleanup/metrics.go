package cleanup

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds per-invocation pass metrics. A pass is a batch job, so the
// registry is written to a node-exporter textfile rather than served.
type Metrics struct {
	registry *prometheus.Registry

	attempts     *prometheus.CounterVec
	records      *prometheus.CounterVec
	lastDuration prometheus.Gauge
	lastSuccess  prometheus.Gauge
	processed    prometheus.Gauge
}

// NewMetrics creates a fresh registry with the pass collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lexicon",
			Subsystem: "cleanup",
			Name:      "generation_attempts_total",
			Help:      "Generation calls by outcome.",
		}, []string{"outcome"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lexicon",
			Subsystem: "cleanup",
			Name:      "records_total",
			Help:      "Records handled in the last pass by result.",
		}, []string{"result"}),
		lastDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lexicon",
			Subsystem: "cleanup",
			Name:      "last_pass_duration_seconds",
			Help:      "Wall time of the last cleanup pass.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lexicon",
			Subsystem: "cleanup",
			Name:      "last_pass_timestamp_seconds",
			Help:      "Unix time the last cleanup pass finished.",
		}),
		processed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lexicon",
			Subsystem: "ledger",
			Name:      "processed_records",
			Help:      "Record ids present in the processing ledger.",
		}),
	}
	m.registry.MustRegister(m.attempts, m.records, m.lastDuration, m.lastSuccess, m.processed)
	return m
}

// Registry exposes the underlying registry for tests and callers that serve it.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) observeAttempt(outcome string) {
	m.attempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observePass(r *Report, ledgerSize int) {
	m.records.WithLabelValues("proposed").Add(float64(r.Proposed))
	m.records.WithLabelValues("failed").Add(float64(r.Failed))
	m.lastDuration.Set(r.Duration.Seconds())
	m.lastSuccess.Set(float64(time.Now().Unix()))
	m.processed.Set(float64(ledgerSize))
}

// WriteTextfile writes the registry in the text exposition format to path.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
