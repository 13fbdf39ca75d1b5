package subjectexploder

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "semcatalog_exploder"

// Document outcomes recorded by Metrics.
const (
	outcomeExploded    = "exploded"
	outcomeSkipped     = "skipped"
	outcomeRejected    = "rejected"
	outcomePassthrough = "passthrough"
	outcomeFailed      = "failed"
)

// Metrics exports subject-exploder activity to Prometheus.
type Metrics struct {
	documents       *prometheus.CounterVec
	subjectsEmitted prometheus.Counter
	duration        prometheus.Histogram
}

// NewMetrics registers the exploder collectors with reg, reusing collectors
// that are already registered so several components can share them.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	documents, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "documents_total",
		Help:      "Documents handled by the subject exploder, by outcome.",
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}
	emitted, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "subjects_emitted_total",
		Help:      "Values written to subjectLiteral_exploded.",
	}))
	if err != nil {
		return nil, err
	}
	duration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "process_duration_seconds",
		Help:      "Time to decode, explode and re-encode one document.",
		Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
	}))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		documents:       documents,
		subjectsEmitted: emitted,
		duration:        duration,
	}, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register exploder metric: %w", err)
	}
	return c, nil
}

// RecordDocument tracks one handled document.
func (m *Metrics) RecordDocument(outcome string, emitted int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.documents.WithLabelValues(outcome).Inc()
	if emitted > 0 {
		m.subjectsEmitted.Add(float64(emitted))
	}
	m.duration.Observe(elapsed.Seconds())
}
