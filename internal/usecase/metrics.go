package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/example/cellscan/internal/classifier"
)

// Outcome labels for submissions_total.
const (
	OutcomeSuccess   = "success"
	OutcomeHTTPError = "http_error"
	OutcomeFailure   = "failure"
	OutcomeCanceled  = "canceled"
)

// MetricsSummary represents aggregated classification insights.
type MetricsSummary struct {
	TotalRequests              int64   `json:"total_requests"`
	SuccessfulRequests         int64   `json:"successful_requests"`
	FailedRequests             int64   `json:"failed_requests"`
	CanceledRequests           int64   `json:"canceled_requests"`
	StaleResults               int64   `json:"stale_results"`
	ActiveSessions             int64   `json:"active_sessions"`
	SuccessRate                float64 `json:"success_rate"`
	AverageConfidence          float64 `json:"average_confidence"`
	AverageProcessingLatencyMs float64 `json:"average_processing_latency_ms"`
}

// Metrics records submission outcomes to Prometheus and keeps a running summary.
type Metrics struct {
	submissions *prometheus.CounterVec
	stale       prometheus.Counter
	duration    prometheus.Histogram
	sessions    prometheus.Gauge

	mu            sync.Mutex
	total         int64
	succeeded     int64
	failed        int64
	canceled      int64
	staleCount    int64
	active        int64
	confidenceSum float64
	latencySum    time.Duration
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cellscan",
			Name:      "submissions_total",
			Help:      "Classification submissions by outcome.",
		}, []string{"outcome"}),
		stale: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cellscan",
			Name:      "stale_results_total",
			Help:      "Classification outcomes discarded because a newer selection replaced them.",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cellscan",
			Name:      "classification_duration_seconds",
			Help:      "Round trip time of classifier requests.",
			Buckets:   prometheus.DefBuckets,
		}),
		sessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "cellscan",
			Name:      "active_sessions",
			Help:      "Browser sessions holding an upload component.",
		}),
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	if errors.Is(err, context.Canceled) {
		return OutcomeCanceled
	}
	var statusErr *classifier.StatusError
	if errors.As(err, &statusErr) {
		return OutcomeHTTPError
	}
	return OutcomeFailure
}

func (m *Metrics) observeSubmission(elapsed time.Duration, prediction *classifier.Prediction, err error) {
	if m == nil {
		return
	}
	outcome := outcomeOf(err)
	m.submissions.WithLabelValues(outcome).Inc()
	m.duration.Observe(elapsed.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.total++
	m.latencySum += elapsed
	switch outcome {
	case OutcomeSuccess:
		m.succeeded++
		m.confidenceSum += prediction.Confidence
	case OutcomeCanceled:
		m.canceled++
	default:
		m.failed++
	}
}

func (m *Metrics) observeStale() {
	if m == nil {
		return
	}
	m.stale.Inc()
	m.mu.Lock()
	m.staleCount++
	m.mu.Unlock()
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
	m.mu.Lock()
	m.active++
	m.mu.Unlock()
}

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessions.Dec()
	m.mu.Lock()
	m.active--
	m.mu.Unlock()
}

// Summary aggregates everything recorded so far.
func (m *Metrics) Summary() *MetricsSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	summary := &MetricsSummary{
		TotalRequests:      m.total,
		SuccessfulRequests: m.succeeded,
		FailedRequests:     m.failed,
		CanceledRequests:   m.canceled,
		StaleResults:       m.staleCount,
		ActiveSessions:     m.active,
	}
	// Canceled submissions were replaced, not answered, so they stay out of the rate.
	if settled := m.succeeded + m.failed; settled > 0 {
		summary.SuccessRate = float64(m.succeeded) / float64(settled)
	}
	if m.total > 0 {
		summary.AverageProcessingLatencyMs = float64(m.latencySum) / float64(time.Millisecond) / float64(m.total)
	}
	if m.succeeded > 0 {
		summary.AverageConfidence = m.confidenceSum / float64(m.succeeded)
	}
	return summary
}
