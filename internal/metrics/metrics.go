package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Handler struct {
	RequestsReceived       *prometheus.CounterVec
	ReportsSubmittedTotal  *prometheus.CounterVec
	ReportsRejectedTotal   *prometheus.CounterVec
	ReportsSuppressedTotal prometheus.Counter
	PIIRedactionsTotal     *prometheus.CounterVec
	QueueDepth             prometheus.Gauge
	SubmitLatency          *prometheus.HistogramVec
}

type Options struct {
	// Additional labels necessary
}

func New(name string) (*Handler, error) {
	return &Handler{
		RequestsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_received",
			Help: "The total number of http requests received",
		}, []string{"status"}),
		ReportsSubmittedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "reports_submitted_total",
			Help: "The total number of bug reports submitted to the pipeline",
		}, []string{"source"}),
		ReportsRejectedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "reports_rejected_total",
			Help: "The total number of bug reports rejected before enqueue",
		}, []string{"reason"}),
		ReportsSuppressedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "reports_suppressed_total",
			Help: "The total number of duplicate reports suppressed",
		}),
		PIIRedactionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pii_redactions_total",
			Help: "The total number of PII spans redacted",
		}, []string{"kind"}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "delivery_queue_depth",
			Help: "The number of reports waiting for delivery",
		}),
		SubmitLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "report_submit_latency_seconds",
			Help:    "The latency of report submission",
			Buckets: prometheus.DefBuckets,
		}, []string{"success"}),
	}, nil
}

// IncReportsSubmittedTotal increments the submitted reports counter
func (h *Handler) IncReportsSubmittedTotal(source string) {
	h.ReportsSubmittedTotal.WithLabelValues(source).Inc()
}

// IncReportsRejectedTotal increments the rejected reports counter
func (h *Handler) IncReportsRejectedTotal(reason string) {
	h.ReportsRejectedTotal.WithLabelValues(reason).Inc()
}

// IncPIIRedactionsTotal increments the redaction counter for a kind
func (h *Handler) IncPIIRedactionsTotal(kind string) {
	h.PIIRedactionsTotal.WithLabelValues(kind).Inc()
}

// ObserveSubmitLatency records the latency of a submission
func (h *Handler) ObserveSubmitLatency(duration time.Duration, success bool) {
	successStr := "true"
	if !success {
		successStr = "false"
	}
	h.SubmitLatency.WithLabelValues(successStr).Observe(duration.Seconds())
}

// Counter represents a Prometheus counter
type Counter struct {
	prometheus.Counter
}

// Histogram represents a Prometheus histogram
type Histogram struct {
	prometheus.Histogram
}

// Gauge represents a Prometheus gauge
type Gauge struct {
	prometheus.Gauge
}

// NewCounter creates a new counter metric
func (h *Handler) NewCounter(name, help string) *Counter {
	return &Counter{promauto.NewCounter(prometheus.CounterOpts{
		Name: name,
		Help: help,
	})}
}

// NewHistogram creates a new histogram metric
func (h *Handler) NewHistogram(name, help string) *Histogram {
	return &Histogram{promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    name,
		Help:    help,
		Buckets: prometheus.DefBuckets,
	})}
}

// NewGauge creates a new gauge metric
func (h *Handler) NewGauge(name, help string) *Gauge {
	return &Gauge{promauto.NewGauge(prometheus.GaugeOpts{
		Name: name,
		Help: help,
	})}
}
