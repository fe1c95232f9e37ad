package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors. All methods are
// nil-receiver safe so components can run without a collector set wired
// in, which is how unit tests construct them.
type Metrics struct {
	ConsentOps          *prometheus.CounterVec
	AuthorizeRejections *prometheus.CounterVec
	AnchorSubmissions   *prometheus.CounterVec
	AnchorSubmitLatency *prometheus.HistogramVec
	ReplayReservations  prometheus.Gauge
}

// New creates and registers all collectors on the default registry. Call
// it once per process.
func New() *Metrics {
	return &Metrics{
		ConsentOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consent_operations_total",
			Help: "Consent operations by operation and result",
		}, []string{"op", "result"}),

		AuthorizeRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "authorize_rejections_total",
			Help: "Authorization gate rejections by reason",
		}, []string{"reason"}),

		AnchorSubmissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "anchor_submissions_total",
			Help: "Anchor backend submissions by backend and receipt status",
		}, []string{"backend", "status"}),

		AnchorSubmitLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "anchor_submit_duration_seconds",
			Help:    "Duration of anchor backend submissions",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"backend"}),

		ReplayReservations: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "replay_reservations_active",
			Help: "Consumed-signature reservations currently held",
		}),
	}
}

// ObserveConsentOp records one consent operation outcome.
func (m *Metrics) ObserveConsentOp(op, result string) {
	if m != nil {
		m.ConsentOps.WithLabelValues(op, result).Inc()
	}
}

// IncAuthorizeRejection records one authorization gate rejection.
func (m *Metrics) IncAuthorizeRejection(reason string) {
	if m != nil {
		m.AuthorizeRejections.WithLabelValues(reason).Inc()
	}
}

// ObserveAnchorSubmission records one backend submission and its duration.
func (m *Metrics) ObserveAnchorSubmission(backend, status string, d time.Duration) {
	if m != nil {
		m.AnchorSubmissions.WithLabelValues(backend, status).Inc()
		m.AnchorSubmitLatency.WithLabelValues(backend).Observe(d.Seconds())
	}
}

// SetReplayReservations reports the current reservation count.
func (m *Metrics) SetReplayReservations(n int) {
	if m != nil {
		m.ReplayReservations.Set(float64(n))
	}
}
