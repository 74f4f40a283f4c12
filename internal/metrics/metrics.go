package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dealguard/internal/domain"
)

// Recorder counts committed decisions and times the authorize path. It
// satisfies the gateway's Recorder interface.
type Recorder struct {
	registry  *prometheus.Registry
	decisions *prometheus.CounterVec
	duration  prometheus.Histogram
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealguard_decisions_total",
			Help: "Committed authorization decisions by action, outcome and reason.",
		}, []string{"action", "outcome", "reason"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dealguard_authorize_duration_seconds",
			Help:    "End-to-end latency of the authorize path.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	r.registry.MustRegister(r.decisions, r.duration)
	return r
}

func (r *Recorder) ObserveDecision(action domain.Action, outcome domain.Outcome, reason domain.ReasonCode, elapsed time.Duration) {
	r.decisions.WithLabelValues(string(action), string(outcome), string(reason)).Inc()
	r.duration.Observe(elapsed.Seconds())
}

// Handler serves the scrape endpoint for this recorder's registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
