// Package metrics exposes Prometheus counters for authentication outcomes.
// All metrics use the "tutorlink" namespace and live in a Registry owned by
// the process, served on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tutorlink"

// Recorder holds the service's collectors. A nil *Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	authAttempts  *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	revocations   *prometheus.CounterVec
	roleChanges   *prometheus.CounterVec
	verifyLatency prometheus.Histogram
}

// New creates a Recorder with its own registry, including Go runtime and
// process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		// method: password | google; outcome: success | invalid_credentials | locked_out | ...
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Sign-in attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "refreshes_total",
			Help:      "Refresh token rotations by outcome.",
		}, []string{"outcome"}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "revocations_total",
			Help:      "Refresh tokens revoked by reason.",
		}, []string{"reason"}),
		roleChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "roles",
			Name:      "changes_total",
			Help:      "Audited role changes by new role.",
		}, []string{"role"}),
		verifyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "federated",
			Name:      "verify_duration_seconds",
			Help:      "Latency of federated credential verification.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.authAttempts,
		r.refreshes,
		r.revocations,
		r.roleChanges,
		r.verifyLatency,
	)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) AuthAttempt(method, outcome string) {
	if r == nil {
		return
	}
	r.authAttempts.WithLabelValues(method, outcome).Inc()
}

func (r *Recorder) Refresh(outcome string) {
	if r == nil {
		return
	}
	r.refreshes.WithLabelValues(outcome).Inc()
}

func (r *Recorder) Revoked(reason string, n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.revocations.WithLabelValues(reason).Add(float64(n))
}

func (r *Recorder) RoleChanged(role string) {
	if r == nil {
		return
	}
	r.roleChanges.WithLabelValues(role).Inc()
}

// ObserveVerify records how long a federated verification took.
func (r *Recorder) ObserveVerify(d time.Duration) {
	if r == nil {
		return
	}
	r.verifyLatency.Observe(d.Seconds())
}
