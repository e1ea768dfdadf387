// Package metrics exposes keyhub's Prometheus instruments.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for session authentication.
const (
	AuthAuthenticated = "authenticated"
	AuthRejected      = "rejected"
	AuthError         = "error"
)

// Metrics holds every instrument on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	authOutcomes          *prometheus.CounterVec
	logins                *prometheus.CounterVec
	keyRotations          *prometheus.CounterVec
	clientSecretRotations prometheus.Counter
	credentialChecks      *prometheus.CounterVec
	httpRequests          *prometheus.CounterVec
	httpDuration          *prometheus.HistogramVec
}

// New creates the instruments and registers them, along with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		authOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keyhub_session_auth_total",
			Help: "Session authentication attempts by outcome",
		}, []string{"outcome"}),
		logins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keyhub_federated_logins_total",
			Help: "Completed federated login callbacks by result",
		}, []string{"result"}),
		keyRotations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keyhub_key_rotations_total",
			Help: "Key rotations by trigger and result",
		}, []string{"trigger", "result"}),
		clientSecretRotations: f.NewCounter(prometheus.CounterOpts{
			Name: "keyhub_client_secret_rotations_total",
			Help: "Client association secrets replaced",
		}),
		credentialChecks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keyhub_credential_checks_total",
			Help: "Client secret verifications by result",
		}, []string{"result"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keyhub_http_requests_total",
			Help: "HTTP requests by method and status code",
		}, []string{"method", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keyhub_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SessionAuth(outcome string) {
	if m == nil {
		return
	}
	m.authOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Login(ok bool) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result(ok)).Inc()
}

// KeyRotation records a rotation; trigger is "manual" or "scheduled".
func (m *Metrics) KeyRotation(trigger string, ok bool) {
	if m == nil {
		return
	}
	m.keyRotations.WithLabelValues(trigger, result(ok)).Inc()
}

func (m *Metrics) ClientSecretRotation() {
	if m == nil {
		return
	}
	m.clientSecretRotations.Inc()
}

// CredentialCheck records a verification; result is "valid", "unknown" or
// "error".
func (m *Metrics) CredentialCheck(result string) {
	if m == nil {
		return
	}
	m.credentialChecks.WithLabelValues(result).Inc()
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
