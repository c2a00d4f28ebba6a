package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tenant_auth"

// Metrics collects authority and middleware counters.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	tokensIssued   *prometheus.CounterVec
	verifications  *prometheus.CounterVec
	keyRotations   prometheus.Counter
	authDenials    *prometheus.CounterVec
	codesIssued    prometheus.Counter
	tenantsCreated prometheus.Counter
}

// NewMetrics registers all collectors on a private registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Access tokens issued, by grant type.",
		}, []string{"grant_type"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_verifications_total",
			Help:      "Bearer token verifications, by result.",
		}, []string{"result"}),
		keyRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_rotations_total",
			Help:      "Signing key rotations.",
		}),
		authDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorization_denials_total",
			Help:      "Requests rejected by an authorization guard, by reason.",
		}, []string{"reason"}),
		codesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorization_codes_issued_total",
			Help:      "Authorization codes issued.",
		}),
		tenantsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenants_registered_total",
			Help:      "Tenants registered.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.tokensIssued,
		m.verifications,
		m.keyRotations,
		m.authDenials,
		m.codesIssued,
		m.tenantsCreated,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) TokenIssued(grantType string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(grantType).Inc()
}

func (m *Metrics) TokenVerified(result string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(result).Inc()
}

func (m *Metrics) KeyRotated() {
	if m == nil {
		return
	}
	m.keyRotations.Inc()
}

func (m *Metrics) AuthorizationDenied(reason string) {
	if m == nil {
		return
	}
	m.authDenials.WithLabelValues(reason).Inc()
}

func (m *Metrics) CodeIssued() {
	if m == nil {
		return
	}
	m.codesIssued.Inc()
}

func (m *Metrics) TenantRegistered() {
	if m == nil {
		return
	}
	m.tenantsCreated.Inc()
}
