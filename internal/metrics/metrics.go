// Package metrics defines the prometheus collectors exported by the guardian.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "guardian"

// Request outcomes recorded by the gateway.
const (
	OutcomeSuccess     = "success"
	OutcomeAuthExpired = "auth_expired"
	OutcomeCSRFInvalid = "csrf_invalid"
	OutcomeServerError = "server_error"
	OutcomeNetwork     = "network_failure"
)

// Peer marker results recorded by the synchronizer.
const (
	PeerRearmed = "rearmed"
	PeerExpired = "expired"
	PeerIgnored = "ignored"
)

// Metrics groups every collector used by one guardian process.
type Metrics struct {
	Requests       *prometheus.CounterVec
	CSRFRefreshes  prometheus.Counter
	AuthRechecks   prometheus.Counter
	ExpiryWarnings prometheus.Counter
	PeerMarkers    *prometheus.CounterVec
}

// New registers the collectors on reg. Tests pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Gateway requests by terminal outcome.",
		}, []string{"outcome"}),
		CSRFRefreshes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "csrf_refresh_total",
			Help:      "CSRF token refreshes triggered by a 403.",
		}),
		AuthRechecks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_recheck_total",
			Help:      "Background authentication rechecks triggered by a 401.",
		}),
		ExpiryWarnings: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expiry_warnings_total",
			Help:      "Session expiry warnings shown.",
		}),
		PeerMarkers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_markers_total",
			Help:      "Activity markers received from peer tabs, by result.",
		}, []string{"result"}),
	}
}

// NewUnregistered returns collectors attached to a private registry.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
