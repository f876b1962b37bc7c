// Package metrics collects the daemon's operational counters on a private
// Prometheus registry so tests can run isolated collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Set struct {
	registry *prometheus.Registry

	TokensIssued   prometheus.Counter
	Verifications  *prometheus.CounterVec
	LoginDecisions *prometheus.CounterVec
	Throttled      prometheus.Counter
}

func New() *Set {
	reg := prometheus.NewRegistry()
	s := &Set{
		registry: reg,
		TokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "latchkey",
			Name:      "login_tokens_issued_total",
			Help:      "Login tokens signed and handed to a callback.",
		}),
		Verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "latchkey",
			Name:      "token_verifications_total",
			Help:      "Token verification attempts by result.",
		}, []string{"result"}),
		LoginDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "latchkey",
			Name:      "login_decisions_total",
			Help:      "Login requests by trust-policy outcome.",
		}, []string{"outcome"}),
		Throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "latchkey",
			Name:      "requests_throttled_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		}),
	}
	reg.MustRegister(
		s.TokensIssued,
		s.Verifications,
		s.LoginDecisions,
		s.Throttled,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return s
}

// Handler serves the registry in the Prometheus exposition format.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for test assertions.
func (s *Set) Registry() *prometheus.Registry { return s.registry }
