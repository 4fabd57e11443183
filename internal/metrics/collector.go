// Package metrics exposes ladder lifecycle counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/challenge-ladder/internal/domain"
	"github.com/challenge-ladder/internal/service"
)

const namespace = "ladder"

// Collector records challenge and exchange outcomes.
type Collector struct {
	registry    *prometheus.Registry
	created     prometheus.Counter
	rejected    *prometheus.CounterVec
	transitions *prometheus.CounterVec
	exchanges   *prometheus.CounterVec
}

var _ service.Metrics = (*Collector)(nil)

// NewCollector registers the ladder counters on a fresh registry
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "challenges_created_total",
			Help:      "Challenges accepted by the eligibility chain.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "challenges_rejected_total",
			Help:      "Challenges rejected, by the gate that refused them.",
		}, []string{"gate"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "challenge_transitions_total",
			Help:      "Challenges leaving the pending state, by final status.",
		}, []string{"status"}),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rank_exchanges_total",
			Help:      "Rank exchange attempts, by outcome.",
		}, []string{"success"}),
	}

	c.registry.MustRegister(
		c.created,
		c.rejected,
		c.transitions,
		c.exchanges,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry holding the ladder counters
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ChallengeCreated() {
	c.created.Inc()
}

func (c *Collector) GateRejected(gate string) {
	c.rejected.WithLabelValues(gate).Inc()
}

func (c *Collector) ChallengeTransitioned(status domain.ChallengeStatus) {
	c.transitions.WithLabelValues(string(status)).Inc()
}

func (c *Collector) RanksExchanged(success bool) {
	c.exchanges.WithLabelValues(strconv.FormatBool(success)).Inc()
}
