// Package metrics holds the Prometheus collectors for the bot. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "osulink"

// Command outcomes.
const (
	OutcomeLinked    = "linked"
	OutcomeUnlinked  = "unlinked"
	OutcomeNotFound  = "not_found"
	OutcomeShown     = "shown"
	OutcomeDenied    = "denied"
	OutcomeError     = "error"
	OutcomeUnhandled = "unhandled"
)

type Metrics struct {
	commands    *prometheus.CounterVec
	osuRequests *prometheus.CounterVec
	osuLatency  *prometheus.HistogramVec
	links       prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Slash command invocations by command and outcome.",
		}, []string{"command", "outcome"}),
		osuRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "osu_requests_total",
			Help:      "Requests sent to the osu! API by endpoint and HTTP status (0 for transport errors).",
		}, []string{"endpoint", "code"}),
		osuLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "osu_request_duration_seconds",
			Help:      "Latency of osu! API requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		links: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "linked_users",
			Help:      "Discord users with a linked osu! username.",
		}),
	}
	reg.MustRegister(m.commands, m.osuRequests, m.osuLatency, m.links)
	return m
}

func (m *Metrics) ObserveCommand(command, outcome string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(command, outcome).Inc()
}

func (m *Metrics) ObserveOsuRequest(endpoint string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.osuRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	m.osuLatency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

func (m *Metrics) SetLinks(n int) {
	if m == nil {
		return
	}
	m.links.Set(float64(n))
}
