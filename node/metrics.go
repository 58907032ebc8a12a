// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bureau-foundation/bootstore/bootstore"
	"github.com/bureau-foundation/bootstore/lib/clock"
	"github.com/bureau-foundation/bootstore/lib/version"
)

const namespace = "bootstore"

// states lists every Fsm state name for the one-hot state gauge.
var states = []string{"uninitialized", "initial_member", "learning", "learned"}

// Metrics are the Prometheus collectors of one node. Each node has its
// own registry so several nodes can share a process in tests.
type Metrics struct {
	Registry *prometheus.Registry

	ticks            prometheus.Counter
	messagesReceived *prometheus.CounterVec
	messagesSent     *prometheus.CounterVec
	messagesDropped  *prometheus.CounterVec
	sendDuration     prometheus.Histogram
	persists         prometheus.Counter
	apiCalls         *prometheus.CounterVec
	apiCallsPending  prometheus.Gauge
	state            *prometheus.GaugeVec
	connectedPeers   prometheus.Gauge
	trackedRequests  prometheus.Gauge
	learnersServed   prometheus.Gauge
	buildInfo        *prometheus.GaugeVec
}

// NewMetrics registers the node collectors. Uptime is measured on
// clk.
func NewMetrics(clk clock.Clock) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Logical ticks processed by the state machine.",
		}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Messages received from peers.",
		}, []string{"kind"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages delivered to peers.",
		}, []string{"kind"}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Messages not delivered, by reason.",
		}, []string{"reason"}),
		sendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_duration_seconds",
			Help:      "Latency of message delivery to peers.",
			// 1ms .. ~4s.
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 13),
		}),
		persists: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_writes_total",
			Help:      "Persistent state writes.",
		}),
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_calls_total",
			Help:      "Local API calls, by operation and result.",
		}, []string{"operation", "result"}),
		apiCallsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "api_calls_pending",
			Help:      "Local API calls waiting on peers.",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current state machine state (1 for the active state).",
		}, []string{"state"}),
		connectedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_peers",
			Help:      "Peers currently reachable.",
		}),
		trackedRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_requests",
			Help:      "Outstanding requests awaiting responses.",
		}),
		learnersServed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "learners_served",
			Help:      "Learner shares handed out by this founding member.",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		}, []string{"version", "git_sha"}),
	}

	start := clk.Now()
	uptime := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Node uptime in seconds.",
	}, func() float64 { return clk.Now().Sub(start).Seconds() })

	m.Registry.MustRegister(
		m.ticks, m.messagesReceived, m.messagesSent, m.messagesDropped,
		m.sendDuration, m.persists, m.apiCalls, m.apiCallsPending,
		m.state, m.connectedPeers, m.trackedRequests, m.learnersServed,
		m.buildInfo, uptime,
	)
	m.buildInfo.WithLabelValues(version.Version, version.Commit()).Set(1)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeStatus(status bootstore.Status) {
	for _, name := range states {
		value := 0.0
		if name == status.State {
			value = 1
		}
		m.state.WithLabelValues(name).Set(value)
	}
	m.connectedPeers.Set(float64(status.ConnectedPeers))
	m.trackedRequests.Set(float64(status.TrackedRequests))
	m.learnersServed.Set(float64(status.LearnersServed))
}

func (m *Metrics) apiResult(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.apiCalls.WithLabelValues(operation, result).Inc()
}

// msgKind labels a message by its request or response kind.
func msgKind(msg bootstore.Msg) string {
	switch {
	case msg.Request != nil:
		return msg.Request.Kind.String()
	case msg.Response != nil:
		return msg.Response.Kind.String()
	default:
		return "empty"
	}
}
