// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mia-platform/icedispatch/internal/communicator"
	"github.com/mia-platform/icedispatch/internal/protocol"
)

const namespace = "icedispatch"

var _ communicator.Metrics = &Metrics{}

// Metrics collects the dispatch, connection and thread pool metrics of one
// communicator in its own registry.
type Metrics struct {
	registry *prometheus.Registry

	dispatches       *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	threadsInUse     *prometheus.GaugeVec
	connections      *prometheus.GaugeVec
}

// New returns Metrics with a fresh registry. withRuntime adds the process and
// Go runtime collectors.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_total",
				Help:      "Total number of dispatched requests by reply status.",
			},
			[]string{"adapter", "operation", "status"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Duration of request dispatches.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10), // 100µs to ~26s
			},
			[]string{"adapter", "operation"},
		),
		threadsInUse: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "threadpool",
				Name:      "in_use",
				Help:      "Number of thread pool workers running a task.",
			},
			[]string{"pool"},
		),
		connections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connections",
				Help:      "Number of open incoming connections.",
			},
			[]string{"adapter"},
		),
	}

	m.registry.MustRegister(m.dispatches, m.dispatchDuration, m.threadsInUse, m.connections)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewGoCollector(),
		)
	}
	return m
}

// ObserveDispatch records the outcome of a request.
func (m *Metrics) ObserveDispatch(adapter, operation string, status protocol.ReplyStatus, elapsed time.Duration) {
	m.dispatches.WithLabelValues(adapter, operation, statusLabel(status)).Inc()
	m.dispatchDuration.WithLabelValues(adapter, operation).Observe(elapsed.Seconds())
}

// statusLabel turns "object not exist" into "object_not_exist".
func statusLabel(status protocol.ReplyStatus) string {
	return strings.ReplaceAll(status.String(), " ", "_")
}

func (m *Metrics) SetConnections(adapter string, count int) {
	m.connections.WithLabelValues(adapter).Set(float64(count))
}

func (m *Metrics) SetThreadsInUse(pool string, inUse int) {
	m.threadsInUse.WithLabelValues(pool).Set(float64(inUse))
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
