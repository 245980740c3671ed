// Package metrics provides Prometheus metrics for the sync engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "stream"

// Metrics records cache and refresh activity. It satisfies both
// cache.Metrics and refresh.Metrics.
type Metrics struct {
	registry *prometheus.Registry

	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheFetches   *prometheus.CounterVec
	cacheEvictions prometheus.Counter

	refreshCycles   *prometheus.CounterVec
	triggersDropped prometheus.Counter
	itemsRefreshed  *prometheus.CounterVec
}

// New creates Metrics on a fresh registry that also carries the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// Cache metrics
		cacheHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total cache reads served from a present entry",
			},
			[]string{"namespace"},
		),
		cacheMisses: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total cache reads that found no entry",
			},
			[]string{"namespace"},
		),
		cacheFetches: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_fetches_total",
				Help:      "Total reader calls made by the cache",
			},
			[]string{"namespace", "status"},
		),
		cacheEvictions: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_evictions_total",
				Help:      "Total entries evicted by garbage collection",
			},
		),

		// Refresh metrics
		refreshCycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_cycles_total",
				Help:      "Total check-for-refresh cycles started",
			},
			[]string{"reason"},
		),
		triggersDropped: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_triggers_dropped_total",
				Help:      "Total triggers dropped because a cycle was running",
			},
		),
		itemsRefreshed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_items_total",
				Help:      "Total item refreshes",
			},
			[]string{"status"},
		),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Hit implements cache.Metrics.
func (m *Metrics) Hit(ns string) { m.cacheHits.WithLabelValues(ns).Inc() }

// Miss implements cache.Metrics.
func (m *Metrics) Miss(ns string) { m.cacheMisses.WithLabelValues(ns).Inc() }

// Fetch implements cache.Metrics.
func (m *Metrics) Fetch(ns string, err error) {
	m.cacheFetches.WithLabelValues(ns, status(err)).Inc()
}

// Evict implements cache.Metrics.
func (m *Metrics) Evict(n int) { m.cacheEvictions.Add(float64(n)) }

// CycleStarted implements refresh.Metrics.
func (m *Metrics) CycleStarted(reason string) {
	// Reasons like "file modify" collapse to their first word.
	for i := 0; i < len(reason); i++ {
		if reason[i] == ' ' {
			reason = reason[:i]
			break
		}
	}
	m.refreshCycles.WithLabelValues(reason).Inc()
}

// TriggerDropped implements refresh.Metrics.
func (m *Metrics) TriggerDropped() { m.triggersDropped.Inc() }

// ItemRefreshed implements refresh.Metrics.
func (m *Metrics) ItemRefreshed(err error) { m.itemsRefreshed.WithLabelValues(status(err)).Inc() }

// RefreshedItems returns how many item refreshes succeeded.
func (m *Metrics) RefreshedItems() int { return counterValue(m.itemsRefreshed.WithLabelValues("success")) }

// FailedItems returns how many item refreshes failed.
func (m *Metrics) FailedItems() int { return counterValue(m.itemsRefreshed.WithLabelValues("error")) }

func counterValue(c prometheus.Counter) int {
	var out dto.Metric
	if err := c.Write(&out); err != nil {
		return 0
	}
	return int(out.GetCounter().GetValue())
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
