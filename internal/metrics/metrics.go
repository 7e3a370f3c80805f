// Package metrics 汇总排班核心的 Prometheus 指标，由 /metrics 暴露
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "shift_scheduler"

type metrics struct {
	allocations *prometheus.CounterVec
	transitions *prometheus.CounterVec
	conflicts   prometheus.Counter

	reconcileActions  *prometheus.CounterVec
	reconcileDuration prometheus.Histogram

	cacheLookups       *prometheus.CounterVec
	cacheInvalidations *prometheus.CounterVec
}

var singleton = sync.OnceValue(func() *metrics {
	return &metrics{
		allocations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocations_total",
			Help:      "Booking allocation attempts by result.",
		}, []string{"result"}),
		transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Shift lifecycle transitions by transition and actor type.",
		}, []string{"transition", "actor"}),
		conflicts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_conflicts_total",
			Help:      "Optimistic concurrency conflicts that triggered a retry.",
		}),
		reconcileActions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "actions_total",
			Help:      "Reconciler actions by kind and result.",
		}, []string{"kind", "result"}),
		reconcileDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "pass_duration_seconds",
			Help:      "Duration of a full reconcile pass.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		cacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by view kind and result (hit/miss/error).",
		}, []string{"kind", "result"}),
		cacheInvalidations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Tag invalidations by result.",
		}, []string{"result"}),
	}
})

func Allocation(result string) {
	singleton().allocations.WithLabelValues(result).Inc()
}

func Transition(transition, actor string) {
	singleton().transitions.WithLabelValues(transition, actor).Inc()
}

func PersistenceConflict() {
	singleton().conflicts.Inc()
}

func ReconcileAction(kind, result string) {
	singleton().reconcileActions.WithLabelValues(kind, result).Inc()
}

func ReconcilePass(d time.Duration) {
	singleton().reconcileDuration.Observe(d.Seconds())
}

func CacheLookup(kind, result string) {
	singleton().cacheLookups.WithLabelValues(kind, result).Inc()
}

func CacheInvalidation(result string) {
	singleton().cacheInvalidations.WithLabelValues(result).Inc()
}
