package service

import "github.com/prometheus/client_golang/prometheus"

var (
	updatesAppended = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notefiber",
			Subsystem: "store",
			Name:      "updates_appended_total",
			Help:      "Updates offered to the document log, by result.",
		},
		[]string{"result"},
	)

	updateBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "notefiber",
			Subsystem: "store",
			Name:      "update_bytes",
			Help:      "Size of stored updates.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		},
	)

	compactions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "notefiber",
			Subsystem: "store",
			Name:      "compactions_total",
			Help:      "Update logs folded into one row.",
		},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notefiber",
			Subsystem: "store",
			Name:      "cache_lookups_total",
			Help:      "Live document lookups, by hit or miss.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(updatesAppended, updateBytes, compactions, cacheLookups)
}
