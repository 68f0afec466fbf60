package collab

import "github.com/prometheus/client_golang/prometheus"

var (
	transactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notefiber",
			Subsystem: "sync",
			Name:      "transactions_total",
			Help:      "Committed document transactions by origin.",
		},
		[]string{"origin"},
	)

	echoesSuppressed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "notefiber",
			Subsystem: "sync",
			Name:      "echoes_suppressed_total",
			Help:      "Local change batches kept away from inbound translation.",
		},
	)

	inboundOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notefiber",
			Subsystem: "sync",
			Name:      "inbound_ops_total",
			Help:      "Editor operations replayed from remote changes, by result.",
		},
		[]string{"result"},
	)

	staleDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "notefiber",
			Subsystem: "sync",
			Name:      "stale_ops_dropped_total",
			Help:      "Local operations dropped because their target was gone.",
		},
	)

	malformedRepaired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "notefiber",
			Subsystem: "sync",
			Name:      "malformed_ops_repaired_total",
			Help:      "Local operations applied with unrepresentable inline content left out.",
		},
	)

	rematerializations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "notefiber",
			Subsystem: "sync",
			Name:      "rematerializations_total",
			Help:      "Times an editor was rebuilt from the document.",
		},
	)
)

func init() {
	prometheus.MustRegister(transactionsTotal, echoesSuppressed, inboundOps, staleDropped, malformedRepaired, rematerializations)
}
