// Package metrics exposes Prometheus telemetry for the root node.
//
// Metrics are global with bounded label cardinality (query kind and
// outcome only). Registration is eager; if no /metrics endpoint is
// exposed, the registration is harmless.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	queriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "treemon_queries_total",
		Help: "Total aggregation queries issued at this node, by kind and outcome",
	}, []string{"kind", "outcome"})

	queryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "treemon_query_duration_seconds",
		Help:    "Latency of aggregation queries over the full tree",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(queriesTotal, queryDuration)
}

// NodeStats is the view of a node the gauges read from.
type NodeStats interface {
	// NumChildren is the number of direct children.
	NumChildren() int
	// KnownNodes is the number of nodes in the tree view.
	KnownNodes() int
}

// RegisterNode registers gauges reading live overlay state from the node.
// Call once per process.
func RegisterNode(node NodeStats) {
	prometheus.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "treemon_children",
			Help: "Number of direct children of this node",
		}, func() float64 { return float64(node.NumChildren()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "treemon_known_nodes",
			Help: "Number of nodes in the tree view (root only exceeds 1)",
		}, func() float64 { return float64(node.KnownNodes()) }),
	)
}

// ObserveQuery records one aggregation query's outcome and latency.
func ObserveQuery(kind string, err error, start time.Time) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	queriesTotal.WithLabelValues(kind, outcome).Inc()
	queryDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}
