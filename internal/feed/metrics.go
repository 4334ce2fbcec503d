package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kqchecker",
			Name:      "feed_fetch_total",
			Help:      "Successful remote fetches by endpoint.",
		},
		[]string{"endpoint"},
	)

	fetchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kqchecker",
			Name:      "feed_fetch_failures_total",
			Help:      "Failed remote fetches by endpoint.",
		},
		[]string{"endpoint"},
	)
)
