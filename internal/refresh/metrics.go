package refresh

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var outcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kqchecker",
		Name:      "refresh_outcomes_total",
		Help:      "Refresh decisions by outcome.",
	},
	[]string{"outcome"},
)
