package matcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	passTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kqchecker",
			Name:      "matcher_pass_total",
			Help:      "Completed matcher passes.",
		},
	)

	slotOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kqchecker",
			Name:      "matcher_slot_outcomes_total",
			Help:      "Per-slot outcomes of matcher passes.",
		},
		[]string{"outcome"},
	)
)

const (
	outcomeMatched      = "matched"
	outcomeNoAttendance = "no_attendance"
	outcomeQueryError   = "query_error"
	outcomeAuthAbort    = "auth_abort"
)
