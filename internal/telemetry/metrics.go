package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	prometheus.MustRegister(IsolationViolations)
	prometheus.MustRegister(GuardRejections)
	prometheus.MustRegister(ContextSwitches)
}

// IsolationViolations counts operations rejected by the database row
// isolation policies. Nonzero values indicate the application-layer scoped
// query builder was bypassed and should page someone.
var IsolationViolations = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "tally_row_isolation_violations_total",
		Help: "Operations rejected by database row isolation policies",
	},
)

// GuardRejections counts requests rejected by the access guard, by reason.
var GuardRejections = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tally_guard_rejections_total",
		Help: "Requests rejected by the tenant access guard",
	},
	[]string{"reason"},
)

// ContextSwitches counts successful active-organization switches.
var ContextSwitches = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "tally_org_switches_total",
		Help: "Successful active organization switches",
	},
)
