package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voucherops"

// LedgerAdjustments counts balance and credit-limit adjustments by outcome.
var LedgerAdjustments = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "adjustments_total",
	Help:      "Retailer ledger adjustments by operation and outcome.",
}, []string{"operation", "outcome"})

// LedgerRollbacks counts compensating writes issued after an audit insert failed.
var LedgerRollbacks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "rollbacks_total",
	Help:      "Compensating ledger writes by operation and outcome.",
}, []string{"operation", "outcome"})

var LedgerConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "version_conflicts_total",
	Help:      "Optimistic concurrency conflicts that forced a recomputation.",
}, []string{"operation"})

var CommissionResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "commission",
	Name:      "resolutions_total",
	Help:      "Commission resolutions by rate source (override, group, missing).",
}, []string{"source"})

var CommissionCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "commission",
	Name:      "cache_lookups_total",
	Help:      "Commission snapshot cache lookups by result.",
}, []string{"result"})
