package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scans counts scan attempts by outcome: entered, exited, rejected.
var Scans = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "libpresence_scans_total",
	Help: "Scan attempts by outcome.",
}, []string{"outcome"})

// ForcedCloses counts logs closed by the reconciler rather than by the
// person's own exit scan.
var ForcedCloses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "libpresence_forced_closes_total",
	Help: "Open logs closed administratively by the reconciler.",
})

// ReconcileRuns counts reconciliation batches (startup and daily cutoff).
var ReconcileRuns = promauto.NewCounter(prometheus.CounterOpts{
	Name: "libpresence_reconcile_runs_total",
	Help: "Reconciliation batches executed.",
})
