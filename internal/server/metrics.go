package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ballotsCast = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evs_ballots_cast_total",
		Help: "Ballots committed successfully.",
	})
	ballotsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evs_ballots_rejected_total",
		Help: "Ballots rejected, by reason code.",
	}, []string{"reason"})
	reconcileSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evs_reconcile_sweeps_total",
		Help: "Reconciliation sweeps executed.",
	})
	statusChanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evs_election_status_changes_total",
		Help: "Election status transitions applied by sweeps.",
	})
)
