package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pointsCreditedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ecostreak_points_credited_total",
		Help: "Points credited to user balances, by source.",
	}, []string{"source"})

	pointsDebitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ecostreak_points_debited_total",
		Help: "Points debited from user balances, by source.",
	}, []string{"source"})

	appreciationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ecostreak_post_appreciations_total",
		Help: "Appreciation records appended to posts.",
	})

	ledgerFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ecostreak_ledger_failures_total",
		Help: "Ledger operation failures, by error code.",
	}, []string{"code"})
)
