// Package metrics exposes Prometheus collectors for arbitrage runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbbot_runs_total",
		Help: "Runs by outcome stage",
	}, []string{"stage"})

	OpportunityProfitBps = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arbbot_opportunity_estimated_profit_bps",
		Help: "Fee-adjusted estimated profit of the last detection",
	}, []string{"market", "direction"})

	SizingCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arbbot_sizing_candidates",
		Help:    "Candidate sizes simulated per search",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	SizingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arbbot_sizing_duration_seconds",
		Help:    "Time spent searching for the optimal size",
		Buckets: prometheus.DefBuckets,
	})

	LegDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arbbot_leg_duration_seconds",
		Help:    "Time from leg start to confirmation",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
	}, []string{"kind", "outcome"})

	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbbot_executions_total",
		Help: "Executions by direction and terminal status",
	}, []string{"direction", "status"})

	RealizedProfit = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arbbot_realized_profit",
		Help: "Realized profit of the last execution in quote units",
	}, []string{"market"})
)
