package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	auctionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auction",
		Name:      "runs_total",
		Help:      "Auctions run, partitioned by strategy and outcome.",
	}, []string{"strategy", "outcome"})

	auctionBids = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auction",
		Name:      "bids_total",
		Help:      "Bids received by the auction coordinator.",
	})

	auctionAdmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auction",
		Name:      "bids_admitted_total",
		Help:      "Bids that passed proof verification.",
	})

	agentOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "solver",
		Name:      "outcomes_total",
		Help:      "Per-solver solicitation outcomes.",
	}, []string{"solver", "status"})

	agentLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "solver",
		Name:      "propose_duration_seconds",
		Help:      "Time taken by solvers to answer a solicitation.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 3, 5},
	}, []string{"solver"})

	transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "transitions_total",
		Help:      "Lifecycle stage transitions, partitioned by stage and result.",
	}, []string{"stage", "result"})
)

// ObserveAuction records one auction run.
func ObserveAuction(strategy string, total, admitted int) {
	outcome := "selected"
	if admitted == 0 {
		outcome = "no_admissible_bids"
	}
	auctionsTotal.WithLabelValues(strategy, outcome).Inc()
	auctionBids.Add(float64(total))
	auctionAdmitted.Add(float64(admitted))
}

// ObserveAgent records the outcome of soliciting a single solver.
func ObserveAgent(solver, status string, elapsed time.Duration) {
	agentOutcomes.WithLabelValues(solver, status).Inc()
	agentLatency.WithLabelValues(solver).Observe(elapsed.Seconds())
}

// ObserveTransition records a lifecycle stage attempt.
func ObserveTransition(stage string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	transitions.WithLabelValues(stage, result).Inc()
}
