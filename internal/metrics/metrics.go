// Package metrics exposes Prometheus collectors for rollout sweeps.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RolloutsTotal counts search rollouts by dataset.
	RolloutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tdprio_rollouts_total",
		Help: "Total MCTS rollouts by dataset",
	}, []string{"dataset"})

	// SweepsTotal counts finished sweeps by dataset and result.
	SweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tdprio_sweeps_total",
		Help: "Total rollout sweeps by dataset and result",
	}, []string{"dataset", "result"})

	// SweepDuration tracks wall time per sweep.
	SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tdprio_sweep_duration_seconds",
		Help:    "Rollout sweep duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4min
	}, []string{"dataset"})

	// PlanReward records the terminal reward of evaluated and chosen plans.
	PlanReward = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tdprio_plan_reward",
		Help:    "Terminal reward of completed plans",
		Buckets: prometheus.LinearBuckets(-1, 0.25, 16),
	}, []string{"dataset", "source"})
)
