// Package metrics exposes Prometheus instrumentation for migration runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ItemsTotal counts processed databases by operation and outcome.
var ItemsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "couchmig_items_total",
		Help: "Total databases processed",
	},
	[]string{"op", "status"},
)

// ItemDuration tracks how long one database operation takes.
var ItemDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "couchmig_item_duration_seconds",
		Help:    "Time spent on one database",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	},
	[]string{"op"},
)

// UserCopiesTotal counts user document copies by result.
var UserCopiesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "couchmig_user_copies_total",
		Help: "Total user document copies",
	},
	[]string{"result"},
)

// ProgressPollsTotal counts active task polls by whether a task matched.
var ProgressPollsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "couchmig_progress_polls_total",
		Help: "Total active task polls",
	},
	[]string{"matched"},
)

// RunsTotal counts finished runs by operation and final status.
var RunsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "couchmig_runs_total",
		Help: "Total migration runs",
	},
	[]string{"op", "status"},
)
