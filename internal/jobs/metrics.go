// Package jobs 指标定义
package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctfforge_jobs_started_total",
		Help: "Total number of generation jobs started",
	})

	jobsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ctfforge_jobs_finished_total",
		Help: "Total number of generation jobs finished, by terminal status",
	}, []string{"status"})

	jobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ctfforge_jobs_running",
		Help: "Number of generation jobs currently running",
	})

	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ctfforge_job_duration_seconds",
		Help:    "Wall-clock duration of generation jobs",
		Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10s .. ~85min
	})

	loopIterationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctfforge_loop_iterations_total",
		Help: "Total number of agent loop iterations across all jobs",
	})

	toolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ctfforge_tool_calls_total",
		Help: "Total number of tool calls dispatched, by tool",
	}, []string{"tool"})

	eventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ctfforge_events_published_total",
		Help: "Total number of events published to the job event bus, by type",
	}, []string{"type"})

	workspacesCleanedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctfforge_workspaces_cleaned_total",
		Help: "Total number of expired workspaces removed by the retention loop",
	})
)
