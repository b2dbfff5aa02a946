package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "report_pipeline_runs_total",
		Help: "Total number of report runs by result",
	}, []string{"result"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "report_pipeline_run_duration_seconds",
		Help:    "Duration of a full report run in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	lastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "report_pipeline_last_success_timestamp_seconds",
		Help: "Unix time of the last successful report run",
	})

	tasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "report_pipeline_tasks_in_flight",
		Help: "Number of pipeline tasks currently running",
	})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "report_pipeline_task_duration_seconds",
		Help:    "Pipeline task duration in seconds by task and final status",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"task", "status"})

	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "report_pipeline_deliveries_total",
		Help: "Total number of chat API calls by method and result",
	}, []string{"method", "result"})
)
