package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	TasksCreated     = prometheus.NewCounter(prometheus.CounterOpts{Name: "ingest_tasks_created_total", Help: "Tasks created"})
	TasksCompleted   = prometheus.NewCounter(prometheus.CounterOpts{Name: "ingest_tasks_completed_total", Help: "Tasks completed successfully"})
	TasksFailed      = prometheus.NewCounter(prometheus.CounterOpts{Name: "ingest_tasks_failed_total", Help: "Tasks that ended in failure"})
	TasksCancelled   = prometheus.NewCounter(prometheus.CounterOpts{Name: "ingest_tasks_cancelled_total", Help: "Tasks cancelled before or during execution"})
	TasksDeferred    = prometheus.NewCounter(prometheus.CounterOpts{Name: "ingest_tasks_deferred_total", Help: "Dequeues parked because the source was busy"})
	SchedulerTicks   = prometheus.NewCounter(prometheus.CounterOpts{Name: "ingest_scheduler_ticks_total", Help: "Scheduler daemon ticks"})
	SchedulerFires   = prometheus.NewCounter(prometheus.CounterOpts{Name: "ingest_scheduler_fires_total", Help: "Scheduled tasks enqueued"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "ingest_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "ingest_queue_depth", Help: "Ready queue depth across priorities"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "ingest_inflight", Help: "Tasks currently leased by workers"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			TasksCreated,
			TasksCompleted,
			TasksFailed,
			TasksCancelled,
			TasksDeferred,
			SchedulerTicks,
			SchedulerFires,
			RateLimitRejects,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
