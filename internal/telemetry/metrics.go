package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	PostsCreated    = prometheus.NewCounter(prometheus.CounterOpts{Name: "posts_created_total", Help: "Posts accepted by the intake endpoint"})
	PostsPublished  = prometheus.NewCounter(prometheus.CounterOpts{Name: "posts_published_total", Help: "Posts published successfully"})
	PostsFailed     = prometheus.NewCounter(prometheus.CounterOpts{Name: "posts_failed_total", Help: "Publication attempts resolved to failed"})
	PostsRetried    = prometheus.NewCounter(prometheus.CounterOpts{Name: "posts_retried_total", Help: "Operator retry requests accepted"})
	RateLimitSkips  = prometheus.NewCounter(prometheus.CounterOpts{Name: "posts_rate_limit_skips_total", Help: "Due posts skipped by the per-account attempt limiter"})
	SchedulerRuns   = prometheus.NewCounter(prometheus.CounterOpts{Name: "scheduler_runs_total", Help: "Scheduler tick executions"})
	PublishDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "publish_attempt_duration_seconds",
		Help:    "Wall time of one publication attempt",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			PostsCreated,
			PostsPublished,
			PostsFailed,
			PostsRetried,
			RateLimitSkips,
			SchedulerRuns,
			PublishDuration,
		)
	})
	return promhttp.Handler()
}
