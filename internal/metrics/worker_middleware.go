package metrics

import (
	"time"
)

// PrometheusCollector implements the job-queue MetricsCollector interface for
// the queue-mode worker pool.
type PrometheusCollector struct{}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{}
}

func (c *PrometheusCollector) JobStarted(jobType, queue string) {
	WorkerPoolActiveJobs.Inc()
}

func (c *PrometheusCollector) JobCompleted(jobType, queue string, duration time.Duration) {
	WorkerPoolActiveJobs.Dec()
	QueueJobsTotal.WithLabelValues(jobType, queue, "success").Inc()
	QueueJobDuration.WithLabelValues(jobType, queue).Observe(duration.Seconds())
}

func (c *PrometheusCollector) JobFailed(jobType, queue string, duration time.Duration) {
	WorkerPoolActiveJobs.Dec()
	QueueJobsTotal.WithLabelValues(jobType, queue, "error").Inc()
	QueueJobDuration.WithLabelValues(jobType, queue).Observe(duration.Seconds())
}

func (c *PrometheusCollector) JobRetrying(jobType, queue string, attempt int) {
	QueueJobsTotal.WithLabelValues(jobType, queue, "retry").Inc()
}
