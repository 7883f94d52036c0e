package metrics

import (
	"regexp"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var uuidRegex = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
		[]string{"method"},
	)

	HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path", "status"},
	)

	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ppe_uploads_total",
			Help: "Total number of accepted or rejected uploads",
		},
		[]string{"kind", "status"},
	)

	UploadBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ppe_upload_bytes",
			Help:    "Size of accepted uploads in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
		[]string{"kind"},
	)

	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storage_operation_duration_seconds",
			Help:    "Duration of storage operations in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	StorageBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_bytes_total",
			Help: "Total bytes transferred to/from storage",
		},
		[]string{"operation"},
	)

	JobsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ppe_jobs_dispatched_total",
			Help: "Total number of jobs handed to a dispatcher",
		},
		[]string{"mode", "status"},
	)

	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ppe_jobs_processed_total",
			Help: "Total number of jobs processed by outcome",
		},
		[]string{"kind", "status"},
	)

	JobsProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ppe_job_stage_duration_seconds",
			Help:    "Duration of job processing stages in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 900, 1800},
		},
		[]string{"kind", "stage"},
	)

	QueueJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ppe_queue_jobs_total",
			Help: "Queue deliveries handled by the worker pool by outcome",
		},
		[]string{"type", "queue", "status"},
	)

	QueueJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ppe_queue_job_duration_seconds",
			Help:    "Wall time of queue deliveries in seconds",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 300, 900, 3600},
		},
		[]string{"type", "queue"},
	)

	JobsInQueue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ppe_jobs_in_queue",
			Help: "Number of jobs waiting for a worker",
		},
		[]string{"queue"},
	)

	WorkerPoolActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_pool_active_jobs",
			Help: "Number of jobs currently being processed by workers",
		},
	)

	WorkerPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_pool_size",
			Help: "Size of the worker pool",
		},
	)

	InferenceLeasesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ppe_inference_leases_active",
			Help: "Number of inference sessions currently held",
		},
	)

	TrackerOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ppe_tracker_operations_total",
			Help: "Total number of job tracker operations",
		},
		[]string{"operation", "status"},
	)

	RangeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ppe_stream_requests_total",
			Help: "Stream requests by response class",
		},
		[]string{"result"},
	)

	StreamBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ppe_stream_bytes_total",
			Help: "Total bytes written to streaming clients",
		},
	)

	SweepRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ppe_sweep_runs_total",
			Help: "Retention sweep runs by outcome",
		},
		[]string{"status"},
	)

	SweepObjectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ppe_sweep_objects_total",
			Help: "Objects examined by the retention sweeper by action",
		},
		[]string{"action"},
	)

	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application information",
		},
		[]string{"version", "environment", "service"},
	)

	AppUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_up",
			Help: "Application is up and running",
		},
	)
)

var keyedRoutes = []string{"/stream/", "/download/", "/result/", "/v1/jobs/"}

// NormalizePath collapses per-object and per-job path segments into a
// placeholder so label cardinality stays bounded.
func NormalizePath(path string) string {
	for _, prefix := range keyedRoutes {
		if strings.HasPrefix(path, prefix) && len(path) > len(prefix) {
			return prefix + ":key"
		}
	}
	return uuidRegex.ReplaceAllString(path, ":id")
}

func RecordUpload(kind, status string, sizeBytes int64) {
	UploadsTotal.WithLabelValues(kind, status).Inc()
	if status == "accepted" {
		UploadBytes.WithLabelValues(kind).Observe(float64(sizeBytes))
	}
}

func RecordJobDispatched(mode, status string) {
	JobsDispatchedTotal.WithLabelValues(mode, status).Inc()
}

func RecordJobProcessed(kind, status string, durationSeconds float64) {
	JobsProcessedTotal.WithLabelValues(kind, status).Inc()
	JobsProcessingDuration.WithLabelValues(kind, "total").Observe(durationSeconds)
}

func RecordJobStage(kind, stage string, durationSeconds float64) {
	JobsProcessingDuration.WithLabelValues(kind, stage).Observe(durationSeconds)
}

func RecordTrackerOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	TrackerOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordStream counts a stream response; result is "full", "partial" or
// "unsatisfiable".
func RecordStream(result string, bytes int64) {
	RangeRequestsTotal.WithLabelValues(result).Inc()
	if bytes > 0 {
		StreamBytesTotal.Add(float64(bytes))
	}
}

func RecordSweep(status string, scanned, deleted, retained int) {
	SweepRunsTotal.WithLabelValues(status).Inc()
	SweepObjectsTotal.WithLabelValues("scanned").Add(float64(scanned))
	SweepObjectsTotal.WithLabelValues("deleted").Add(float64(deleted))
	SweepObjectsTotal.WithLabelValues("retained").Add(float64(retained))
}

func SetAppInfo(version, environment, service string) {
	AppInfo.WithLabelValues(version, environment, service).Set(1)
	AppUp.Set(1)
}

func SetWorkerPoolSize(size int) {
	WorkerPoolSize.Set(float64(size))
}

func SetJobsInQueue(queue string, count int) {
	JobsInQueue.WithLabelValues(queue).Set(float64(count))
}

func SetInferenceLeases(n int) {
	InferenceLeasesActive.Set(float64(n))
}
