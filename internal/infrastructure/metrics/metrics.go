package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Job metrics
	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_job_runs_total",
			Help: "Total number of finalized backup runs",
		},
		[]string{"job", "outcome"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_job_duration_seconds",
			Help:    "Wall clock duration of backup runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"job"},
	)

	JobBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_job_bytes_total",
			Help: "Total bytes dumped per job",
		},
		[]string{"job"},
	)

	JobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_jobs_in_flight",
			Help: "Number of backup runs currently executing",
		},
	)

	JobsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_job_slots_skipped_total",
			Help: "Due slots skipped because the previous run was still in flight",
		},
		[]string{"job"},
	)

	SchedulerTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_scheduler_ticks_total",
			Help: "Total number of scheduler scans",
		},
	)

	SchedulerInternalErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_scheduler_internal_errors_total",
			Help: "Scheduler ticks abandoned because of an internal error",
		},
	)

	// Upload metrics
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_uploads_total",
			Help: "Total number of artifact deliveries by target and outcome",
		},
		[]string{"target", "outcome"},
	)

	UploadAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_upload_attempts_total",
			Help: "Total number of upload attempts including retries",
		},
		[]string{"target"},
	)

	UploadQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_upload_queue_depth",
			Help: "Artifacts waiting for the upload worker",
		},
	)

	// Event stream metrics
	EventsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_events_published_total",
			Help: "Total number of events published to the live stream",
		},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_events_dropped_total",
			Help: "Events evicted from a slow subscriber's buffer",
		},
	)

	EventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_event_subscribers",
			Help: "Current number of live event subscribers",
		},
	)
)

// RecordJobRun updates the job metrics for one finalized run.
func RecordJobRun(job, outcome string, duration time.Duration, bytes int64) {
	JobRunsTotal.WithLabelValues(job, outcome).Inc()
	JobDuration.WithLabelValues(job).Observe(duration.Seconds())
	if bytes > 0 {
		JobBytesTotal.WithLabelValues(job).Add(float64(bytes))
	}
}

// RecordUpload updates the upload metrics for one delivery.
func RecordUpload(target string, success bool, attempts int) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	UploadsTotal.WithLabelValues(target, outcome).Inc()
	UploadAttempts.WithLabelValues(target).Add(float64(attempts))
}
