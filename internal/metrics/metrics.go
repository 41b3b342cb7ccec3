package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panocam_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "panocam_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Session Metrics
	ModeSelectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panocam_mode_selections_total",
			Help: "Total number of capture mode selections",
		},
		[]string{"mode", "fell_back"},
	)

	EngineCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panocam_engine_calls_total",
			Help: "Total number of capture engine calls",
		},
		[]string{"operation", "status"},
	)

	EngineCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "panocam_engine_call_duration_seconds",
			Help:    "Capture engine call latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		},
		[]string{"operation"},
	)

	PhotosTakenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panocam_photos_taken_total",
			Help: "Total number of photos captured",
		},
		[]string{"tier"},
	)

	// Recording Metrics
	RecordingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panocam_recordings_total",
			Help: "Total number of recordings by outcome",
		},
		[]string{"mode", "status"},
	)

	RecordingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "panocam_recording_duration_seconds",
			Help:    "Recording wall-clock duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		},
		[]string{"mode"},
	)

	RecordingActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "panocam_recording_active",
			Help: "Whether a recording is in progress",
		},
	)

	// Live Metrics
	LiveSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panocam_live_sessions_total",
			Help: "Total number of live pushes by outcome",
		},
		[]string{"status"},
	)

	LiveActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "panocam_live_active",
			Help: "Whether a live push is on air",
		},
	)

	LiveThroughput = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "panocam_live_throughput_bps",
			Help: "Current live push throughput in bits per second",
		},
	)

	LiveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "panocam_live_duration_seconds",
			Help:    "Live push duration in seconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
	)

	// Stitch Metrics
	StitchTasksSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panocam_stitch_tasks_submitted_total",
			Help: "Total number of stitch tasks submitted",
		},
		[]string{"priority"},
	)

	StitchTasksFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panocam_stitch_tasks_finished_total",
			Help: "Total number of stitch tasks that reached a terminal state",
		},
		[]string{"status"},
	)

	StitchQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "panocam_stitch_queue_depth",
			Help: "Number of stitch tasks waiting in queue",
		},
	)

	StitchRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "panocam_stitch_running",
			Help: "Whether the stitch worker is busy",
		},
	)

	StitchProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "panocam_stitch_progress_percent",
			Help: "Progress of the current stitch task",
		},
		[]string{"task_id"},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panocam_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "panocam_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"operation"},
	)

	StorageBytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panocam_storage_bytes_transferred_total",
			Help: "Total bytes transferred to/from storage",
		},
		[]string{"operation"},
	)

	// Database Metrics
	DatabaseOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panocam_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "panocam_database_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panocam_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panocam_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panocam_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func gauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordModeSelection records a resolved mode selection
func RecordModeSelection(mode string, fellBack bool) {
	ModeSelectionsTotal.WithLabelValues(mode, boolLabel(fellBack)).Inc()
}

// RecordEngineCall records one completed capture engine call
func RecordEngineCall(operation string, duration float64, err error) {
	EngineCallsTotal.WithLabelValues(operation, status(err)).Inc()
	EngineCallDuration.WithLabelValues(operation).Observe(duration)
}

// RecordPhoto records a captured photo
func RecordPhoto(largePhoto bool) {
	tier := "standard"
	if largePhoto {
		tier = "large"
	}
	PhotosTakenTotal.WithLabelValues(tier).Inc()
}

// SetRecordingActive flips the recording gauge
func SetRecordingActive(active bool) {
	RecordingActive.Set(gauge(active))
}

// RecordRecordingFinished records the outcome of a recording
func RecordRecordingFinished(mode, status string, seconds float64) {
	RecordingsTotal.WithLabelValues(mode, status).Inc()
	if seconds > 0 {
		RecordingDuration.WithLabelValues(mode).Observe(seconds)
	}
}

// SetLiveActive flips the live gauge and clears throughput when off air
func SetLiveActive(active bool) {
	LiveActive.Set(gauge(active))
	if !active {
		LiveThroughput.Set(0)
	}
}

// UpdateLiveThroughput records the latest throughput sample
func UpdateLiveThroughput(bps int64) {
	LiveThroughput.Set(float64(bps))
}

// RecordLiveFinished records the outcome of a live push
func RecordLiveFinished(status string, seconds float64) {
	LiveSessionsTotal.WithLabelValues(status).Inc()
	if seconds > 0 {
		LiveDuration.Observe(seconds)
	}
}

// RecordStitchSubmitted records a queued stitch task
func RecordStitchSubmitted(priority string) {
	StitchTasksSubmittedTotal.WithLabelValues(priority).Inc()
}

// RecordStitchFinished records a stitch task that reached its end
func RecordStitchFinished(status string) {
	StitchTasksFinishedTotal.WithLabelValues(status).Inc()
}

// UpdateStitchMetrics updates current stitch queue metrics
func UpdateStitchMetrics(running bool, queueDepth int) {
	StitchRunning.Set(gauge(running))
	StitchQueueDepth.Set(float64(queueDepth))
}

// UpdateStitchProgress records task progress; a finished task is removed
func UpdateStitchProgress(taskID string, progress float64, done bool) {
	if done {
		StitchProgress.DeleteLabelValues(taskID)
		return
	}
	StitchProgress.WithLabelValues(taskID).Set(progress)
}

// RecordStorageOperation records a storage operation
func RecordStorageOperation(operation, status string, duration float64, bytesTransferred int64) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	StorageOperationDuration.WithLabelValues(operation).Observe(duration)
	StorageBytesTransferred.WithLabelValues(operation).Add(float64(bytesTransferred))
}

// RecordDatabaseOperation records a database operation
func RecordDatabaseOperation(operation, status string, duration float64) {
	DatabaseOperationsTotal.WithLabelValues(operation, status).Inc()
	DatabaseOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordCacheAccess records cache hit or miss
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
