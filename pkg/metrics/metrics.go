package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Record loop metrics
	FramesRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robocap_frames_recorded_total",
			Help: "Total frames appended to episode buffers, by episode",
		},
		[]string{"episode"},
	)

	TicksSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "robocap_ticks_skipped_total",
			Help: "Record ticks skipped because a required camera was missing",
		},
	)

	// Saver metrics
	EpisodesQueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "robocap_episodes_queued_total",
			Help: "Episodes handed to the async saver",
		},
	)

	EpisodesSaved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "robocap_episodes_saved_total",
			Help: "Episodes fully persisted (columnar + images + video)",
		},
	)

	EpisodesFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "robocap_episodes_failed_total",
			Help: "Episodes whose save failed after retries",
		},
	)

	SaveQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "robocap_save_queue_depth",
			Help: "Episodes waiting in the save queue",
		},
	)

	SaveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "robocap_save_duration_seconds",
			Help:    "End-to-end save duration per episode",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// Image writer metrics
	ImageQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "robocap_image_queue_depth",
			Help: "PNG frames waiting in the image writer queue",
		},
	)

	ImagesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "robocap_images_written_total",
			Help: "PNG frames flushed to disk",
		},
	)

	ImagesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "robocap_images_dropped_total",
			Help: "PNG frames dropped after a write error",
		},
	)

	// Bus metrics
	PayloadsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robocap_bus_payloads_published_total",
			Help: "Payloads published per topic",
		},
		[]string{"topic"},
	)

	PayloadsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robocap_bus_payloads_dropped_total",
			Help: "Payloads dropped on full subscriber channels, per topic",
		},
		[]string{"topic"},
	)

	// Memory guard metrics
	ProcessRSSBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "robocap_process_rss_bytes",
			Help: "Resident set size sampled by the memory guard",
		},
	)

	// Offload metrics
	UploadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "robocap_upload_bytes_total",
			Help: "Bytes uploaded to the edge or cloud server",
		},
	)

	OffloadSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robocap_offload_sessions_total",
			Help: "Offload sessions by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)
)

// Register registers all metrics with the default registry
func Register() {
	prometheus.MustRegister(
		FramesRecorded,
		TicksSkipped,
		EpisodesQueued,
		EpisodesSaved,
		EpisodesFailed,
		SaveQueueDepth,
		SaveDuration,
		ImageQueueDepth,
		ImagesWritten,
		ImagesDropped,
		PayloadsPublished,
		PayloadsDropped,
		ProcessRSSBytes,
		UploadBytes,
		OffloadSessions,
	)
}

// Handler returns the HTTP handler for the /metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}
