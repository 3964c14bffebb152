package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Detection processing metrics
	detectRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_detect_requests_total",
			Help: "Total number of detection requests",
		},
		[]string{"type", "status"}, // type: image, video
	)

	detectProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_detect_processing_duration_seconds",
			Help:    "Detection processing duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 25, 50, 100},
		},
		[]string{"type"},
	)

	detectionsPerRequest = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_detections_per_request",
			Help:    "Number of objects detected per request",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
		[]string{"type"},
	)

	// File upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_upload_size_bytes",
			Help:    "Size of uploaded files in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024, 100 * 1024 * 1024},
		},
	)

	// Model cache metrics
	modelsLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_models_loaded",
			Help: "Number of models currently held in the cache",
		},
	)
)
