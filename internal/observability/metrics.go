package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vg",
		Name:      "frames_processed_total",
		Help:      "Total number of decoded frames run through the pipeline",
	}, []string{"stream_id"})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vg",
		Name:      "frames_dropped_total",
		Help:      "Frames dropped because the processor could not keep up",
	}, []string{"stream_id"})

	PersonsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vg",
		Name:      "persons_detected_total",
		Help:      "Total number of person detections",
	}, []string{"stream_id"})

	AnomaliesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vg",
		Name:      "anomalies_detected_total",
		Help:      "Total number of abnormal classifications",
	}, []string{"stream_id"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vg",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vg",
		Name:      "active_streams",
		Help:      "Number of currently registered peer connections",
	})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vg",
		Name:      "ws_connections",
		Help:      "Number of active alert WebSocket channels",
	})

	AlertsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vg",
		Name:      "alerts_sent_total",
		Help:      "Anomaly alerts pushed over WebSocket",
	}, []string{"user_id"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vg",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)
