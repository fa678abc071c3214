// Package metrics exposes Prometheus collectors for the transcode pipeline
// and a small HTTP server to scrape them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline stages used as label values.
const (
	StageCapture = "capture"
	StageDecode  = "decode"
	StageScale   = "scale"
	StageEncode  = "encode"
	StageMux     = "mux"
)

var (
	PacketsRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xgrab_packets_read_total",
			Help: "Packets read from the capture source",
		},
	)

	FramesDecoded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xgrab_frames_decoded_total",
			Help: "Frames produced by the decoder",
		},
	)

	FramesEncoded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xgrab_frames_encoded_total",
			Help: "Frames accepted by the encoder",
		},
	)

	PacketsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xgrab_packets_written_total",
			Help: "Packets handed to the muxer",
		},
	)

	BytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xgrab_bytes_written_total",
			Help: "Encoded payload bytes handed to the muxer",
		},
	)

	TransientErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xgrab_transient_errors_total",
			Help: "Per-packet failures that were skipped",
		},
		[]string{"stage"},
	)

	ScaleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xgrab_scale_duration_seconds",
			Help:    "Time spent converting one frame",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		},
	)

	EncodeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xgrab_encode_duration_seconds",
			Help:    "Time spent submitting one frame to the encoder",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
	)

	Recording = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "xgrab_recording",
			Help: "1 while the pipeline is running",
		},
	)
)
