// Package prometheus provides the Prometheus-backed implementations of the
// metrics interfaces consumed by the upload service and the reaper.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/sensorsink/pkg/metrics"
)

// uploadMetrics is the Prometheus implementation of upload.Metrics.
type uploadMetrics struct {
	preRequests  *prometheus.CounterVec
	chunkBytes   prometheus.Histogram
	completed    prometheus.Counter
	uploadedSize prometheus.Histogram
}

// NewUploadMetrics creates a new Prometheus-backed upload metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewUploadMetrics() *uploadMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &uploadMetrics{
		preRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sensorsink_pre_requests_total",
				Help: "Total number of upload pre-requests by outcome",
			},
			[]string{"outcome"}, // "accepted", "conflict", "refused", "invalid", "error"
		),
		chunkBytes: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "sensorsink_chunk_bytes",
				Help: "Distribution of acknowledged chunk sizes in bytes",
				Buckets: []float64{
					4096,      // 4KB
					65536,     // 64KB
					262144,    // 256KB - resumable upload granule
					1048576,   // 1MB
					8388608,   // 8MB - typical device chunk
					33554432,  // 32MB
					134217728, // 128MB
				},
			},
		),
		completed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "sensorsink_uploads_completed_total",
				Help: "Total number of fully committed uploads",
			},
		),
		uploadedSize: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "sensorsink_upload_total_bytes",
				Help: "Distribution of committed upload sizes in bytes",
				Buckets: []float64{
					65536,     // 64KB
					1048576,   // 1MB
					8388608,   // 8MB
					33554432,  // 32MB
					134217728, // 128MB
				},
			},
		),
	}
}

// PreRequest records one pre-request with its outcome label.
func (m *uploadMetrics) PreRequest(outcome string) {
	if m == nil {
		return
	}
	m.preRequests.WithLabelValues(outcome).Inc()
}

// ChunkBytes records the size of one acknowledged chunk.
func (m *uploadMetrics) ChunkBytes(n int64) {
	if m == nil {
		return
	}
	m.chunkBytes.Observe(float64(n))
}

// Completed records one fully committed upload of the given size.
func (m *uploadMetrics) Completed(totalBytes int64) {
	if m == nil {
		return
	}
	m.completed.Inc()
	m.uploadedSize.Observe(float64(totalBytes))
}

// reaperMetrics is the Prometheus implementation of upload.ReaperMetrics.
type reaperMetrics struct {
	sweeps        prometheus.Counter
	reapedUploads prometheus.Counter
	reapedBytes   prometheus.Counter
}

// NewReaperMetrics creates a new Prometheus-backed reaper metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewReaperMetrics() *reaperMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &reaperMetrics{
		sweeps: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "sensorsink_reaper_sweeps_total",
				Help: "Total number of completed reaper sweeps",
			},
		),
		reapedUploads: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "sensorsink_reaper_uploads_total",
				Help: "Total number of expired staged uploads deleted",
			},
		),
		reapedBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "sensorsink_reaper_bytes_total",
				Help: "Total number of staged bytes reclaimed",
			},
		),
	}
}

// Reaped records one sweep with the number of deleted uploads and the
// bytes they held.
func (m *reaperMetrics) Reaped(uploads int, bytes int64) {
	if m == nil {
		return
	}
	m.sweeps.Inc()
	m.reapedUploads.Add(float64(uploads))
	m.reapedBytes.Add(float64(bytes))
}
