package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// UploadMetrics tracks the chunked-upload pipeline. A nil receiver is a
// no-op so callers never need to branch on whether metrics are enabled.
type UploadMetrics struct {
	sessionsStarted prometheus.Counter
	chunksReceived  prometheus.Counter
	chunkBytes      prometheus.Counter
	finalized       *prometheus.CounterVec
	sessionsReaped  prometheus.Counter
	activeSessions  prometheus.Gauge
}

// NewUploadMetrics creates Prometheus-backed upload metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewUploadMetrics() *UploadMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &UploadMetrics{
		sessionsStarted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dropzone_upload_sessions_started_total",
				Help: "Total number of upload sessions created",
			},
		),
		chunksReceived: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dropzone_upload_chunks_received_total",
				Help: "Total number of chunks stored",
			},
		),
		chunkBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dropzone_upload_chunk_bytes_total",
				Help: "Total chunk bytes written to session storage",
			},
		),
		finalized: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dropzone_upload_finalized_total",
				Help: "Total finalize attempts by result",
			},
			[]string{"result"}, // "success", "conflict", "missing_chunk", "size_mismatch", "error"
		),
		sessionsReaped: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dropzone_upload_sessions_reaped_total",
				Help: "Total upload sessions removed by the reaper",
			},
		),
		activeSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dropzone_upload_active_sessions",
				Help: "Upload session directories currently on disk",
			},
		),
	}
}

// RecordSessionStarted counts a new upload session.
func (m *UploadMetrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
}

// RecordChunk counts one stored chunk and its size.
func (m *UploadMetrics) RecordChunk(bytes int64) {
	if m == nil {
		return
	}
	m.chunksReceived.Inc()
	m.chunkBytes.Add(float64(bytes))
}

// RecordFinalize counts a finalize attempt with its result label.
func (m *UploadMetrics) RecordFinalize(result string) {
	if m == nil {
		return
	}
	m.finalized.WithLabelValues(result).Inc()
}

// RecordReaped counts sessions removed by a reaper sweep.
func (m *UploadMetrics) RecordReaped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsReaped.Add(float64(n))
}

// SetActiveSessions records the current number of session directories.
func (m *UploadMetrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}
