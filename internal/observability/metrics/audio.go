// audio.go provides Prometheus metrics for the buffer pool and streaming pipeline.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// AudioMetrics contains Prometheus metrics for audio buffer and sink operations
type AudioMetrics struct {
	registry *prometheus.Registry

	// Buffer pool metrics
	buffersEnqueuedTotal  prometheus.Counter
	buffersDroppedTotal   *prometheus.CounterVec
	buffersProcessedTotal prometheus.Counter
	bufferProcessDuration prometheus.Histogram
	queueFillPercent      prometheus.Gauge
	clearOperationsTotal  *prometheus.CounterVec

	// Sink metrics
	sinkWritesTotal      *prometheus.CounterVec
	sinkWriteDuration    prometheus.Histogram
	shortWriteBytesTotal prometheus.Counter

	// Overlay metrics
	overlayPushesTotal        prometheus.Counter
	overlayFramesDroppedTotal prometheus.Counter
	duckGain                  prometheus.Gauge

	// Stream state
	streamActive prometheus.Gauge
}

// NewAudioMetrics creates and registers new audio metrics
func NewAudioMetrics(registry *prometheus.Registry) (*AudioMetrics, error) {
	m := &AudioMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize audio metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register audio metrics: %w", err)
	}
	return m, nil
}

func (m *AudioMetrics) initMetrics() error {
	m.buffersEnqueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audio_buffers_enqueued_total",
		Help: "Total number of audio buffers accepted into the ready queue",
	})

	m.buffersDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_buffers_dropped_total",
		Help: "Total number of audio buffers dropped by the producer path",
	}, []string{"reason"})

	m.buffersProcessedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audio_buffers_processed_total",
		Help: "Total number of audio buffers drained by the consumer",
	})

	m.bufferProcessDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "audio_buffer_process_duration_seconds",
		Help:    "Time taken to process a single audio buffer through the DSP chain",
		Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount12),
	})

	m.queueFillPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "audio_queue_fill_percent",
		Help: "Current fill level of the ready queue as a percentage",
	})

	m.clearOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_clear_operations_total",
		Help: "Total number of pipeline clear operations by mode",
	}, []string{"mode"})

	m.sinkWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_sink_writes_total",
		Help: "Total number of sink write calls by outcome",
	}, []string{"status"})

	m.sinkWriteDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "audio_sink_write_duration_seconds",
		Help:    "Time taken to write processed frames to the output sink",
		Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount12),
	})

	m.shortWriteBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audio_sink_short_write_bytes_total",
		Help: "Total number of bytes the sink failed to accept on short writes",
	})

	m.overlayPushesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audio_overlay_pushes_total",
		Help: "Total number of overlay frame batches pushed into the mixer ring",
	})

	m.overlayFramesDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audio_overlay_frames_dropped_total",
		Help: "Total number of overlay frames rejected because the ring was full",
	})

	m.duckGain = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "audio_overlay_duck_gain",
		Help: "Current Q15 duck gain applied to the main stream, normalized to 0-1",
	})

	m.streamActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "audio_stream_active",
		Help: "Whether an audio stream is currently active (1) or idle (0)",
	})

	return nil
}

// Describe implements the prometheus.Collector interface
func (m *AudioMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.buffersEnqueuedTotal.Describe(ch)
	m.buffersDroppedTotal.Describe(ch)
	m.buffersProcessedTotal.Describe(ch)
	m.bufferProcessDuration.Describe(ch)
	m.queueFillPercent.Describe(ch)
	m.clearOperationsTotal.Describe(ch)
	m.sinkWritesTotal.Describe(ch)
	m.sinkWriteDuration.Describe(ch)
	m.shortWriteBytesTotal.Describe(ch)
	m.overlayPushesTotal.Describe(ch)
	m.overlayFramesDroppedTotal.Describe(ch)
	m.duckGain.Describe(ch)
	m.streamActive.Describe(ch)
}

// Collect implements the prometheus.Collector interface
func (m *AudioMetrics) Collect(ch chan<- prometheus.Metric) {
	m.buffersEnqueuedTotal.Collect(ch)
	m.buffersDroppedTotal.Collect(ch)
	m.buffersProcessedTotal.Collect(ch)
	m.bufferProcessDuration.Collect(ch)
	m.queueFillPercent.Collect(ch)
	m.clearOperationsTotal.Collect(ch)
	m.sinkWritesTotal.Collect(ch)
	m.sinkWriteDuration.Collect(ch)
	m.shortWriteBytesTotal.Collect(ch)
	m.overlayPushesTotal.Collect(ch)
	m.overlayFramesDroppedTotal.Collect(ch)
	m.duckGain.Collect(ch)
	m.streamActive.Collect(ch)
}

// RecordBufferEnqueued increments the counter of accepted buffers
func (m *AudioMetrics) RecordBufferEnqueued() {
	m.buffersEnqueuedTotal.Inc()
}

// RecordBufferDropped increments the drop counter for the given reason
func (m *AudioMetrics) RecordBufferDropped(reason string) {
	m.buffersDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordBufferProcessed records a completed buffer along with its processing time
func (m *AudioMetrics) RecordBufferProcessed(durationSeconds float64) {
	m.buffersProcessedTotal.Inc()
	m.bufferProcessDuration.Observe(durationSeconds)
}

// UpdateQueueFillPercent sets the current ready queue fill level
func (m *AudioMetrics) UpdateQueueFillPercent(percent float64) {
	m.queueFillPercent.Set(percent)
}

// RecordClear increments the clear operation counter for the given mode
func (m *AudioMetrics) RecordClear(mode string) {
	m.clearOperationsTotal.WithLabelValues(mode).Inc()
}

// RecordSinkWrite records a sink write outcome along with its duration
func (m *AudioMetrics) RecordSinkWrite(status string, durationSeconds float64) {
	m.sinkWritesTotal.WithLabelValues(status).Inc()
	m.sinkWriteDuration.Observe(durationSeconds)
}

// RecordShortWriteBytes adds the number of bytes lost to a short write
func (m *AudioMetrics) RecordShortWriteBytes(bytes int) {
	m.shortWriteBytesTotal.Add(float64(bytes))
}

// RecordOverlayPush increments the overlay push counter
func (m *AudioMetrics) RecordOverlayPush() {
	m.overlayPushesTotal.Inc()
}

// RecordOverlayFramesDropped adds the number of overlay frames rejected
func (m *AudioMetrics) RecordOverlayFramesDropped(frames int) {
	m.overlayFramesDroppedTotal.Add(float64(frames))
}

// UpdateDuckGain sets the current normalized duck gain
func (m *AudioMetrics) UpdateDuckGain(gain float64) {
	m.duckGain.Set(gain)
}

// SetStreamActive sets the stream activity gauge
func (m *AudioMetrics) SetStreamActive(active bool) {
	if active {
		m.streamActive.Set(1)
	} else {
		m.streamActive.Set(0)
	}
}

// GetQueueFillPercent returns the last reported queue fill level
func (m *AudioMetrics) GetQueueFillPercent() float64 {
	metric := &dto.Metric{}
	if err := m.queueFillPercent.Write(metric); err != nil {
		return 0
	}
	return metric.GetGauge().GetValue()
}

// IsStreamActive reports whether the stream activity gauge is set
func (m *AudioMetrics) IsStreamActive() bool {
	metric := &dto.Metric{}
	if err := m.streamActive.Write(metric); err != nil {
		return false
	}
	return metric.GetGauge().GetValue() > 0
}
