// mqtt.go provides Prometheus metrics for MQTT publishing and control handling.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTTMetrics contains Prometheus metrics for MQTT operations
type MQTTMetrics struct {
	registry *prometheus.Registry

	connectionStatus   prometheus.Gauge
	reconnectsTotal    prometheus.Counter
	messagesDelivered  *prometheus.CounterVec
	messageSize        prometheus.Histogram
	publishDuration    prometheus.Histogram
	errorsTotal        *prometheus.CounterVec
	controlMsgsTotal   *prometheus.CounterVec
	controlParseErrors prometheus.Counter
}

// NewMQTTMetrics creates and registers new MQTT metrics
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize MQTT metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

func (m *MQTTMetrics) initMetrics() error {
	m.connectionStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt_connection_status",
		Help: "Current MQTT connection status (1 connected, 0 disconnected)",
	})

	m.reconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_reconnects_total",
		Help: "Total number of MQTT reconnection attempts",
	})

	m.messagesDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_messages_delivered_total",
		Help: "Total number of MQTT messages delivered by topic",
	}, []string{"topic"})

	m.messageSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mqtt_message_size_bytes",
		Help:    "Size of published MQTT messages in bytes",
		Buckets: prometheus.ExponentialBuckets(SizeBucketStart64, SizeBucketFactor4, SizeBucketCount8),
	})

	m.publishDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mqtt_publish_duration_seconds",
		Help:    "Time taken to publish MQTT messages",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount10),
	})

	m.errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_errors_total",
		Help: "Total number of MQTT errors by type",
	}, []string{"type"})

	m.controlMsgsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_control_messages_total",
		Help: "Total number of control messages received by command",
	}, []string{"command"})

	m.controlParseErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_control_parse_errors_total",
		Help: "Total number of control messages that failed to parse",
	})

	return nil
}

// Describe implements the prometheus.Collector interface
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.connectionStatus.Describe(ch)
	m.reconnectsTotal.Describe(ch)
	m.messagesDelivered.Describe(ch)
	m.messageSize.Describe(ch)
	m.publishDuration.Describe(ch)
	m.errorsTotal.Describe(ch)
	m.controlMsgsTotal.Describe(ch)
	m.controlParseErrors.Describe(ch)
}

// Collect implements the prometheus.Collector interface
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	m.connectionStatus.Collect(ch)
	m.reconnectsTotal.Collect(ch)
	m.messagesDelivered.Collect(ch)
	m.messageSize.Collect(ch)
	m.publishDuration.Collect(ch)
	m.errorsTotal.Collect(ch)
	m.controlMsgsTotal.Collect(ch)
	m.controlParseErrors.Collect(ch)
}

// UpdateConnectionStatus sets the connection status gauge
func (m *MQTTMetrics) UpdateConnectionStatus(connected bool) {
	if connected {
		m.connectionStatus.Set(1)
	} else {
		m.connectionStatus.Set(0)
	}
}

// RecordReconnect increments the reconnection attempt counter
func (m *MQTTMetrics) RecordReconnect() {
	m.reconnectsTotal.Inc()
}

// RecordMessageDelivered records a successful publish with its size and duration
func (m *MQTTMetrics) RecordMessageDelivered(topic string, sizeBytes int, durationSeconds float64) {
	m.messagesDelivered.WithLabelValues(topic).Inc()
	m.messageSize.Observe(float64(sizeBytes))
	m.publishDuration.Observe(durationSeconds)
}

// RecordError increments the error counter for the given type
func (m *MQTTMetrics) RecordError(errorType string) {
	m.errorsTotal.WithLabelValues(errorType).Inc()
}

// RecordControlMessage increments the control message counter for a command
func (m *MQTTMetrics) RecordControlMessage(command string) {
	m.controlMsgsTotal.WithLabelValues(command).Inc()
}

// RecordControlParseError increments the control parse error counter
func (m *MQTTMetrics) RecordControlParseError() {
	m.controlParseErrors.Inc()
}
