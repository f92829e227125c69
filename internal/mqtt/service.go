// service.go: telemetry publishing loop and control topic wiring.
package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/tphakala/btsink-go/internal/conf"
	"github.com/tphakala/btsink-go/internal/engine"
	"github.com/tphakala/btsink-go/internal/errors"
	"github.com/tphakala/btsink-go/internal/observability"
	"github.com/tphakala/btsink-go/internal/observability/metrics"
)

const (
	// defaultTelemetryInterval is used when the configured interval is
	// missing or not positive.
	defaultTelemetryInterval = 30 * time.Second

	// connectRetryInterval paces initial connection attempts while the
	// broker is unreachable. Longer than the client cooldown so retries
	// are never rejected as too recent.
	connectRetryInterval = 15 * time.Second

	// offlineTimeout bounds the final availability publish on shutdown.
	offlineTimeout = 2 * time.Second
)

// Availability markers retained at the availability topic.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// StatusTopic returns the telemetry topic under the configured base topic.
func StatusTopic(base string) string {
	return joinTopic(base, "status")
}

// AvailabilityTopic returns the online/offline marker topic under the
// configured base topic.
func AvailabilityTopic(base string) string {
	return joinTopic(base, "available")
}

func joinTopic(base, leaf string) string {
	base = strings.TrimSuffix(base, "/")
	if base == "" {
		return leaf
	}
	return base + "/" + leaf
}

// StatusSource yields the status snapshots the telemetry loop publishes.
type StatusSource interface {
	Status() engine.Status
}

// Service owns the MQTT side of the sink: it connects with retry,
// subscribes the control topic, optionally announces the node to Home
// Assistant and publishes telemetry snapshots on a fixed interval until
// the context is cancelled.
type Service struct {
	settings conf.MQTTSettings
	nodeID   string
	version  string
	client   Client
	source   StatusSource
	control  *ControlHandler
	metrics  *metrics.MQTTMetrics
	log      *slog.Logger
}

// NewService builds the MQTT service from the full settings. The node
// name from the main section becomes the broker client id.
func NewService(settings *conf.Settings, source StatusSource, controller Controller, m *observability.Metrics) (*Service, error) {
	if source == nil {
		return nil, errors.Newf("mqtt service requires a status source").
			Component("mqtt").
			Category(errors.CategoryValidation).
			Build()
	}

	client, err := NewClient(settings.MQTT, settings.Main.Name, m)
	if err != nil {
		return nil, err
	}

	var mqttMetrics *metrics.MQTTMetrics
	if m != nil {
		mqttMetrics = m.MQTT
	}

	var control *ControlHandler
	if controller != nil {
		control = NewControlHandler(controller, mqttMetrics)
	}

	return &Service{
		settings: settings.MQTT,
		nodeID:   settings.Main.Name,
		version:  settings.Version,
		client:   client,
		source:   source,
		control:  control,
		metrics:  mqttMetrics,
		log:      mqttLogger,
	}, nil
}

// Client exposes the underlying MQTT client, for wiring additional
// publishers such as Home Assistant discovery.
func (s *Service) Client() Client {
	return s.client
}

// Run connects to the broker and publishes telemetry until ctx is
// cancelled. The first connection is retried indefinitely; later drops
// are recovered inside the client.
func (s *Service) Run(ctx context.Context) error {
	if !s.settings.Enabled {
		return nil
	}

	interval := s.settings.Interval
	if interval <= 0 {
		interval = defaultTelemetryInterval
	}

	if !s.connectLoop(ctx) {
		return nil
	}
	defer s.client.Disconnect()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.markOffline()
			return nil
		case <-ticker.C:
			if !s.client.IsConnected() {
				continue
			}
			if err := s.PublishStatus(ctx); err != nil {
				s.log.Error("Failed to publish telemetry", "error", err)
			}
		}
	}
}

// connectLoop blocks until the broker accepts a connection or ctx is
// cancelled. Returns false on cancellation.
func (s *Service) connectLoop(ctx context.Context) bool {
	for {
		err := s.client.Connect(ctx)
		if err == nil {
			s.onConnected(ctx)
			return true
		}

		s.log.Warn("MQTT connect failed, retrying",
			"broker", s.settings.Broker,
			"retry_in", connectRetryInterval,
			"error", err)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(connectRetryInterval):
		}
	}
}

// onConnected performs the post-connect setup: availability marker,
// control subscription, discovery configs and an immediate first
// telemetry snapshot.
func (s *Service) onConnected(ctx context.Context) {
	if err := s.client.PublishRetained(ctx, AvailabilityTopic(s.settings.Topic), PayloadOnline); err != nil {
		s.log.Warn("Failed to publish availability marker", "error", err)
	}

	if s.control != nil && s.settings.ControlTopic != "" {
		if err := s.client.Subscribe(s.settings.ControlTopic, s.control.Handle); err != nil {
			s.log.Error("Failed to subscribe control topic", "topic", s.settings.ControlTopic, "error", err)
		} else {
			s.log.Info("Subscribed to control topic", "topic", s.settings.ControlTopic)
		}
	}

	if s.settings.Discovery {
		publisher := NewDiscoveryPublisher(s.client, &DiscoveryConfig{
			BaseTopic: s.settings.Topic,
			NodeID:    s.nodeID,
			Version:   s.version,
		})
		if err := publisher.PublishDiscovery(ctx); err != nil {
			s.log.Error("Failed to publish Home Assistant discovery configs", "error", err)
		}
	}

	if err := s.PublishStatus(ctx); err != nil {
		s.log.Warn("Failed to publish initial telemetry snapshot", "error", err)
	}
}

// markOffline retains the offline marker so subscribers see a clean
// shutdown instead of waiting for the broker-side will.
func (s *Service) markOffline() {
	ctx, cancel := context.WithTimeout(context.Background(), offlineTimeout)
	defer cancel()

	if err := s.client.PublishRetained(ctx, AvailabilityTopic(s.settings.Topic), PayloadOffline); err != nil {
		s.log.Debug("Failed to publish offline marker", "error", err)
	}
}

// PublishStatus marshals the current engine status and publishes it to
// the status topic.
func (s *Service) PublishStatus(ctx context.Context) error {
	status := s.source.Status()
	payload, err := json.Marshal(&status)
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Build()
	}
	return s.client.Publish(ctx, StatusTopic(s.settings.Topic), string(payload))
}
