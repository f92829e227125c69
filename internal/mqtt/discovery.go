// discovery.go: Home Assistant MQTT auto-discovery implementation.
// See: https://www.home-assistant.io/integrations/mqtt/#mqtt-discovery
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tphakala/btsink-go/internal/errors"
)

// Sensor type constants to avoid magic strings
const (
	SensorStreaming  = "streaming"
	SensorVolume     = "volume"
	SensorCodec      = "codec"
	SensorSampleRate = "sample_rate"
	SensorBand30     = "band_30hz"
	SensorBand60     = "band_60hz"
	SensorBand100    = "band_100hz"
	SensorDropped    = "dropped_buffers"
)

// deviceIDPrefix is the standard prefix for all sink device identifiers
const deviceIDPrefix = "btsink"

const (
	defaultDiscoveryPrefix = "homeassistant"
	defaultDeviceName      = "Bluetooth Audio Sink"
)

// AllSensorTypes lists all sensor types for iteration (e.g., during removal)
var AllSensorTypes = []string{
	SensorStreaming,
	SensorVolume,
	SensorCodec,
	SensorSampleRate,
	SensorBand30,
	SensorBand60,
	SensorBand100,
	SensorDropped,
}

// idSanitizer replaces invalid characters in IDs with underscores.
// Home Assistant requires IDs to contain only [a-zA-Z0-9_-].
var idSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SanitizeID ensures the ID contains only valid characters for MQTT topics and HA entity IDs.
func SanitizeID(id string) string {
	sanitized := idSanitizer.ReplaceAllString(id, "_")
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")
	if sanitized == "" {
		sanitized = "unknown"
	}
	return sanitized
}

// DiscoveryPayload represents a Home Assistant MQTT discovery message.
type DiscoveryPayload struct {
	Name                string           `json:"name"`
	UniqueID            string           `json:"unique_id"`
	StateTopic          string           `json:"state_topic"`
	ValueTemplate       string           `json:"value_template,omitempty"`
	UnitOfMeasurement   string           `json:"unit_of_measurement,omitempty"`
	DeviceClass         string           `json:"device_class,omitempty"`
	StateClass          string           `json:"state_class,omitempty"`
	Icon                string           `json:"icon,omitempty"`
	EntityCategory      string           `json:"entity_category,omitempty"`
	PayloadAvailable    string           `json:"payload_available,omitempty"`
	PayloadNotAvailable string           `json:"payload_not_available,omitempty"`
	AvailabilityTopic   string           `json:"availability_topic,omitempty"`
	Device              DiscoveryDevice  `json:"device"`
	Origin              *DiscoveryOrigin `json:"origin,omitempty"`
}

// DiscoveryDevice represents the device information in a discovery payload.
type DiscoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// DiscoveryOrigin provides information about the software creating the discovery message.
type DiscoveryOrigin struct {
	Name       string `json:"name"`
	SWVersion  string `json:"sw_version,omitempty"`
	SupportURL string `json:"support_url,omitempty"`
}

// DiscoveryConfig holds configuration for generating discovery payloads.
type DiscoveryConfig struct {
	DiscoveryPrefix string // Home Assistant discovery topic prefix (default: homeassistant)
	BaseTopic       string // Base MQTT topic for state messages (e.g., btsink)
	DeviceName      string // Display name for the device in Home Assistant
	NodeID          string // Node identifier (typically main.name from config)
	Version         string // Software version
}

// sensorDef describes one announced entity. All entities read from the
// retained status document via a value template.
type sensorDef struct {
	sensor      string
	component   string
	name        string
	template    string
	unit        string
	deviceClass string
	stateClass  string
	icon        string
	category    string
}

func sensorDefs() []sensorDef {
	return []sensorDef{
		{
			sensor:      SensorStreaming,
			component:   "binary_sensor",
			name:        "Streaming",
			template:    "{{ 'ON' if value_json.streaming else 'OFF' }}",
			deviceClass: "running",
			icon:        "mdi:bluetooth-audio",
		},
		{
			sensor:     SensorVolume,
			component:  "sensor",
			name:       "Volume",
			template:   "{{ value_json.volume }}",
			stateClass: "measurement",
			icon:       "mdi:volume-high",
		},
		{
			sensor:    SensorCodec,
			component: "sensor",
			name:      "Codec",
			template:  "{{ value_json.codec.name }}",
			icon:      "mdi:music-note",
			category:  "diagnostic",
		},
		{
			sensor:     SensorSampleRate,
			component:  "sensor",
			name:       "Sample Rate",
			template:   "{{ value_json.sample_rate }}",
			unit:       "Hz",
			stateClass: "measurement",
			icon:       "mdi:waveform",
			category:   "diagnostic",
		},
		{
			sensor:     SensorBand30,
			component:  "sensor",
			name:       "30 Hz Band",
			template:   "{{ value_json.analysis.band_db[0] | round(1) }}",
			unit:       "dB",
			stateClass: "measurement",
			icon:       "mdi:sine-wave",
		},
		{
			sensor:     SensorBand60,
			component:  "sensor",
			name:       "60 Hz Band",
			template:   "{{ value_json.analysis.band_db[1] | round(1) }}",
			unit:       "dB",
			stateClass: "measurement",
			icon:       "mdi:sine-wave",
		},
		{
			sensor:     SensorBand100,
			component:  "sensor",
			name:       "100 Hz Band",
			template:   "{{ value_json.analysis.band_db[2] | round(1) }}",
			unit:       "dB",
			stateClass: "measurement",
			icon:       "mdi:sine-wave",
		},
		{
			sensor:     SensorDropped,
			component:  "sensor",
			name:       "Dropped Buffers",
			template:   "{{ value_json.pipeline.dropped }}",
			stateClass: "total_increasing",
			icon:       "mdi:package-variant-remove",
			category:   "diagnostic",
		},
	}
}

// Publisher handles publishing Home Assistant discovery messages.
type Publisher struct {
	client Client
	config DiscoveryConfig
}

// NewDiscoveryPublisher creates a new discovery publisher. Missing
// config fields fall back to sink defaults.
func NewDiscoveryPublisher(client Client, config *DiscoveryConfig) *Publisher {
	cfg := *config
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = defaultDiscoveryPrefix
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = defaultDeviceName
	}
	if cfg.NodeID == "" {
		cfg.NodeID = deviceIDPrefix
	}
	return &Publisher{
		client: client,
		config: cfg,
	}
}

// PublishDiscovery publishes retained discovery configs for all sink
// entities, tracking the first error but continuing with the rest.
func (p *Publisher) PublishDiscovery(ctx context.Context) error {
	nodeID := SanitizeID(p.config.NodeID)
	defs := sensorDefs()

	var firstErr error
	for i := range defs {
		if err := p.publishSensor(ctx, nodeID, &defs[i]); err != nil {
			mqttLogger.Error("Failed to publish discovery config",
				"sensor", defs[i].sensor,
				"error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr != nil {
		return errors.Newf("failed to publish discovery for one or more sensors: %w", firstErr).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Build()
	}

	mqttLogger.Info("Home Assistant discovery configs published",
		"sensor_count", len(defs),
		"discovery_prefix", p.config.DiscoveryPrefix)
	return nil
}

// RemoveDiscovery publishes empty retained payloads so Home Assistant
// drops the announced entities.
func (p *Publisher) RemoveDiscovery(ctx context.Context) error {
	nodeID := SanitizeID(p.config.NodeID)
	defs := sensorDefs()

	var firstErr error
	for i := range defs {
		if err := p.client.PublishRetained(ctx, p.configTopic(nodeID, &defs[i]), ""); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Publisher) publishSensor(ctx context.Context, nodeID string, def *sensorDef) error {
	payload := DiscoveryPayload{
		Name:                def.name,
		UniqueID:            fmt.Sprintf("%s_%s_%s", deviceIDPrefix, nodeID, def.sensor),
		StateTopic:          StatusTopic(p.config.BaseTopic),
		ValueTemplate:       def.template,
		UnitOfMeasurement:   def.unit,
		DeviceClass:         def.deviceClass,
		StateClass:          def.stateClass,
		Icon:                def.icon,
		EntityCategory:      def.category,
		PayloadAvailable:    PayloadOnline,
		PayloadNotAvailable: PayloadOffline,
		AvailabilityTopic:   AvailabilityTopic(p.config.BaseTopic),
		Device:              p.device(nodeID),
		Origin:              p.origin(),
	}

	data, err := json.Marshal(&payload)
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("sensor", def.sensor).
			Build()
	}

	return p.client.PublishRetained(ctx, p.configTopic(nodeID, def), string(data))
}

// configTopic builds the <prefix>/<component>/<node>/<object>/config
// topic Home Assistant watches for discovery.
func (p *Publisher) configTopic(nodeID string, def *sensorDef) string {
	return fmt.Sprintf("%s/%s/%s_%s/%s/config",
		p.config.DiscoveryPrefix, def.component, deviceIDPrefix, nodeID, def.sensor)
}

func (p *Publisher) device(nodeID string) DiscoveryDevice {
	return DiscoveryDevice{
		Identifiers:  []string{deviceIDPrefix + "_" + nodeID},
		Name:         p.config.DeviceName,
		Manufacturer: "btsink-go",
		Model:        "Bluetooth Audio Sink",
		SWVersion:    p.config.Version,
	}
}

func (p *Publisher) origin() *DiscoveryOrigin {
	return &DiscoveryOrigin{
		Name:       "btsink-go",
		SWVersion:  p.config.Version,
		SupportURL: "https://github.com/tphakala/btsink-go",
	}
}
