// mqtt.go: Package mqtt publishes sink telemetry to a broker and applies
// control commands received on a subscribed topic.
package mqtt

import (
	"context"
	"log/slog"
	"time"

	"github.com/tphakala/btsink-go/internal/logging"
)

// Client defines the interface for MQTT client operations.
type Client interface {
	// Connect attempts to connect to the MQTT broker.
	// It returns an error if the connection fails.
	Connect(ctx context.Context) error

	// Publish sends a message to the specified topic on the MQTT broker,
	// using the configured retain flag.
	Publish(ctx context.Context, topic string, payload string) error

	// PublishRetained sends a message with the broker retain flag set
	// regardless of the configured default. Used for availability markers
	// and discovery configs that must survive subscriber restarts.
	PublishRetained(ctx context.Context, topic string, payload string) error

	// Subscribe registers a handler for messages arriving on the given
	// topic. The subscription is restored automatically after reconnects.
	Subscribe(topic string, handler MessageHandler) error

	// IsConnected returns true if the client is currently connected to the MQTT broker.
	IsConnected() bool

	// Disconnect closes the connection to the MQTT broker.
	Disconnect()
}

// MessageHandler receives inbound messages from a subscribed topic.
type MessageHandler func(topic string, payload []byte)

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	Retain            bool   // true to retain telemetry messages at the broker
	WillTopic         string // availability topic the broker marks offline on ungraceful exit
	WillPayload       string
	ReconnectCooldown time.Duration
	ReconnectDelay    time.Duration
	// Connection timeouts
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// Package-level logger for MQTT related events
var mqttLogger *slog.Logger

func init() {
	var err error
	mqttLogger, _, err = logging.NewFileLogger("logs/mqtt.log", "mqtt", slog.LevelInfo)
	if err != nil {
		// Fall back to the default structured logger
		mqttLogger = logging.ForService("mqtt")
		logging.Warn("MQTT service falling back to default logger due to file logger initialization error", "error", err)
	}
}

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		ReconnectCooldown: 5 * time.Second,
		ReconnectDelay:    1 * time.Second,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}
