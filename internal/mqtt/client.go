// client.go: paho based implementation of the Client interface.
package mqtt

import (
	"context"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/tphakala/btsink-go/internal/conf"
	"github.com/tphakala/btsink-go/internal/errors"
	"github.com/tphakala/btsink-go/internal/observability"
	"github.com/tphakala/btsink-go/internal/observability/metrics"
)

// client implements the Client interface.
type client struct {
	config          Config
	internalClient  mqtt.Client
	lastConnAttempt time.Time
	mu              sync.Mutex
	reconnectTimer  *time.Timer
	reconnectStop   chan struct{}
	stopOnce        sync.Once
	subMu           sync.RWMutex
	subs            map[string]MessageHandler
	metrics         *metrics.MQTTMetrics
	log             *slog.Logger
}

// NewClient creates a new MQTT client from the sink's MQTT settings.
// The clientID identifies this node at the broker and shows up in
// broker-side session listings.
func NewClient(settings conf.MQTTSettings, clientID string, m *observability.Metrics) (Client, error) {
	if settings.Broker == "" {
		return nil, errors.Newf("mqtt broker address is empty").
			Component("mqtt").
			Category(errors.CategoryValidation).
			Build()
	}

	cfg := DefaultConfig()
	cfg.Broker = settings.Broker
	cfg.ClientID = clientID
	cfg.Username = settings.Username
	cfg.Password = settings.Password
	cfg.Retain = settings.Retain
	if settings.Topic != "" {
		cfg.WillTopic = AvailabilityTopic(settings.Topic)
		cfg.WillPayload = PayloadOffline
	}

	var mqttMetrics *metrics.MQTTMetrics
	if m != nil {
		mqttMetrics = m.MQTT
	}

	return &client{
		config:        cfg,
		reconnectStop: make(chan struct{}),
		subs:          make(map[string]MessageHandler),
		metrics:       mqttMetrics,
		log:           mqttLogger,
	}, nil
}

// Connect attempts to establish a connection to the MQTT broker.
// The broker hostname is resolved first so DNS failures surface as such
// instead of a generic connect timeout.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if since := time.Since(c.lastConnAttempt); since < c.config.ReconnectCooldown {
		return errors.Newf("connection attempt too recent, last attempt was %v ago", since).
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Build()
	}
	c.lastConnAttempt = time.Now()

	u, err := url.Parse(c.config.Broker)
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryValidation).
			Context("broker", c.config.Broker).
			Build()
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			// DNS errors pass through unwrapped so callers can inspect them
			var dnsErr *net.DNSError
			if errors.As(err, &dnsErr) {
				return dnsErr
			}
			return errors.Newf("failed to resolve hostname %s: %w", host, err).
				Component("mqtt").
				Category(errors.CategoryMQTTConnection).
				Build()
		}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetConnectRetry(true)
	if c.config.WillTopic != "" {
		opts.SetWill(c.config.WillTopic, c.config.WillPayload, 0, true)
	}

	c.internalClient = mqtt.NewClient(opts)

	token := c.internalClient.Connect()
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return errors.Newf("connection timeout").
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Context("broker", c.config.Broker).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Context("broker", c.config.Broker).
			Build()
	}

	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(true)
	}

	return nil
}

// Publish sends a message to the specified topic on the MQTT broker.
func (c *client) Publish(ctx context.Context, topic, payload string) error {
	return c.publish(ctx, topic, payload, c.config.Retain)
}

// PublishRetained sends a message with the retain flag forced on.
func (c *client) PublishRetained(ctx context.Context, topic, payload string) error {
	return c.publish(ctx, topic, payload, true)
}

func (c *client) publish(_ context.Context, topic, payload string, retain bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.IsConnected() {
		return errors.Newf("not connected to MQTT broker").
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}

	start := time.Now()
	token := c.internalClient.Publish(topic, 0, retain, payload)
	if !token.WaitTimeout(c.config.PublishTimeout) {
		if c.metrics != nil {
			c.metrics.RecordError("publish_timeout")
		}
		return errors.Newf("publish timeout").
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}
	if err := token.Error(); err != nil {
		if c.metrics != nil {
			c.metrics.RecordError("publish")
		}
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}

	if c.metrics != nil {
		c.metrics.RecordMessageDelivered(topic, len(payload), time.Since(start).Seconds())
	}

	return nil
}

// Subscribe registers a handler for the topic. When the client is not
// yet connected the subscription is recorded and applied on connect.
func (c *client) Subscribe(topic string, handler MessageHandler) error {
	if topic == "" {
		return errors.Newf("subscribe topic is empty").
			Component("mqtt").
			Category(errors.CategoryValidation).
			Build()
	}

	c.subMu.Lock()
	c.subs[topic] = handler
	c.subMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.internalClient == nil || !c.internalClient.IsConnected() {
		return nil
	}
	return c.subscribeLocked(c.internalClient, topic, handler)
}

func (c *client) subscribeLocked(cl mqtt.Client, topic string, handler MessageHandler) error {
	token := cl.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(c.config.PublishTimeout) {
		return errors.Newf("subscribe timeout").
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Context("topic", topic).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Context("topic", topic).
			Build()
	}
	return nil
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the connection to the MQTT broker.
func (c *client) Disconnect() {
	if c.internalClient != nil && c.internalClient.IsConnected() {
		c.internalClient.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
		if c.metrics != nil {
			c.metrics.UpdateConnectionStatus(false)
		}
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.stopOnce.Do(func() {
		close(c.reconnectStop)
	})
}

func (c *client) onConnect(cl mqtt.Client) {
	c.log.Info("Connected to MQTT broker", "broker", c.config.Broker)
	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(true)
	}
	c.restoreSubscriptions(cl)
}

// restoreSubscriptions reapplies recorded subscriptions on a fresh
// session. With clean sessions the broker forgets them on every drop.
func (c *client) restoreSubscriptions(cl mqtt.Client) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for topic, handler := range c.subs {
		if err := c.subscribeLocked(cl, topic, handler); err != nil {
			c.log.Error("Failed to restore subscription", "topic", topic, "error", err)
			if c.metrics != nil {
				c.metrics.RecordError("subscribe")
			}
		}
	}
}

func (c *client) onConnectionLost(_ mqtt.Client, err error) {
	c.log.Warn("Connection to MQTT broker lost", "broker", c.config.Broker, "error", err)
	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(false)
		c.metrics.RecordError("connection_lost")
	}
	c.startReconnectTimer()
}

func (c *client) startReconnectTimer() {
	c.reconnectTimer = time.AfterFunc(c.config.ReconnectDelay, func() {
		select {
		case <-c.reconnectStop:
			return
		default:
			c.reconnectWithBackoff()
		}
	})
}

func (c *client) reconnectWithBackoff() {
	backoff := time.Second
	maxBackoff := 5 * time.Minute

	for {
		if c.metrics != nil {
			c.metrics.RecordReconnect()
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.config.ConnectTimeout)
		err := c.Connect(ctx)
		cancel()

		if err == nil {
			c.log.Info("Reconnected to MQTT broker", "broker", c.config.Broker)
			return
		}

		c.log.Warn("Failed to reconnect to MQTT broker", "broker", c.config.Broker, "retry_in", backoff, "error", err)

		select {
		case <-time.After(backoff):
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		case <-c.reconnectStop:
			return
		}
	}
}
