// client_test.go: client tests against the public mosquitto test broker.
package mqtt

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/btsink-go/internal/conf"
	"github.com/tphakala/btsink-go/internal/observability"
)

const testBrokerAddress = "tcp://test.mosquitto.org:1883"

func isMosquittoTestServerAvailable() bool {
	conn, err := net.DialTimeout("tcp", "test.mosquitto.org:1883", 5*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// createTestClient builds a client against the given broker with a
// fresh metrics registry.
func createTestClient(t *testing.T, broker string) (Client, *observability.Metrics) {
	t.Helper()

	m, err := observability.NewMetrics()
	require.NoError(t, err)

	settings := conf.MQTTSettings{
		Broker: broker,
		Topic:  "btsink/test",
	}
	mqttClient, err := NewClient(settings, "btsink-test-"+uuid.New().String()[:8], m)
	require.NoError(t, err)
	return mqttClient, m
}

// testTopic returns a unique topic so runs on the shared broker never
// collide.
func testTopic(t *testing.T) string {
	t.Helper()
	return "btsink/test/" + uuid.New().String()
}

// TestMQTTClient runs the suite that needs a reachable broker. It covers
// connection, publishing, subscription restore data flow and metrics.
func TestMQTTClient(t *testing.T) {
	if !isMosquittoTestServerAvailable() {
		t.Skip("Skipping MQTT tests: test.mosquitto.org is not available")
	}

	t.Run("Basic Functionality", testBasicFunctionality)
	t.Run("Unresolvable Hostname", testUnresolvableHostname)
	t.Run("Subscribe Round Trip", testSubscribeRoundTrip)
	t.Run("Reconnect Cooldown", testReconnectCooldown)
	t.Run("Metrics Collection", testMetricsCollection)
}

func testBasicFunctionality(t *testing.T) {
	mqttClient, _ := createTestClient(t, testBrokerAddress)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, mqttClient.Connect(ctx))
	require.True(t, mqttClient.IsConnected())

	require.NoError(t, mqttClient.Publish(ctx, testTopic(t), "Hello, MQTT!"))

	mqttClient.Disconnect()
	assert.False(t, mqttClient.IsConnected())
}

func testUnresolvableHostname(t *testing.T) {
	mqttClient, _ := createTestClient(t, "tcp://unresolvable.invalid:1883")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := mqttClient.Connect(ctx)
	require.Error(t, err)

	var dnsErr *net.DNSError
	assert.ErrorAs(t, err, &dnsErr)
	assert.False(t, mqttClient.IsConnected())
}

func testSubscribeRoundTrip(t *testing.T) {
	mqttClient, _ := createTestClient(t, testBrokerAddress)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, mqttClient.Connect(ctx))
	defer mqttClient.Disconnect()

	topic := testTopic(t)
	received := make(chan string, 1)
	require.NoError(t, mqttClient.Subscribe(topic, func(_ string, payload []byte) {
		select {
		case received <- string(payload):
		default:
		}
	}))

	require.NoError(t, mqttClient.Publish(ctx, topic, "ping"))

	select {
	case msg := <-received:
		assert.Equal(t, "ping", msg)
	case <-time.After(10 * time.Second):
		t.Fatal("subscribed message did not arrive")
	}
}

func testReconnectCooldown(t *testing.T) {
	mqttClient, _ := createTestClient(t, testBrokerAddress)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	require.NoError(t, mqttClient.Connect(ctx))
	mqttClient.Disconnect()

	// Inside the cooldown window a reconnect is refused
	time.Sleep(2 * time.Second)
	require.Error(t, mqttClient.Connect(ctx))

	// After the cooldown it goes through
	time.Sleep(4 * time.Second)
	require.NoError(t, mqttClient.Connect(ctx))
	assert.True(t, mqttClient.IsConnected())

	mqttClient.Disconnect()
}

func testMetricsCollection(t *testing.T) {
	mqttClient, m := createTestClient(t, testBrokerAddress)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, mqttClient.Connect(ctx))
	assert.InDelta(t, 1.0, gaugeValue(t, m.Gatherer(), "mqtt_connection_status"), 0.001)

	topic := testTopic(t)
	require.NoError(t, mqttClient.Publish(ctx, topic, "Test message"))
	assert.InDelta(t, 1.0, counterValue(t, m.Gatherer(), "mqtt_messages_delivered_total", "topic", topic), 0.001)

	mqttClient.Disconnect()
	assert.InDelta(t, 0.0, gaugeValue(t, m.Gatherer(), "mqtt_connection_status"), 0.001)
}

func TestNewClientRequiresBroker(t *testing.T) {
	t.Parallel()

	_, err := NewClient(conf.MQTTSettings{}, "btsink", nil)
	assert.Error(t, err)
}

func TestConnectRejectsBadBrokerURL(t *testing.T) {
	t.Parallel()

	mqttClient, err := NewClient(conf.MQTTSettings{Broker: "tcp://bad host:1883"}, "btsink", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.Error(t, mqttClient.Connect(ctx))
}

func TestPublishWhileDisconnected(t *testing.T) {
	t.Parallel()

	mqttClient, err := NewClient(conf.MQTTSettings{Broker: testBrokerAddress}, "btsink", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.Error(t, mqttClient.Publish(ctx, "btsink/test", "This should fail"))
}

func TestSubscribeBeforeConnectIsDeferred(t *testing.T) {
	t.Parallel()

	mqttClient, err := NewClient(conf.MQTTSettings{Broker: testBrokerAddress}, "btsink", nil)
	require.NoError(t, err)

	// Recorded for the next connect rather than rejected
	assert.NoError(t, mqttClient.Subscribe("btsink/control", func(string, []byte) {}))
	assert.Error(t, mqttClient.Subscribe("", func(string, []byte) {}))
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	assert.Equal(t, 5*time.Second, cfg.ReconnectCooldown)
	assert.Equal(t, 1*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 10*time.Second, cfg.PublishTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.DisconnectTimeout)
}

func TestTopicHelpers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "btsink/status", StatusTopic("btsink"))
	assert.Equal(t, "btsink/status", StatusTopic("btsink/"))
	assert.Equal(t, "status", StatusTopic(""))
	assert.Equal(t, "btsink/available", AvailabilityTopic("btsink"))
	assert.Equal(t, "home/sink/available", AvailabilityTopic("home/sink"))
}
