// Package observability provides metrics and monitoring capabilities for btsink.
package observability

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tphakala/btsink-go/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry  *prometheus.Registry
	Audio     *metrics.AudioMetrics
	DSP       *metrics.DSPMetrics
	MQTT      *metrics.MQTTMetrics
	Datastore *metrics.DatastoreMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all metric collectors.
// It returns an error if any metric collector fails to initialize.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	audioMetrics, err := metrics.NewAudioMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio metrics: %w", err)
	}

	dspMetrics, err := metrics.NewDSPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create DSP metrics: %w", err)
	}

	mqttMetrics, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}

	datastoreMetrics, err := metrics.NewDatastoreMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create datastore metrics: %w", err)
	}

	m := &Metrics{
		registry:  registry,
		Audio:     audioMetrics,
		DSP:       dspMetrics,
		MQTT:      mqttMetrics,
		Datastore: datastoreMetrics,
	}

	return m, nil
}

// Gatherer exposes the underlying registry for handlers and tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// RegisterHandlers registers the metrics endpoint with the provided http.ServeMux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/metrics", m.MetricsHandler)
}

// MetricsHandler is the HTTP handler for the /metrics endpoint.
func (m *Metrics) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
	h.ServeHTTP(w, r)
}
