// dsp.go provides Prometheus metrics for the signal processing chain.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// DSPMetrics contains Prometheus metrics for DSP chain operations
type DSPMetrics struct {
	registry *prometheus.Registry

	// Analysis taps
	bandEnergy  *prometheus.GaugeVec
	peakLevelDB *prometheus.GaugeVec

	// Control state
	volume      prometheus.Gauge
	visualBoost prometheus.Gauge

	// Reconfiguration events
	sampleRateChangesTotal prometheus.Counter
	controlAppliesTotal    *prometheus.CounterVec
	eqUpdatesTotal         prometheus.Counter
}

// NewDSPMetrics creates and registers new DSP metrics
func NewDSPMetrics(registry *prometheus.Registry) (*DSPMetrics, error) {
	m := &DSPMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize DSP metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register DSP metrics: %w", err)
	}
	return m, nil
}

func (m *DSPMetrics) initMetrics() error {
	m.bandEnergy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dsp_band_energy",
		Help: "Goertzel magnitude of the low frequency analysis bands",
	}, []string{"band"})

	m.peakLevelDB = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dsp_peak_level_db",
		Help: "Peak meter level in decibels for each metering band",
	}, []string{"band"})

	m.volume = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dsp_volume",
		Help: "Current stream volume on the 0-127 control scale",
	})

	m.visualBoost = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dsp_visual_boost",
		Help: "Volume-inverse scaling factor applied to visualization output",
	})

	m.sampleRateChangesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dsp_sample_rate_changes_total",
		Help: "Total number of sample rate reconfigurations",
	})

	m.controlAppliesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dsp_control_applies_total",
		Help: "Total number of control byte applications by feature",
	}, []string{"feature"})

	m.eqUpdatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dsp_eq_updates_total",
		Help: "Total number of equalizer gain updates",
	})

	return nil
}

// Describe implements the prometheus.Collector interface
func (m *DSPMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.bandEnergy.Describe(ch)
	m.peakLevelDB.Describe(ch)
	m.volume.Describe(ch)
	m.visualBoost.Describe(ch)
	m.sampleRateChangesTotal.Describe(ch)
	m.controlAppliesTotal.Describe(ch)
	m.eqUpdatesTotal.Describe(ch)
}

// Collect implements the prometheus.Collector interface
func (m *DSPMetrics) Collect(ch chan<- prometheus.Metric) {
	m.bandEnergy.Collect(ch)
	m.peakLevelDB.Collect(ch)
	m.volume.Collect(ch)
	m.visualBoost.Collect(ch)
	m.sampleRateChangesTotal.Collect(ch)
	m.controlAppliesTotal.Collect(ch)
	m.eqUpdatesTotal.Collect(ch)
}

// UpdateBandEnergy sets the Goertzel magnitude for a band
func (m *DSPMetrics) UpdateBandEnergy(band string, energy float64) {
	m.bandEnergy.WithLabelValues(band).Set(energy)
}

// UpdatePeakLevel sets the peak meter reading for a band
func (m *DSPMetrics) UpdatePeakLevel(band string, levelDB float64) {
	m.peakLevelDB.WithLabelValues(band).Set(levelDB)
}

// UpdateVolume sets the current control volume
func (m *DSPMetrics) UpdateVolume(volume int) {
	m.volume.Set(float64(volume))
}

// UpdateVisualBoost sets the current visualization boost factor
func (m *DSPMetrics) UpdateVisualBoost(boost float64) {
	m.visualBoost.Set(boost)
}

// RecordSampleRateChange increments the reconfiguration counter
func (m *DSPMetrics) RecordSampleRateChange() {
	m.sampleRateChangesTotal.Inc()
}

// RecordControlApply increments the control application counter for a feature
func (m *DSPMetrics) RecordControlApply(feature string) {
	m.controlAppliesTotal.WithLabelValues(feature).Inc()
}

// RecordEQUpdate increments the equalizer update counter
func (m *DSPMetrics) RecordEQUpdate() {
	m.eqUpdatesTotal.Inc()
}
