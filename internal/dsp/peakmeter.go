package dsp

import "math"

// Peak meter band low-pass cutoffs in Hz. Each band captures the envelope
// of the signal below its cutoff; together they track the 30/60/100 Hz
// display bands with more punch than the Goertzel detectors.
var peakCutoffs = [3]float64{45.0, 80.0, 120.0}

const (
	peakReleaseMs = 50.0

	// dB conversion: 20 / ln(10), output clamped to [dbFloor, 0].
	dbScale = 8.685889638
	dbFloor = -60.0
)

func linToDB(lin float64) float64 {
	if lin < 1e-6 {
		return dbFloor
	}
	dB := dbScale * math.Log(lin)
	if dB < dbFloor {
		return dbFloor
	}
	if dB > 0 {
		return 0
	}
	return dB
}

// peakMeter is a fast-responding three band level meter built from one-pole
// low-pass filters with instant attack and a smooth release envelope.
type peakMeter struct {
	releaseCoef float64
	lpCoef      [len(peakCutoffs)]float64
	lpState     [len(peakCutoffs)]float64
	envelope    [len(peakCutoffs)]float64
}

func (m *peakMeter) init(sampleRate float64) {
	if sampleRate <= 0 {
		sampleRate = fallbackSampleRate
	}

	releaseSamples := peakReleaseMs * 0.001 * sampleRate
	m.releaseCoef = math.Exp(-1.0 / releaseSamples)

	dt := 1.0 / sampleRate
	for i, fc := range peakCutoffs {
		rc := 1.0 / (2.0 * Pi * fc)
		m.lpCoef[i] = dt / (rc + dt)
	}

	m.zero()
}

// process feeds one mono sample into every band filter and updates the
// per-band envelopes. Attack is instant, release follows the 50 ms coefficient.
func (m *peakMeter) process(x float64) {
	for i := range m.lpCoef {
		m.lpState[i] += m.lpCoef[i] * (x - m.lpState[i])

		abs := m.lpState[i]
		if abs < 0 {
			abs = -abs
		}
		if abs > m.envelope[i] {
			m.envelope[i] = abs
		} else {
			m.envelope[i] = m.releaseCoef*m.envelope[i] + (1.0-m.releaseCoef)*abs
		}
	}
}

func (m *peakMeter) lin(band int) float64 {
	if band < 0 || band >= len(m.envelope) {
		return 0
	}
	return m.envelope[band]
}

func (m *peakMeter) dB(band int) float64 {
	return linToDB(m.lin(band))
}

func (m *peakMeter) zero() {
	for i := range m.envelope {
		m.lpState[i] = 0
		m.envelope[i] = 0
	}
}
