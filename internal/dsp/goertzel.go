package dsp

import "math"

// Goertzel band center frequencies in Hz, used for beat detection and the
// sub-bass level display.
var goertzelBands = [3]float64{30.0, 60.0, 100.0}

const (
	// Block length is one twentieth of the sample rate (50 ms), so band
	// levels refresh at the same cadence as the peak meter release.
	goertzelBlockDiv = 20
	goertzelMinBlock = 256
)

// goertzelBank estimates signal energy in a fixed set of narrow sub-bass
// bands using the Goertzel recurrence. Levels update once per completed
// block; between block boundaries the previous block's level is reported.
type goertzelBank struct {
	coeff [len(goertzelBands)]float64
	s1    [len(goertzelBands)]float64
	s2    [len(goertzelBands)]float64
	level [len(goertzelBands)]float64
	count int
	block int
}

func (g *goertzelBank) init(sampleRate float64) {
	if sampleRate <= 0 {
		sampleRate = fallbackSampleRate
	}
	g.block = int(sampleRate) / goertzelBlockDiv
	if g.block < goertzelMinBlock {
		g.block = goertzelMinBlock
	}
	for i, f := range goertzelBands {
		g.coeff[i] = 2.0 * math.Cos(2.0*Pi*f/sampleRate)
	}
	g.zero()
}

// processSample advances every band detector by one input sample.
func (g *goertzelBank) processSample(x float64) {
	for i := range g.coeff {
		s := x + g.coeff[i]*g.s1[i] - g.s2[i]
		g.s2[i] = g.s1[i]
		g.s1[i] = s
	}
	g.count++
	if g.count < g.block {
		return
	}

	// Block complete, publish magnitudes and restart the recurrence.
	n := float64(g.block)
	for i := range g.coeff {
		power := g.s1[i]*g.s1[i] + g.s2[i]*g.s2[i] - g.coeff[i]*g.s1[i]*g.s2[i]
		if power < 0 {
			power = 0
		}
		g.level[i] = 2.0 * math.Sqrt(power) / n
		g.s1[i] = 0
		g.s2[i] = 0
	}
	g.count = 0
}

// lin returns the normalized magnitude of the last completed block.
func (g *goertzelBank) lin(band int) float64 {
	if band < 0 || band >= len(g.level) {
		return 0
	}
	return g.level[band]
}

// dB returns the band level in decibels, clamped to [dbFloor, 0].
func (g *goertzelBank) dB(band int) float64 {
	return linToDB(g.lin(band))
}

func (g *goertzelBank) zero() {
	for i := range g.level {
		g.s1[i] = 0
		g.s2[i] = 0
		g.level[i] = 0
	}
	g.count = 0
}
