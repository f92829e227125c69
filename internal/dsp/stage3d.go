package dsp

// Stage presence processor. Builds a concert-style soundstage from a plain
// stereo signal: bass is low-passed and summed to mono so it stays centered
// and punchy, mids and highs are widened with mid/side scaling, short
// cross-channel reflections and a depth delay simulate room acoustics, and
// cascaded all-pass stages decorrelate phase for an out-of-head feel.
const (
	// Delay line length in frames, power of two for cheap index wrap.
	stageMaxDelay = 256

	stageBassCrossoverHz = 180.0
	stageMidWidth        = 2.2

	stageReflect1Ms   = 8.0
	stageReflect2Ms   = 15.0
	stageReflect3Ms   = 23.0
	stageReflectGain1 = 0.25
	stageReflectGain2 = 0.18
	stageReflectGain3 = 0.12

	stageDepthDelayMs = 4.0
	stageDepthGain    = 0.35

	stageAllpassCoef1 = 0.6
	stageAllpassCoef2 = -0.4

	stageBassMixGain = 0.9
	stageWideMixGain = 0.65
	stageExtBlend    = 0.5
)

type stagePresence struct {
	delayL   [stageMaxDelay]float64
	delayR   [stageMaxDelay]float64
	writeIdx int

	reflect1Samples int
	reflect2Samples int
	reflect3Samples int
	depthSamples    int

	bassLPCoef float64
	bassStateL float64
	bassStateR float64

	apState1L float64
	apState1R float64
	apState2L float64
	apState2R float64
}

// stageSoftClip applies a cubic saturation curve, hard limited to the unit
// range. Keeps the summed reflections from pushing the mix into harsh
// digital clipping.
func stageSoftClip(x float64) float64 {
	if x > 1.0 {
		return 1.0
	}
	if x < -1.0 {
		return -1.0
	}
	return x * (1.5 - 0.5*x*x)
}

func (s *stagePresence) init(sampleRate float64) {
	if sampleRate <= 0 {
		sampleRate = fallbackSampleRate
	}

	s.reset()

	s.reflect1Samples = delaySamples(sampleRate, stageReflect1Ms)
	s.reflect2Samples = delaySamples(sampleRate, stageReflect2Ms)
	s.reflect3Samples = delaySamples(sampleRate, stageReflect3Ms)
	s.depthSamples = delaySamples(sampleRate, stageDepthDelayMs)

	wc := 2.0 * Pi * stageBassCrossoverHz
	s.bassLPCoef = wc / (wc + sampleRate)
}

func delaySamples(sampleRate, ms float64) int {
	n := int(sampleRate * ms * 0.001)
	if n >= stageMaxDelay {
		n = stageMaxDelay - 1
	}
	return n
}

func (s *stagePresence) process(l, r float64) (outL, outR float64) {
	// Bass/mid separation: one-pole low-pass extracts the bass, which is
	// summed to mono so it stays centered.
	s.bassStateL += s.bassLPCoef * (l - s.bassStateL)
	s.bassStateR += s.bassLPCoef * (r - s.bassStateR)

	bassMono := (s.bassStateL + s.bassStateR) * 0.5

	midHighL := l - s.bassStateL
	midHighR := r - s.bassStateR

	// Mid/side widening on the mid/high content only.
	mid := (midHighL + midHighR) * 0.5
	side := (midHighL - midHighR) * 0.5 * stageMidWidth

	wideL := mid + side
	wideR := mid - side

	s.delayL[s.writeIdx] = wideL
	s.delayR[s.writeIdx] = wideR

	// Early reflections: taps one and three cross channels, tap two stays
	// on the same side.
	idx1 := (s.writeIdx - s.reflect1Samples) & (stageMaxDelay - 1)
	idx2 := (s.writeIdx - s.reflect2Samples) & (stageMaxDelay - 1)
	idx3 := (s.writeIdx - s.reflect3Samples) & (stageMaxDelay - 1)
	depthIdx := (s.writeIdx - s.depthSamples) & (stageMaxDelay - 1)

	refL := s.delayR[idx1]*stageReflectGain1 + s.delayL[idx2]*stageReflectGain2 + s.delayR[idx3]*stageReflectGain3
	refR := s.delayL[idx1]*stageReflectGain1 + s.delayR[idx2]*stageReflectGain2 + s.delayL[idx3]*stageReflectGain3

	depthL := s.delayL[depthIdx] * stageDepthGain
	depthR := s.delayR[depthIdx] * stageDepthGain

	// Cascaded all-pass stages for phase decorrelation.
	ap1L := stageAllpassCoef1*wideL + s.apState1L
	s.apState1L = wideL - stageAllpassCoef1*ap1L
	ap1R := stageAllpassCoef1*wideR + s.apState1R
	s.apState1R = wideR - stageAllpassCoef1*ap1R

	ap2L := stageAllpassCoef2*ap1L + s.apState2L
	s.apState2L = ap1L - stageAllpassCoef2*ap2L
	ap2R := stageAllpassCoef2*ap1R + s.apState2R
	s.apState2R = ap1R - stageAllpassCoef2*ap2R

	// Blend dry widened signal with the phase-shifted version.
	extL := wideL*stageExtBlend + ap2L*stageExtBlend
	extR := wideR*stageExtBlend + ap2R*stageExtBlend

	outL = stageSoftClip(bassMono*stageBassMixGain + extL*stageWideMixGain + depthL + refL)
	outR = stageSoftClip(bassMono*stageBassMixGain + extR*stageWideMixGain + depthR + refR)

	s.writeIdx = (s.writeIdx + 1) & (stageMaxDelay - 1)
	return outL, outR
}

func (s *stagePresence) reset() {
	for i := range s.delayL {
		s.delayL[i] = 0
		s.delayR[i] = 0
	}
	s.writeIdx = 0
	s.bassStateL = 0
	s.bassStateR = 0
	s.apState1L = 0
	s.apState1R = 0
	s.apState2L = 0
	s.apState2R = 0
}
