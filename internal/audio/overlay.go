package audio

import (
	"math"
	"sync"

	"github.com/tphakala/btsink-go/internal/errors"
)

// Q15 fixed-point gain constants for the duck ramp.
const (
	unityGainQ15 = 32767
	// duckRampStep moves the gain roughly 10 ms from unity to the duck
	// level at 96 kHz, one step per output frame.
	duckRampStep = 328
)

// OverlayMixer is a ring of stereo frames that cue sounds push into and
// the render loop drains. While overlay frames are pending the primary
// stream is ducked, with the gain ramped one Q15 step per frame so the
// transition never clicks.
type OverlayMixer struct {
	mu         sync.Mutex
	ring       []int32
	frameCount int
	writeIdx   int
	readIdx    int
	available  int

	active     bool
	duckGain   int32
	targetGain int32
	duckTarget int32
}

// NewOverlayMixer builds a mixer with capacity for frames stereo frames.
// duckLevel is the linear gain applied to the primary stream while an
// overlay plays, 0 to 1.
func NewOverlayMixer(frames int, duckLevel float64) (*OverlayMixer, error) {
	if frames < 1 {
		return nil, errors.Newf("invalid overlay ring size: %d frames", frames).
			Component("audio").
			Category(errors.CategoryValidation).
			Context("operation", "create_overlay_mixer").
			Build()
	}
	if duckLevel < 0 || duckLevel > 1 {
		return nil, errors.Newf("invalid duck level: %g, must be within 0..1", duckLevel).
			Component("audio").
			Category(errors.CategoryValidation).
			Context("operation", "create_overlay_mixer").
			Build()
	}
	return &OverlayMixer{
		ring:       make([]int32, frames*2),
		frameCount: frames,
		duckGain:   unityGainQ15,
		targetGain: unityGainQ15,
		duckTarget: duckTargetQ15(duckLevel),
	}, nil
}

// duckTargetQ15 converts a linear gain to the Q15 ramp target.
func duckTargetQ15(level float64) int32 {
	q := int32(math.Round(level * 32768))
	if q > unityGainQ15 {
		q = unityGainQ15
	}
	if q < 0 {
		q = 0
	}
	return q
}

// SetDuckLevel changes the gain the primary stream ramps to while an
// overlay is pending. Takes effect on the next push.
func (m *OverlayMixer) SetDuckLevel(level float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duckTarget = duckTargetQ15(level)
	if m.active {
		m.targetGain = m.duckTarget
	}
}

// Push copies interleaved stereo samples into the ring and arms the duck
// ramp. When the ring cannot hold the whole slice only the frames that
// fit are stored. Returns the number of frames accepted.
func (m *OverlayMixer) Push(samples []int32) int {
	frames := len(samples) / 2
	if frames == 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	free := m.frameCount - m.available
	if frames > free {
		frames = free
	}

	for i := range frames {
		idx := ((m.writeIdx + i) % m.frameCount) * 2
		m.ring[idx] = samples[i*2]
		m.ring[idx+1] = samples[i*2+1]
	}

	m.writeIdx = (m.writeIdx + frames) % m.frameCount
	m.available += frames
	m.active = true
	m.targetGain = m.duckTarget
	return frames
}

// MixInto ducks the primary stream in dspOut and adds pending overlay
// frames in place. dspOut holds frames interleaved stereo pairs. The
// render loop calls this on every pass, including passes whose sink
// write is skipped, so the ramp and the ring drain keep moving.
func (m *OverlayMixer) MixInto(dspOut []int32, frames int) {
	if frames == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range frames {
		if m.duckGain < m.targetGain {
			m.duckGain += duckRampStep
			if m.duckGain > m.targetGain {
				m.duckGain = m.targetGain
			}
		} else if m.duckGain > m.targetGain {
			m.duckGain -= duckRampStep
			if m.duckGain < m.targetGain {
				m.duckGain = m.targetGain
			}
		}

		l := int64(dspOut[i*2]) * int64(m.duckGain) >> 15
		r := int64(dspOut[i*2+1]) * int64(m.duckGain) >> 15

		if m.available > 0 {
			idx := m.readIdx * 2
			l += int64(m.ring[idx])
			r += int64(m.ring[idx+1])
			if l > math.MaxInt32 {
				l = math.MaxInt32
			}
			if l < math.MinInt32 {
				l = math.MinInt32
			}
			if r > math.MaxInt32 {
				r = math.MaxInt32
			}
			if r < math.MinInt32 {
				r = math.MinInt32
			}
			m.readIdx = (m.readIdx + 1) % m.frameCount
			m.available--
		}

		dspOut[i*2] = int32(l)
		dspOut[i*2+1] = int32(r)
	}

	// Ring drained, ramp the primary stream back to unity.
	if m.available == 0 && m.active {
		m.active = false
		m.targetGain = unityGainQ15
	}
}

// Active reports whether overlay audio is pending or the duck ramp has
// not yet returned to unity.
func (m *OverlayMixer) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active || m.duckGain < unityGainQ15
}

// FramesAvailable reports the number of stereo frames waiting to mix.
func (m *OverlayMixer) FramesAvailable() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// DuckGain reports the current primary-stream gain as a linear value.
func (m *OverlayMixer) DuckGain() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.duckGain) / unityGainQ15
}

// Clear drops pending overlay frames and releases the duck target. The
// gain itself ramps back to unity over the following frames.
func (m *OverlayMixer) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeIdx = 0
	m.readIdx = 0
	m.available = 0
	m.active = false
	m.targetGain = unityGainQ15
}
