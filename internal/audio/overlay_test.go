package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOverlayMixerValidation(t *testing.T) {
	t.Parallel()

	_, err := NewOverlayMixer(0, 0.2)
	assert.Error(t, err)

	_, err = NewOverlayMixer(64, -0.1)
	assert.Error(t, err)

	_, err = NewOverlayMixer(64, 1.5)
	assert.Error(t, err)

	m, err := NewOverlayMixer(64, 0.2)
	require.NoError(t, err)
	assert.False(t, m.Active())
	assert.Zero(t, m.FramesAvailable())
	assert.InDelta(t, 1.0, m.DuckGain(), 1e-9)
}

func TestDuckTargetQ15(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int32(6554), duckTargetQ15(0.2))
	assert.Equal(t, int32(16384), duckTargetQ15(0.5))
	assert.Equal(t, int32(unityGainQ15), duckTargetQ15(1.0))
	assert.Equal(t, int32(0), duckTargetQ15(0))
}

func TestOverlayMixerFirstFrameDucksOneStep(t *testing.T) {
	t.Parallel()

	m, err := NewOverlayMixer(64, 0.2)
	require.NoError(t, err)
	require.Equal(t, 1, m.Push([]int32{0, 0}))

	const bt = int32(1 << 20)
	out := []int32{bt, -bt}
	m.MixInto(out, 1)

	// One ramp step below unity on the very first frame.
	want := int32(int64(bt) * (unityGainQ15 - duckRampStep) >> 15)
	assert.Equal(t, want, out[0])
	assert.Equal(t, -want, out[1])
}

func TestOverlayMixerRampReachesDuckTarget(t *testing.T) {
	t.Parallel()

	m, err := NewOverlayMixer(256, 0.2)
	require.NoError(t, err)

	silence := make([]int32, 256*2)
	require.Equal(t, 256, m.Push(silence))

	const bt = int32(1 << 20)
	const frames = 96
	out := make([]int32, frames*2)
	for i := range out {
		out[i] = bt
	}
	m.MixInto(out, frames)

	// Gain falls one step per frame until it clamps at the duck target.
	for i := 1; i < frames; i++ {
		assert.LessOrEqual(t, out[i*2], out[(i-1)*2],
			"frame %d must not be louder than the previous frame", i)
	}
	ducked := int32(int64(bt) * 6554 >> 15)
	assert.Equal(t, ducked, out[(frames-1)*2])
	assert.InDelta(t, 0.2, m.DuckGain(), 0.001)
	assert.True(t, m.Active())
}

func TestOverlayMixerRampsBackToUnityAfterDrain(t *testing.T) {
	t.Parallel()

	m, err := NewOverlayMixer(64, 0.2)
	require.NoError(t, err)

	require.Equal(t, 4, m.Push(make([]int32, 8)))

	out := make([]int32, 8)
	m.MixInto(out, 4)
	assert.Zero(t, m.FramesAvailable())
	// The ring is drained but the gain has not recovered yet.
	assert.True(t, m.Active())
	assert.Less(t, m.DuckGain(), 1.0)

	// Four more frames step the gain back up to unity.
	m.MixInto(out, 4)
	assert.False(t, m.Active())
	assert.InDelta(t, 1.0, m.DuckGain(), 1e-9)
}

func TestOverlayMixerSaturatesInsteadOfWrapping(t *testing.T) {
	t.Parallel()

	m, err := NewOverlayMixer(16, 1.0)
	require.NoError(t, err)
	require.Equal(t, 1, m.Push([]int32{math.MaxInt32, math.MinInt32}))

	out := []int32{math.MaxInt32, math.MinInt32}
	m.MixInto(out, 1)
	assert.Equal(t, int32(math.MaxInt32), out[0])
	assert.Equal(t, int32(math.MinInt32), out[1])
}

func TestOverlayMixerPushClipsToFreeSpace(t *testing.T) {
	t.Parallel()

	m, err := NewOverlayMixer(8, 0.2)
	require.NoError(t, err)

	assert.Equal(t, 6, m.Push(make([]int32, 12)))
	assert.Equal(t, 2, m.Push(make([]int32, 12)))
	assert.Equal(t, 8, m.FramesAvailable())
	assert.Equal(t, 0, m.Push(make([]int32, 2)))
}

func TestOverlayMixerFIFOAcrossWrap(t *testing.T) {
	t.Parallel()

	m, err := NewOverlayMixer(4, 1.0)
	require.NoError(t, err)

	require.Equal(t, 3, m.Push([]int32{1, 2, 3, 4, 5, 6}))

	out := make([]int32, 4)
	m.MixInto(out, 2)
	assert.Equal(t, []int32{1, 2, 3, 4}, out)

	// Write index wraps, read order is preserved.
	require.Equal(t, 3, m.Push([]int32{7, 8, 9, 10, 11, 12}))
	out = make([]int32, 8)
	m.MixInto(out, 4)
	assert.Equal(t, []int32{5, 6, 7, 8, 9, 10, 11, 12}, out)
}

func TestOverlayMixerClearKeepsRampState(t *testing.T) {
	t.Parallel()

	m, err := NewOverlayMixer(64, 0.2)
	require.NoError(t, err)

	require.Equal(t, 32, m.Push(make([]int32, 64)))
	out := make([]int32, 16)
	m.MixInto(out, 8)
	require.Less(t, m.DuckGain(), 1.0)

	m.Clear()
	assert.Zero(t, m.FramesAvailable())
	// Pending frames are gone but the gain still has to ramp home.
	assert.True(t, m.Active())
	assert.Less(t, m.DuckGain(), 1.0)

	m.MixInto(out, 8)
	assert.False(t, m.Active())
	assert.InDelta(t, 1.0, m.DuckGain(), 1e-9)
}

func TestOverlayMixerSetDuckLevelRetargetsWhileActive(t *testing.T) {
	t.Parallel()

	m, err := NewOverlayMixer(512, 0.2)
	require.NoError(t, err)

	require.Equal(t, 256, m.Push(make([]int32, 512)))
	out := make([]int32, 96*2)
	m.MixInto(out, 96)
	require.InDelta(t, 0.2, m.DuckGain(), 0.001)

	// Raising the level while an overlay is pending ramps the gain up
	// without waiting for the ring to drain.
	m.SetDuckLevel(0.8)
	m.MixInto(out, 1)
	assert.Greater(t, m.DuckGain(), 0.2)
	assert.True(t, m.Active())
}

func TestOverlayMixerZeroFramesIsNoOp(t *testing.T) {
	t.Parallel()

	m, err := NewOverlayMixer(16, 0.2)
	require.NoError(t, err)
	require.Equal(t, 2, m.Push([]int32{1, 2, 3, 4}))

	m.MixInto(nil, 0)
	assert.Equal(t, 2, m.FramesAvailable())
}
