package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noFade resets the resampler and disables the attack ramp so tests can
// assert raw interpolation values.
func noFade(r *resampler, inRate, outRate int, stereo bool) {
	r.reset(inRate, outRate, stereo)
	r.fadeRemaining = 0
}

func TestResamplerPassThroughAtEqualRates(t *testing.T) {
	t.Parallel()

	var r resampler
	noFade(&r, 48000, 48000, true)

	in := []int16{10, -10, 20, -20, 30, -30}
	out := make([]int32, 16)
	n := r.process(in, 3, out)

	// At ratio 1 each chunk yields one frame fewer than it carries; the
	// final frame interpolates across the next chunk boundary.
	require.Equal(t, 2, n)
	assert.Equal(t, int32(10*65536), out[0])
	assert.Equal(t, int32(-10*65536), out[1])
	assert.Equal(t, int32(20*65536), out[2])
	assert.Equal(t, int32(-20*65536), out[3])
}

func TestResamplerCarriesFrameAcrossChunks(t *testing.T) {
	t.Parallel()

	var r resampler
	noFade(&r, 48000, 48000, false)

	out := make([]int32, 16)
	n := r.process([]int16{10, 20, 30, 40}, 4, out)
	require.Equal(t, 3, n)
	assert.Equal(t, int32(10*65536), out[0])
	assert.Equal(t, int32(20*65536), out[2])
	assert.Equal(t, int32(30*65536), out[4])

	// The next chunk starts from the carried final frame of the last
	// chunk, so its first output is that frame, not the new chunk's.
	n = r.process([]int16{50, 60, 70, 80}, 4, out)
	require.Equal(t, 3, n)
	assert.Equal(t, int32(40*65536), out[0])
	assert.Equal(t, int32(60*65536), out[2])
	assert.Equal(t, int32(70*65536), out[4])
}

func TestResamplerUpsamplesWithInterpolation(t *testing.T) {
	t.Parallel()

	var r resampler
	noFade(&r, 24000, 48000, false)

	in := []int16{0, 100, 200}
	out := make([]int32, 16)
	n := r.process(in, 3, out)

	// Doubling the rate lands every second frame halfway between two
	// input samples.
	require.Equal(t, 4, n)
	assert.Equal(t, int32(0), out[0])
	assert.Equal(t, int32(50*65536), out[2])
	assert.Equal(t, int32(100*65536), out[4])
	assert.Equal(t, int32(150*65536), out[6])
}

func TestResamplerMonoFeedsBothChannels(t *testing.T) {
	t.Parallel()

	var r resampler
	noFade(&r, 48000, 48000, false)

	out := make([]int32, 8)
	n := r.process([]int16{100, 200, 300}, 3, out)
	require.Equal(t, 2, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, out[i*2], out[i*2+1], "frame %d channels must match", i)
	}
}

func TestResamplerRespectsOutputCapacity(t *testing.T) {
	t.Parallel()

	var r resampler
	noFade(&r, 48000, 48000, false)

	in := make([]int16, 64)
	out := make([]int32, 4)
	n := r.process(in, 64, out)
	assert.Equal(t, 2, n)
}

func TestResamplerFadeInStartsSilent(t *testing.T) {
	t.Parallel()

	var r resampler
	r.reset(48000, 48000, true)
	assert.Equal(t, 480, r.fadeFrames)

	in := make([]int16, 600*2)
	for i := range in {
		in[i] = 1000
	}
	out := make([]int32, 600*2)
	n := r.process(in, 600, out)
	require.Equal(t, 599, n)

	// The ramp starts at zero and rises monotonically to full scale.
	assert.Zero(t, out[0])
	assert.Zero(t, out[1])
	for i := 1; i < n; i++ {
		assert.GreaterOrEqual(t, out[i*2], out[(i-1)*2],
			"fade gain must not decrease at frame %d", i)
	}
	assert.Equal(t, int32(1000*65536), out[(n-1)*2])
	assert.Zero(t, r.fadeRemaining)
}

func TestResamplerResetRestartsFade(t *testing.T) {
	t.Parallel()

	var r resampler
	r.reset(44100, 96000, true)
	assert.Equal(t, 960, r.fadeFrames)
	assert.Equal(t, 960, r.fadeRemaining)
	assert.InDelta(t, 44100.0/96000.0, r.ratio, 1e-12)

	r.fadeRemaining = 0
	r.reset(48000, 48000, false)
	assert.Equal(t, 480, r.fadeRemaining)
	assert.False(t, r.hasLast)
}

func TestSampleU8(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int16(0), sampleU8(128))
	assert.Equal(t, int16(-32768), sampleU8(0))
	assert.Equal(t, int16(32512), sampleU8(255))
}
