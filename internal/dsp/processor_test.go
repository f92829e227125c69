package dsp

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProcessor(t *testing.T) *Processor {
	t.Helper()
	p, err := New(44100)
	require.NoError(t, err)
	return p
}

func TestProcessor_IdentityWhenAllStagesOff(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(t)
	p.SetBypass(true)
	p.SetAnalysis(false)

	// Flat EQ, full volume, no boost, no stage presence: the chain reduces
	// to the clipper, which passes in-range samples untouched.
	for i := range 200 {
		in := math.Sin(float64(i) * 0.37)
		l, r := p.ProcessStereo(in, -in)
		assert.InDelta(t, in, l, 1e-12)
		assert.InDelta(t, -in, r, 1e-12)
	}
}

func TestProcessor_ClipperBoundsOutput(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(t)

	// Stack every gain stage and overdrive the input.
	require.NoError(t, p.SetEQ(12, 12, 12))
	require.NoError(t, p.SetVolume(0))
	p.SetBassBoost(true)
	p.SetStagePresence(true)
	p.SetBypass(false)

	rng := rand.New(rand.NewPCG(1, 2))
	for range 5000 {
		in := (rng.Float64()*2 - 1) * 2.0
		l, r := p.ProcessStereo(in, in*0.9)
		assert.LessOrEqual(t, math.Abs(l), 1.0)
		assert.LessOrEqual(t, math.Abs(r), 1.0)
	}
}

func TestProcessor_ClipperHandlesExtremes(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(t)
	p.SetBypass(true)
	p.SetAnalysis(false)

	l, r := p.ProcessStereo(5.0, -5.0)
	assert.InDelta(t, 1.0, l, 1e-12)
	assert.InDelta(t, -1.0, r, 1e-12)
}

func TestProcessor_CrossoverRouting(t *testing.T) {
	t.Parallel()

	t.Run("normal", func(t *testing.T) {
		t.Parallel()
		p := newTestProcessor(t)
		p.SetAnalysis(false)

		// An impulse on the left only: the low-passed left path must land
		// on L, the high-passed right path (silent) on R.
		l, r := p.ProcessStereo(1.0, 0.0)
		assert.NotZero(t, l)
		assert.Zero(t, r)
	})

	t.Run("flipped", func(t *testing.T) {
		t.Parallel()
		p := newTestProcessor(t)
		p.SetAnalysis(false)
		p.SetChannelFlip(true)

		l, r := p.ProcessStereo(1.0, 0.0)
		assert.Zero(t, l)
		assert.NotZero(t, r)
	})
}

func TestProcessor_BypassWithBassBoost(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(t)
	p.SetAnalysis(false)
	p.SetBypass(true)
	p.SetBassBoost(true)

	// DC through a +2 dB low shelf with make-up gain settles at
	// 10^(2/20) * 1.2 times the input.
	var l, r float64
	for range 4000 {
		l, r = p.ProcessStereo(0.1, 0.1)
	}
	want := 0.1 * math.Pow(10, bassShelfDB/20) * bassBoostMakeup
	assert.InDelta(t, want, l, 0.002)
	assert.InDelta(t, want, r, 0.002)
}

func TestProcessor_EQActiveThreshold(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(t)
	p.SetBypass(true)
	p.SetAnalysis(false)

	// Gains below the activation threshold leave the chain at identity.
	require.NoError(t, p.SetEQ(0.1, 0.1, 0.1))
	l, _ := p.ProcessStereo(0.25, 0.25)
	assert.InDelta(t, 0.25, l, 1e-12)

	// A real bass gain engages the shelves: +6 dB user gain is scaled to
	// +3 dB before derivation, visible in the DC response.
	require.NoError(t, p.SetEQ(6, 0, 0))
	for range 4000 {
		l, _ = p.ProcessStereo(0.1, 0.1)
	}
	assert.InDelta(t, 0.1*math.Pow(10, 6*eqBassScale/20), l, 0.002)
}

func TestProcessor_BassCompensationCurve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		volume int
		wantDB float64
	}{
		{name: "full volume", volume: 127, wantDB: 0},
		{name: "half volume", volume: 63, wantDB: 5.0 * math.Pow(1-63.0/127.0, 2)},
		{name: "muted", volume: 0, wantDB: 5.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := newTestProcessor(t)
			require.NoError(t, p.SetVolume(tt.volume))
			assert.InDelta(t, tt.wantDB, p.BassCompensationDB(), 1e-9)
			assert.Equal(t, tt.volume, p.Volume())
		})
	}
}

func TestProcessor_VolumeClamping(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(t)
	require.NoError(t, p.SetVolume(500))
	assert.Equal(t, MaxVolume, p.Volume())
	require.NoError(t, p.SetVolume(-3))
	assert.Equal(t, 0, p.Volume())
}

func TestProcessor_BassCompensationToggle(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(t)
	p.SetAnalysis(false)
	p.SetBypass(true)
	assert.True(t, p.BassCompensation())

	// Low volume engages a several-dB shelf; with compensation off the
	// chain is back at identity.
	require.NoError(t, p.SetVolume(0))
	require.Greater(t, p.BassCompensationDB(), 1.0)

	p.SetBassCompensation(false)
	assert.False(t, p.BassCompensation())
	l, _ := p.ProcessStereo(0.25, 0.25)
	assert.InDelta(t, 0.25, l, 1e-12)
}

func TestProcessor_BassBoostShelfTuning(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(t)
	hz, db := p.BassBoostShelf()
	assert.Equal(t, bassShelfHz, hz)
	assert.Equal(t, bassShelfDB, db)

	require.NoError(t, p.SetBassBoostShelf(100, 4))
	hz, db = p.BassBoostShelf()
	assert.Equal(t, 100.0, hz)
	assert.Equal(t, 4.0, db)

	assert.Error(t, p.SetBassBoostShelf(5, 2), "corner below range")
	assert.Error(t, p.SetBassBoostShelf(150, 40), "gain above range")

	// DC response through the retuned shelf in bypass mode.
	p.SetAnalysis(false)
	p.SetBypass(true)
	p.SetBassBoost(true)
	var l float64
	for range 4000 {
		l, _ = p.ProcessStereo(0.1, 0.1)
	}
	assert.InDelta(t, 0.1*math.Pow(10, 4.0/20)*bassBoostMakeup, l, 0.002)
}

func TestProcessor_VisualBoost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		volume int
		want   float64
	}{
		{name: "full volume no boost", volume: 127, want: 1.0},
		{name: "half volume", volume: 63, want: 127.0 / 63.0},
		{name: "near mute clamps", volume: 1, want: 100.0},
		{name: "mute clamps", volume: 0, want: 100.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := newTestProcessor(t)
			require.NoError(t, p.SetVolume(tt.volume))
			assert.InDelta(t, tt.want, p.VisualBoost(), 1e-9)
		})
	}
}

func TestProcessor_ControlByteRoundTrip(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(t)
	for v := byte(0); v < 8; v++ {
		p.ApplyControlByte(v)
		assert.Equal(t, v, p.ControlByte())
		assert.Equal(t, v&ControlBassBoost != 0, p.BassBoost())
		assert.Equal(t, v&ControlChannelFlip != 0, p.ChannelFlip())
		assert.Equal(t, v&ControlBypass != 0, p.Bypass())
	}
}

func TestProcessor_AnalysisDetectsSine(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(t)
	p.SetBypass(true)

	for i := range 8820 {
		s := 0.8 * math.Sin(2*Pi*60*float64(i)/44100)
		p.ProcessStereo(s, s)
	}

	snap := p.Analysis()
	assert.Greater(t, snap.BandLin[1], 0.5, "60 Hz band should see the tone")
	assert.Greater(t, snap.BandDB[1], dbFloor)
	assert.Greater(t, snap.PeakLin[0], 0.0, "peak meter should have charged")

	p.ZeroLevels()
	snap = p.Analysis()
	for i := range snap.BandLin {
		assert.Zero(t, snap.BandLin[i])
		assert.Zero(t, snap.PeakLin[i])
	}
}

func TestProcessor_AnalysisDisabled(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(t)
	p.SetBypass(true)
	p.SetAnalysis(false)

	for i := range 8820 {
		s := 0.8 * math.Sin(2*Pi*60*float64(i)/44100)
		p.ProcessStereo(s, s)
	}
	assert.Zero(t, p.BandLin(1), "disabled taps must not accumulate")
	assert.Zero(t, p.PeakLin(1))
}

func TestProcessor_SetSampleRate(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(t)
	p.SetBypass(true)

	for i := range 4410 {
		s := 0.8 * math.Sin(2*Pi*60*float64(i)/44100)
		p.ProcessStereo(s, s)
	}
	require.Greater(t, p.BandLin(1), 0.0)

	// Reconfiguration re-derives coefficients and resets all levels.
	require.NoError(t, p.SetSampleRate(48000))
	assert.Equal(t, 48000, p.SampleRate())
	assert.Zero(t, p.BandLin(1))
	assert.Zero(t, p.PeakLin(0))

	// Setting the same rate again is a no-op.
	require.NoError(t, p.SetSampleRate(48000))
	assert.Equal(t, 48000, p.SampleRate())

	// A nonsense rate falls back to the default.
	require.NoError(t, p.SetSampleRate(-1))
	assert.Equal(t, fallbackSampleRate, p.SampleRate())
}

func TestProcessor_SetCrossoverFrequencies(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(t)
	p.SetAnalysis(false)
	require.NoError(t, p.SetCrossoverFrequencies(500, 500))

	// A higher LP corner passes more of a mid-frequency tone to the left
	// ear than the default tuning does.
	var sumDefault, sumWide float64
	pd := newTestProcessor(t)
	pd.SetAnalysis(false)
	for i := range 4096 {
		s := 0.5 * math.Sin(2*Pi*400*float64(i)/44100)
		l, _ := p.ProcessStereo(s, s)
		sumWide += l * l
		l, _ = pd.ProcessStereo(s, s)
		sumDefault += l * l
	}
	assert.Greater(t, sumWide, sumDefault)
}

func TestProcessor_EQAccessors(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(t)
	require.NoError(t, p.SetEQ(4, -2, 7))
	bass, mid, treble := p.EQ()
	assert.InDelta(t, 4.0, bass, 1e-12)
	assert.InDelta(t, -2.0, mid, 1e-12)
	assert.InDelta(t, 7.0, treble, 1e-12)
}

func TestStagePresence_KeepsMonoBassCentered(t *testing.T) {
	t.Parallel()

	var s stagePresence
	s.init(44100)

	// A mono low-frequency tone must come out essentially identical on
	// both channels: bass is summed to mono by the stage.
	var maxDiff float64
	for i := range 8192 {
		x := 0.4 * math.Sin(2*Pi*50*float64(i)/44100)
		l, r := s.process(x, x)
		if d := math.Abs(l - r); d > maxDiff {
			maxDiff = d
		}
	}
	assert.Less(t, maxDiff, 1e-9)
}

func TestStagePresence_WidensStereoContent(t *testing.T) {
	t.Parallel()

	var s stagePresence
	s.init(44100)

	// Opposite-phase mid content is pure side signal; the widener must
	// increase the inter-channel difference beyond the dry input.
	var inDiff, outDiff float64
	for i := range 8192 {
		x := 0.2 * math.Sin(2*Pi*1000*float64(i)/44100)
		l, r := s.process(x, -x)
		inDiff += (2 * x) * (2 * x)
		outDiff += (l - r) * (l - r)
	}
	assert.Greater(t, outDiff, inDiff)
}

func TestStagePresence_OutputBounded(t *testing.T) {
	t.Parallel()

	var s stagePresence
	s.init(44100)

	rng := rand.New(rand.NewPCG(7, 11))
	for range 10000 {
		l, r := s.process(rng.Float64()*4-2, rng.Float64()*4-2)
		assert.LessOrEqual(t, math.Abs(l), 1.0)
		assert.LessOrEqual(t, math.Abs(r), 1.0)
	}
}

func TestStagePresence_DelayClamping(t *testing.T) {
	t.Parallel()

	var s stagePresence
	// At 96 kHz the 23 ms reflection would need 2208 samples; it must be
	// clamped inside the delay line.
	s.init(96000)
	assert.Less(t, s.reflect3Samples, stageMaxDelay)
	assert.Less(t, s.reflect2Samples, stageMaxDelay)
	assert.Less(t, s.depthSamples, stageMaxDelay)
}

func BenchmarkProcessStereo_FullChain(b *testing.B) {
	p, err := New(44100)
	if err != nil {
		b.Fatal(err)
	}
	_ = p.SetEQ(6, -3, 4)
	_ = p.SetVolume(64)
	p.SetBassBoost(true)
	p.SetStagePresence(true)

	x := 0.0
	for i := 0; b.Loop(); i++ {
		s := math.Sin(float64(i) * 0.01)
		l, _ := p.ProcessStereo(s, -s)
		x += l
	}
	_ = x
}

func BenchmarkProcessStereo_Bypass(b *testing.B) {
	p, err := New(44100)
	if err != nil {
		b.Fatal(err)
	}
	p.SetBypass(true)
	p.SetAnalysis(false)

	x := 0.0
	for i := 0; b.Loop(); i++ {
		s := math.Sin(float64(i) * 0.01)
		l, _ := p.ProcessStereo(s, -s)
		x += l
	}
	_ = x
}
