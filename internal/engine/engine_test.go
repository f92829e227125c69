package engine

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/btsink-go/internal/audio"
	"github.com/tphakala/btsink-go/internal/conf"
	"github.com/tphakala/btsink-go/internal/observability"
)

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	return &conf.Settings{
		Audio: conf.AudioSettings{
			PoolBuffers:       4,
			BufferSize:        4096,
			FrameBudget:       1024,
			DefaultSampleRate: 96000,
			UseStaging:        true,
		},
		DSP: conf.DSPSettings{
			Volume: 127,
			Crossover: conf.CrossoverSettings{
				LowPassFreq:  200,
				HighPassFreq: 200,
				BoostFreq:    150,
				BoostGain:    2,
			},
			Bypass: true,
		},
		Overlay: conf.OverlaySettings{
			RingFrames: 9600,
			DuckLevel:  0.2,
			SoundsDir:  t.TempDir(),
			CacheTTL:   time.Minute,
			Volume:     1.0,
		},
		QuietHours: conf.QuietHoursSettings{
			MaxVolume:     60,
			BassReduction: 3,
		},
	}
}

func newTestEngine(t *testing.T, settings *conf.Settings) (*Engine, *audio.NullSink) {
	t.Helper()
	if settings == nil {
		settings = testSettings(t)
	}
	sink := audio.NewNullSink(settings.Audio.DefaultSampleRate)
	e, err := New(settings, sink, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		e.stopCueTimer()
		e.player.Close()
	})
	return e, sink
}

// writeCueWAV drops a 16-bit stereo cue file into the sounds directory.
func writeCueWAV(t *testing.T, dir, name string, rate, frames int) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	enc := wav.NewEncoder(f, rate, 16, 2, 1)
	data := make([]int, frames*2)
	for i := range data {
		data[i] = 1000
	}
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 2, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
}

func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestNewEngineValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, audio.NewNullSink(96000), nil)
	assert.Error(t, err)

	_, err = New(testSettings(t), nil, nil)
	assert.Error(t, err)
}

func TestNewEngineAppliesDSPSettings(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	settings.DSP = conf.DSPSettings{
		Equalizer: conf.EqualizerSettings{Bass: 2, Mid: -1, Treble: 3},
		BassComp:  false,
		Spatial:   true,
		Analysis:  true,
		Bypass:    false,
		Crossover: conf.CrossoverSettings{
			LowPassFreq:  150,
			HighPassFreq: 250,
			BassBoost:    true,
			BoostFreq:    120,
			BoostGain:    5,
			Flip:         true,
		},
		Volume: 100,
	}

	e, _ := newTestEngine(t, settings)

	bass, mid, treble := e.proc.EQ()
	assert.InDelta(t, 2.0, bass, 1e-12)
	assert.InDelta(t, -1.0, mid, 1e-12)
	assert.InDelta(t, 3.0, treble, 1e-12)
	assert.Equal(t, 100, e.proc.Volume())
	assert.True(t, e.proc.StagePresence())
	assert.True(t, e.proc.AnalysisEnabled())
	assert.False(t, e.proc.Bypass())
	assert.True(t, e.proc.BassBoost())
	assert.True(t, e.proc.ChannelFlip())
	assert.False(t, e.proc.BassCompensation())

	freq, gain := e.proc.BassBoostShelf()
	assert.InDelta(t, 120.0, freq, 1e-12)
	assert.InDelta(t, 5.0, gain, 1e-12)
}

func TestEngineRunRendersAudio(t *testing.T) {
	t.Parallel()

	e, sink := newTestEngine(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- e.Run(ctx)
	}()

	require.Eventually(t, sink.Started, time.Second, 5*time.Millisecond)

	e.StreamStarted(CodecInfo{Name: "sbc", SampleRate: 48000, BitDepth: 16, Channels: 2})
	e.OnStreamData(pcm16(100, -100, 200, -200, 300, -300, 400, -400))

	require.Eventually(t, func() bool {
		return sink.BytesWritten() > 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after cancel")
	}
	assert.False(t, sink.Started())
}

func TestEngineRunWithMetrics(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	m, err := observability.NewMetrics()
	require.NoError(t, err)
	sink := audio.NewNullSink(settings.Audio.DefaultSampleRate)
	e, err := New(settings, sink, m)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- e.Run(ctx)
	}()

	e.OnStreamData(pcm16(100, -100, 200, -200))
	require.Eventually(t, func() bool {
		return sink.BytesWritten() > 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, m.Audio.IsStreamActive())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after cancel")
	}
}

func TestEngineStatusSnapshot(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, nil)
	e.Connected("AA:BB:CC:DD:EE:FF")
	e.StreamStarted(CodecInfo{Name: "aac", SampleRate: 48000, BitDepth: 16, Channels: 2})

	status := e.Status()
	assert.True(t, status.Connected)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", status.Session.Device)
	assert.Equal(t, "aac", status.Codec.Name)
	assert.Equal(t, 48000, status.SampleRate)
	assert.True(t, status.Streaming)
	assert.Equal(t, 127, status.Volume)
	assert.False(t, status.QuietHours)
	assert.InDelta(t, 1.0, status.DuckGain, 1e-9)
	assert.False(t, status.CueMuted)
	assert.Zero(t, status.Pipeline.Writes)
}

func TestEngineNightRulesLimitVolumeAndBass(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	settings.QuietHours.MaxVolume = 50
	settings.QuietHours.BassReduction = 3
	e, _ := newTestEngine(t, settings)

	e.SetVolume(127)
	require.NoError(t, e.SetEQ(4, 1, 2))

	e.mu.Lock()
	e.nightActive = true
	e.applyVolumeLocked()
	e.applyEQLocked()
	e.mu.Unlock()

	assert.Equal(t, 50, e.proc.Volume())
	bass, mid, treble := e.proc.EQ()
	assert.InDelta(t, 1.0, bass, 1e-12)
	assert.InDelta(t, 1.0, mid, 1e-12)
	assert.InDelta(t, 2.0, treble, 1e-12)

	status := e.Status()
	assert.True(t, status.QuietHours)
	assert.InDelta(t, 4.0, status.EQ.Bass, 1e-12, "status reports the requested gain")
	assert.Equal(t, 127, e.Volume())

	e.mu.Lock()
	e.nightActive = false
	e.applyVolumeLocked()
	e.applyEQLocked()
	e.mu.Unlock()

	assert.Equal(t, 127, e.proc.Volume())
	bass, _, _ = e.proc.EQ()
	assert.InDelta(t, 4.0, bass, 1e-12)
}

func TestEngineNightCeilingAppliesToLaterVolume(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, nil)

	e.mu.Lock()
	e.nightActive = true
	e.mu.Unlock()

	e.SetVolume(100)
	assert.Equal(t, 60, e.proc.Volume())
	assert.Equal(t, 100, e.Volume())

	e.SetVolume(40)
	assert.Equal(t, 40, e.proc.Volume())
}

func TestEngineControlByteRoundTrip(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, nil)

	e.ApplyControlByte(0x05)
	assert.True(t, e.proc.BassBoost())
	assert.False(t, e.proc.ChannelFlip())
	assert.True(t, e.proc.Bypass())
	assert.Equal(t, byte(0x05), e.ControlByte())
	assert.Equal(t, byte(0x05), e.Status().ControlByte)
}

func TestEngineSetEQUpdatesStatus(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, nil)
	require.NoError(t, e.SetEQ(2, -2, 1))

	status := e.Status()
	assert.InDelta(t, 2.0, status.EQ.Bass, 1e-12)
	assert.InDelta(t, -2.0, status.EQ.Mid, 1e-12)
	assert.InDelta(t, 1.0, status.EQ.Treble, 1e-12)

	bass, mid, treble := e.proc.EQ()
	assert.InDelta(t, 2.0, bass, 1e-12)
	assert.InDelta(t, -2.0, mid, 1e-12)
	assert.InDelta(t, 1.0, treble, 1e-12)
}

func TestEngineCueMute(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, nil)
	e.SetCueMuted(true)
	assert.True(t, e.Status().CueMuted)

	err := e.PlayCue(audio.SoundStartup, audio.PlayExclusive)
	assert.ErrorIs(t, err, audio.ErrMuted)
}
