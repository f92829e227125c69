package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/btsink-go/internal/audio"
	"github.com/tphakala/btsink-go/internal/errors"
)

type sessionRecorder struct {
	mu      sync.Mutex
	started []Session
	ended   []Session
}

func (r *sessionRecorder) SessionStarted(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, s)
}

func (r *sessionRecorder) SessionEnded(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, s)
}

func TestEngineStreamStartedConfiguresPath(t *testing.T) {
	t.Parallel()

	e, sink := newTestEngine(t, nil)
	e.StreamStarted(CodecInfo{Name: "ldac", SampleRate: 48000, BitDepth: 32, Channels: 2})

	assert.Equal(t, 48000, sink.SampleRate())
	assert.Equal(t, 48000, e.proc.SampleRate())
	assert.Equal(t, 48000, e.player.TargetSampleRate())
	assert.Equal(t, int32(32), e.bitDepth.Load())
	assert.Equal(t, int32(2), e.channels.Load())
	assert.True(t, e.Status().Streaming)
}

func TestEngineStreamStartedFallsBackOnZeroFields(t *testing.T) {
	t.Parallel()

	e, sink := newTestEngine(t, nil)
	e.StreamStarted(CodecInfo{Name: "sbc"})

	assert.Equal(t, codecFallbackRate, sink.SampleRate())
	assert.Equal(t, codecFallbackRate, e.proc.SampleRate())
	assert.Equal(t, int32(16), e.bitDepth.Load())
	assert.Equal(t, int32(2), e.channels.Load())
}

func TestEngineOnStreamDataUsesAnnouncedFormat(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, nil)

	// Before any codec announcement the producer defaults to 16-bit
	// stereo.
	e.OnStreamData(pcm16(1, 2, 3, 4))
	assert.Positive(t, e.pipeline.QueueFillPercent())

	e.StreamStarted(CodecInfo{Name: "ldac", SampleRate: 96000, BitDepth: 32, Channels: 2})
	assert.Zero(t, e.pipeline.QueueFillPercent(), "codec change flushes the queue")

	e.OnStreamData(make([]byte, 64))
	assert.Positive(t, e.pipeline.QueueFillPercent())
}

func TestEngineStreamStoppedKeepsClock(t *testing.T) {
	t.Parallel()

	e, sink := newTestEngine(t, nil)
	e.StreamStarted(CodecInfo{Name: "aac", SampleRate: 48000, BitDepth: 16, Channels: 2})
	e.OnStreamData(pcm16(1, 2, 3, 4))

	e.StreamStopped()

	assert.Equal(t, 48000, sink.SampleRate(), "suspend keeps the codec clock")
	assert.False(t, e.Status().Streaming)
	assert.Zero(t, e.pipeline.QueueFillPercent())
}

func TestEngineDisconnectedRestoresDefaults(t *testing.T) {
	t.Parallel()

	e, sink := newTestEngine(t, nil)
	e.Connected("AA:BB:CC:DD:EE:FF")
	e.StreamStarted(CodecInfo{Name: "aac", SampleRate: 48000, BitDepth: 16, Channels: 2})

	e.Disconnected()

	assert.Equal(t, 96000, sink.SampleRate())
	assert.Equal(t, 96000, e.proc.SampleRate())
	assert.Equal(t, 96000, e.player.TargetSampleRate())
	assert.Positive(t, sink.ZeroDMACalls())

	status := e.Status()
	assert.False(t, status.Connected)
	assert.False(t, status.Streaming)
}

func TestEngineSessionListeners(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, nil)
	rec := &sessionRecorder{}
	e.AddSessionListener(rec)

	e.Connected("11:22:33:44:55:66")
	codec := CodecInfo{Name: "aptx", SampleRate: 48000, BitDepth: 16, Channels: 2}
	e.StreamStarted(codec)
	e.Disconnected()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.started, 1)
	require.Len(t, rec.ended, 1)

	assert.NotEmpty(t, rec.started[0].ID)
	assert.Equal(t, "11:22:33:44:55:66", rec.started[0].Device)
	assert.False(t, rec.started[0].ConnectedAt.IsZero())

	assert.Equal(t, rec.started[0].ID, rec.ended[0].ID)
	assert.Equal(t, codec, rec.ended[0].Codec)
	assert.False(t, rec.ended[0].DisconnectedAt.IsZero())
}

func TestEngineSessionIDsAreUnique(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, nil)
	rec := &sessionRecorder{}
	e.AddSessionListener(rec)

	e.Connected("AA:AA:AA:AA:AA:AA")
	e.Disconnected()
	e.Connected("AA:AA:AA:AA:AA:AA")
	e.Disconnected()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.started, 2)
	assert.NotEqual(t, rec.started[0].ID, rec.started[1].ID)
}

func TestEngineConnectedCuePlaysAfterClockSettles(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	writeCueWAV(t, settings.Overlay.SoundsDir, "connected.wav", 96000, 960)
	e, sink := newTestEngine(t, settings)

	e.Connected("AA:BB:CC:DD:EE:FF")
	e.StreamStarted(CodecInfo{Name: "sbc", SampleRate: 48000, BitDepth: 16, Channels: 2})

	assert.Zero(t, sink.Writes(), "cue waits for the clock to settle")
	require.Eventually(t, func() bool {
		return sink.Writes() > 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestEngineCodecSwitchSkipsConnectedCue(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	writeCueWAV(t, settings.Overlay.SoundsDir, "connected.wav", 96000, 960)
	e, sink := newTestEngine(t, settings)

	e.Connected("AA:BB:CC:DD:EE:FF")
	e.mu.Lock()
	e.lastDisconnect = time.Now()
	e.mu.Unlock()

	e.StreamStarted(CodecInfo{Name: "ldac", SampleRate: 96000, BitDepth: 32, Channels: 2})

	time.Sleep(codecStableDelay + 200*time.Millisecond)
	assert.Zero(t, sink.Writes(), "rapid reconnect is a codec switch, no cue")
}

func TestEngineDisconnectCancelsPendingCue(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	writeCueWAV(t, settings.Overlay.SoundsDir, "connected.wav", 96000, 960)
	e, sink := newTestEngine(t, settings)

	e.Connected("AA:BB:CC:DD:EE:FF")
	e.StreamStarted(CodecInfo{Name: "sbc", SampleRate: 48000, BitDepth: 16, Channels: 2})
	e.Disconnected()

	time.Sleep(codecStableDelay + 200*time.Millisecond)
	assert.Zero(t, sink.Writes())
}

func TestEngineMaxVolumeCue(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	writeCueWAV(t, settings.Overlay.SoundsDir, "volumemax.wav", 96000, 960)
	e, sink := newTestEngine(t, settings)

	e.Connected("AA:BB:CC:DD:EE:FF")
	e.mu.Lock()
	e.connectedAt = time.Now().Add(-5 * time.Second)
	e.mu.Unlock()

	e.SetVolume(127)
	require.Eventually(t, func() bool {
		return sink.Writes() > 0
	}, 2*time.Second, 10*time.Millisecond)
	require.True(t, e.player.WaitForCompletion(2*time.Second))
	after := sink.Writes()

	// Immediately hitting max again is inside the cooldown.
	e.SetVolume(127)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, after, sink.Writes())
}

func TestEngineMaxVolumeCueGracePeriod(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	writeCueWAV(t, settings.Overlay.SoundsDir, "volumemax.wav", 96000, 960)
	e, sink := newTestEngine(t, settings)

	e.Connected("AA:BB:CC:DD:EE:FF")
	e.SetVolume(127)

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, sink.Writes(), "volume reports right after connect stay silent")
	assert.Equal(t, 127, e.proc.Volume(), "the volume itself still applies")
}

func TestEngineMaxVolumeCueNeedsConnection(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	writeCueWAV(t, settings.Overlay.SoundsDir, "volumemax.wav", 96000, 960)
	e, sink := newTestEngine(t, settings)

	e.SetVolume(127)
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, sink.Writes())
}

func TestEngineSetVolumeClamps(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, nil)

	e.SetVolume(300)
	assert.Equal(t, 127, e.Volume())
	assert.Equal(t, 127, e.proc.Volume())

	e.SetVolume(-5)
	assert.Equal(t, 0, e.Volume())
	assert.Equal(t, 0, e.proc.Volume())
}

func TestEngineConnectedStopsPairingCue(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	writeCueWAV(t, settings.Overlay.SoundsDir, "pairing.wav", 96000, 96000)
	e, sink := newTestEngine(t, settings)
	sink.SetWriteDelay(2 * time.Millisecond)

	require.NoError(t, e.PlayCue(audio.SoundPairing, audio.PlayExclusive))
	require.Eventually(t, e.player.IsPlaying, time.Second, 5*time.Millisecond)

	e.Connected("AA:BB:CC:DD:EE:FF")
	require.Eventually(t, func() bool {
		return !e.player.IsPlaying()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEnginePlayCueMissingSound(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, nil)
	err := e.PlayCue(audio.SoundConnected, audio.PlayExclusive)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}
