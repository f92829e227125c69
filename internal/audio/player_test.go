package audio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/btsink-go/internal/conf"
	"github.com/tphakala/btsink-go/internal/errors"
)

// writeTestWAV encodes 16-bit PCM into a playable cue file.
func writeTestWAV(t *testing.T, path string, rate, channels int, samples []int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
}

func constSamples(frames, value int) []int {
	out := make([]int, frames)
	for i := range out {
		out[i] = value
	}
	return out
}

func newTestPlayer(t *testing.T, dir string, sink Sink, mixer *OverlayMixer) *Player {
	t.Helper()
	p := NewPlayer(conf.OverlaySettings{
		SoundsDir: dir,
		CacheTTL:  time.Minute,
		Volume:    1.0,
	}, 96000, sink, mixer)
	t.Cleanup(p.Close)
	return p
}

func TestSoundTypeAndPlayModeStrings(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "startup", SoundStartup.String())
	assert.Equal(t, "pairing", SoundPairing.String())
	assert.Equal(t, "connected", SoundConnected.String())
	assert.Equal(t, "volumemax", SoundMaxVolume.String())
	assert.Equal(t, "unknown", SoundType(99).String())
	assert.Equal(t, "exclusive", PlayExclusive.String())
	assert.Equal(t, "overlay", PlayOverlay.String())
}

func TestParseSoundTypeAndPlayMode(t *testing.T) {
	t.Parallel()

	for _, typ := range []SoundType{SoundStartup, SoundPairing, SoundConnected, SoundMaxVolume} {
		parsed, err := ParseSoundType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, parsed)
	}
	_, err := ParseSoundType("doorbell")
	assert.Error(t, err)

	mode, err := ParsePlayMode("overlay")
	require.NoError(t, err)
	assert.Equal(t, PlayOverlay, mode)
	mode, err = ParsePlayMode("exclusive")
	require.NoError(t, err)
	assert.Equal(t, PlayExclusive, mode)
	_, err = ParsePlayMode("background")
	assert.Error(t, err)
}

func TestDecodeWAVRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mono := filepath.Join(dir, "mono.wav")
	writeTestWAV(t, mono, 8000, 1, []int{100, -200, 300})

	snd, err := decodeSoundFile(mono)
	require.NoError(t, err)
	assert.Equal(t, 8000, snd.rate)
	assert.False(t, snd.stereo)
	assert.Equal(t, []int16{100, -200, 300}, snd.samples)
	assert.Equal(t, 3, snd.frames())

	stereo := filepath.Join(dir, "stereo.wav")
	writeTestWAV(t, stereo, 44100, 2, []int{1, -1, 2, -2})

	snd, err = decodeSoundFile(stereo)
	require.NoError(t, err)
	assert.Equal(t, 44100, snd.rate)
	assert.True(t, snd.stereo)
	assert.Equal(t, []int16{1, -1, 2, -2}, snd.samples)
	assert.Equal(t, 2, snd.frames())
}

func TestDecodeSoundFileRejectsUnknownExtension(t *testing.T) {
	t.Parallel()

	_, err := decodeSoundFile(filepath.Join(t.TempDir(), "cue.mp3"))
	assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing))
}

func TestPlayerStatusByte(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := newTestPlayer(t, dir, NewNullSink(96000), nil)
	assert.Zero(t, p.Status())
	assert.False(t, p.HasSound(SoundStartup))

	writeTestWAV(t, filepath.Join(dir, "startup.wav"), 96000, 1, constSamples(64, 100))
	writeTestWAV(t, filepath.Join(dir, "connected.wav"), 96000, 1, constSamples(64, 100))
	assert.True(t, p.HasSound(SoundStartup))
	assert.Equal(t, byte(0b0101), p.Status())

	p.SetMuted(true)
	assert.Equal(t, byte(0b0101|statusMutedBit), p.Status())
}

func TestPlayerPlayValidation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := newTestPlayer(t, dir, NewNullSink(96000), nil)

	err := p.Play(SoundStartup, PlayExclusive)
	assert.True(t, errors.IsNotFound(err), "missing cue file should report not found")

	assert.Error(t, p.Play(SoundType(-1), PlayExclusive))

	writeTestWAV(t, filepath.Join(dir, "startup.wav"), 96000, 1, constSamples(64, 100))
	err = p.Play(SoundStartup, PlayOverlay)
	assert.True(t, errors.IsCategory(err, errors.CategoryState), "overlay without a mixer should fail")

	p.SetMuted(true)
	assert.ErrorIs(t, p.Play(SoundStartup, PlayExclusive), ErrMuted)
}

func TestPlayerExclusivePlayback(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTestWAV(t, filepath.Join(dir, "startup.wav"), 96000, 1, constSamples(960, 1000))

	sink := NewNullSink(96000)
	p := newTestPlayer(t, dir, sink, nil)

	require.NoError(t, p.Play(SoundStartup, PlayExclusive))
	assert.True(t, p.IsPlaying())
	assert.True(t, p.IsExclusivePlaying())
	require.True(t, p.WaitForCompletion(5*time.Second))
	assert.False(t, p.IsPlaying())

	// At matched rates each chunk yields one output frame fewer than it
	// carries, and 960 source frames fit a single 20 ms chunk.
	assert.Equal(t, uint64((960-1)*8), sink.BytesWritten())
}

func TestPlayerOverlayPlaybackFillsMixer(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTestWAV(t, filepath.Join(dir, "pairing.wav"), 96000, 1, constSamples(960, 1000))

	mixer, err := NewOverlayMixer(12288, 0.2)
	require.NoError(t, err)
	sink := NewNullSink(96000)
	p := newTestPlayer(t, dir, sink, mixer)

	require.NoError(t, p.Play(SoundPairing, PlayOverlay))
	require.True(t, p.WaitForCompletion(5*time.Second))

	// The cue went into the overlay ring, not the sink.
	assert.Zero(t, sink.Writes())
	assert.Equal(t, 960-1, mixer.FramesAvailable())
	assert.True(t, mixer.Active())
}

func TestPlayerOverlayBusyWhileExclusivePlays(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTestWAV(t, filepath.Join(dir, "startup.wav"), 96000, 1, constSamples(96000, 1000))
	writeTestWAV(t, filepath.Join(dir, "pairing.wav"), 96000, 1, constSamples(64, 100))

	mixer, err := NewOverlayMixer(12288, 0.2)
	require.NoError(t, err)
	sink := NewNullSink(96000)
	// Pace writes like a real device so the first cue is still playing
	// when the second request lands.
	sink.SetWriteDelay(2 * time.Millisecond)
	p := newTestPlayer(t, dir, sink, mixer)

	require.NoError(t, p.Play(SoundStartup, PlayExclusive))
	require.True(t, p.IsPlaying())
	assert.ErrorIs(t, p.Play(SoundPairing, PlayOverlay), ErrPlaybackBusy)

	p.Stop()
	assert.True(t, p.WaitForCompletion(5*time.Second))
}

func TestPlayerQueuesExclusiveBehindExclusive(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTestWAV(t, filepath.Join(dir, "startup.wav"), 96000, 1, constSamples(96000, 1000))
	writeTestWAV(t, filepath.Join(dir, "connected.wav"), 96000, 1, constSamples(960, 1000))

	sink := NewNullSink(96000)
	sink.SetWriteDelay(time.Millisecond)
	p := newTestPlayer(t, dir, sink, nil)

	require.NoError(t, p.Play(SoundStartup, PlayExclusive))
	require.True(t, p.IsPlaying())
	require.NoError(t, p.Play(SoundConnected, PlayExclusive), "second exclusive cue queues instead of failing")

	// Both cues end up on the sink, the queued one right after the first.
	chunks := 96000 / 1920
	wantLong := uint64(chunks * (1920 - 1) * 8)
	wantShort := uint64((960 - 1) * 8)
	require.Eventually(t, func() bool {
		return sink.BytesWritten() == wantLong+wantShort
	}, 10*time.Second, 10*time.Millisecond)
	assert.True(t, p.WaitForCompletion(5*time.Second))
}

func TestPlayerStopAbortsPlaybackAndPending(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTestWAV(t, filepath.Join(dir, "startup.wav"), 96000, 1, constSamples(96000, 1000))
	writeTestWAV(t, filepath.Join(dir, "connected.wav"), 96000, 1, constSamples(960, 1000))

	sink := NewNullSink(96000)
	sink.SetWriteDelay(2 * time.Millisecond)
	p := newTestPlayer(t, dir, sink, nil)

	require.NoError(t, p.Play(SoundStartup, PlayExclusive))
	require.True(t, p.IsPlaying())
	require.NoError(t, p.Play(SoundConnected, PlayExclusive))

	p.Stop()
	require.True(t, p.WaitForCompletion(5*time.Second))

	chunks := 96000 / 1920
	wantLong := uint64(chunks * (1920 - 1) * 8)
	assert.Less(t, sink.BytesWritten(), wantLong, "stop must interrupt mid cue")

	// The queued cue was discarded with the stop.
	writes := sink.Writes()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, writes, sink.Writes())
	assert.False(t, p.IsPlaying())
}

func TestPlayerVolumeScalesOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTestWAV(t, filepath.Join(dir, "volumemax.wav"), 96000, 1, constSamples(960, 1000))

	sink := NewNullSink(96000)
	sink.CaptureWrites(true)
	p := newTestPlayer(t, dir, sink, nil)

	require.NoError(t, p.Play(SoundMaxVolume, PlayExclusive))
	require.True(t, p.WaitForCompletion(5*time.Second))
	full := maxCapturedSample(t, sink)
	require.Positive(t, full)

	sink.CaptureWrites(false)
	sink.CaptureWrites(true)
	p.SetVolume(0.5)
	require.NoError(t, p.Play(SoundMaxVolume, PlayExclusive))
	require.True(t, p.WaitForCompletion(5*time.Second))
	assert.Equal(t, full/2, maxCapturedSample(t, sink))
}

func maxCapturedSample(t *testing.T, sink *NullSink) int32 {
	t.Helper()
	var peak int32
	for _, s := range capturedSamples(t, sink) {
		if s > peak {
			peak = s
		}
	}
	return peak
}

func TestPlayerSetVolumeClamps(t *testing.T) {
	t.Parallel()

	p := newTestPlayer(t, t.TempDir(), NewNullSink(96000), nil)
	p.SetVolume(1.7)
	assert.Equal(t, 1.0, p.Volume())
	p.SetVolume(-0.3)
	assert.Equal(t, 0.0, p.Volume())
	p.SetVolume(0.4)
	assert.Equal(t, 0.4, p.Volume())
}

func TestPlayerTargetRateFollowsClock(t *testing.T) {
	t.Parallel()

	p := newTestPlayer(t, t.TempDir(), NewNullSink(96000), nil)
	assert.Equal(t, 96000, p.TargetSampleRate())
	p.SetTargetSampleRate(48000)
	assert.Equal(t, 48000, p.TargetSampleRate())
}

func TestPlayerSaveAndDeleteSound(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := newTestPlayer(t, dir, NewNullSink(96000), nil)

	wavData := append([]byte("RIFF\x00\x00\x00\x00WAVE"), make([]byte, 16)...)
	require.NoError(t, p.SaveSound(SoundPairing, wavData))
	assert.FileExists(t, filepath.Join(dir, "pairing.wav"))
	assert.True(t, p.HasSound(SoundPairing))

	flacData := append([]byte("fLaC"), make([]byte, 16)...)
	require.NoError(t, p.SaveSound(SoundStartup, flacData))
	assert.FileExists(t, filepath.Join(dir, "startup.flac"))

	require.NoError(t, p.DeleteSound(SoundPairing))
	assert.NoFileExists(t, filepath.Join(dir, "pairing.wav"))
	assert.False(t, p.HasSound(SoundPairing))

	err := p.DeleteSound(SoundPairing)
	assert.True(t, errors.IsNotFound(err), "deleting an absent cue should report not found")
}

func TestPlayerSaveSoundRejectsBadData(t *testing.T) {
	t.Parallel()

	p := newTestPlayer(t, t.TempDir(), NewNullSink(96000), nil)

	err := p.SaveSound(SoundPairing, []byte("\x89PNG not audio data"))
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	assert.Error(t, p.SaveSound(SoundType(99), []byte("fLaC....")))
	assert.Error(t, p.DeleteSound(SoundType(99)))
}
