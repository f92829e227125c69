package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/btsink-go/internal/audio"
	"github.com/tphakala/btsink-go/internal/dsp"
)

// AddSessionListener registers a listener for session start and end.
// Must be called before Run.
func (e *Engine) AddSessionListener(l SessionListener) {
	if l == nil {
		return
	}
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()
}

// Connected opens a new session for a device. A cue that is still
// playing from pairing mode is stopped so the stream can start clean.
func (e *Engine) Connected(device string) {
	now := time.Now()

	e.mu.Lock()
	session := &Session{
		ID:          uuid.New().String(),
		Device:      device,
		ConnectedAt: now,
	}
	e.session = session
	e.connectedAt = now
	started := *session
	listeners := append([]SessionListener(nil), e.listeners...)
	e.mu.Unlock()

	if e.player.IsPlaying() {
		e.player.Stop()
	}

	e.log.Info("device connected", "device", device, "session", started.ID)
	for _, l := range listeners {
		l.SessionStarted(started)
	}
}

// Disconnected closes the current session, flushes the audio path and
// restores the default output clock for cue playback.
func (e *Engine) Disconnected() {
	now := time.Now()

	e.mu.Lock()
	var ended *Session
	if e.session != nil {
		e.session.DisconnectedAt = now
		s := *e.session
		ended = &s
		e.session = nil
	}
	e.lastDisconnect = now
	e.streaming = false
	e.cuePending = false
	e.stopCueTimerLocked()
	listeners := append([]SessionListener(nil), e.listeners...)
	e.mu.Unlock()

	e.pipeline.Clear()
	if err := e.sink.ResetToDefault(); err != nil {
		e.log.Error("sink reset failed", "error", err)
	}
	if err := e.proc.SetSampleRate(e.defaultRate); err != nil {
		e.log.Error("dsp rate reset failed", "rate", e.defaultRate, "error", err)
	}
	e.player.SetTargetSampleRate(e.defaultRate)
	e.proc.ZeroLevels()

	if e.metrics != nil {
		e.metrics.Audio.SetStreamActive(false)
	}

	if ended == nil {
		e.log.Info("device disconnected with no open session")
		return
	}
	e.log.Info("device disconnected",
		"device", ended.Device,
		"session", ended.ID,
		"duration", now.Sub(ended.ConnectedAt).Round(time.Second).String())
	for _, l := range listeners {
		l.SessionEnded(*ended)
	}
}

// StreamStarted reconfigures the audio path for an announced codec:
// the pipeline is flushed, the output clock, DSP and cue resampler
// follow the new rate, and the connected cue is scheduled once the
// clock has settled.
func (e *Engine) StreamStarted(codec CodecInfo) {
	if codec.SampleRate == 0 {
		codec.SampleRate = codecFallbackRate
	}
	if codec.BitDepth == 0 {
		codec.BitDepth = 16
	}
	if codec.Channels == 0 {
		codec.Channels = 2
	}

	e.pipeline.Clear()

	if err := e.sink.UpdateClock(codec.SampleRate); err != nil {
		e.log.Error("output clock update failed", "rate", codec.SampleRate, "error", err)
	}
	if err := e.proc.SetSampleRate(codec.SampleRate); err != nil {
		e.log.Error("dsp rate update failed", "rate", codec.SampleRate, "error", err)
	}
	e.player.SetTargetSampleRate(codec.SampleRate)

	e.bitDepth.Store(int32(codec.BitDepth))
	e.channels.Store(int32(codec.Channels))

	e.mu.Lock()
	e.codec = codec
	e.streaming = true
	if e.session != nil {
		e.session.Codec = codec
	}
	e.lastCodecConfig = time.Now()
	e.cuePending = true
	e.stopCueTimerLocked()
	e.cueTimer = time.AfterFunc(codecStableDelay, e.fireConnectedCue)
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.DSP.RecordSampleRateChange()
	}
	e.log.Info("stream started",
		"codec", codec.Name,
		"rate", codec.SampleRate,
		"bits", codec.BitDepth,
		"channels", codec.Channels)
}

// StreamStopped flushes queued audio and clears the analysis levels so
// displays fall silent. The codec and clock stay configured; a
// suspended stream usually resumes with the same format.
func (e *Engine) StreamStopped() {
	e.mu.Lock()
	e.streaming = false
	e.mu.Unlock()

	e.pipeline.Clear()
	e.proc.ZeroLevels()
	e.log.Info("stream stopped")
}

// OnStreamData feeds decoded PCM into the pipeline. Called from the
// transport's decode thread; it never blocks.
func (e *Engine) OnStreamData(data []byte) {
	e.pipeline.Enqueue(data, int(e.bitDepth.Load()), int(e.channels.Load()))
}

// fireConnectedCue runs when the clock has been stable for long enough
// after a codec announcement. A reconnect shortly after a disconnect is
// a codec switch and stays silent.
func (e *Engine) fireConnectedCue() {
	e.mu.Lock()
	if !e.cuePending {
		e.mu.Unlock()
		return
	}
	e.cuePending = false
	sinceDisconnect := e.lastCodecConfig.Sub(e.lastDisconnect)
	codecSwitch := !e.lastDisconnect.IsZero() && sinceDisconnect < codecSwitchWindow
	e.mu.Unlock()

	if codecSwitch {
		e.log.Debug("codec switch detected, skipping connected cue",
			"reconnect_after", sinceDisconnect.Round(time.Millisecond).String())
		return
	}
	e.playCue(audio.SoundConnected, audio.PlayExclusive)
}

func (e *Engine) stopCueTimer() {
	e.mu.Lock()
	e.stopCueTimerLocked()
	e.mu.Unlock()
}

func (e *Engine) stopCueTimerLocked() {
	if e.cueTimer != nil {
		e.cueTimer.Stop()
		e.cueTimer = nil
	}
}

// SetVolume applies an absolute volume from the transport, 0 to 127.
// Hitting the maximum plays the warning cue, except during the
// post-connect grace period when phones replay their stored level.
func (e *Engine) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	}
	if volume > dsp.MaxVolume {
		volume = dsp.MaxVolume
	}

	e.mu.Lock()
	e.wantVolume = volume
	e.applyVolumeLocked()
	connected := e.session != nil
	sinceConnect := time.Since(e.connectedAt)
	sinceLastCue := time.Since(e.lastMaxVolCue)
	cue := volume >= dsp.MaxVolume &&
		connected &&
		!e.connectedAt.IsZero() &&
		sinceConnect >= volumeGracePeriod &&
		sinceLastCue >= maxVolumeCueCooldown
	if cue {
		e.lastMaxVolCue = time.Now()
	}
	e.mu.Unlock()

	e.log.Debug("volume set", "volume", volume)
	if cue {
		e.playCue(audio.SoundMaxVolume, audio.PlayExclusive)
	}
}

// Volume returns the requested volume before any quiet-hours ceiling.
func (e *Engine) Volume() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wantVolume
}

// SetEQ updates the requested equalizer gains. During quiet hours the
// configured bass reduction is subtracted before the gains reach the
// processor.
func (e *Engine) SetEQ(bassDB, midDB, trebleDB float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	prevBass, prevMid, prevTreble := e.wantBass, e.wantMid, e.wantTreble
	e.wantBass, e.wantMid, e.wantTreble = bassDB, midDB, trebleDB

	bass := bassDB
	if e.nightActive {
		bass -= e.settings.QuietHours.BassReduction
	}
	if err := e.proc.SetEQ(bass, midDB, trebleDB); err != nil {
		e.wantBass, e.wantMid, e.wantTreble = prevBass, prevMid, prevTreble
		return err
	}
	if e.metrics != nil {
		e.metrics.DSP.RecordEQUpdate()
	}
	return nil
}

// ApplyControlByte applies the persisted one-byte DSP mode and records
// which features changed.
func (e *Engine) ApplyControlByte(b byte) {
	old := e.proc.ControlByte()
	e.proc.ApplyControlByte(b)

	if e.metrics == nil {
		return
	}
	changed := old ^ e.proc.ControlByte()
	if changed&dsp.ControlBassBoost != 0 {
		e.metrics.DSP.RecordControlApply("bass_boost")
	}
	if changed&dsp.ControlChannelFlip != 0 {
		e.metrics.DSP.RecordControlApply("channel_flip")
	}
	if changed&dsp.ControlBypass != 0 {
		e.metrics.DSP.RecordControlApply("bypass")
	}
}

// ControlByte returns the current one-byte DSP mode.
func (e *Engine) ControlByte() byte {
	return e.proc.ControlByte()
}

// PlayCue triggers a cue sound, used by the control API and pairing
// flow. Overlay cues mix over the stream, exclusive cues replace it.
func (e *Engine) PlayCue(typ audio.SoundType, mode audio.PlayMode) error {
	return e.player.Play(typ, mode)
}

// SetCueMuted suppresses or re-enables cue sounds.
func (e *Engine) SetCueMuted(muted bool) {
	e.player.SetMuted(muted)
}

// playCue fires a cue when the sound file exists, logging rather than
// failing when playback cannot start.
func (e *Engine) playCue(typ audio.SoundType, mode audio.PlayMode) {
	if !e.player.HasSound(typ) {
		return
	}
	if err := e.player.Play(typ, mode); err != nil {
		e.log.Debug("cue skipped", "sound", typ.String(), "error", err)
	}
}
