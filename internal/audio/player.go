package audio

import (
	"context"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/btsink-go/internal/conf"
	"github.com/tphakala/btsink-go/internal/errors"
	"github.com/tphakala/btsink-go/internal/logging"
	"github.com/tphakala/btsink-go/internal/observability/metrics"
)

// SoundType identifies one of the built-in cue sounds.
type SoundType int

const (
	SoundStartup SoundType = iota
	SoundPairing
	SoundConnected
	SoundMaxVolume
	soundTypeCount
)

// soundFiles maps each cue to its base file name in the sounds
// directory; the player accepts either a .wav or a .flac variant.
var soundFiles = [soundTypeCount]string{"startup", "pairing", "connected", "volumemax"}

func (t SoundType) String() string {
	if t < 0 || t >= soundTypeCount {
		return "unknown"
	}
	return soundFiles[t]
}

// ParseSoundType resolves a cue name as used in file names and the
// control surfaces.
func ParseSoundType(name string) (SoundType, error) {
	for i, n := range soundFiles {
		if n == name {
			return SoundType(i), nil
		}
	}
	return 0, errors.Newf("unknown cue sound: %q", name).
		Component("audio").
		Category(errors.CategoryValidation).
		Build()
}

// PlayMode selects how a cue interacts with the primary stream.
type PlayMode int

const (
	// PlayExclusive suppresses the primary stream and writes the cue
	// straight to the sink.
	PlayExclusive PlayMode = iota
	// PlayOverlay mixes the cue on top of the primary stream through
	// the overlay ring.
	PlayOverlay
)

func (m PlayMode) String() string {
	if m == PlayOverlay {
		return "overlay"
	}
	return "exclusive"
}

// ParsePlayMode resolves a play mode name from the control surfaces.
func ParsePlayMode(name string) (PlayMode, error) {
	switch name {
	case "overlay":
		return PlayOverlay, nil
	case "exclusive":
		return PlayExclusive, nil
	default:
		return 0, errors.Newf("unknown play mode: %q", name).
			Component("audio").
			Category(errors.CategoryValidation).
			Build()
	}
}

const (
	// maxPlaybackTime caps any single cue so a corrupt file cannot hold
	// the output forever.
	maxPlaybackTime = 10 * time.Second
	// maxWriteFailures aborts exclusive playback when the sink keeps
	// rejecting writes, such as during a clock reconfiguration.
	maxWriteFailures = 20
	// maxOutputRate sizes the resample buffer for the fastest clock the
	// sink may run at.
	maxOutputRate = 96000
	// statusMutedBit flags mute in the cue status byte.
	statusMutedBit = 0x80
)

// ErrMuted reports that playback was skipped because cue sounds are muted.
var ErrMuted = errors.NewStd("sound effects are muted")

// ErrPlaybackBusy reports that a cue is already using the output in a
// mode that cannot be queued behind.
var ErrPlaybackBusy = errors.NewStd("cue playback busy")

type pendingSound struct {
	typ  SoundType
	mode PlayMode
}

type playback struct {
	typ  SoundType
	mode PlayMode
	done chan struct{}
}

// Player decodes cue sounds from the sounds directory and plays them
// either exclusively on the sink or mixed over the primary stream.
// Decoded PCM is cached so repeated cues skip the file and decode cost.
// Play never blocks; playback runs on its own goroutine and an
// exclusive cue requested while another is playing is queued behind it.
type Player struct {
	log   *slog.Logger
	dir   string
	sink  Sink
	mixer *OverlayMixer
	cache *cache.Cache

	metrics *metrics.AudioMetrics

	targetRate  atomic.Int64
	rateChanged atomic.Bool
	muted       atomic.Bool
	stop        atomic.Bool
	volumeBits  atomic.Uint64

	mu      sync.Mutex
	current *playback
	pending *pendingSound

	ctx    context.Context
	cancel context.CancelFunc
}

// NewPlayer builds a player over the given sink and mixer. defaultRate
// seeds the resampler target until a stream configures the real clock.
// mixer may be nil when overlay playback is not wanted.
func NewPlayer(cfg conf.OverlaySettings, defaultRate int, sink Sink, mixer *OverlayMixer) *Player {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Player{
		log:    logging.ForService("audio"),
		dir:    cfg.SoundsDir,
		sink:   sink,
		mixer:  mixer,
		cache:  cache.New(ttl, ttl*2),
		ctx:    ctx,
		cancel: cancel,
	}
	p.targetRate.Store(int64(defaultRate))
	vol := cfg.Volume
	if vol <= 0 {
		vol = 1
	}
	p.SetVolume(vol)
	return p
}

// SetMetrics attaches the audio metrics collectors.
func (p *Player) SetMetrics(m *metrics.AudioMetrics) {
	p.metrics = m
}

// SetTargetSampleRate tells a running playback the output clock moved;
// the resampler re-derives its ratio at the next chunk boundary.
func (p *Player) SetTargetSampleRate(rate int) {
	p.targetRate.Store(int64(rate))
	p.rateChanged.Store(true)
}

// TargetSampleRate reports the rate the resampler currently targets.
func (p *Player) TargetSampleRate() int {
	return int(p.targetRate.Load())
}

// SetMuted toggles cue playback. Muting does not stop a running cue.
func (p *Player) SetMuted(muted bool) {
	p.muted.Store(muted)
	if muted {
		p.log.Info("cue sounds muted")
	} else {
		p.log.Info("cue sounds unmuted")
	}
}

// IsMuted reports whether cue playback is muted.
func (p *Player) IsMuted() bool {
	return p.muted.Load()
}

// SetVolume sets the cue gain, clamped to 0..1. Applies from the next
// playback.
func (p *Player) SetVolume(volume float64) {
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}
	p.volumeBits.Store(math.Float64bits(volume))
}

// Volume reports the cue gain.
func (p *Player) Volume() float64 {
	return math.Float64frombits(p.volumeBits.Load())
}

// Status packs cue availability into one byte: bits 0 to 3 flag which
// cue files exist, bit 7 flags mute.
func (p *Player) Status() byte {
	var status byte
	for typ := SoundType(0); typ < soundTypeCount; typ++ {
		if p.soundPath(typ) != "" {
			status |= 1 << typ
		}
	}
	if p.muted.Load() {
		status |= statusMutedBit
	}
	return status
}

// HasSound reports whether a cue file exists for the given type.
func (p *Player) HasSound(typ SoundType) bool {
	return p.soundPath(typ) != ""
}

// soundPath returns the first existing file for the cue, preferring the
// WAV variant, or an empty string when none exists.
func (p *Player) soundPath(typ SoundType) string {
	if typ < 0 || typ >= soundTypeCount {
		return ""
	}
	base := filepath.Join(p.dir, soundFiles[typ])
	for _, ext := range []string{".wav", ".flac"} {
		path := base + ext
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Play starts a cue without blocking. An exclusive cue requested while
// another cue is playing is queued and starts when the current one
// finishes; an overlay cue in that situation returns ErrPlaybackBusy.
func (p *Player) Play(typ SoundType, mode PlayMode) error {
	if p.muted.Load() {
		return ErrMuted
	}
	if typ < 0 || typ >= soundTypeCount {
		return errors.Newf("unknown sound type: %d", typ).
			Component("audio").
			Category(errors.CategoryValidation).
			Context("operation", "play_sound").
			Build()
	}
	if mode == PlayOverlay && p.mixer == nil {
		return errors.Newf("overlay mixer not configured").
			Component("audio").
			Category(errors.CategoryState).
			Context("operation", "play_sound").
			Build()
	}
	path := p.soundPath(typ)
	if path == "" {
		return errors.Newf("no sound file for %s", typ).
			Component("audio").
			Category(errors.CategoryNotFound).
			Context("operation", "play_sound").
			Build()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		if mode == PlayExclusive {
			p.pending = &pendingSound{typ: typ, mode: mode}
			p.log.Info("queued cue sound", "sound", typ.String())
			return nil
		}
		return ErrPlaybackBusy
	}

	p.launchLocked(typ, mode, path)
	return nil
}

// launchLocked starts the playback goroutine. Caller holds p.mu.
func (p *Player) launchLocked(typ SoundType, mode PlayMode, path string) {
	pb := &playback{typ: typ, mode: mode, done: make(chan struct{})}
	p.current = pb
	p.stop.Store(false)
	p.log.Info("playing cue sound", "sound", typ.String(), "mode", mode.String())
	go p.run(pb, path)
}

func (p *Player) run(pb *playback, path string) {
	defer func() {
		p.mu.Lock()
		p.current = nil
		pend := p.pending
		p.pending = nil
		p.mu.Unlock()
		close(pb.done)

		if pend != nil {
			if err := p.Play(pend.typ, pend.mode); err != nil && !errors.Is(err, ErrMuted) {
				p.log.Warn("queued cue sound failed", "sound", pend.typ.String(), "error", err)
			}
		}
	}()

	snd, err := p.loadSound(path)
	if err != nil {
		p.log.Error("failed to load cue sound", "path", path, "error", err)
		return
	}

	outRate := int(p.targetRate.Load())
	if outRate < 1 || snd.rate < 1 {
		p.log.Error("cue playback needs valid rates", "source_rate", snd.rate, "output_rate", outRate)
		return
	}
	p.rateChanged.Store(false)

	var rs resampler
	rs.reset(snd.rate, outRate, snd.stereo)

	channelsPerFrame := 1
	if snd.stereo {
		channelsPerFrame = 2
	}
	totalFrames := snd.frames()

	// Chunked streaming: about 20 ms of source audio per pass, with the
	// output buffer sized for the fastest clock the sink may use.
	inputChunkFrames := snd.rate * 20 / 1000
	if inputChunkFrames < 1 {
		inputChunkFrames = 1
	}
	maxOutFrames := inputChunkFrames*maxOutputRate/snd.rate + 16
	out := make([]int32, maxOutFrames*2)
	var outBytes []byte
	if pb.mode == PlayExclusive {
		outBytes = make([]byte, maxOutFrames*8)
	}

	vol := p.Volume()
	start := time.Now()
	consecutiveFailures := 0
	framePos := 0

	for framePos < totalFrames && !p.stop.Load() {
		if time.Since(start) > maxPlaybackTime {
			p.log.Warn("cue playback timed out", "sound", pb.typ.String(), "elapsed", time.Since(start))
			break
		}
		if p.rateChanged.Swap(false) {
			newRate := int(p.targetRate.Load())
			if newRate > 0 && newRate != outRate {
				p.log.Info("cue resampler following clock change", "from", outRate, "to", newRate)
				outRate = newRate
				rs.reset(snd.rate, outRate, snd.stereo)
			}
		}

		chunk := inputChunkFrames
		if rem := totalFrames - framePos; chunk > rem {
			chunk = rem
		}
		in := snd.samples[framePos*channelsPerFrame : (framePos+chunk)*channelsPerFrame]
		outFrames := rs.process(in, chunk, out)
		framePos += chunk

		if outFrames == 0 {
			continue
		}
		samplesOut := out[:outFrames*2]
		if vol != 1 {
			for i := range samplesOut {
				samplesOut[i] = int32(float64(samplesOut[i]) * vol)
			}
		}

		switch pb.mode {
		case PlayOverlay:
			accepted := p.mixer.Push(samplesOut)
			if p.metrics != nil {
				p.metrics.RecordOverlayPush()
				if accepted < outFrames {
					p.metrics.RecordOverlayFramesDropped(outFrames - accepted)
				}
			}
			// Pace pushes just under real time so the ring neither
			// overflows nor runs dry.
			audioMs := outFrames * 1000 / outRate
			if audioMs < 1 {
				audioMs = 1
			}
			sleepMs := audioMs
			if audioMs > 2 {
				sleepMs = audioMs - 1
			}
			if !p.sleep(time.Duration(sleepMs) * time.Millisecond) {
				return
			}

		case PlayExclusive:
			payload := packSamples(outBytes, samplesOut)
			n, err := p.sink.Write(p.ctx, payload)
			if err != nil || n == 0 {
				consecutiveFailures++
				if consecutiveFailures >= maxWriteFailures {
					p.log.Warn("aborting cue playback, sink not accepting writes",
						"sound", pb.typ.String(),
						"failures", consecutiveFailures)
					return
				}
				// The sink may be mid clock change, give it a moment.
				if !p.sleep(10 * time.Millisecond) {
					return
				}
			} else {
				consecutiveFailures = 0
			}
		}
	}

	p.log.Debug("cue playback complete", "sound", pb.typ.String())
}

// sleep waits for d unless the player is closing.
func (p *Player) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// loadSound fetches decoded PCM from the cache or decodes the file.
func (p *Player) loadSound(path string) (*decodedSound, error) {
	if v, ok := p.cache.Get(path); ok {
		if snd, ok := v.(*decodedSound); ok {
			return snd, nil
		}
	}
	snd, err := decodeSoundFile(path)
	if err != nil {
		return nil, err
	}
	p.cache.Set(path, snd, cache.DefaultExpiration)
	return snd, nil
}

// Stop aborts the current cue and discards any queued follow-up.
func (p *Player) Stop() {
	p.stop.Store(true)
	p.mu.Lock()
	p.pending = nil
	p.mu.Unlock()
}

// IsPlaying reports whether a cue is currently playing.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}

// IsExclusivePlaying reports whether an exclusive cue owns the output.
// The pipeline consults this to skip its sink writes.
func (p *Player) IsExclusivePlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil && p.current.mode == PlayExclusive
}

// WaitForCompletion blocks until cue playback, including any queued
// follow-up, has finished or the timeout elapses. Reports whether the
// player went idle.
func (p *Player) WaitForCompletion(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !p.IsPlaying() {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return !p.IsPlaying()
}

// SaveSound stores uploaded cue data, replacing any existing variant.
// The format is sniffed from the payload magic.
func (p *Player) SaveSound(typ SoundType, data []byte) error {
	if typ < 0 || typ >= soundTypeCount {
		return errors.Newf("unknown sound type: %d", typ).
			Component("audio").
			Category(errors.CategoryValidation).
			Context("operation", "save_sound").
			Build()
	}
	ext, err := sniffSoundFormat(data)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return errors.New(err).
			Component("audio").
			Category(errors.CategoryFileIO).
			Context("operation", "save_sound").
			Build()
	}
	base := filepath.Join(p.dir, soundFiles[typ])
	if err := os.WriteFile(base+ext, data, 0o644); err != nil {
		return errors.New(err).
			Component("audio").
			Category(errors.CategoryFileIO).
			Context("operation", "save_sound").
			Build()
	}
	p.cache.Delete(base + ".wav")
	p.cache.Delete(base + ".flac")
	p.log.Info("saved cue sound", "sound", typ.String(), "bytes", len(data))
	return nil
}

// sniffSoundFormat identifies the upload format from its magic bytes.
func sniffSoundFormat(data []byte) (string, error) {
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		return ".wav", nil
	}
	if len(data) >= 4 && string(data[0:4]) == "fLaC" {
		return ".flac", nil
	}
	return "", errors.Newf("unrecognized sound data, need WAV or FLAC").
		Component("audio").
		Category(errors.CategoryValidation).
		Context("operation", "save_sound").
		Build()
}

// DeleteSound removes the cue files and evicts their cached PCM.
func (p *Player) DeleteSound(typ SoundType) error {
	if typ < 0 || typ >= soundTypeCount {
		return errors.Newf("unknown sound type: %d", typ).
			Component("audio").
			Category(errors.CategoryValidation).
			Context("operation", "delete_sound").
			Build()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	base := filepath.Join(p.dir, soundFiles[typ])
	removed := false
	for _, ext := range []string{".wav", ".flac"} {
		path := base + ext
		err := os.Remove(path)
		switch {
		case err == nil:
			removed = true
			p.cache.Delete(path)
		case !errors.Is(err, os.ErrNotExist):
			return errors.New(err).
				Component("audio").
				Category(errors.CategoryFileIO).
				Context("operation", "delete_sound").
				Build()
		}
	}
	if !removed {
		return errors.Newf("no sound file for %s", typ).
			Component("audio").
			Category(errors.CategoryNotFound).
			Context("operation", "delete_sound").
			Build()
	}
	p.log.Info("deleted cue sound", "sound", typ.String())
	return nil
}

// Close stops playback and waits briefly for the goroutine to exit.
func (p *Player) Close() {
	p.Stop()
	p.cancel()
	p.WaitForCompletion(time.Second)
}
