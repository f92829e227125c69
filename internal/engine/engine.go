// Package engine ties the audio subsystems together: it owns the DSP
// processor, overlay mixer, pipeline, cue player and output sink, drives
// the render loop, and exposes the lifecycle entry points the transport
// layer calls on connection, codec and volume events.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/btsink-go/internal/audio"
	"github.com/tphakala/btsink-go/internal/conf"
	"github.com/tphakala/btsink-go/internal/dsp"
	"github.com/tphakala/btsink-go/internal/errors"
	"github.com/tphakala/btsink-go/internal/logging"
	"github.com/tphakala/btsink-go/internal/observability"
	"github.com/tphakala/btsink-go/internal/suncalc"
)

const (
	// codecFallbackRate replaces a zero rate in a codec announcement.
	codecFallbackRate = 44100
	// codecStableDelay is how long after a codec announcement the clock
	// is given to settle before the connected cue plays.
	codecStableDelay = 400 * time.Millisecond
	// codecSwitchWindow classifies a reconnect this soon after a
	// disconnect as a codec switch, which skips the connected cue.
	codecSwitchWindow = 5 * time.Second
	// volumeGracePeriod ignores peer volume reports right after a
	// connection; phones replay their stored level on connect.
	volumeGracePeriod = 2 * time.Second
	// maxVolumeCueCooldown rate-limits the max-volume cue.
	maxVolumeCueCooldown = 2 * time.Second

	// statsInterval is the cadence of the metrics gauge refresh.
	statsInterval = time.Second
	// quietHoursInterval is how often the night window is re-evaluated.
	quietHoursInterval = time.Minute
)

// bandLabels name the analysis bands on exported metrics, lowest first.
var bandLabels = [3]string{"30hz", "60hz", "100hz"}

// CodecInfo describes the stream format announced by the transport.
type CodecInfo struct {
	Name       string `json:"name"`
	SampleRate int    `json:"sample_rate"`
	BitDepth   int    `json:"bit_depth"`
	Channels   int    `json:"channels"`
}

// Session is one device connection from connect to disconnect.
type Session struct {
	ID             string    `json:"id"`
	Device         string    `json:"device"`
	Codec          CodecInfo `json:"codec"`
	ConnectedAt    time.Time `json:"connected_at"`
	DisconnectedAt time.Time `json:"disconnected_at,omitempty"`
}

// SessionListener is notified when a device session starts and ends.
// Callbacks run on the caller's goroutine and must not block.
type SessionListener interface {
	SessionStarted(s Session)
	SessionEnded(s Session)
}

// EQStatus is the requested equalizer gains in dB.
type EQStatus struct {
	Bass   float64 `json:"bass"`
	Mid    float64 `json:"mid"`
	Treble float64 `json:"treble"`
}

// Status is a point-in-time snapshot of the whole engine, served by the
// control API and persisted by the datastore snapshotter.
type Status struct {
	Connected   bool                 `json:"connected"`
	Session     Session              `json:"session,omitzero"`
	Codec       CodecInfo            `json:"codec"`
	Streaming   bool                 `json:"streaming"`
	SampleRate  int                  `json:"sample_rate"`
	Volume      int                  `json:"volume"`
	ControlByte byte                 `json:"control_byte"`
	EQ          EQStatus             `json:"eq"`
	VisualBoost float64              `json:"visual_boost"`
	QuietHours  bool                 `json:"quiet_hours"`
	DuckGain    float64              `json:"duck_gain"`
	CueStatus   byte                 `json:"cue_status"`
	CueMuted    bool                 `json:"cue_muted"`
	Pipeline    audio.Stats          `json:"pipeline"`
	Analysis    dsp.AnalysisSnapshot `json:"analysis"`
}

// Engine owns the audio path end to end. The transport layer feeds it
// PCM and lifecycle events; Run drives the render loop until the
// context is canceled.
type Engine struct {
	settings *conf.Settings
	log      *slog.Logger

	sink     audio.Sink
	proc     *dsp.Processor
	mixer    *audio.OverlayMixer
	pipeline *audio.Pipeline
	player   *audio.Player

	metrics *observability.Metrics
	sun     *suncalc.SunCalc

	defaultRate int

	// codec parameters read by the producer hot path without locking.
	bitDepth atomic.Int32
	channels atomic.Int32

	mu              sync.Mutex
	session         *Session
	codec           CodecInfo
	streaming       bool
	connectedAt     time.Time
	lastDisconnect  time.Time
	lastCodecConfig time.Time
	cuePending      bool
	cueTimer        *time.Timer
	lastMaxVolCue   time.Time

	// requested control values; night rules derive the applied ones.
	wantVolume  int
	wantBass    float64
	wantMid     float64
	wantTreble  float64
	nightActive bool

	listeners []SessionListener
}

// New builds the engine over the given sink, applying the configured
// DSP chain, mixer and cue player. metrics may be nil to run without
// observability.
func New(settings *conf.Settings, sink audio.Sink, m *observability.Metrics) (*Engine, error) {
	if settings == nil {
		return nil, errors.Newf("engine requires settings").
			Component("engine").
			Category(errors.CategoryValidation).
			Build()
	}
	if sink == nil {
		return nil, errors.Newf("engine requires a sink").
			Component("engine").
			Category(errors.CategoryValidation).
			Build()
	}

	proc, err := dsp.New(settings.Audio.DefaultSampleRate)
	if err != nil {
		return nil, err
	}
	if err := applyDSPSettings(proc, &settings.DSP); err != nil {
		return nil, err
	}

	mixer, err := audio.NewOverlayMixer(settings.Overlay.RingFrames, settings.Overlay.DuckLevel)
	if err != nil {
		return nil, err
	}

	pipeline, err := audio.NewPipeline(settings.Audio, sink, proc, mixer)
	if err != nil {
		return nil, err
	}

	player := audio.NewPlayer(settings.Overlay, settings.Audio.DefaultSampleRate, sink, mixer)

	// The render loop keeps processing while an exclusive cue owns the
	// output, it just stops writing.
	pipeline.SetSkipWriteFunc(player.IsExclusivePlaying)

	e := &Engine{
		settings:    settings,
		log:         logging.ForService("engine"),
		sink:        sink,
		proc:        proc,
		mixer:       mixer,
		pipeline:    pipeline,
		player:      player,
		metrics:     m,
		defaultRate: settings.Audio.DefaultSampleRate,
		wantVolume:  proc.Volume(),
	}
	e.wantBass, e.wantMid, e.wantTreble = proc.EQ()
	e.bitDepth.Store(16)
	e.channels.Store(2)

	if m != nil {
		pipeline.SetMetrics(m.Audio)
		player.SetMetrics(m.Audio)
		m.DSP.UpdateVolume(proc.Volume())
	}

	if settings.QuietHours.Enabled {
		e.sun = suncalc.NewSunCalc(settings.QuietHours.Latitude, settings.QuietHours.Longitude)
	}

	return e, nil
}

func applyDSPSettings(proc *dsp.Processor, cfg *conf.DSPSettings) error {
	if err := proc.SetEQ(cfg.Equalizer.Bass, cfg.Equalizer.Mid, cfg.Equalizer.Treble); err != nil {
		return err
	}
	if err := proc.SetVolume(cfg.Volume); err != nil {
		return err
	}
	if err := proc.SetCrossoverFrequencies(cfg.Crossover.LowPassFreq, cfg.Crossover.HighPassFreq); err != nil {
		return err
	}
	if cfg.Crossover.BoostFreq > 0 {
		if err := proc.SetBassBoostShelf(cfg.Crossover.BoostFreq, cfg.Crossover.BoostGain); err != nil {
			return err
		}
	}
	proc.SetBassBoost(cfg.Crossover.BassBoost)
	proc.SetChannelFlip(cfg.Crossover.Flip)
	proc.SetBassCompensation(cfg.BassComp)
	proc.SetStagePresence(cfg.Spatial)
	proc.SetAnalysis(cfg.Analysis)
	proc.SetBypass(cfg.Bypass)
	return nil
}

// Run starts the sink and drives the render, stats and quiet-hours
// loops until ctx is canceled. It returns after the loops have stopped
// and the sink is closed.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.sink.Start(); err != nil {
		return err
	}

	e.playCue(audio.SoundStartup, audio.PlayExclusive)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e.renderLoop(gctx)
		return nil
	})
	g.Go(func() error {
		e.statsLoop(gctx)
		return nil
	})
	if e.sun != nil {
		g.Go(func() error {
			e.quietHoursLoop(gctx)
			return nil
		})
	}
	err := g.Wait()

	e.stopCueTimer()
	e.player.Close()
	if stopErr := e.sink.Stop(); stopErr != nil {
		e.log.Error("sink stop failed", "error", stopErr)
	}
	e.log.Info("engine stopped")
	return err
}

func (e *Engine) renderLoop(ctx context.Context) {
	e.log.Info("render loop started")
	for {
		select {
		case <-ctx.Done():
			return
		default:
			e.pipeline.ProcessBuffer(ctx)
		}
	}
}

// statsLoop refreshes the gauges that have no natural event to hang
// off: queue fill, duck gain, band energies and peak levels.
func (e *Engine) statsLoop(ctx context.Context) {
	if e.metrics == nil {
		return
	}
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.metrics.Audio.UpdateQueueFillPercent(float64(e.pipeline.QueueFillPercent()))
			e.metrics.Audio.UpdateDuckGain(e.mixer.DuckGain())

			snap := e.proc.Analysis()
			for i, band := range bandLabels {
				e.metrics.DSP.UpdateBandEnergy(band, snap.BandLin[i])
				e.metrics.DSP.UpdatePeakLevel(band, snap.PeakDB[i])
			}
			e.metrics.DSP.UpdateVisualBoost(e.proc.VisualBoost())
		}
	}
}

// quietHoursLoop limits volume and trims the bass shelf between civil
// dusk and dawn. Calculation errors (polar day, bad coordinates) leave
// the daytime rules in force.
func (e *Engine) quietHoursLoop(ctx context.Context) {
	e.evaluateQuietHours()
	ticker := time.NewTicker(quietHoursInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.evaluateQuietHours()
		}
	}
}

func (e *Engine) evaluateQuietHours() {
	night, err := e.sun.IsNight(time.Now())
	if err != nil {
		e.log.Debug("quiet hours check failed", "error", err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if night == e.nightActive {
		return
	}
	e.nightActive = night
	if night {
		e.log.Info("quiet hours started",
			"max_volume", e.settings.QuietHours.MaxVolume,
			"bass_reduction", e.settings.QuietHours.BassReduction)
	} else {
		e.log.Info("quiet hours ended")
	}
	e.applyVolumeLocked()
	e.applyEQLocked()
}

// applyVolumeLocked pushes the requested volume through the night
// ceiling to the processor. Callers hold e.mu.
func (e *Engine) applyVolumeLocked() {
	v := e.wantVolume
	if e.nightActive && e.settings.QuietHours.MaxVolume < v {
		v = e.settings.QuietHours.MaxVolume
	}
	if err := e.proc.SetVolume(v); err != nil {
		e.log.Error("volume update failed", "volume", v, "error", err)
		return
	}
	if e.metrics != nil {
		e.metrics.DSP.UpdateVolume(v)
	}
}

// applyEQLocked pushes the requested gains through the night bass
// reduction to the processor. Callers hold e.mu.
func (e *Engine) applyEQLocked() {
	bass := e.wantBass
	if e.nightActive {
		bass -= e.settings.QuietHours.BassReduction
	}
	if err := e.proc.SetEQ(bass, e.wantMid, e.wantTreble); err != nil {
		e.log.Error("eq update failed", "error", err)
		return
	}
	if e.metrics != nil {
		e.metrics.DSP.RecordEQUpdate()
	}
}

// Status returns a snapshot of the engine for the API and datastore.
func (e *Engine) Status() Status {
	e.mu.Lock()
	session := Session{}
	connected := e.session != nil
	if connected {
		session = *e.session
	}
	codec := e.codec
	streaming := e.streaming
	night := e.nightActive
	bass, mid, treble := e.wantBass, e.wantMid, e.wantTreble
	e.mu.Unlock()

	return Status{
		Connected:   connected,
		Session:     session,
		Codec:       codec,
		Streaming:   streaming,
		SampleRate:  e.sink.SampleRate(),
		Volume:      e.proc.Volume(),
		ControlByte: e.proc.ControlByte(),
		EQ:          EQStatus{Bass: bass, Mid: mid, Treble: treble},
		VisualBoost: e.proc.VisualBoost(),
		QuietHours:  night,
		DuckGain:    e.mixer.DuckGain(),
		CueStatus:   e.player.Status(),
		CueMuted:    e.player.IsMuted(),
		Pipeline:    e.pipeline.GetStats(),
		Analysis:    e.proc.Analysis(),
	}
}

// Processor exposes the DSP processor for control surfaces that adjust
// individual filters.
func (e *Engine) Processor() *dsp.Processor {
	return e.proc
}

// Player exposes the cue player for the sound management API.
func (e *Engine) Player() *audio.Player {
	return e.player
}

// PipelineStats returns the render counters without the full snapshot.
func (e *Engine) PipelineStats() audio.Stats {
	return e.pipeline.GetStats()
}
