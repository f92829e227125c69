package dsp

import (
	"log/slog"
	"math"
	"sync"

	"github.com/tphakala/btsink-go/internal/errors"
	"github.com/tphakala/btsink-go/internal/logging"
)

// Control byte bit assignments, the one-byte DSP mode exchanged with
// control surfaces and persisted in settings.
const (
	ControlBassBoost   byte = 0x01
	ControlChannelFlip byte = 0x02
	ControlBypass      byte = 0x04
)

// MaxVolume is the top of the absolute volume scale used by the transport
// and control surfaces.
const MaxVolume = 127

// Default crossover corner frequencies in Hz.
const (
	DefaultCrossoverLPHz = 200.0
	DefaultCrossoverHPHz = 200.0
)

const (
	fallbackSampleRate = 44100

	eqBassHz   = 150.0
	eqMidHz    = 1000.0
	eqMidQ     = 1.0
	eqTrebleHz = 6000.0

	// User gains are scaled down before filter derivation, bass more
	// conservatively than mid and treble, to keep headroom for stacking.
	eqBassScale   = 0.5
	eqMidScale    = 0.7
	eqTrebleScale = 0.7

	// A stage participates in the chain only when its effective gain
	// clears this threshold.
	eqActiveThresholdDB = 0.1

	shelfQ     = 1.0
	crossoverQ = 0.7071

	bassShelfHz     = 150.0
	bassShelfDB     = 2.0
	bassBoostMakeup = 1.2
	bassShelfMinHz  = 20.0
	bassShelfMaxHz  = 500.0
	bassShelfMaxDB  = 12.0

	bassCompHz    = 100.0
	bassCompMaxDB = 5.0

	// Each ear hears only part of the spectrum in crossover mode, this
	// compensates the perceived level loss.
	crossoverGainComp = 1.41

	clipCeiling = 1.0

	maxVisualBoost = 100.0
)

// Processor is the per-sample DSP engine. It owns every filter's
// coefficients and state; a single mutex serializes the render path against
// control parameter updates arriving from other goroutines.
type Processor struct {
	mu sync.Mutex

	sampleRate int

	// Equalizer, one filter per channel per band.
	eqBassL, eqBassR     *Filter
	eqMidL, eqMidR       *Filter
	eqTrebleL, eqTrebleR *Filter

	// Bass boost shelf filters.
	bassShelfL, bassShelfR *Filter

	// Volume-based bass compensation filters.
	bassCompL, bassCompR *Filter

	// Crossover filters, low-pass on the left path, high-pass on the right.
	crossoverLP, crossoverHP *Filter

	goertzel goertzelBank
	meter    peakMeter
	stage    stagePresence

	// User-facing equalizer gains in dB, before input scaling.
	eqBassDB   float64
	eqMidDB    float64
	eqTrebleDB float64
	eqActive   bool

	crossoverLPHz float64
	crossoverHPHz float64

	bassBoost    bool
	channelFlip  bool
	bypass       bool
	analysis     bool
	stageEnabled bool

	boostShelfHz float64
	boostShelfDB float64

	volume          int
	bassCompDB      float64
	bassCompEnabled bool

	log *slog.Logger
}

// New creates a Processor configured for the given sample rate with default
// modes: analysis enabled, bass boost, channel flip, bypass and stage
// presence disabled, volume at maximum.
func New(sampleRate int) (*Processor, error) {
	p := &Processor{
		sampleRate:      normalizeRate(sampleRate),
		crossoverLPHz:   DefaultCrossoverLPHz,
		crossoverHPHz:   DefaultCrossoverHPHz,
		analysis:        true,
		volume:          MaxVolume,
		boostShelfHz:    bassShelfHz,
		boostShelfDB:    bassShelfDB,
		bassCompEnabled: true,
		log:             logging.ForService("dsp"),
	}

	if err := p.updateFilters(); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryDSP).
			Context("operation", "init").
			Build()
	}
	if err := p.updateBassCompensation(); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryDSP).
			Context("operation", "init").
			Build()
	}

	p.goertzel.init(float64(p.sampleRate))
	p.meter.init(float64(p.sampleRate))
	p.stage.init(float64(p.sampleRate))

	return p, nil
}

func normalizeRate(sampleRate int) int {
	if sampleRate <= 0 {
		return fallbackSampleRate
	}
	return sampleRate
}

// retunePair rebuilds a left/right filter pair with the same tuning. An
// already initialized filter keeps its accumulated state so live parameter
// changes do not click.
func retunePair(l, r **Filter, build func() (*Filter, error)) error {
	for _, dst := range []**Filter{l, r} {
		fresh, err := build()
		if err != nil {
			return err
		}
		if *dst == nil {
			*dst = fresh
		} else {
			(*dst).Retune(fresh)
		}
	}
	return nil
}

func retuneOne(dst **Filter, fresh *Filter) {
	if *dst == nil {
		*dst = fresh
	} else {
		(*dst).Retune(fresh)
	}
}

// updateFilters re-derives every biquad coefficient set from the current
// sample rate and gains. Caller must hold p.mu.
func (p *Processor) updateFilters() error {
	fs := float64(p.sampleRate)

	bassDB := p.eqBassDB * eqBassScale
	midDB := p.eqMidDB * eqMidScale
	trebleDB := p.eqTrebleDB * eqTrebleScale

	if err := retunePair(&p.eqBassL, &p.eqBassR, func() (*Filter, error) {
		return NewLowShelf(fs, eqBassHz, shelfQ, bassDB, 1)
	}); err != nil {
		return err
	}
	if err := retunePair(&p.eqMidL, &p.eqMidR, func() (*Filter, error) {
		return NewPeaking(fs, eqMidHz, eqMidQ, midDB, 1)
	}); err != nil {
		return err
	}
	if err := retunePair(&p.eqTrebleL, &p.eqTrebleR, func() (*Filter, error) {
		return NewHighShelf(fs, eqTrebleHz, shelfQ, trebleDB, 1)
	}); err != nil {
		return err
	}
	if err := retunePair(&p.bassShelfL, &p.bassShelfR, func() (*Filter, error) {
		return NewLowShelf(fs, p.boostShelfHz, shelfQ, p.boostShelfDB, 1)
	}); err != nil {
		return err
	}

	lp, err := NewLowPass(fs, p.crossoverLPHz, crossoverQ, 1)
	if err != nil {
		return err
	}
	retuneOne(&p.crossoverLP, lp)

	hp, err := NewHighPass(fs, p.crossoverHPHz, crossoverQ, 1)
	if err != nil {
		return err
	}
	retuneOne(&p.crossoverHP, hp)

	p.eqActive = math.Abs(bassDB) >= eqActiveThresholdDB ||
		math.Abs(midDB) >= eqActiveThresholdDB ||
		math.Abs(trebleDB) >= eqActiveThresholdDB

	return nil
}

// updateBassCompensation re-derives the loudness compensation shelf from
// the current volume. Quadratic curve: no boost at full volume, the full
// compensation gain at zero volume. Caller must hold p.mu.
func (p *Processor) updateBassCompensation() error {
	volumePct := float64(p.volume) / MaxVolume
	factor := 1.0 - volumePct
	p.bassCompDB = bassCompMaxDB * factor * factor

	return retunePair(&p.bassCompL, &p.bassCompR, func() (*Filter, error) {
		return NewLowShelf(float64(p.sampleRate), bassCompHz, shelfQ, p.bassCompDB, 1)
	})
}

// resetFilterState clears every filter's accumulated state. Caller must
// hold p.mu.
func (p *Processor) resetFilterState() {
	for _, f := range []*Filter{
		p.eqBassL, p.eqBassR, p.eqMidL, p.eqMidR, p.eqTrebleL, p.eqTrebleR,
		p.bassShelfL, p.bassShelfR, p.bassCompL, p.bassCompR,
		p.crossoverLP, p.crossoverHP,
	} {
		f.Reset()
	}
	p.stage.reset()
	p.meter.zero()
}

// ProcessStereo runs one stereo frame through the transform chain and
// returns the processed pair. The chain order is fixed: analysis mono tap,
// equalizer, bass compensation, stage presence, analysis taps, crossover or
// bypass routing, output clipper.
func (p *Processor) ProcessStereo(l, r float64) (outL, outR float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Mono mix of the unprocessed input feeds the analysis taps.
	mono := (l + r) * 0.5

	if p.eqActive {
		l = p.eqBassL.Apply(l)
		r = p.eqBassR.Apply(r)
		l = p.eqMidL.Apply(l)
		r = p.eqMidR.Apply(r)
		l = p.eqTrebleL.Apply(l)
		r = p.eqTrebleR.Apply(r)
	}

	if p.bassCompEnabled && p.bassCompDB > eqActiveThresholdDB {
		l = p.bassCompL.Apply(l)
		r = p.bassCompR.Apply(r)
	}

	if p.stageEnabled {
		l, r = p.stage.process(l, r)
	}

	if p.analysis {
		p.goertzel.processSample(mono)
		p.meter.process(mono)
	}

	if !p.bypass {
		lpOut := p.crossoverLP.Apply(l)
		hpOut := p.crossoverHP.Apply(r)

		if p.bassBoost {
			lpOut = p.bassShelfL.Apply(lpOut) * bassBoostMakeup
		}

		lpOut *= crossoverGainComp
		hpOut *= crossoverGainComp

		// Channel flip controls which ear gets the low-passed path.
		if p.channelFlip {
			l, r = hpOut, lpOut
		} else {
			l, r = lpOut, hpOut
		}
	} else if p.bassBoost {
		l = p.bassShelfL.Apply(l) * bassBoostMakeup
		r = p.bassShelfR.Apply(r) * bassBoostMakeup
	}

	return hardClip(l), hardClip(r)
}

// hardClip bounds a sample to the clip ceiling. This is the only stage that
// always runs, so downstream consumers never see out-of-range samples no
// matter how upstream gains stack.
func hardClip(x float64) float64 {
	if x > clipCeiling {
		return clipCeiling
	}
	if x < -clipCeiling {
		return -clipCeiling
	}
	return x
}

// SetSampleRate reconfigures the whole chain for a new rate in a single
// operation: every coefficient is re-derived and every filter's state is
// reset. Callers are expected to quiesce input around the change.
func (p *Processor) SetSampleRate(sampleRate int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if sampleRate == p.sampleRate && sampleRate != 0 {
		return nil
	}
	p.sampleRate = normalizeRate(sampleRate)

	if err := p.updateFilters(); err != nil {
		return errors.New(err).
			Category(errors.CategoryDSP).
			Context("operation", "set_sample_rate").
			Context("sample_rate", p.sampleRate).
			Build()
	}
	if err := p.updateBassCompensation(); err != nil {
		return errors.New(err).
			Category(errors.CategoryDSP).
			Context("operation", "set_sample_rate").
			Context("sample_rate", p.sampleRate).
			Build()
	}

	p.stage.init(float64(p.sampleRate))
	p.resetFilterState()
	p.goertzel.init(float64(p.sampleRate))
	p.meter.init(float64(p.sampleRate))

	p.log.Debug("sample rate reconfigured", "sample_rate", p.sampleRate)
	return nil
}

// SampleRate returns the rate the chain is currently derived for.
func (p *Processor) SampleRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sampleRate
}

// SetEQ applies user equalizer gains in dB. Filters keep their state so a
// live adjustment does not click.
func (p *Processor) SetEQ(bassDB, midDB, trebleDB float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.eqBassDB = bassDB
	p.eqMidDB = midDB
	p.eqTrebleDB = trebleDB

	if err := p.updateFilters(); err != nil {
		return errors.New(err).
			Category(errors.CategoryDSP).
			Context("operation", "set_eq").
			Build()
	}
	return nil
}

// EQ returns the user equalizer gains in dB as last set.
func (p *Processor) EQ() (bassDB, midDB, trebleDB float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.eqBassDB, p.eqMidDB, p.eqTrebleDB
}

// SetCrossoverFrequencies retunes the split-ear crossover corners.
func (p *Processor) SetCrossoverFrequencies(lpHz, hpHz float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.crossoverLPHz = lpHz
	p.crossoverHPHz = hpHz

	if err := p.updateFilters(); err != nil {
		return errors.New(err).
			Category(errors.CategoryDSP).
			Context("operation", "set_crossover").
			Build()
	}
	return nil
}

// SetVolume applies the absolute volume (0-127) and re-derives the loudness
// compensation shelf. More boost at low volume, none at full volume.
func (p *Processor) SetVolume(volume int) error {
	if volume < 0 {
		volume = 0
	}
	if volume > MaxVolume {
		volume = MaxVolume
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.volume = volume
	if err := p.updateBassCompensation(); err != nil {
		return errors.New(err).
			Category(errors.CategoryDSP).
			Context("operation", "set_volume").
			Build()
	}
	return nil
}

// Volume returns the current absolute volume (0-127).
func (p *Processor) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// BassCompensationDB returns the currently applied loudness compensation
// gain in dB.
func (p *Processor) BassCompensationDB() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bassCompDB
}

// VisualBoost returns a linear gain multiplier for visualization consumers,
// growing as the volume drops so displays stay lively at low listening
// levels. Clamped to 100x.
func (p *Processor) VisualBoost() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	volumePct := float64(p.volume) / MaxVolume
	if volumePct < 0.01 {
		volumePct = 0.01
	}
	boost := 1.0 / volumePct
	if boost > maxVisualBoost {
		boost = maxVisualBoost
	}
	return boost
}

// SetBassBoost toggles the bass boost shelf.
func (p *Processor) SetBassBoost(enable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bassBoost = enable
}

// BassBoost reports whether the bass boost shelf is enabled.
func (p *Processor) BassBoost() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bassBoost
}

// SetBassBoostShelf retunes the boost shelf corner and gain.
func (p *Processor) SetBassBoostShelf(freqHz, gainDB float64) error {
	if freqHz < bassShelfMinHz || freqHz > bassShelfMaxHz {
		return errors.Newf("invalid bass boost frequency: %g Hz, must be within %g..%g",
			freqHz, bassShelfMinHz, bassShelfMaxHz).
			Category(errors.CategoryDSP).
			Context("operation", "set_bass_boost_shelf").
			Build()
	}
	if gainDB < 0 || gainDB > bassShelfMaxDB {
		return errors.Newf("invalid bass boost gain: %g dB, must be within 0..%g",
			gainDB, bassShelfMaxDB).
			Category(errors.CategoryDSP).
			Context("operation", "set_bass_boost_shelf").
			Build()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.boostShelfHz = freqHz
	p.boostShelfDB = gainDB
	return p.updateFilters()
}

// BassBoostShelf returns the boost shelf corner frequency and gain.
func (p *Processor) BassBoostShelf() (freqHz, gainDB float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.boostShelfHz, p.boostShelfDB
}

// SetBassCompensation toggles the volume-based loudness compensation
// stage. The compensation gain keeps tracking the volume either way so
// re-enabling applies the right shelf immediately.
func (p *Processor) SetBassCompensation(enable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bassCompEnabled = enable
}

// BassCompensation reports whether loudness compensation is enabled.
func (p *Processor) BassCompensation() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bassCompEnabled
}

// SetChannelFlip toggles which ear receives the low-passed path in
// crossover mode.
func (p *Processor) SetChannelFlip(enable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channelFlip = enable
}

// ChannelFlip reports whether the crossover outputs are swapped.
func (p *Processor) ChannelFlip() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channelFlip
}

// SetBypass toggles full-range stereo pass-through instead of the crossover
// split.
func (p *Processor) SetBypass(enable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bypass = enable
}

// Bypass reports whether the crossover is bypassed.
func (p *Processor) Bypass() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bypass
}

// SetAnalysis toggles the passive analysis taps.
func (p *Processor) SetAnalysis(enable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.analysis = enable
}

// AnalysisEnabled reports whether the analysis taps are enabled.
func (p *Processor) AnalysisEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.analysis
}

// SetStagePresence toggles the stage presence widener.
func (p *Processor) SetStagePresence(enable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stageEnabled = enable
}

// StagePresence reports whether the stage presence widener is enabled.
func (p *Processor) StagePresence() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stageEnabled
}

// ControlByte packs the boolean DSP modes into the one-byte form exchanged
// with control surfaces.
func (p *Processor) ControlByte() byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	var v byte
	if p.bassBoost {
		v |= ControlBassBoost
	}
	if p.channelFlip {
		v |= ControlChannelFlip
	}
	if p.bypass {
		v |= ControlBypass
	}
	return v
}

// ApplyControlByte unpacks a control byte into the boolean DSP modes.
func (p *Processor) ApplyControlByte(v byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.bassBoost = v&ControlBassBoost != 0
	p.channelFlip = v&ControlChannelFlip != 0
	p.bypass = v&ControlBypass != 0
}

// AnalysisSnapshot is a point-in-time copy of the analysis tap outputs.
// Band indexes are 0=30 Hz, 1=60 Hz, 2=100 Hz.
type AnalysisSnapshot struct {
	BandDB  [3]float64 `json:"band_db"`
	BandLin [3]float64 `json:"band_lin"`
	PeakDB  [3]float64 `json:"peak_db"`
	PeakLin [3]float64 `json:"peak_lin"`
}

// Analysis returns the current band energies and peak meter levels.
func (p *Processor) Analysis() AnalysisSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	var s AnalysisSnapshot
	for i := range s.BandDB {
		s.BandDB[i] = p.goertzel.dB(i)
		s.BandLin[i] = p.goertzel.lin(i)
		s.PeakDB[i] = p.meter.dB(i)
		s.PeakLin[i] = p.meter.lin(i)
	}
	return s
}

// BandDB returns the Goertzel level of a band in dB.
func (p *Processor) BandDB(band int) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.goertzel.dB(band)
}

// BandLin returns the normalized Goertzel magnitude of a band.
func (p *Processor) BandLin(band int) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.goertzel.lin(band)
}

// PeakDB returns the peak meter level of a band in dB.
func (p *Processor) PeakDB(band int) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.meter.dB(band)
}

// PeakLin returns the linear peak meter envelope of a band.
func (p *Processor) PeakLin(band int) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.meter.lin(band)
}

// ZeroLevels clears the analysis tap outputs, used when a stream stops so
// displays fall silent immediately.
func (p *Processor) ZeroLevels() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.goertzel.zero()
	p.meter.zero()
}
