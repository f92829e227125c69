package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tphakala/btsink-go/internal/conf"
	"github.com/tphakala/btsink-go/internal/diagnostics"
	"github.com/tphakala/btsink-go/internal/dsp"
	"github.com/tphakala/btsink-go/internal/errors"
	"github.com/tphakala/btsink-go/internal/logging"
	"github.com/tphakala/btsink-go/internal/observability/metrics"
)

const (
	// dropLogInterval batches drop warnings so a saturated pool does not
	// flood the log at frame rate.
	dropLogInterval = 500
	// activeWait bounds the ready-queue wait while audio is flowing. A
	// timeout at this length marks the stream idle.
	activeWait = 5 * time.Millisecond
	// idleWait slows the render loop down while no audio is flowing.
	idleWait = 20 * time.Millisecond

	scale16  = 1.0 / 32768.0
	scale32  = 1.0 / 2147483648.0
	scaleOut = 2147483647.0
)

// Pipeline moves audio from the producer to the sink: payloads are
// copied into pool buffers, queued to the render loop, run through the
// DSP chain a frame at a time, mixed with the overlay ring and written
// to the sink as 32-bit stereo.
//
// Enqueue never blocks; when the pool is exhausted the payload is
// dropped and counted. ProcessBuffer waits a few milliseconds at most,
// so the caller can drive it in a tight loop.
type Pipeline struct {
	pool  *bufferPool
	sink  Sink
	proc  *dsp.Processor
	mixer *OverlayMixer
	log   *slog.Logger

	metrics *metrics.AudioMetrics

	dspOut      []int32
	outBytes    []byte
	staging     []byte
	frameBudget int
	swap        bool

	// skipWrite tells the render loop to keep processing but suppress
	// sink writes, used while an exclusive cue sound owns the output.
	skipWrite   func() bool
	wasSkipping bool

	audioActive atomic.Bool

	dropCount        atomic.Uint64
	enqueueFailCount atomic.Uint64
	shortWriteCount  atomic.Uint64
	writeCount       atomic.Uint64
	lastProcessMs    atomic.Int64

	// writeFailing latches on the first failed sink write of an episode
	// so the error log and debug capture fire once, not at frame rate.
	writeFailing atomic.Bool
}

// Stats is a point-in-time snapshot of the pipeline counters.
type Stats struct {
	Dropped          uint64    `json:"dropped"`            // Payload chunks dropped, free queue empty
	EnqueueFailed    uint64    `json:"enqueue_failed"`     // Filled buffers bounced, ready queue full
	ShortWrites      uint64    `json:"short_writes"`       // Sink writes that accepted fewer bytes than asked
	Writes           uint64    `json:"writes"`             // Sink write attempts
	LastProcess      time.Time `json:"last_process"`       // Wall clock of the last sink write, zero if none yet
	QueueFillPercent int       `json:"queue_fill_percent"` // Ready queue occupancy, 0 to 100
}

// NewPipeline builds the pipeline from the audio settings. The sink and
// processor are required; mixer may be nil to run without overlays.
func NewPipeline(cfg conf.AudioSettings, sink Sink, proc *dsp.Processor, mixer *OverlayMixer) (*Pipeline, error) {
	if sink == nil {
		return nil, errors.Newf("pipeline requires a sink").
			Component("audio").
			Category(errors.CategoryValidation).
			Context("operation", "create_pipeline").
			Build()
	}
	if proc == nil {
		return nil, errors.Newf("pipeline requires a DSP processor").
			Component("audio").
			Category(errors.CategoryValidation).
			Context("operation", "create_pipeline").
			Build()
	}
	if cfg.FrameBudget < 1 {
		return nil, errors.Newf("invalid frame budget: %d", cfg.FrameBudget).
			Component("audio").
			Category(errors.CategoryValidation).
			Context("operation", "create_pipeline").
			Build()
	}

	pool, err := newBufferPool(cfg.PoolBuffers, cfg.BufferSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		pool:        pool,
		sink:        sink,
		proc:        proc,
		mixer:       mixer,
		log:         logging.ForService("audio"),
		dspOut:      make([]int32, cfg.FrameBudget*2),
		outBytes:    make([]byte, cfg.FrameBudget*8),
		frameBudget: cfg.FrameBudget,
		swap:        cfg.SwapChannels,
	}
	if cfg.UseStaging {
		p.staging = make([]byte, pool.bufferSize())
	}

	p.log.Info("pipeline ready",
		"pool_buffers", pool.count(),
		"buffer_size", pool.bufferSize(),
		"frame_budget", cfg.FrameBudget,
		"staging", cfg.UseStaging)
	return p, nil
}

// SetMetrics attaches the audio metrics collectors. Safe to skip when
// observability is disabled.
func (p *Pipeline) SetMetrics(m *metrics.AudioMetrics) {
	p.metrics = m
}

// SetSkipWriteFunc installs the predicate consulted before every sink
// write. Must be set before the render loop starts.
func (p *Pipeline) SetSkipWriteFunc(fn func() bool) {
	p.skipWrite = fn
}

// Enqueue copies a payload into pool buffers and queues them for the
// render loop. Payloads larger than one buffer are split. When the free
// queue is empty the remainder is dropped and counted; the call never
// blocks the producer.
func (p *Pipeline) Enqueue(data []byte, bitDepth, channels int) {
	if len(data) == 0 {
		return
	}

	size := p.pool.bufferSize()
	remaining := data
	for len(remaining) > 0 {
		h, ok := p.pool.takeFree()
		if !ok {
			drops := p.dropCount.Add(1)
			if p.metrics != nil {
				p.metrics.RecordBufferDropped("pool_exhausted")
			}
			if drops%dropLogInterval == 0 {
				p.log.Warn("dropping audio, buffer pool exhausted",
					"total_drops", drops,
					"queue_fill_percent", p.pool.fillPercent())
			}
			break
		}

		n := len(remaining)
		if n > size {
			n = size
		}
		buf := &p.pool.arena[h]
		copy(buf.data[:n], remaining[:n])
		buf.length = n
		buf.bits = uint8(bitDepth)
		buf.channels = uint8(channels)

		if !p.pool.pushReady(h) {
			p.enqueueFailCount.Add(1)
			if p.metrics != nil {
				p.metrics.RecordBufferDropped("queue_full")
			}
			p.pool.putFree(h)
			break
		}
		if p.metrics != nil {
			p.metrics.RecordBufferEnqueued()
		}
		remaining = remaining[n:]
	}

	p.audioActive.Store(true)
	if p.metrics != nil {
		p.metrics.SetStreamActive(true)
		p.metrics.UpdateQueueFillPercent(float64(p.pool.fillPercent()))
	}
}

// ProcessBuffer renders one queued buffer: decode to float frames, run
// the DSP chain, mix the overlay ring, and write 32-bit stereo to the
// sink. Returns after a bounded wait when the queue is empty, marking
// the stream idle if it was active.
func (p *Pipeline) ProcessBuffer(ctx context.Context) {
	skip := p.skipWrite != nil && p.skipWrite()
	if skip && !p.wasSkipping {
		// Exclusive playback is taking the output, silence what the
		// device still has queued from the stream.
		p.sink.ZeroDMA()
	}
	p.wasSkipping = skip

	active := p.audioActive.Load()
	wait := idleWait
	if active {
		wait = activeWait
	}

	h, ok := p.pool.popReady(ctx, wait)
	if !ok {
		if active {
			p.audioActive.Store(false)
			if p.metrics != nil {
				p.metrics.SetStreamActive(false)
			}
		}
		return
	}
	defer p.pool.putFree(h)

	start := time.Now()
	buf := &p.pool.arena[h]
	length := buf.length
	channels := int(buf.channels)
	if channels == 0 {
		channels = 2
	}

	src := buf.data[:length]
	if p.staging != nil && length <= len(p.staging) {
		copy(p.staging[:length], src)
		src = p.staging[:length]
	}

	bytesPerSample := 2
	if buf.bits > 16 {
		bytesPerSample = 4
	}
	frames := length / (bytesPerSample * channels)
	if frames > p.frameBudget {
		frames = p.frameBudget
	}
	if frames == 0 {
		return
	}

	if bytesPerSample == 2 {
		p.render16(src, frames, channels)
	} else {
		p.render32(src, frames, channels)
	}

	// The overlay mixes even while writes are skipped so the duck ramp
	// and the ring drain stay in real time.
	if p.mixer != nil {
		p.mixer.MixInto(p.dspOut, frames)
	}

	if !skip {
		out := p.dspOut[:frames*2]
		if p.swap {
			for i := 0; i < len(out); i += 2 {
				out[i], out[i+1] = out[i+1], out[i]
			}
		}

		payload := packSamples(p.outBytes, out)
		writeStart := time.Now()
		n, err := p.sink.Write(ctx, payload)
		p.writeCount.Add(1)
		p.lastProcessMs.Store(time.Now().UnixMilli())

		status := "ok"
		if err != nil {
			status = "error"
			p.shortWriteCount.Add(1)
			if p.metrics != nil {
				p.metrics.RecordShortWriteBytes(len(payload) - n)
			}
			if p.writeFailing.CompareAndSwap(false, true) {
				p.log.Error("sink write failed", "error", err)
				go diagnostics.CaptureSystemInfo(fmt.Sprintf("Sink write error: %v", err))
			}
		} else if n < len(payload) {
			status = "short"
			p.shortWriteCount.Add(1)
			if p.metrics != nil {
				p.metrics.RecordShortWriteBytes(len(payload) - n)
			}
		} else {
			p.writeFailing.Store(false)
		}
		if p.metrics != nil {
			p.metrics.RecordSinkWrite(status, time.Since(writeStart).Seconds())
		}
	}

	if p.metrics != nil {
		p.metrics.RecordBufferProcessed(time.Since(start).Seconds())
		p.metrics.UpdateQueueFillPercent(float64(p.pool.fillPercent()))
	}
}

// render16 decodes 16-bit samples, runs them through the DSP chain and
// stores 32-bit stereo frames in dspOut. Mono input feeds both ears.
func (p *Pipeline) render16(src []byte, frames, channels int) {
	if channels == 1 {
		for i := range frames {
			s := float64(int16(binary.LittleEndian.Uint16(src[i*2:]))) * scale16
			l, r := p.proc.ProcessStereo(s, s)
			p.dspOut[i*2] = int32(l * scaleOut)
			p.dspOut[i*2+1] = int32(r * scaleOut)
		}
		return
	}
	stride := channels * 2
	for i := range frames {
		off := i * stride
		l := float64(int16(binary.LittleEndian.Uint16(src[off:]))) * scale16
		r := float64(int16(binary.LittleEndian.Uint16(src[off+2:]))) * scale16
		gl, gr := p.proc.ProcessStereo(l, r)
		p.dspOut[i*2] = int32(gl * scaleOut)
		p.dspOut[i*2+1] = int32(gr * scaleOut)
	}
}

// render32 is the 32-bit input variant of render16.
func (p *Pipeline) render32(src []byte, frames, channels int) {
	if channels == 1 {
		for i := range frames {
			s := float64(int32(binary.LittleEndian.Uint32(src[i*4:]))) * scale32
			l, r := p.proc.ProcessStereo(s, s)
			p.dspOut[i*2] = int32(l * scaleOut)
			p.dspOut[i*2+1] = int32(r * scaleOut)
		}
		return
	}
	stride := channels * 4
	for i := range frames {
		off := i * stride
		l := float64(int32(binary.LittleEndian.Uint32(src[off:]))) * scale32
		r := float64(int32(binary.LittleEndian.Uint32(src[off+4:]))) * scale32
		gl, gr := p.proc.ProcessStereo(l, r)
		p.dspOut[i*2] = int32(gl * scaleOut)
		p.dspOut[i*2+1] = int32(gr * scaleOut)
	}
}

// Clear marks the stream idle and recycles every queued buffer without
// rendering it. Called when a stream pauses or reconfigures.
func (p *Pipeline) Clear() {
	p.audioActive.Store(false)
	drained := p.pool.drainReady()
	if drained > 0 {
		p.log.Debug("cleared queued buffers", "count", drained)
	}
	if p.metrics != nil {
		p.metrics.RecordClear("queue")
		p.metrics.SetStreamActive(false)
		p.metrics.UpdateQueueFillPercent(0)
	}
}

// ClearWithDMA clears the queue and silences the sink, for teardown
// paths where stale device output would be audible.
func (p *Pipeline) ClearWithDMA() {
	p.Clear()
	p.sink.ZeroDMA()
	if p.metrics != nil {
		p.metrics.RecordClear("dma")
	}
}

// Active reports whether audio has arrived since the last idle timeout.
func (p *Pipeline) Active() bool {
	return p.audioActive.Load()
}

// QueueFillPercent reports ready-queue occupancy, 0 to 100.
func (p *Pipeline) QueueFillPercent() int {
	return p.pool.fillPercent()
}

// DropCount reports payload chunks dropped because the pool was empty.
func (p *Pipeline) DropCount() uint64 {
	return p.dropCount.Load()
}

// ShortWriteCount reports sink writes that accepted fewer bytes than
// requested, including failed writes.
func (p *Pipeline) ShortWriteCount() uint64 {
	return p.shortWriteCount.Load()
}

// WriteCount reports the number of sink write attempts.
func (p *Pipeline) WriteCount() uint64 {
	return p.writeCount.Load()
}

// LastProcessTime reports when the sink was last written to. Zero time
// means no write has happened yet.
func (p *Pipeline) LastProcessTime() time.Time {
	ms := p.lastProcessMs.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// GetStats returns a snapshot of all pipeline counters.
func (p *Pipeline) GetStats() Stats {
	return Stats{
		Dropped:          p.dropCount.Load(),
		EnqueueFailed:    p.enqueueFailCount.Load(),
		ShortWrites:      p.shortWriteCount.Load(),
		Writes:           p.writeCount.Load(),
		LastProcess:      p.LastProcessTime(),
		QueueFillPercent: p.pool.fillPercent(),
	}
}
