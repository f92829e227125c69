package audio

import (
	"context"
	"encoding/binary"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/btsink-go/internal/conf"
	"github.com/tphakala/btsink-go/internal/dsp"
	"github.com/tphakala/btsink-go/internal/errors"
	"github.com/tphakala/btsink-go/internal/observability/metrics"
)

func testAudioSettings() conf.AudioSettings {
	return conf.AudioSettings{
		PoolBuffers: 4,
		BufferSize:  4096,
		FrameBudget: 1024,
		UseStaging:  true,
	}
}

// newTestPipeline wires a pipeline to a transparent DSP chain so captured
// sink bytes can be checked against the input samples directly.
func newTestPipeline(t *testing.T, cfg conf.AudioSettings, sink Sink, mixer *OverlayMixer) *Pipeline {
	t.Helper()
	proc, err := dsp.New(44100)
	require.NoError(t, err)
	proc.SetBypass(true)
	proc.SetAnalysis(false)
	p, err := NewPipeline(cfg, sink, proc, mixer)
	require.NoError(t, err)
	return p
}

func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func pcm32(samples ...int32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], uint32(s))
	}
	return out
}

func capturedSamples(t *testing.T, sink *NullSink) []int32 {
	t.Helper()
	raw := sink.Captured()
	require.Zero(t, len(raw)%4, "sink payload must be whole 32-bit samples")
	out := make([]int32, len(raw)/4)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

// want16 maps a 16-bit input sample to the 32-bit value a transparent
// chain produces for it.
func want16(v int16) int32 {
	return int32(float64(v) / 32768.0 * 2147483647.0)
}

func want32(v int32) int32 {
	return int32(float64(v) / 2147483648.0 * 2147483647.0)
}

func TestNewPipelineValidation(t *testing.T) {
	t.Parallel()

	proc, err := dsp.New(44100)
	require.NoError(t, err)

	_, err = NewPipeline(testAudioSettings(), nil, proc, nil)
	assert.Error(t, err, "nil sink must be rejected")

	_, err = NewPipeline(testAudioSettings(), NewNullSink(96000), nil, nil)
	assert.Error(t, err, "nil processor must be rejected")

	cfg := testAudioSettings()
	cfg.FrameBudget = 0
	_, err = NewPipeline(cfg, NewNullSink(96000), proc, nil)
	assert.Error(t, err, "zero frame budget must be rejected")

	cfg = testAudioSettings()
	cfg.PoolBuffers = 1
	_, err = NewPipeline(cfg, NewNullSink(96000), proc, nil)
	assert.Error(t, err, "pool errors must propagate")
}

func TestPipelineRendersStereo16(t *testing.T) {
	t.Parallel()

	sink := NewNullSink(96000)
	sink.CaptureWrites(true)
	p := newTestPipeline(t, testAudioSettings(), sink, nil)

	p.Enqueue(pcm16(1000, -1000, 2000, -2000), 16, 2)
	assert.True(t, p.Active())
	p.ProcessBuffer(context.Background())

	assert.Equal(t, uint64(1), sink.Writes())
	want := []int32{want16(1000), want16(-1000), want16(2000), want16(-2000)}
	assert.Equal(t, want, capturedSamples(t, sink))
}

func TestPipelineSwapsChannels(t *testing.T) {
	t.Parallel()

	sink := NewNullSink(96000)
	sink.CaptureWrites(true)
	cfg := testAudioSettings()
	cfg.SwapChannels = true
	p := newTestPipeline(t, cfg, sink, nil)

	p.Enqueue(pcm16(1000, -1000), 16, 2)
	p.ProcessBuffer(context.Background())

	want := []int32{want16(-1000), want16(1000)}
	assert.Equal(t, want, capturedSamples(t, sink))
}

func TestPipelineMonoFeedsBothChannels(t *testing.T) {
	t.Parallel()

	sink := NewNullSink(96000)
	sink.CaptureWrites(true)
	p := newTestPipeline(t, testAudioSettings(), sink, nil)

	p.Enqueue(pcm16(1000, 2000), 16, 1)
	p.ProcessBuffer(context.Background())

	want := []int32{want16(1000), want16(1000), want16(2000), want16(2000)}
	assert.Equal(t, want, capturedSamples(t, sink))
}

func TestPipelineRenders32BitInput(t *testing.T) {
	t.Parallel()

	sink := NewNullSink(96000)
	sink.CaptureWrites(true)
	p := newTestPipeline(t, testAudioSettings(), sink, nil)

	p.Enqueue(pcm32(1<<20, -(1<<20)), 32, 2)
	p.ProcessBuffer(context.Background())

	want := []int32{want32(1 << 20), want32(-(1 << 20))}
	assert.Equal(t, want, capturedSamples(t, sink))
}

func TestPipelineZeroChannelsDefaultsToStereo(t *testing.T) {
	t.Parallel()

	sink := NewNullSink(96000)
	sink.CaptureWrites(true)
	p := newTestPipeline(t, testAudioSettings(), sink, nil)

	p.Enqueue(pcm16(1000, -1000), 16, 0)
	p.ProcessBuffer(context.Background())

	want := []int32{want16(1000), want16(-1000)}
	assert.Equal(t, want, capturedSamples(t, sink))
}

func TestPipelineFrameBudgetClampsRender(t *testing.T) {
	t.Parallel()

	sink := NewNullSink(96000)
	sink.CaptureWrites(true)
	cfg := testAudioSettings()
	cfg.FrameBudget = 2
	p := newTestPipeline(t, cfg, sink, nil)

	p.Enqueue(pcm16(100, 200, 300, 400, 500, 600, 700, 800), 16, 2)
	p.ProcessBuffer(context.Background())

	// Only the first two frames fit the budget; the rest of the buffer
	// is discarded with it.
	want := []int32{want16(100), want16(200), want16(300), want16(400)}
	assert.Equal(t, want, capturedSamples(t, sink))
}

func TestPipelineRuntPayloadWritesNothing(t *testing.T) {
	t.Parallel()

	sink := NewNullSink(96000)
	p := newTestPipeline(t, testAudioSettings(), sink, nil)

	// Two bytes is less than one 16-bit stereo frame.
	p.Enqueue([]byte{0x01, 0x02}, 16, 2)
	p.ProcessBuffer(context.Background())
	assert.Zero(t, sink.Writes())
}

func TestPipelineEmptyEnqueueIsNoOp(t *testing.T) {
	t.Parallel()

	sink := NewNullSink(96000)
	p := newTestPipeline(t, testAudioSettings(), sink, nil)

	p.Enqueue(nil, 16, 2)
	assert.False(t, p.Active())
	assert.Zero(t, p.QueueFillPercent())
}

func TestPipelineSplitsLargePayload(t *testing.T) {
	t.Parallel()

	sink := NewNullSink(96000)
	cfg := testAudioSettings()
	cfg.BufferSize = 256
	p := newTestPipeline(t, cfg, sink, nil)

	// 600 bytes lands in three buffers: 256, 256 and 88.
	p.Enqueue(make([]byte, 600), 16, 2)
	assert.Equal(t, 75, p.QueueFillPercent())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		p.ProcessBuffer(ctx)
	}
	assert.Equal(t, uint64(3), sink.Writes())
	// 64 + 64 + 22 frames of 32-bit stereo out.
	assert.Equal(t, uint64(150*8), sink.BytesWritten())
}

func TestPipelineDropsWhenPoolExhausted(t *testing.T) {
	t.Parallel()

	sink := NewNullSink(96000)
	cfg := testAudioSettings()
	cfg.PoolBuffers = 2
	cfg.BufferSize = 256
	p := newTestPipeline(t, cfg, sink, nil)

	p.Enqueue(make([]byte, 768), 16, 2)
	assert.Equal(t, uint64(1), p.DropCount())
	assert.Equal(t, 100, p.QueueFillPercent())

	stats := p.GetStats()
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, 100, stats.QueueFillPercent)
}

func TestPipelineSkipWriteSuppressesSink(t *testing.T) {
	t.Parallel()

	sink := NewNullSink(96000)
	sink.CaptureWrites(true)
	mixer, err := NewOverlayMixer(64, 0.2)
	require.NoError(t, err)
	p := newTestPipeline(t, testAudioSettings(), sink, mixer)

	var skip atomic.Bool
	p.SetSkipWriteFunc(skip.Load)
	skip.Store(true)

	require.Equal(t, 8, mixer.Push(make([]int32, 16)))

	ctx := context.Background()
	p.Enqueue(pcm16(1000, -1000, 2000, -2000), 16, 2)
	p.ProcessBuffer(ctx)

	// The write was skipped and the device output silenced once, but
	// the overlay ring still drained in real time.
	assert.Zero(t, sink.Writes())
	assert.Equal(t, 1, sink.ZeroDMACalls())
	assert.Equal(t, 6, mixer.FramesAvailable())

	p.Enqueue(pcm16(1000, -1000), 16, 2)
	p.ProcessBuffer(ctx)
	assert.Equal(t, 1, sink.ZeroDMACalls(), "silencing happens on the rising edge only")

	skip.Store(false)
	p.Enqueue(pcm16(1000, -1000), 16, 2)
	p.ProcessBuffer(ctx)
	assert.Equal(t, uint64(1), sink.Writes())
	assert.Equal(t, uint64(1), p.WriteCount())
}

func TestPipelineClear(t *testing.T) {
	t.Parallel()

	sink := NewNullSink(96000)
	p := newTestPipeline(t, testAudioSettings(), sink, nil)

	p.Enqueue(pcm16(1, 2, 3, 4), 16, 2)
	require.True(t, p.Active())

	p.Clear()
	assert.False(t, p.Active())
	assert.Zero(t, p.QueueFillPercent())
	assert.Zero(t, sink.ZeroDMACalls())

	// Nothing left to render.
	p.ProcessBuffer(context.Background())
	assert.Zero(t, sink.Writes())
}

func TestPipelineClearWithDMA(t *testing.T) {
	t.Parallel()

	sink := NewNullSink(96000)
	p := newTestPipeline(t, testAudioSettings(), sink, nil)

	p.Enqueue(pcm16(1, 2), 16, 2)
	p.ClearWithDMA()
	assert.False(t, p.Active())
	assert.Zero(t, p.QueueFillPercent())
	assert.Equal(t, 1, sink.ZeroDMACalls())
}

func TestPipelineCountsShortWrites(t *testing.T) {
	t.Parallel()

	sink := NewNullSink(96000)
	p := newTestPipeline(t, testAudioSettings(), sink, nil)

	sink.ShortNextWrite(4)
	p.Enqueue(pcm16(1000, -1000), 16, 2)
	p.ProcessBuffer(context.Background())

	assert.Equal(t, uint64(1), p.WriteCount())
	assert.Equal(t, uint64(1), p.ShortWriteCount())
}

func TestPipelineCountsWriteErrors(t *testing.T) {
	t.Parallel()

	sink := NewNullSink(96000)
	p := newTestPipeline(t, testAudioSettings(), sink, nil)

	sink.FailNextWrite(errors.NewStd("sink failure"))
	p.Enqueue(pcm16(1000, -1000), 16, 2)
	p.ProcessBuffer(context.Background())

	assert.Equal(t, uint64(1), p.WriteCount())
	assert.Equal(t, uint64(1), p.ShortWriteCount())

	// The next buffer goes through untouched.
	p.Enqueue(pcm16(1000, -1000), 16, 2)
	p.ProcessBuffer(context.Background())
	assert.Equal(t, uint64(2), p.WriteCount())
	assert.Equal(t, uint64(1), p.ShortWriteCount())
}

func TestPipelineIdleTimeoutMarksInactive(t *testing.T) {
	t.Parallel()

	sink := NewNullSink(96000)
	p := newTestPipeline(t, testAudioSettings(), sink, nil)

	ctx := context.Background()
	p.Enqueue(pcm16(1000, -1000), 16, 2)
	p.ProcessBuffer(ctx)
	assert.True(t, p.Active(), "stream stays active right after a render")

	// An empty queue pass while active waits out the short timeout and
	// declares the stream idle.
	p.ProcessBuffer(ctx)
	assert.False(t, p.Active())
}

func TestPipelineProcessBufferHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	sink := NewNullSink(96000)
	p := newTestPipeline(t, testAudioSettings(), sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	p.ProcessBuffer(ctx)
	assert.Less(t, time.Since(start), idleWait, "canceled context must not wait out the idle timeout")
}

func TestPipelineLastProcessTime(t *testing.T) {
	t.Parallel()

	sink := NewNullSink(96000)
	p := newTestPipeline(t, testAudioSettings(), sink, nil)
	assert.True(t, p.LastProcessTime().IsZero())

	p.Enqueue(pcm16(1000, -1000), 16, 2)
	p.ProcessBuffer(context.Background())
	assert.WithinDuration(t, time.Now(), p.LastProcessTime(), time.Second)

	stats := p.GetStats()
	assert.Equal(t, uint64(1), stats.Writes)
	assert.False(t, stats.LastProcess.IsZero())
}

func TestPipelineMetricsTrackStreamState(t *testing.T) {
	t.Parallel()

	m, err := metrics.NewAudioMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	sink := NewNullSink(96000)
	p := newTestPipeline(t, testAudioSettings(), sink, nil)
	p.SetMetrics(m)

	p.Enqueue(pcm16(1000, -1000), 16, 2)
	assert.True(t, m.IsStreamActive())
	assert.Equal(t, 25.0, m.GetQueueFillPercent())

	p.ProcessBuffer(context.Background())
	assert.Equal(t, 0.0, m.GetQueueFillPercent())

	p.Clear()
	assert.False(t, m.IsStreamActive())
}
