package audio

import (
	"context"
	"encoding/binary"
)

// Sink is the terminal stage of the pipeline. Implementations take the
// rendered 32-bit stereo stream and own the output clock.
type Sink interface {
	// Write pushes interleaved 32-bit little-endian stereo frames to
	// the output and reports how many bytes were accepted. Fewer bytes
	// than requested is a short write; the render loop counts it and
	// moves on without retrying.
	Write(ctx context.Context, data []byte) (int, error)

	// ZeroDMA silences the output immediately without touching the
	// clock, flushing whatever the device has queued.
	ZeroDMA()

	// UpdateClock reconfigures the output clock. A zero rate selects
	// the configured default rate, and setting the current rate again
	// is a no-op.
	UpdateClock(sampleRate int) error

	// SampleRate reports the current output clock rate.
	SampleRate() int

	Start() error
	Stop() error

	// ResetToDefault restores the default clock and silences the
	// output. Called when the source stream goes away.
	ResetToDefault() error
}

// packSamples encodes interleaved int32 samples into dst as little-endian
// bytes and returns the filled prefix. dst must hold len(samples)*4 bytes.
func packSamples(dst []byte, samples []int32) []byte {
	for i, s := range samples {
		binary.LittleEndian.PutUint32(dst[i*4:], uint32(s))
	}
	return dst[:len(samples)*4]
}
