package audio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/btsink-go/internal/errors"
)

func TestPackSamplesLittleEndian(t *testing.T) {
	t.Parallel()

	dst := make([]byte, 16)
	out := packSamples(dst, []int32{0x01020304, -1})
	require.Len(t, out, 8)
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01, 0xFF, 0xFF, 0xFF, 0xFF}, out)
}

func TestNullSinkClock(t *testing.T) {
	t.Parallel()

	s := NewNullSink(96000)
	assert.Equal(t, 96000, s.SampleRate())

	require.NoError(t, s.UpdateClock(44100))
	assert.Equal(t, 44100, s.SampleRate())

	// Zero asks for the default clock.
	require.NoError(t, s.UpdateClock(0))
	assert.Equal(t, 96000, s.SampleRate())

	require.NoError(t, s.UpdateClock(48000))
	require.NoError(t, s.ResetToDefault())
	assert.Equal(t, 96000, s.SampleRate())
	assert.Equal(t, 1, s.ZeroDMACalls())
}

func TestNullSinkWriteKnobs(t *testing.T) {
	t.Parallel()

	s := NewNullSink(96000)
	ctx := context.Background()

	n, err := s.Write(ctx, make([]byte, 64))
	require.NoError(t, err)
	assert.Equal(t, 64, n)

	s.ShortNextWrite(16)
	n, err = s.Write(ctx, make([]byte, 64))
	require.NoError(t, err)
	assert.Equal(t, 16, n)

	s.FailNextWrite(errors.NewStd("injected"))
	n, err = s.Write(ctx, make([]byte, 64))
	assert.Error(t, err)
	assert.Zero(t, n)

	assert.Equal(t, uint64(2), s.Writes(), "failed writes are not counted")
	assert.Equal(t, uint64(64+16), s.BytesWritten())
}

func TestNullSinkStartStop(t *testing.T) {
	t.Parallel()

	s := NewNullSink(96000)
	assert.False(t, s.Started())
	require.NoError(t, s.Start())
	assert.True(t, s.Started())
	require.NoError(t, s.Stop())
	assert.False(t, s.Started())
}
