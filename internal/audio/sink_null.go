package audio

import (
	"context"
	"sync"
	"time"
)

// NullSink counts and optionally captures writes without touching any
// audio hardware. It backs the bench command and the pipeline tests,
// with knobs to inject short writes, errors and device-like pacing.
type NullSink struct {
	mu          sync.Mutex
	rate        int
	defaultRate int
	started     bool

	writes    uint64
	bytes     uint64
	zeroCalls int

	writeDelay time.Duration
	shortNext  int
	failNext   error

	capture  bool
	captured []byte
}

// NewNullSink returns a sink that reports defaultRate as its clock until
// a stream reconfigures it.
func NewNullSink(defaultRate int) *NullSink {
	return &NullSink{
		rate:        defaultRate,
		defaultRate: defaultRate,
	}
}

// SetWriteDelay makes every write block for d, approximating the pace of
// a real output device.
func (s *NullSink) SetWriteDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeDelay = d
}

// CaptureWrites toggles retention of written bytes for inspection.
func (s *NullSink) CaptureWrites(enable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capture = enable
	if !enable {
		s.captured = nil
	}
}

// ShortNextWrite makes the next write accept at most n bytes.
func (s *NullSink) ShortNextWrite(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shortNext = n
}

// FailNextWrite makes the next write return err after accepting nothing.
func (s *NullSink) FailNextWrite(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *NullSink) Write(ctx context.Context, data []byte) (int, error) {
	s.mu.Lock()
	delay := s.writeDelay
	if err := s.failNext; err != nil {
		s.failNext = nil
		s.mu.Unlock()
		return 0, err
	}
	n := len(data)
	if s.shortNext > 0 {
		if n > s.shortNext {
			n = s.shortNext
		}
		s.shortNext = 0
	}
	s.writes++
	s.bytes += uint64(n)
	if s.capture {
		s.captured = append(s.captured, data[:n]...)
	}
	s.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return n, ctx.Err()
		}
	}
	return n, nil
}

func (s *NullSink) ZeroDMA() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zeroCalls++
}

func (s *NullSink) UpdateClock(sampleRate int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sampleRate == 0 {
		sampleRate = s.defaultRate
	}
	s.rate = sampleRate
	return nil
}

func (s *NullSink) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

func (s *NullSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *NullSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return nil
}

func (s *NullSink) ResetToDefault() error {
	if err := s.UpdateClock(0); err != nil {
		return err
	}
	s.ZeroDMA()
	return nil
}

// Writes reports the number of completed write calls.
func (s *NullSink) Writes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// BytesWritten reports the total bytes accepted across all writes.
func (s *NullSink) BytesWritten() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// ZeroDMACalls reports how many times the output was silenced.
func (s *NullSink) ZeroDMACalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zeroCalls
}

// Captured returns a copy of the bytes retained by CaptureWrites.
func (s *NullSink) Captured() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.captured))
	copy(out, s.captured)
	return out
}

// Started reports whether the sink is running.
func (s *NullSink) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}
