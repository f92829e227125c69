// Package audio implements the real-time playback path: a fixed pool of
// reusable buffers feeding a render loop, the overlay mixer for cue
// sounds, and the sinks that own the output clock.
package audio

import (
	"context"
	"time"

	"github.com/tphakala/btsink-go/internal/errors"
)

const (
	// minPoolBuffers is the smallest pool that can absorb jitter between
	// the producer and the render loop.
	minPoolBuffers = 2
	// minBufferSize keeps a single buffer large enough for at least a few
	// frames of 32-bit stereo audio.
	minBufferSize = 256
	// maxPoolBytes caps the arena so a misconfigured pool cannot pin an
	// unbounded amount of memory. A pool over the cap has its buffer
	// count halved once before construction fails.
	maxPoolBytes = 8 << 20
)

// AudioBuffer is one fixed-capacity buffer from the pipeline pool. The
// producer fills data and stamps the payload format, the render loop
// consumes it and recycles the buffer into the free queue. Buffers never
// leave the pool; they circulate between the two queues by index.
type AudioBuffer struct {
	length   int
	bits     uint8
	channels uint8
	data     []byte
}

// bufferPool owns the arena and the two hand-off queues. The free and
// ready channels carry arena indices, so a buffer is always in exactly
// one of three places: the free queue, the ready queue, or held by the
// goroutine that dequeued it.
type bufferPool struct {
	arena []AudioBuffer
	free  chan int
	ready chan int
}

func newBufferPool(count, size int) (*bufferPool, error) {
	if count < minPoolBuffers {
		return nil, errors.Newf("invalid pool buffer count: %d, need at least %d", count, minPoolBuffers).
			Component("audio").
			Category(errors.CategoryValidation).
			Context("operation", "create_buffer_pool").
			Context("requested_count", count).
			Build()
	}
	if size < minBufferSize {
		return nil, errors.Newf("invalid pool buffer size: %d, need at least %d bytes", size, minBufferSize).
			Component("audio").
			Category(errors.CategoryValidation).
			Context("operation", "create_buffer_pool").
			Context("requested_size", size).
			Build()
	}
	if count*size > maxPoolBytes {
		count /= 2
	}
	if count < minPoolBuffers || count*size > maxPoolBytes {
		return nil, errors.Newf("pool of %d x %d bytes exceeds the %d byte arena cap", count, size, maxPoolBytes).
			Component("audio").
			Category(errors.CategoryValidation).
			Context("operation", "create_buffer_pool").
			Build()
	}

	p := &bufferPool{
		arena: make([]AudioBuffer, count),
		free:  make(chan int, count),
		ready: make(chan int, count),
	}

	// One contiguous backing allocation, sliced per buffer with capped
	// capacity so a buffer cannot grow into its neighbour.
	backing := make([]byte, count*size)
	for i := range p.arena {
		p.arena[i].data = backing[i*size : (i+1)*size : (i+1)*size]
		p.free <- i
	}
	return p, nil
}

// takeFree dequeues a free buffer without blocking.
func (p *bufferPool) takeFree() (int, bool) {
	select {
	case h := <-p.free:
		return h, true
	default:
		return -1, false
	}
}

// putFree returns a buffer to the free queue. The send cannot block as
// long as every index lives in exactly one queue, so a full queue is
// silently ignored rather than deadlocking the render loop.
func (p *bufferPool) putFree(h int) {
	select {
	case p.free <- h:
	default:
	}
}

// pushReady hands a filled buffer to the render loop without blocking.
func (p *bufferPool) pushReady(h int) bool {
	select {
	case p.ready <- h:
		return true
	default:
		return false
	}
}

// popReady dequeues the next filled buffer, waiting up to wait for one
// to arrive. The fast path avoids arming a timer when audio is flowing.
func (p *bufferPool) popReady(ctx context.Context, wait time.Duration) (int, bool) {
	select {
	case h := <-p.ready:
		return h, true
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case h := <-p.ready:
		return h, true
	case <-timer.C:
		return -1, false
	case <-ctx.Done():
		return -1, false
	}
}

// drainReady moves every queued buffer back to the free queue and
// reports how many were discarded.
func (p *bufferPool) drainReady() int {
	n := 0
	for {
		select {
		case h := <-p.ready:
			p.putFree(h)
			n++
		default:
			return n
		}
	}
}

func (p *bufferPool) count() int { return len(p.arena) }

func (p *bufferPool) bufferSize() int { return cap(p.arena[0].data) }

// fillPercent reports how full the ready queue is, 0 to 100.
func (p *bufferPool) fillPercent() int {
	return len(p.ready) * 100 / len(p.arena)
}
