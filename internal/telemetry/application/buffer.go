package application

import (
	"fmt"
	"sync"

	telemetry "sensor-stream/internal/telemetry/domain"
)

// overflowBuffer is a count-bounded FIFO between the tick loop and the
// transport. Once full, the oldest samples are dropped so the producer
// never blocks on a slow consumer.
type overflowBuffer struct {
	mu       sync.Mutex
	samples  []telemetry.Sample
	capacity int
	dropped  uint64
	notify   chan struct{}
}

func newOverflowBuffer(capacity int) (*overflowBuffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: overflow buffer capacity %d", telemetry.ErrInvalidArgument, capacity)
	}
	return &overflowBuffer{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}, nil
}

// push appends batch and returns how many samples were evicted to fit.
func (b *overflowBuffer) push(batch []telemetry.Sample) int {
	if len(batch) == 0 {
		return 0
	}

	b.mu.Lock()
	b.samples = append(b.samples, batch...)
	evicted := 0
	if over := len(b.samples) - b.capacity; over > 0 {
		clear(b.samples[:over])
		b.samples = b.samples[over:]
		b.dropped += uint64(over)
		evicted = over
	}
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return evicted
}

// drain removes up to limit samples from the head.
func (b *overflowBuffer) drain(limit int) []telemetry.Sample {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := min(limit, len(b.samples))
	if n == 0 {
		return nil
	}
	out := make([]telemetry.Sample, n)
	copy(out, b.samples[:n])
	b.samples = b.samples[n:]
	if len(b.samples) == 0 {
		b.samples = nil
	}
	return out
}

func (b *overflowBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

func (b *overflowBuffer) droppedCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// reset releases anything still queued.
func (b *overflowBuffer) reset() {
	b.mu.Lock()
	b.samples = nil
	b.mu.Unlock()
}

func (b *overflowBuffer) ready() <-chan struct{} {
	return b.notify
}
