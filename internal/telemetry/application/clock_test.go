package application

import (
	"sync"
	"testing"
	"time"
)

// stepClock returns now and then advances by step on every call.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newStepClock(start time.Time, step time.Duration) *stepClock {
	return &stepClock{now: start, step: step}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

func TestMonotonicClockNeverGoesBackwards(t *testing.T) {
	clock := NewMonotonicClock()
	prev := clock.Now()
	for i := 0; i < 1000; i++ {
		next := clock.Now()
		if next.Before(prev) {
			t.Fatalf("clock went backwards: %v after %v", next, prev)
		}
		prev = next
	}
}
