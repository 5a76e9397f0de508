package application

import "time"

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// monotonicClock anchors the wall clock once and advances it by the
// monotonic reading, so timestamps never go backwards on wall-clock steps.
type monotonicClock struct {
	start time.Time
}

// NewMonotonicClock returns a clock whose readings never decrease.
func NewMonotonicClock() Clock {
	return monotonicClock{start: time.Now()}
}

func (c monotonicClock) Now() time.Time {
	return c.start.Add(time.Since(c.start))
}
