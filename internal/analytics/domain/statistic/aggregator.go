package statistic

import (
	"fmt"
	"math"
	"sync"
)

// RunningAggregator summarizes a numeric stream in constant space.
// Invariants when count > 0: min <= sum/count <= max, min and max are the
// least and greatest values ever added. Accumulation is plain IEEE-754;
// NaN inputs poison the summary.
type RunningAggregator struct {
	mu    sync.Mutex
	count uint64
	sum   float64
	min   float64
	max   float64
}

// Summary is a point-in-time copy of a RunningAggregator.
// Min, Max and Average are 0 when Count is 0, which collides with a
// measured 0: check Count first.
type Summary struct {
	Count   uint64  `json:"count"`
	Sum     float64 `json:"sum"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Average float64 `json:"average"`
}

// NewRunningAggregator returns an empty aggregator.
func NewRunningAggregator() *RunningAggregator {
	return &RunningAggregator{min: math.Inf(1), max: math.Inf(-1)}
}

// Add folds v into the summary.
func (a *RunningAggregator) Add(v float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.ensureInit()
	a.count++
	a.sum += v
	a.min = math.Min(a.min, v)
	a.max = math.Max(a.max, v)
}

// Merge folds other into a. Merging an empty aggregator is a no-op.
func (a *RunningAggregator) Merge(other *RunningAggregator) {
	if other == nil {
		return
	}
	o := other.raw()
	if o.count == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.ensureInit()
	a.count += o.count
	a.sum += o.sum
	a.min = math.Min(a.min, o.min)
	a.max = math.Max(a.max, o.max)
}

// Reset restores the empty state.
func (a *RunningAggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.count = 0
	a.sum = 0
	a.min = math.Inf(1)
	a.max = math.Inf(-1)
}

// Count returns the number of added values.
func (a *RunningAggregator) Count() uint64 { return a.Snapshot().Count }

// Sum returns the sum of added values.
func (a *RunningAggregator) Sum() float64 { return a.Snapshot().Sum }

// Min returns the least added value, or 0 when empty.
func (a *RunningAggregator) Min() float64 { return a.Snapshot().Min }

// Max returns the greatest added value, or 0 when empty.
func (a *RunningAggregator) Max() float64 { return a.Snapshot().Max }

// Average returns sum/count kept within [Min, Max], or 0 when empty.
func (a *RunningAggregator) Average() float64 { return a.Snapshot().Average }

// Snapshot returns the public view of the current state.
func (a *RunningAggregator) Snapshot() Summary {
	r := a.raw()
	if r.count == 0 {
		return Summary{}
	}
	// rounding in sum can push the mean of equal values past the bounds
	avg := min(max(r.sum/float64(r.count), r.min), r.max)
	return Summary{
		Count:   r.count,
		Sum:     r.sum,
		Min:     r.min,
		Max:     r.max,
		Average: avg,
	}
}

func (a *RunningAggregator) String() string {
	s := a.Snapshot()
	return fmt.Sprintf("RunningAggregator{avg=%.2f, min=%.2f, max=%.2f, count=%d}", s.Average, s.Min, s.Max, s.Count)
}

type rawState struct {
	count    uint64
	sum      float64
	min, max float64
}

func (a *RunningAggregator) raw() rawState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return rawState{count: a.count, sum: a.sum, min: a.min, max: a.max}
}

// ensureInit gives a zero-value aggregator its sentinels. Caller holds mu.
func (a *RunningAggregator) ensureInit() {
	if a.count == 0 {
		a.min = math.Inf(1)
		a.max = math.Inf(-1)
	}
}
