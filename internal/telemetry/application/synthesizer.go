package application

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"

	"sensor-stream/internal/analytics/domain/statistic"
	telemetry "sensor-stream/internal/telemetry/domain"
)

const (
	// DefaultHistorySize is the per-sensor sliding window capacity.
	DefaultHistorySize = 100

	anomalyThreshold = 35.0
)

type sensorState struct {
	history     *telemetry.SlidingWindow[telemetry.Sample]
	temperature *statistic.RunningAggregator
}

func (st *sensorState) add(sample telemetry.Sample) {
	st.history.Add(sample)
	st.temperature.Add(sample.Temperature)
}

// Synthesizer produces deterministic samples from the clock and keeps a
// bounded history plus running temperature statistics per sensor.
type Synthesizer struct {
	mu          sync.RWMutex
	states      map[string]*sensorState
	historySize int
	clock       Clock
	logger      *slog.Logger
	total       atomic.Uint64
}

// SynthesizerOption configures a Synthesizer.
type SynthesizerOption func(*Synthesizer)

// WithClock overrides the time source.
func WithClock(clock Clock) SynthesizerOption {
	return func(s *Synthesizer) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithHistorySize overrides the per-sensor window capacity.
func WithHistorySize(size int) SynthesizerOption {
	return func(s *Synthesizer) {
		if size > 0 {
			s.historySize = size
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) SynthesizerOption {
	return func(s *Synthesizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSynthesizer constructs a Synthesizer.
func NewSynthesizer(opts ...SynthesizerOption) *Synthesizer {
	s := &Synthesizer{
		states:      make(map[string]*sensorState),
		historySize: DefaultHistorySize,
		clock:       NewMonotonicClock(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate synthesizes one sample for sensorID and records it.
func (s *Synthesizer) Generate(sensorID int64) (telemetry.Sample, error) {
	nowMs := s.clock.Now().UnixMilli()
	t := float64(nowMs / 1000)

	temperature := 20 + 5*math.Sin(t)
	humidity := 50 + 20*math.Cos(t/2)
	pressure := 1013 + 10*math.Sin(t/3)

	a := floorMod(sensorID, 360)
	b := floorMod(sensorID, 45)
	x := temperature * cosTable[a]
	y := humidity * sinTable[a]
	z := pressure * tanTable[b]

	sample := telemetry.Sample{
		SensorID:    sensorID,
		Timestamp:   nowMs,
		Temperature: temperature,
		Humidity:    humidity,
		Pressure:    pressure,
		Value:       math.Sqrt(x*x + y*y + z*z),
		Anomaly: math.Abs(temperature-20) > anomalyThreshold ||
			math.Abs(humidity-50) > anomalyThreshold ||
			math.Abs(pressure-1013) > anomalyThreshold,
	}

	if err := s.record(sensorID, sample); err != nil {
		return telemetry.Sample{}, err
	}

	s.logger.Debug("sample generated", "sensor_id", sensorID, "timestamp", nowMs, "value", sample.Value)
	return sample, nil
}

// GenerateBulk synthesizes one sample per id in ascending id order.
func (s *Synthesizer) GenerateBulk(sensorIDs []int64) (telemetry.Bulk, error) {
	ids := slices.Clone(sensorIDs)
	slices.Sort(ids)

	data := make([]telemetry.Sample, 0, len(ids))
	for _, id := range ids {
		sample, err := s.Generate(id)
		if err != nil {
			return telemetry.Bulk{}, err
		}
		data = append(data, sample)
	}

	return telemetry.Bulk{
		Data:      data,
		Count:     len(data),
		Timestamp: s.clock.Now().UnixMilli(),
	}, nil
}

// History returns the retained samples of sensorID in ascending timestamp
// order. limit <= 0 returns everything retained.
func (s *Synthesizer) History(sensorID int64, limit int) []telemetry.Sample {
	state := s.lookup(sensorID)
	if state == nil {
		return []telemetry.Sample{}
	}

	out := make([]telemetry.Sample, 0, state.history.Size())
	for sample := range state.history.All() {
		if sample.SensorID == sensorID {
			out = append(out, sample)
		}
	}
	slices.SortStableFunc(out, func(a, b telemetry.Sample) int {
		switch {
		case a.Timestamp < b.Timestamp:
			return -1
		case a.Timestamp > b.Timestamp:
			return 1
		default:
			return 0
		}
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Clear drops every sensor's history and statistics. The generated
// counter is not reset.
func (s *Synthesizer) Clear() {
	s.mu.Lock()
	cleared := len(s.states)
	s.states = make(map[string]*sensorState)
	s.mu.Unlock()

	s.logger.Info("sensor history cleared", "sensors", cleared)
}

// TotalGenerated is the number of successful Generate calls.
func (s *Synthesizer) TotalGenerated() uint64 {
	return s.total.Load()
}

// SensorCount is the number of sensors with retained state.
func (s *Synthesizer) SensorCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

// TemperatureStats snapshots the temperature aggregator of sensorID.
// Unknown sensors yield the empty summary.
func (s *Synthesizer) TemperatureStats(sensorID int64) statistic.Summary {
	state := s.lookup(sensorID)
	if state == nil {
		return statistic.Summary{}
	}
	return state.temperature.Snapshot()
}

// AllStatistics snapshots every sensor's temperature aggregator keyed by
// "sensor_<id>". The map is a copy.
func (s *Synthesizer) AllStatistics() map[string]statistic.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]statistic.Summary, len(s.states))
	for key, state := range s.states {
		out[key] = state.temperature.Snapshot()
	}
	return out
}

func (s *Synthesizer) lookup(sensorID int64) *sensorState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[telemetry.SensorKey(sensorID)]
}

// record stores sample under the read lock so a concurrent Clear either
// sees it or wipes it together with the rest of the state.
func (s *Synthesizer) record(sensorID int64, sample telemetry.Sample) error {
	key := telemetry.SensorKey(sensorID)

	s.mu.RLock()
	if state, ok := s.states[key]; ok {
		state.add(sample)
		s.total.Add(1)
		s.mu.RUnlock()
		return nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[key]
	if !ok {
		window, err := telemetry.NewSlidingWindow[telemetry.Sample](s.historySize)
		if err != nil {
			return fmt.Errorf("%w: history window for %s: %v", telemetry.ErrInternal, key, err)
		}
		state = &sensorState{
			history:     window,
			temperature: statistic.NewRunningAggregator(),
		}
		s.states[key] = state
	}
	state.add(sample)
	s.total.Add(1)
	return nil
}
