package application

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensor-stream/internal/analytics/domain/statistic"
	telemetry "sensor-stream/internal/telemetry/domain"
)

var baseTime = time.UnixMilli(1_700_000_000_123)

func degrees(d float64) float64 { return d * math.Pi / 180 }

func TestGenerateFollowsSynthesisFormula(t *testing.T) {
	s := NewSynthesizer(WithClock(newStepClock(baseTime, 0)))

	sample, err := s.Generate(37)
	require.NoError(t, err)

	secs := float64(int64(1_700_000_000))
	temperature := 20 + 5*math.Sin(secs)
	humidity := 50 + 20*math.Cos(secs/2)
	pressure := 1013 + 10*math.Sin(secs/3)
	x := temperature * math.Cos(degrees(37))
	y := humidity * math.Sin(degrees(37))
	z := pressure * math.Tan(degrees(37))

	assert.Equal(t, int64(37), sample.SensorID)
	assert.Equal(t, baseTime.UnixMilli(), sample.Timestamp)
	assert.InDelta(t, temperature, sample.Temperature, 1e-9)
	assert.InDelta(t, humidity, sample.Humidity, 1e-9)
	assert.InDelta(t, pressure, sample.Pressure, 1e-9)
	assert.InDelta(t, math.Sqrt(x*x+y*y+z*z), sample.Value, 1e-6)
	assert.False(t, sample.Anomaly)
}

func TestGenerateSensorZeroValueEqualsTemperature(t *testing.T) {
	s := NewSynthesizer(WithClock(newStepClock(baseTime, 0)))

	sample, err := s.Generate(0)
	require.NoError(t, err)
	assert.InDelta(t, sample.Temperature, sample.Value, 1e-9)
}

func TestGenerateHumidityUsesFractionalHalfSecond(t *testing.T) {
	// odd second count: t/2 must not truncate
	s := NewSynthesizer(WithClock(newStepClock(time.UnixMilli(3_000), 0)))

	sample, err := s.Generate(1)
	require.NoError(t, err)
	assert.InDelta(t, 50+20*math.Cos(1.5), sample.Humidity, 1e-9)
	assert.InDelta(t, 1013+10*math.Sin(1.0), sample.Pressure, 1e-9)
}

func TestGenerateAcceptsNegativeSensorID(t *testing.T) {
	s := NewSynthesizer(WithClock(newStepClock(baseTime, 0)))

	sample, err := s.Generate(-1)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), sample.SensorID)
	assert.False(t, math.IsNaN(sample.Value))
}

func TestHistoryKeepsMostRecentWindow(t *testing.T) {
	s := NewSynthesizer(WithClock(newStepClock(baseTime, time.Millisecond)))

	for i := 0; i < 250; i++ {
		_, err := s.Generate(7)
		require.NoError(t, err)
	}

	history := s.History(7, 0)
	require.Len(t, history, DefaultHistorySize)
	for i, sample := range history {
		assert.Equal(t, baseTime.UnixMilli()+int64(150+i), sample.Timestamp)
		assert.Equal(t, int64(7), sample.SensorID)
	}
}

func TestHistoryTruncatesToLimit(t *testing.T) {
	s := NewSynthesizer(WithClock(newStepClock(baseTime, time.Millisecond)))
	for i := 0; i < 20; i++ {
		_, err := s.Generate(3)
		require.NoError(t, err)
	}

	history := s.History(3, 5)
	require.Len(t, history, 5)
	assert.Equal(t, baseTime.UnixMilli(), history[0].Timestamp)
	assert.Equal(t, baseTime.UnixMilli()+4, history[4].Timestamp)
}

func TestHistoryUnknownSensorIsEmpty(t *testing.T) {
	s := NewSynthesizer()

	history := s.History(404, 10)
	require.NotNil(t, history)
	assert.Empty(t, history)
}

func TestGenerateBulkSortsIDs(t *testing.T) {
	s := NewSynthesizer(WithClock(newStepClock(baseTime, time.Millisecond)))

	bulk, err := s.GenerateBulk([]int64{3, 1, 2})
	require.NoError(t, err)

	require.Equal(t, 3, bulk.Count)
	ids := make([]int64, 0, len(bulk.Data))
	for _, sample := range bulk.Data {
		ids = append(ids, sample.SensorID)
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)
	assert.Greater(t, bulk.Timestamp, bulk.Data[2].Timestamp)
	assert.Equal(t, uint64(3), s.TotalGenerated())
}

func TestGenerateBulkEmpty(t *testing.T) {
	s := NewSynthesizer()

	bulk, err := s.GenerateBulk(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, bulk.Count)
	assert.NotNil(t, bulk.Data)
}

func TestTemperatureStatsTracksEveryGenerate(t *testing.T) {
	s := NewSynthesizer(WithClock(newStepClock(baseTime, time.Second)))

	var want []float64
	for i := 0; i < 150; i++ {
		sample, err := s.Generate(9)
		require.NoError(t, err)
		want = append(want, sample.Temperature)
	}

	stats := s.TemperatureStats(9)
	assert.Equal(t, uint64(150), stats.Count)

	expected := statistic.NewRunningAggregator()
	for _, v := range want {
		expected.Add(v)
	}
	assert.InDelta(t, expected.Sum(), stats.Sum, 1e-9)
	assert.Equal(t, expected.Min(), stats.Min)
	assert.Equal(t, expected.Max(), stats.Max)

	assert.Equal(t, statistic.Summary{}, s.TemperatureStats(10))
}

func TestAllStatisticsReturnsCopy(t *testing.T) {
	s := NewSynthesizer()
	_, err := s.Generate(1)
	require.NoError(t, err)
	_, err = s.Generate(2)
	require.NoError(t, err)

	all := s.AllStatistics()
	require.Len(t, all, 2)
	assert.Equal(t, uint64(1), all[telemetry.SensorKey(1)].Count)

	delete(all, telemetry.SensorKey(1))
	assert.Len(t, s.AllStatistics(), 2)
}

func TestClearDropsStateButKeepsCounter(t *testing.T) {
	s := NewSynthesizer()
	for id := int64(1); id <= 3; id++ {
		_, err := s.Generate(id)
		require.NoError(t, err)
	}

	s.Clear()

	assert.Equal(t, 0, s.SensorCount())
	assert.Empty(t, s.History(1, 0))
	assert.Empty(t, s.AllStatistics())
	assert.Equal(t, uint64(3), s.TotalGenerated())
}

// gateClock blocks Now while a gate is armed, letting a test interleave
// Clear with a Generate in flight.
type gateClock struct {
	mu      sync.Mutex
	gate    chan struct{}
	reached chan struct{}
}

func (c *gateClock) arm() (reached <-chan struct{}, release func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gate = make(chan struct{})
	c.reached = make(chan struct{})
	gate := c.gate
	return c.reached, func() { close(gate) }
}

func (c *gateClock) Now() time.Time {
	c.mu.Lock()
	gate, reached := c.gate, c.reached
	c.gate, c.reached = nil, nil
	c.mu.Unlock()
	if gate != nil {
		close(reached)
		<-gate
	}
	return baseTime
}

func TestGenerateRacingClearKeepsSample(t *testing.T) {
	clock := &gateClock{}
	s := NewSynthesizer(WithClock(clock))
	_, err := s.Generate(1)
	require.NoError(t, err)

	reached, release := clock.arm()
	done := make(chan telemetry.Sample, 1)
	go func() {
		sample, err := s.Generate(1)
		assert.NoError(t, err)
		done <- sample
	}()

	<-reached
	s.Clear()
	release()
	sample := <-done

	assert.Equal(t, []telemetry.Sample{sample}, s.History(1, 0))
	assert.Equal(t, uint64(1), s.TemperatureStats(1).Count)
	assert.Equal(t, uint64(2), s.TotalGenerated())
}

func TestTemperatureStatsStayWithinBoundsAtFastTicks(t *testing.T) {
	// ten samples per synthesized second, as at the default tick
	s := NewSynthesizer(WithClock(newStepClock(time.UnixMilli(0), 100*time.Millisecond)))
	for i := 0; i < 2000; i++ {
		_, err := s.Generate(1)
		require.NoError(t, err)
		if i%10 == 9 {
			stats := s.TemperatureStats(1)
			require.LessOrEqual(t, stats.Min, stats.Average, "after %d samples", i+1)
			require.LessOrEqual(t, stats.Average, stats.Max, "after %d samples", i+1)
		}
	}
}

func TestConcurrentGenerateCountsExactly(t *testing.T) {
	s := NewSynthesizer()

	const workers, perWorker = 8, 200
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := s.Generate(id % 4); err != nil {
					t.Error(err)
					return
				}
			}
		}(int64(w))
	}
	wg.Wait()

	assert.Equal(t, uint64(workers*perWorker), s.TotalGenerated())
	assert.Equal(t, 4, s.SensorCount())

	var counted uint64
	for _, summary := range s.AllStatistics() {
		counted += summary.Count
	}
	assert.Equal(t, uint64(workers*perWorker), counted)
}

func TestWithHistorySizeBoundsWindow(t *testing.T) {
	s := NewSynthesizer(WithHistorySize(5))
	for i := 0; i < 12; i++ {
		_, err := s.Generate(1)
		require.NoError(t, err)
	}
	assert.Len(t, s.History(1, 0), 5)
}
