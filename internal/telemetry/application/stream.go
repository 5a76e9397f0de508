package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"sensor-stream/internal/observability/metrics"
	telemetry "sensor-stream/internal/telemetry/domain"
)

const (
	DefaultTick           = 100 * time.Millisecond
	DefaultBatchSize      = 16
	DefaultOverflowBuffer = 512
	DefaultWorkers        = 4

	DefaultLimit       = 10
	DefaultSensorCount = 5
	DefaultMultiLimit  = 20
)

// SampleGenerator synthesizes one sample per call.
type SampleGenerator interface {
	Generate(sensorID int64) (telemetry.Sample, error)
}

// StreamConfig tunes the stream engine. Zero fields take the defaults.
type StreamConfig struct {
	Tick           time.Duration
	BatchSize      int
	OverflowBuffer int
	Workers        int
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.OverflowBuffer <= 0 {
		c.OverflowBuffer = DefaultOverflowBuffer
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	return c
}

// StreamEngine turns ticks into finite sample sequences.
type StreamEngine struct {
	generator SampleGenerator
	cfg       StreamConfig
	logger    *slog.Logger
}

// NewStreamEngine constructs a StreamEngine.
func NewStreamEngine(generator SampleGenerator, cfg StreamConfig, logger *slog.Logger) (*StreamEngine, error) {
	if generator == nil {
		return nil, errors.New("stream engine: nil generator")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamEngine{
		generator: generator,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}, nil
}

// Config returns the effective configuration.
func (e *StreamEngine) Config() StreamConfig {
	return e.cfg
}

// Stream emits limit samples of sensorID, one per tick. limit <= 0 means
// DefaultLimit. The channel is closed on completion, on synthesis errors
// and when ctx is cancelled.
func (e *StreamEngine) Stream(ctx context.Context, sensorID int64, limit int) <-chan telemetry.Sample {
	if limit <= 0 {
		limit = DefaultLimit
	}
	metrics.IncStreamRequest(metrics.StreamKindSingle)
	return e.stream(ctx, metrics.StreamKindSingle, sensorID, limit)
}

// StreamMulti streams sensors 1..sensorCount concurrently and merges them
// into one channel. limit is the total budget split evenly across sensors,
// at least one sample each. Ordering holds per sensor only.
func (e *StreamEngine) StreamMulti(ctx context.Context, sensorCount, limit int) <-chan telemetry.Sample {
	if sensorCount <= 0 {
		sensorCount = DefaultSensorCount
	}
	if limit <= 0 {
		limit = DefaultMultiLimit
	}
	perSensor := max(1, limit/sensorCount)
	metrics.IncStreamRequest(metrics.StreamKindMulti)

	out := make(chan telemetry.Sample)
	logger := e.logger.With("sensor_count", sensorCount, "limit_per_sensor", perSensor)
	logger.Info("starting multi-sensor stream")

	go func() {
		defer close(out)
		started := time.Now()

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.cfg.Workers)
		for id := 1; id <= sensorCount; id++ {
			if gctx.Err() != nil {
				break
			}
			sensorID := int64(id)
			g.Go(func() error {
				for sample := range e.stream(gctx, metrics.StreamKindSubstream, sensorID, perSensor) {
					select {
					case out <- sample:
					case <-gctx.Done():
						return nil
					}
				}
				return nil
			})
		}
		_ = g.Wait()

		result := metrics.ResultCompleted
		if ctx.Err() != nil {
			result = metrics.ResultCancelled
			logger.Warn("multi-sensor stream cancelled")
		} else {
			logger.Info("multi-sensor stream completed")
		}
		metrics.ObserveStream(metrics.StreamKindMulti, result, time.Since(started))
	}()
	return out
}

func (e *StreamEngine) stream(ctx context.Context, kind string, sensorID int64, limit int) <-chan telemetry.Sample {
	out := make(chan telemetry.Sample)
	logger := e.logger.With("sensor_id", sensorID, "limit", limit)

	buffer, err := newOverflowBuffer(e.cfg.OverflowBuffer)
	if err != nil {
		logger.Error("stream setup failed", "error", err)
		close(out)
		return out
	}

	logger.Info("starting sensor stream")
	ctx, cancel := context.WithCancel(ctx)
	produced := make(chan struct{})
	var produceErr error

	go func() {
		defer close(produced)
		produceErr = e.produce(ctx, sensorID, limit, buffer)
	}()

	go func() {
		defer close(out)
		defer cancel()
		started := time.Now()

		emitted := e.emit(ctx, buffer, produced, out)
		buffer.reset()

		result := metrics.ResultCompleted
		switch {
		case ctx.Err() != nil:
			result = metrics.ResultCancelled
			logger.Warn("sensor stream cancelled", "emitted", emitted)
		case produceErr != nil:
			// errored streams end normally with whatever was emitted
			result = metrics.ResultErrored
			logger.Error("sensor stream failed", "emitted", emitted, "error", produceErr)
		default:
			logger.Info("sensor stream completed", "emitted", emitted)
		}
		if dropped := buffer.droppedCount(); dropped > 0 {
			logger.Warn("overflow buffer dropped samples", "dropped", dropped)
		}
		metrics.ObserveStream(kind, result, time.Since(started))
	}()
	return out
}

// produce runs the tick loop and hands full batches to buffer.
func (e *StreamEngine) produce(ctx context.Context, sensorID int64, limit int, buffer *overflowBuffer) error {
	ticker := time.NewTicker(e.cfg.Tick)
	defer ticker.Stop()

	batch := make([]telemetry.Sample, 0, e.cfg.BatchSize)
	for n := 0; n < limit; n++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return nil
		}

		sample, err := e.generator.Generate(sensorID)
		if err != nil {
			return fmt.Errorf("generate sensor %d: %w", sensorID, err)
		}
		batch = append(batch, sample)
		if len(batch) == e.cfg.BatchSize {
			metrics.AddStreamDropped(buffer.push(batch))
			batch = make([]telemetry.Sample, 0, e.cfg.BatchSize)
		}
	}
	metrics.AddStreamDropped(buffer.push(batch))
	return nil
}

// emit flattens buffered batches onto out until production has finished
// and the buffer is empty, or ctx is done.
func (e *StreamEngine) emit(ctx context.Context, buffer *overflowBuffer, produced <-chan struct{}, out chan<- telemetry.Sample) int {
	emitted := 0
	for {
		batch := buffer.drain(e.cfg.BatchSize)
		if len(batch) == 0 {
			select {
			case <-produced:
				if buffer.len() == 0 {
					return emitted
				}
				continue
			default:
			}
			select {
			case <-buffer.ready():
			case <-produced:
			case <-ctx.Done():
				return emitted
			}
			continue
		}

		for _, sample := range batch {
			select {
			case out <- sample:
				emitted++
				metrics.IncStreamSample()
			case <-ctx.Done():
				return emitted
			}
		}
	}
}
