package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"sensor-stream/internal/observability/metrics"
	"sensor-stream/internal/retry"
	telemetry "sensor-stream/internal/telemetry/domain"
)

const DefaultIdleTimeout = 30 * time.Second

var errIdleTimeout = errors.New("relay: upstream idle timeout")

// SampleStream is one open upstream response. Next returns io.EOF once the
// upstream finished cleanly.
type SampleStream interface {
	Next() (telemetry.Sample, error)
	Close() error
}

// Upstream opens streams against the server tier. Nil parameters are
// omitted from the request so the server defaults apply.
type Upstream interface {
	OpenSensorStream(ctx context.Context, sensorID *int64, limit *int) (SampleStream, error)
	OpenMultiSensorStream(ctx context.Context, sensorCount *int, limit *int) (SampleStream, error)
}

// Config tunes the relay. Zero fields take the defaults.
type Config struct {
	IdleTimeout    time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// Service re-emits upstream sample streams with an inactivity timeout
// and retry with exponential backoff. Exhausted retries end the stream
// quietly; callers only see fewer samples.
type Service struct {
	upstream Upstream
	policy   *retry.Backoff
	idle     time.Duration
	logger   *slog.Logger
}

// NewService constructs a relay Service.
func NewService(upstream Upstream, cfg Config, logger *slog.Logger) (*Service, error) {
	if upstream == nil {
		return nil, errors.New("relay service: nil upstream")
	}
	if logger == nil {
		logger = slog.Default()
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &Service{
		upstream: upstream,
		policy: &retry.Backoff{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.RetryBaseDelay,
			OnRetry: func(int, time.Duration, error) {
				metrics.IncRelayRetry()
			},
			Logger: logger,
		},
		idle:   idle,
		logger: logger,
	}, nil
}

// GetSensorStream relays the single-sensor stream.
func (s *Service) GetSensorStream(ctx context.Context, sensorID *int64, limit *int) <-chan telemetry.Sample {
	logger := s.logger.With("stream", "sensor", "sensor_id", optional(sensorID), "limit", optional(limit))
	return s.relay(ctx, "sensor stream", logger, func(ctx context.Context) (SampleStream, error) {
		return s.upstream.OpenSensorStream(ctx, sensorID, limit)
	})
}

// GetMultipleSensorStream relays the multi-sensor stream.
func (s *Service) GetMultipleSensorStream(ctx context.Context, sensorCount *int, limit *int) <-chan telemetry.Sample {
	logger := s.logger.With("stream", "multi", "sensor_count", optional(sensorCount), "limit", optional(limit))
	return s.relay(ctx, "multi-sensor stream", logger, func(ctx context.Context) (SampleStream, error) {
		return s.upstream.OpenMultiSensorStream(ctx, sensorCount, limit)
	})
}

type openFunc func(ctx context.Context) (SampleStream, error)

func (s *Service) relay(ctx context.Context, name string, logger *slog.Logger, open openFunc) <-chan telemetry.Sample {
	out := make(chan telemetry.Sample)
	logger.Info("relaying upstream stream")

	go func() {
		defer close(out)

		relayed := 0
		err := s.policy.Do(ctx, name, func(ctx context.Context) error {
			n, err := s.attempt(ctx, open, out)
			relayed += n
			return err
		})

		switch {
		case err == nil:
			logger.Info("relay completed", "relayed", relayed)
		case ctx.Err() != nil:
			logger.Warn("relay cancelled", "relayed", relayed)
		default:
			metrics.IncRelayExhausted()
			logger.Error("relay gave up", "relayed", relayed,
				"error", fmt.Errorf("%w: %w", telemetry.ErrUpstreamUnavailable, err))
		}
	}()
	return out
}

// attempt opens one upstream stream and forwards it until EOF. The
// watchdog aborts the attempt when upstream stays silent for s.idle;
// time spent waiting on the consumer does not count.
func (s *Service) attempt(ctx context.Context, open openFunc, out chan<- telemetry.Sample) (int, error) {
	attemptCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	watchdog := time.AfterFunc(s.idle, func() { cancel(errIdleTimeout) })
	defer watchdog.Stop()

	stream, err := open(attemptCtx)
	if err != nil {
		metrics.IncRelayAttempt(metrics.ResultError)
		return 0, attemptError(attemptCtx, err)
	}
	defer stream.Close()

	forwarded := 0
	for {
		sample, err := stream.Next()
		if errors.Is(err, io.EOF) {
			metrics.IncRelayAttempt(metrics.ResultSuccess)
			return forwarded, nil
		}
		if err != nil {
			metrics.IncRelayAttempt(metrics.ResultError)
			return forwarded, attemptError(attemptCtx, err)
		}

		watchdog.Stop()
		select {
		case out <- sample:
			forwarded++
			metrics.IncRelaySample()
		case <-ctx.Done():
			return forwarded, ctx.Err()
		}
		watchdog.Reset(s.idle)
	}
}

func attemptError(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); errors.Is(cause, errIdleTimeout) {
		return fmt.Errorf("%w: %v", errIdleTimeout, err)
	}
	return err
}

func optional[T any](v *T) any {
	if v == nil {
		return "unset"
	}
	return *v
}
