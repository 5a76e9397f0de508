package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	telemetry "sensor-stream/internal/telemetry/domain"
)

var errUpstream = errors.New("connection refused")

type fakeStream struct {
	ctx     context.Context
	samples []telemetry.Sample
	err     error
	block   bool
	next    int
	closed  bool
}

func (s *fakeStream) Next() (telemetry.Sample, error) {
	if s.next < len(s.samples) {
		sample := s.samples[s.next]
		s.next++
		return sample, nil
	}
	if s.block {
		<-s.ctx.Done()
		return telemetry.Sample{}, s.ctx.Err()
	}
	if s.err != nil {
		return telemetry.Sample{}, s.err
	}
	return telemetry.Sample{}, io.EOF
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

// fakeUpstream hands each open to script with the 1-based attempt number.
type fakeUpstream struct {
	mu     sync.Mutex
	opens  int
	script func(ctx context.Context, attempt int) (SampleStream, error)

	sensorID    *int64
	sensorCount *int
	limit       *int
}

func (u *fakeUpstream) OpenSensorStream(ctx context.Context, sensorID *int64, limit *int) (SampleStream, error) {
	u.mu.Lock()
	u.opens++
	attempt := u.opens
	u.sensorID, u.limit = sensorID, limit
	u.mu.Unlock()
	return u.script(ctx, attempt)
}

func (u *fakeUpstream) OpenMultiSensorStream(ctx context.Context, sensorCount *int, limit *int) (SampleStream, error) {
	u.mu.Lock()
	u.opens++
	attempt := u.opens
	u.sensorCount, u.limit = sensorCount, limit
	u.mu.Unlock()
	return u.script(ctx, attempt)
}

func (u *fakeUpstream) openCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.opens
}

func samples(sensorID int64, n int) []telemetry.Sample {
	out := make([]telemetry.Sample, n)
	for i := range out {
		out[i] = telemetry.Sample{SensorID: sensorID, Timestamp: int64(i + 1)}
	}
	return out
}

func newTestService(t *testing.T, upstream Upstream, cfg Config) *Service {
	t.Helper()
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = time.Millisecond
	}
	svc, err := NewService(upstream, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return svc
}

func drain(t *testing.T, ch <-chan telemetry.Sample) []telemetry.Sample {
	t.Helper()
	var out []telemetry.Sample
	timeout := time.After(10 * time.Second)
	for {
		select {
		case sample, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, sample)
		case <-timeout:
			t.Fatalf("relay did not finish, got %d samples", len(out))
		}
	}
}

func TestNewServiceRejectsNilUpstream(t *testing.T) {
	_, err := NewService(nil, Config{}, nil)
	require.Error(t, err)
}

func TestGetSensorStreamRelaysEverySample(t *testing.T) {
	upstream := &fakeUpstream{script: func(ctx context.Context, _ int) (SampleStream, error) {
		return &fakeStream{ctx: ctx, samples: samples(42, 5)}, nil
	}}
	svc := newTestService(t, upstream, Config{})

	id, limit := int64(42), 5
	got := drain(t, svc.GetSensorStream(context.Background(), &id, &limit))

	assert.Equal(t, samples(42, 5), got)
	assert.Equal(t, 1, upstream.openCount())
	require.NotNil(t, upstream.sensorID)
	assert.Equal(t, int64(42), *upstream.sensorID)
	assert.Equal(t, 5, *upstream.limit)
}

func TestGetMultipleSensorStreamPassesNilParameters(t *testing.T) {
	upstream := &fakeUpstream{script: func(ctx context.Context, _ int) (SampleStream, error) {
		return &fakeStream{ctx: ctx, samples: samples(1, 2)}, nil
	}}
	svc := newTestService(t, upstream, Config{})

	got := drain(t, svc.GetMultipleSensorStream(context.Background(), nil, nil))

	assert.Len(t, got, 2)
	assert.Nil(t, upstream.sensorCount)
	assert.Nil(t, upstream.limit)
}

func TestRelayRetriesFailedOpens(t *testing.T) {
	upstream := &fakeUpstream{script: func(ctx context.Context, attempt int) (SampleStream, error) {
		if attempt <= 2 {
			return nil, errUpstream
		}
		return &fakeStream{ctx: ctx, samples: samples(7, 3)}, nil
	}}
	svc := newTestService(t, upstream, Config{})

	id := int64(7)
	got := drain(t, svc.GetSensorStream(context.Background(), &id, nil))

	assert.Len(t, got, 3)
	assert.Equal(t, 3, upstream.openCount())
}

func TestRelayReopensAfterMidStreamFailure(t *testing.T) {
	upstream := &fakeUpstream{script: func(ctx context.Context, attempt int) (SampleStream, error) {
		if attempt == 1 {
			return &fakeStream{ctx: ctx, samples: samples(3, 2), err: io.ErrUnexpectedEOF}, nil
		}
		return &fakeStream{ctx: ctx, samples: samples(3, 4)}, nil
	}}
	svc := newTestService(t, upstream, Config{})

	id := int64(3)
	got := drain(t, svc.GetSensorStream(context.Background(), &id, nil))

	// no resumption: the first two samples are repeated
	assert.Len(t, got, 6)
	assert.Equal(t, 2, upstream.openCount())
}

func TestRelayEndsEmptyAfterExhaustingRetries(t *testing.T) {
	upstream := &fakeUpstream{script: func(context.Context, int) (SampleStream, error) {
		return nil, errUpstream
	}}
	svc := newTestService(t, upstream, Config{MaxRetries: 3})

	got := drain(t, svc.GetMultipleSensorStream(context.Background(), nil, nil))

	assert.Empty(t, got)
	assert.Equal(t, 4, upstream.openCount())
}

func TestRelayAbortsSilentUpstream(t *testing.T) {
	var streams []*fakeStream
	var mu sync.Mutex
	upstream := &fakeUpstream{script: func(ctx context.Context, _ int) (SampleStream, error) {
		stream := &fakeStream{ctx: ctx, samples: samples(1, 1), block: true}
		mu.Lock()
		streams = append(streams, stream)
		mu.Unlock()
		return stream, nil
	}}
	svc := newTestService(t, upstream, Config{IdleTimeout: 20 * time.Millisecond, MaxRetries: 1})

	started := time.Now()
	got := drain(t, svc.GetSensorStream(context.Background(), nil, nil))

	assert.Len(t, got, 2)
	assert.Equal(t, 2, upstream.openCount())
	assert.GreaterOrEqual(t, time.Since(started), 40*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	for _, stream := range streams {
		assert.True(t, stream.closed)
	}
}

func TestRelayCancellationStopsRetries(t *testing.T) {
	upstream := &fakeUpstream{script: func(ctx context.Context, _ int) (SampleStream, error) {
		return &fakeStream{ctx: ctx, samples: samples(1, 1), block: true}, nil
	}}
	svc := newTestService(t, upstream, Config{IdleTimeout: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	ch := svc.GetSensorStream(ctx, nil, nil)
	<-ch
	cancel()
	drain(t, ch)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, upstream.openCount())
}

func TestRelayCancellationDuringBackoff(t *testing.T) {
	upstream := &fakeUpstream{script: func(context.Context, int) (SampleStream, error) {
		return nil, errUpstream
	}}
	svc := newTestService(t, upstream, Config{RetryBaseDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	ch := svc.GetSensorStream(ctx, nil, nil)
	require.Eventually(t, func() bool { return upstream.openCount() == 1 }, time.Second, time.Millisecond)
	cancel()

	assert.Empty(t, drain(t, ch))
	assert.Equal(t, 1, upstream.openCount())
}
