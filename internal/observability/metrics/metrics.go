package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "sensor_"

// Result and stream kind label values.
const (
	ResultSuccess   = "success"
	ResultError     = "error"
	ResultCompleted = "completed"
	ResultCancelled = "cancelled"
	ResultErrored   = "errored"

	StreamKindSingle    = "single"
	StreamKindMulti     = "multi"
	StreamKindSubstream = "substream"
)

var (
	registerOnce sync.Once

	streamRequests *prometheus.CounterVec
	streamSamples  prometheus.Counter
	streamDropped  prometheus.Counter
	streamDuration *prometheus.HistogramVec

	relayAttempts  *prometheus.CounterVec
	relayRetries   prometheus.Counter
	relayExhausted prometheus.Counter
	relaySamples   prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
)

// Init registers the collectors. source may be nil on the relay tier,
// which has no synthesizer.
func Init(source SynthesizerStats) {
	registerOnce.Do(func() {
		streamRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "stream_requests_total",
				Help: "Total stream requests by kind",
			},
			[]string{"kind"},
		)
		streamSamples = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "stream_samples_total",
				Help: "Total samples handed to stream consumers",
			},
		)
		streamDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "stream_dropped_total",
				Help: "Total samples dropped by overflow buffers",
			},
		)
		streamDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "stream_duration_seconds",
				Help:    "Stream lifetime in seconds by kind and result",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind", "result"},
		)

		relayAttempts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "relay_attempts_total",
				Help: "Total upstream stream attempts by result",
			},
			[]string{"result"},
		)
		relayRetries = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "relay_retries_total",
				Help: "Total upstream retries",
			},
		)
		relayExhausted = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "relay_exhausted_total",
				Help: "Total relay streams that gave up after all retries",
			},
		)
		relaySamples = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "relay_samples_total",
				Help: "Total samples re-emitted by the relay",
			},
		)

		httpRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "Total HTTP requests by method and status code",
			},
			[]string{"method", "code"},
		)
		httpLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "code"},
		)

		prometheus.MustRegister(
			streamRequests,
			streamSamples,
			streamDropped,
			streamDuration,
			relayAttempts,
			relayRetries,
			relayExhausted,
			relaySamples,
			httpRequests,
			httpLatency,
		)

		if source != nil {
			registerSynthesizerMetrics(source)
		}
	})
}

// IncStreamRequest counts a new stream request.
func IncStreamRequest(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if streamRequests != nil {
		streamRequests.WithLabelValues(kind).Inc()
	}
}

// IncStreamSample counts one sample handed to a consumer.
func IncStreamSample() {
	if streamSamples != nil {
		streamSamples.Inc()
	}
}

// AddStreamDropped adds overflow drops.
func AddStreamDropped(count int) {
	if count <= 0 {
		return
	}
	if streamDropped != nil {
		streamDropped.Add(float64(count))
	}
}

// ObserveStream records a finished stream.
func ObserveStream(kind, result string, duration time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	if result == "" {
		result = ResultCompleted
	}
	if streamDuration != nil {
		streamDuration.WithLabelValues(kind, result).Observe(duration.Seconds())
	}
}

// IncRelayAttempt counts an upstream attempt by result.
func IncRelayAttempt(result string) {
	if result == "" {
		result = ResultSuccess
	}
	if relayAttempts != nil {
		relayAttempts.WithLabelValues(result).Inc()
	}
}

// IncRelayRetry counts a scheduled retry.
func IncRelayRetry() {
	if relayRetries != nil {
		relayRetries.Inc()
	}
}

// IncRelayExhausted counts a relay stream that gave up.
func IncRelayExhausted() {
	if relayExhausted != nil {
		relayExhausted.Inc()
	}
}

// IncRelaySample counts a sample re-emitted by the relay.
func IncRelaySample() {
	if relaySamples != nil {
		relaySamples.Inc()
	}
}

// ObserveHTTP records one served request.
func ObserveHTTP(method string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	if httpRequests != nil {
		httpRequests.WithLabelValues(method, code).Inc()
	}
	if httpLatency != nil {
		httpLatency.WithLabelValues(method, code).Observe(duration.Seconds())
	}
}
