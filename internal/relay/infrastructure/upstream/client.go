package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	relayapp "sensor-stream/internal/relay/application"
	telemetry "sensor-stream/internal/telemetry/domain"
)

const (
	DefaultMaxConnections = 100
	DefaultIdleTimeout    = 30 * time.Second
	DefaultDialTimeout    = 30 * time.Second
	DefaultHeaderTimeout  = 30 * time.Second

	sensorStreamPath = "/api/sensors/stream"
	multiStreamPath  = "/api/sensors/stream/multi"
	ndjsonType       = "application/x-ndjson"
)

// Config configures the pooled client. Zero durations and counts take
// the defaults.
type Config struct {
	BaseURL        string
	MaxConnections int
	IdleTimeout    time.Duration
	DialTimeout    time.Duration
	HeaderTimeout  time.Duration
}

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: http %d", e.Code)
}

// Client opens NDJSON sample streams against the server tier over a
// shared connection pool.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient constructs an upstream client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("upstream: empty base url")
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("upstream: base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("upstream: unsupported scheme %q", parsed.Scheme)
	}

	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = DefaultMaxConnections
	}
	dialTimeout := orDefault(cfg.DialTimeout, DefaultDialTimeout)
	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxConnsPerHost:       maxConns,
		MaxIdleConns:          maxConns,
		MaxIdleConnsPerHost:   maxConns,
		IdleConnTimeout:       orDefault(cfg.IdleTimeout, DefaultIdleTimeout),
		TLSHandshakeTimeout:   dialTimeout,
		ResponseHeaderTimeout: orDefault(cfg.HeaderTimeout, DefaultHeaderTimeout),
	}

	return &Client{
		baseURL: base,
		// No overall timeout: streams are long-lived and the relay
		// enforces inactivity instead.
		client: &http.Client{Transport: transport},
	}, nil
}

// BaseURL returns the normalized upstream base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// OpenSensorStream opens GET /api/sensors/stream.
func (c *Client) OpenSensorStream(ctx context.Context, sensorID *int64, limit *int) (relayapp.SampleStream, error) {
	query := url.Values{}
	if sensorID != nil {
		query.Set("sensorId", strconv.FormatInt(*sensorID, 10))
	}
	if limit != nil {
		query.Set("limit", strconv.Itoa(*limit))
	}
	stream, err := c.open(ctx, sensorStreamPath, query)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// OpenMultiSensorStream opens GET /api/sensors/stream/multi.
func (c *Client) OpenMultiSensorStream(ctx context.Context, sensorCount *int, limit *int) (relayapp.SampleStream, error) {
	query := url.Values{}
	if sensorCount != nil {
		query.Set("sensorCount", strconv.Itoa(*sensorCount))
	}
	if limit != nil {
		query.Set("limit", strconv.Itoa(*limit))
	}
	stream, err := c.open(ctx, multiStreamPath, query)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// CloseIdleConnections releases pooled connections.
func (c *Client) CloseIdleConnections() {
	c.client.CloseIdleConnections()
}

func (c *Client) open(ctx context.Context, path string, query url.Values) (*Stream, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", ndjsonType)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode}
	}
	return &Stream{body: resp.Body, dec: json.NewDecoder(resp.Body)}, nil
}

// Stream decodes one sample per JSON line of an upstream response.
type Stream struct {
	body io.ReadCloser
	dec  *json.Decoder
}

// Next returns the next sample, or io.EOF after the last one.
func (s *Stream) Next() (telemetry.Sample, error) {
	var sample telemetry.Sample
	if err := s.dec.Decode(&sample); err != nil {
		if errors.Is(err, io.EOF) {
			return telemetry.Sample{}, io.EOF
		}
		return telemetry.Sample{}, fmt.Errorf("upstream: decode sample: %w", err)
	}
	return sample, nil
}

// Close releases the response body.
func (s *Stream) Close() error {
	return s.body.Close()
}

func orDefault(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
