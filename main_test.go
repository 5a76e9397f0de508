package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggingMiddlewareRequestID(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	handler := loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), logger)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	_, err := uuid.Parse(rec.Header().Get(requestIDHeader))
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(logs.Bytes(), &entry))
	assert.Equal(t, float64(http.StatusTeapot), entry["status"])
	assert.Equal(t, rec.Header().Get(requestIDHeader), entry["request_id"])

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
}

func TestStatusWriterPassesFlush(t *testing.T) {
	handler := loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, http.NewResponseController(w).Flush())
	}), slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.True(t, rec.Flushed)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(loggingConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = newLogger(loggingConfig{Level: "chatty"}, &buf)
	require.Error(t, err)
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	var stderr bytes.Buffer
	err := run(context.Background(), []string{"proxy"}, &stderr)
	require.Error(t, err)
	assert.Contains(t, stderr.String(), "Usage")

	require.Error(t, run(context.Background(), nil, &stderr))
}

func TestServerAndClientWiring(t *testing.T) {
	clearConfigEnv(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg, err := loadConfig(modeServer, nil)
	require.NoError(t, err)
	cfg.Stream.Tick = time.Millisecond
	serverTier, err := buildServer(cfg, logger)
	require.NoError(t, err)
	defer serverTier.close()
	server := httptest.NewServer(serverTier.handler)
	defer server.Close()

	clientCfg, err := loadConfig(modeClient, []string{"--server-url", server.URL})
	require.NoError(t, err)
	clientTier, err := buildClient(clientCfg, logger)
	require.NoError(t, err)
	defer clientTier.close()
	client := httptest.NewServer(clientTier.handler)
	defer client.Close()

	resp, err := http.Get(client.URL + "/api/client/sensors?sensorId=3&limit=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	assert.Len(t, lines, 2)

	for _, base := range []string{server.URL, client.URL} {
		health, err := http.Get(base + "/healthz")
		require.NoError(t, err)
		health.Body.Close()
		assert.Equal(t, http.StatusOK, health.StatusCode)

		scrape, err := http.Get(base + "/metrics")
		require.NoError(t, err)
		payload, err := io.ReadAll(scrape.Body)
		scrape.Body.Close()
		require.NoError(t, err)
		assert.Contains(t, string(payload), "sensor_http_requests_total")
	}
}

func TestClientTierCloseReleasesUpstreamConnections(t *testing.T) {
	clearConfigEnv(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var closed atomic.Int32
	upstream := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, `{"sensor_id":1,"timestamp":1}`+"\n")
	}))
	upstream.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateClosed {
			closed.Add(1)
		}
	}
	upstream.Start()
	defer upstream.Close()

	cfg, err := loadConfig(modeClient, []string{"--server-url", upstream.URL})
	require.NoError(t, err)
	clientTier, err := buildClient(cfg, logger)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	clientTier.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/client/sensors?sensorId=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(0), closed.Load())

	clientTier.close()
	assert.Eventually(t, func() bool { return closed.Load() == 1 }, time.Second, 5*time.Millisecond)
}
