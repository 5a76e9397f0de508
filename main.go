package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"sensor-stream/internal/observability/metrics"
	relayapp "sensor-stream/internal/relay/application"
	"sensor-stream/internal/relay/infrastructure/upstream"
	relayhttp "sensor-stream/internal/relay/interfaces/http"
	"sensor-stream/internal/telemetry/application"
	sensorhttp "sensor-stream/internal/telemetry/interfaces/http"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	requestIDHeader   = "X-Request-ID"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	if len(args) == 0 {
		printUsage(stderr)
		return errors.New("missing command")
	}
	mode := args[0]
	switch mode {
	case modeServer, modeClient:
	case "-h", "--help", "help":
		printUsage(stderr)
		return nil
	default:
		printUsage(stderr)
		return fmt.Errorf("unknown command %q", mode)
	}

	cfg, err := loadConfig(mode, args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging, stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	var app *tier
	switch mode {
	case modeServer:
		app, err = buildServer(cfg, logger)
	case modeClient:
		app, err = buildClient(cfg, logger)
	}
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg.HTTPAddr, app, logger)
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `Usage: sensor-stream <command> [flags]

Commands:
  server   serve synthetic sensor streams on /api/sensors
  client   relay the server's streams on /api/client

Run "sensor-stream <command> --help" for flags.
`)
}

// tier is one wired deployment: its HTTP surface and what to release once
// the listener has drained.
type tier struct {
	handler http.Handler
	cleanup func()
}

func (t *tier) close() {
	if t.cleanup != nil {
		t.cleanup()
	}
}

func buildServer(cfg config, logger *slog.Logger) (*tier, error) {
	synth := application.NewSynthesizer(
		application.WithHistorySize(cfg.Stream.HistorySize),
		application.WithLogger(logger),
	)
	metrics.Init(synth)

	engine, err := application.NewStreamEngine(synth, application.StreamConfig{
		Tick:           cfg.Stream.Tick,
		BatchSize:      cfg.Stream.BatchSize,
		OverflowBuffer: cfg.Stream.OverflowBuffer,
		Workers:        cfg.Stream.Workers,
	}, logger)
	if err != nil {
		return nil, err
	}
	sensorHandler, err := sensorhttp.NewHandler(synth, engine, logger)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/api/sensors/", sensorHandler)
	registerOps(mux)

	logger.Info("sensor server configured",
		"tick", cfg.Stream.Tick,
		"batch_size", cfg.Stream.BatchSize,
		"overflow_buffer", cfg.Stream.OverflowBuffer,
		"workers", cfg.Stream.Workers,
	)
	return &tier{handler: loggingMiddleware(mux, logger)}, nil
}

func buildClient(cfg config, logger *slog.Logger) (*tier, error) {
	metrics.Init(nil)

	client, err := upstream.NewClient(upstream.Config{
		BaseURL:        cfg.App.SensorServer.URL,
		MaxConnections: cfg.Relay.MaxConnections,
		IdleTimeout:    cfg.Relay.IdleTimeout,
		DialTimeout:    cfg.Relay.Timeout,
		HeaderTimeout:  cfg.Relay.Timeout,
	})
	if err != nil {
		return nil, err
	}

	maxRetries := cfg.Relay.MaxRetries
	if maxRetries == 0 {
		// zero in config means no retries; the policy reads zero as default
		maxRetries = -1
	}
	service, err := relayapp.NewService(client, relayapp.Config{
		IdleTimeout:    cfg.Relay.Timeout,
		MaxRetries:     maxRetries,
		RetryBaseDelay: cfg.Relay.RetryBaseDelay,
	}, logger)
	if err != nil {
		return nil, err
	}
	relayHandler, err := relayhttp.NewHandler(service, logger)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/api/client/", relayHandler)
	registerOps(mux)

	logger.Info("relay client configured",
		"upstream", client.BaseURL(),
		"timeout", cfg.Relay.Timeout,
		"max_retries", cfg.Relay.MaxRetries,
	)
	return &tier{
		handler: loggingMiddleware(mux, logger),
		cleanup: client.CloseIdleConnections,
	}, nil
}

func registerOps(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

// serve runs the HTTP server until ctx is done, then drains it and releases
// the tier. Request contexts derive from ctx so open streams end on shutdown.
func serve(ctx context.Context, addr string, app *tier, logger *slog.Logger) error {
	defer app.close()
	server := &http.Server{
		Addr:              addr,
		Handler:           app.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newLogger(cfg loggingConfig, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func loggingMiddleware(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)

		elapsed := time.Since(start)
		metrics.ObserveHTTP(r.Method, resp.status, elapsed)
		logger.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", resp.status,
			"duration", elapsed,
			"request_id", requestID,
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying flusher.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
