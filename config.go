package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	relayapp "sensor-stream/internal/relay/application"
	"sensor-stream/internal/relay/infrastructure/upstream"
	"sensor-stream/internal/retry"
	"sensor-stream/internal/telemetry/application"
)

const (
	modeServer = "server"
	modeClient = "client"

	defaultServerAddr  = ":8080"
	defaultClientAddr  = ":8081"
	defaultUpstreamURL = "http://localhost:8080"
)

type config struct {
	HTTPAddr string        `yaml:"http_addr"`
	App      appConfig     `yaml:"app"`
	Logging  loggingConfig `yaml:"logging"`
	Stream   streamConfig  `yaml:"stream"`
	Relay    relayConfig   `yaml:"relay"`
}

type appConfig struct {
	SensorServer struct {
		URL string `yaml:"url"`
	} `yaml:"sensor-server"`
}

type loggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type streamConfig struct {
	Tick           time.Duration `yaml:"tick"`
	BatchSize      int           `yaml:"batch_size"`
	OverflowBuffer int           `yaml:"overflow_buffer"`
	Workers        int           `yaml:"workers"`
	HistorySize    int           `yaml:"history_size"`
}

type relayConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	MaxConnections int           `yaml:"max_connections"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
}

func defaultConfig(mode string) config {
	cfg := config{
		HTTPAddr: defaultServerAddr,
		Logging:  loggingConfig{Level: "info", Format: "text"},
		Stream: streamConfig{
			Tick:           application.DefaultTick,
			BatchSize:      application.DefaultBatchSize,
			OverflowBuffer: application.DefaultOverflowBuffer,
			Workers:        application.DefaultWorkers,
			HistorySize:    application.DefaultHistorySize,
		},
		Relay: relayConfig{
			Timeout:        relayapp.DefaultIdleTimeout,
			MaxRetries:     retry.DefaultMaxRetries,
			RetryBaseDelay: retry.DefaultBaseDelay,
			MaxConnections: upstream.DefaultMaxConnections,
			IdleTimeout:    upstream.DefaultIdleTimeout,
		},
	}
	if mode == modeClient {
		cfg.HTTPAddr = defaultClientAddr
	}
	cfg.App.SensorServer.URL = defaultUpstreamURL
	return cfg
}

// loadConfig layers defaults, the YAML file, the environment and flags,
// in that order.
func loadConfig(mode string, args []string) (config, error) {
	cfg := defaultConfig(mode)

	flags := pflag.NewFlagSet(mode, pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to a YAML config file (env SENSOR_CONFIG)")
	addr := flags.String("addr", cfg.HTTPAddr, "HTTP listen address (env HTTP_ADDR)")
	logLevel := flags.String("log-level", cfg.Logging.Level, "log level: debug, info, warn, error (env LOG_LEVEL)")
	logFormat := flags.String("log-format", cfg.Logging.Format, "log format: text or json (env LOG_FORMAT)")
	serverURL := flags.String("server-url", cfg.App.SensorServer.URL, "sensor server base URL, client only (env SENSOR_SERVER_URL)")
	if err := flags.Parse(args); err != nil {
		return cfg, err
	}
	if rest := flags.Args(); len(rest) > 0 {
		return cfg, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	path := getenvDefault("SENSOR_CONFIG", "")
	if flags.Changed("config") {
		path = *configPath
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.App.SensorServer.URL = getenvDefault("SENSOR_SERVER_URL", getenvDefault("APP_SENSOR_SERVER_URL", cfg.App.SensorServer.URL))
	cfg.Logging.Level = getenvDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getenvDefault("LOG_FORMAT", cfg.Logging.Format)
	cfg.Stream.Tick = getenvDuration("STREAM_TICK", cfg.Stream.Tick)
	cfg.Relay.MaxRetries = getenvIntDefault("RELAY_MAX_RETRIES", cfg.Relay.MaxRetries)
	cfg.Relay.RetryBaseDelay = getenvDuration("RELAY_RETRY_BASE_DELAY", cfg.Relay.RetryBaseDelay)

	if flags.Changed("addr") {
		cfg.HTTPAddr = *addr
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = *logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = *logFormat
	}
	if flags.Changed("server-url") {
		cfg.App.SensorServer.URL = *serverURL
	}

	return cfg, cfg.validate(mode)
}

func (c config) validate(mode string) error {
	var errs []error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}
	if c.Stream.Tick <= 0 {
		errs = append(errs, errors.New("stream.tick must be positive"))
	}
	if c.Stream.BatchSize <= 0 || c.Stream.OverflowBuffer <= 0 || c.Stream.Workers <= 0 || c.Stream.HistorySize <= 0 {
		errs = append(errs, errors.New("stream sizes must be positive"))
	}
	if mode == modeClient {
		parsed, err := url.Parse(c.App.SensorServer.URL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("app.sensor-server.url must be an absolute http(s) URL, got %q", c.App.SensorServer.URL))
		}
		if c.Relay.Timeout <= 0 {
			errs = append(errs, errors.New("relay.timeout must be positive"))
		}
		if c.Relay.MaxRetries < 0 {
			errs = append(errs, errors.New("relay.max_retries must not be negative"))
		}
	}
	return errors.Join(errs...)
}

func parseLevel(value string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return slog.LevelInfo, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
