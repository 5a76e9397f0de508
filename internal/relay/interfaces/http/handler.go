package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	apihttp "sensor-stream/internal/api/http"
	telemetry "sensor-stream/internal/telemetry/domain"
)

const basePath = "/api/client/"

// Relay re-emits upstream sample streams.
type Relay interface {
	GetSensorStream(ctx context.Context, sensorID *int64, limit *int) <-chan telemetry.Sample
	GetMultipleSensorStream(ctx context.Context, sensorCount *int, limit *int) <-chan telemetry.Sample
}

// Handler serves the client-tier endpoints under /api/client/.
type Handler struct {
	relay  Relay
	logger *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(relay Relay, logger *slog.Logger) (*Handler, error) {
	if relay == nil {
		return nil, errors.New("client handler: nil relay")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{relay: relay, logger: logger}, nil
}

// ServeHTTP routes client requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, basePath) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, basePath), "/")
	if path != "sensors" && path != "sensors/multi" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		apihttp.MethodNotAllowed(w, http.MethodGet)
		return
	}

	if path == "sensors" {
		h.handleSensors(w, r)
		return
	}
	h.handleMulti(w, r)
}

func (h *Handler) handleSensors(w http.ResponseWriter, r *http.Request) {
	sensorID, err := apihttp.OptionalInt64(r, "sensorId")
	if err != nil {
		apihttp.WriteError(w, r, h.logger, err)
		return
	}
	limit, err := apihttp.OptionalInt32(r, "limit")
	if err != nil {
		apihttp.WriteError(w, r, h.logger, err)
		return
	}

	h.logger.Info("client sensors request", "sensor_id", apihttp.OrUnset(sensorID), "limit", apihttp.OrUnset(limit))
	var samples <-chan telemetry.Sample
	if sensorID != nil {
		samples = h.relay.GetSensorStream(r.Context(), sensorID, limit)
	} else {
		samples = h.relay.GetMultipleSensorStream(r.Context(), nil, limit)
	}
	h.writeStream(w, r, samples)
}

func (h *Handler) handleMulti(w http.ResponseWriter, r *http.Request) {
	sensorCount, err := apihttp.OptionalInt32(r, "sensorCount")
	if err != nil {
		apihttp.WriteError(w, r, h.logger, err)
		return
	}
	limit, err := apihttp.OptionalInt32(r, "limit")
	if err != nil {
		apihttp.WriteError(w, r, h.logger, err)
		return
	}

	h.logger.Info("client multi-sensor request", "sensor_count", apihttp.OrUnset(sensorCount), "limit", apihttp.OrUnset(limit))
	h.writeStream(w, r, h.relay.GetMultipleSensorStream(r.Context(), sensorCount, limit))
}

func (h *Handler) writeStream(w http.ResponseWriter, r *http.Request, samples <-chan telemetry.Sample) {
	written, err := apihttp.WriteNDJSON(r.Context(), w, samples)
	if err != nil && !errors.Is(err, telemetry.ErrCancelled) {
		h.logger.Warn("relay write ended early", "path", r.URL.Path, "written", written, "error", err)
	}
}
