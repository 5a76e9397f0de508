package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"sensor-stream/internal/analytics/domain/statistic"
	apihttp "sensor-stream/internal/api/http"
	telemetry "sensor-stream/internal/telemetry/domain"
	"sensor-stream/internal/telemetry/interfaces/export"
)

const basePath = "/api/sensors/"

// Synthesizer is the read/reset surface of the sample synthesizer.
type Synthesizer interface {
	GenerateBulk(sensorIDs []int64) (telemetry.Bulk, error)
	History(sensorID int64, limit int) []telemetry.Sample
	Clear()
	TotalGenerated() uint64
	SensorCount() int
	TemperatureStats(sensorID int64) statistic.Summary
	AllStatistics() map[string]statistic.Summary
}

// Streamer produces finite sample streams.
type Streamer interface {
	Stream(ctx context.Context, sensorID int64, limit int) <-chan telemetry.Sample
	StreamMulti(ctx context.Context, sensorCount, limit int) <-chan telemetry.Sample
}

// Handler serves the server-tier sensor endpoints under /api/sensors/.
type Handler struct {
	synth   Synthesizer
	streams Streamer
	logger  *slog.Logger
	now     func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(synth Synthesizer, streams Streamer, logger *slog.Logger) (*Handler, error) {
	if synth == nil {
		return nil, errors.New("sensor handler: nil synthesizer")
	}
	if streams == nil {
		return nil, errors.New("sensor handler: nil streamer")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{synth: synth, streams: streams, logger: logger, now: time.Now}, nil
}

// ServeHTTP routes sensor requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, basePath) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, basePath), "/")

	switch path {
	case "stream":
		h.get(w, r, h.handleStream)
	case "stream/multi":
		h.get(w, r, h.handleStreamMulti)
	case "history":
		switch r.Method {
		case http.MethodGet:
			h.handleHistory(w, r)
		case http.MethodDelete:
			h.handleClear(w, r)
		default:
			apihttp.MethodNotAllowed(w, http.MethodGet, http.MethodDelete)
		}
	case "history/export":
		h.get(w, r, h.handleHistoryExport)
	case "stats":
		h.get(w, r, h.handleStats)
	case "stats/export":
		h.get(w, r, h.handleStatsExport)
	case "bulk":
		h.get(w, r, h.handleBulk)
	case "summary":
		h.get(w, r, h.handleSummary)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	if r.Method != http.MethodGet {
		apihttp.MethodNotAllowed(w, http.MethodGet)
		return
	}
	next(w, r)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
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

	h.logger.Info("stream request", "sensor_id", apihttp.OrUnset(sensorID), "limit", apihttp.OrUnset(limit))
	ctx := r.Context()
	var samples <-chan telemetry.Sample
	if sensorID != nil {
		samples = h.streams.Stream(ctx, *sensorID, apihttp.Deref(limit, 0))
	} else {
		samples = h.streams.StreamMulti(ctx, 0, apihttp.Deref(limit, 0))
	}
	h.writeStream(w, r, samples)
}

func (h *Handler) handleStreamMulti(w http.ResponseWriter, r *http.Request) {
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

	h.logger.Info("multi-sensor stream request", "sensor_count", apihttp.OrUnset(sensorCount), "limit", apihttp.OrUnset(limit))
	samples := h.streams.StreamMulti(r.Context(), apihttp.Deref(sensorCount, 0), apihttp.Deref(limit, 0))
	h.writeStream(w, r, samples)
}

func (h *Handler) writeStream(w http.ResponseWriter, r *http.Request, samples <-chan telemetry.Sample) {
	written, err := apihttp.WriteNDJSON(r.Context(), w, samples)
	if err != nil && !errors.Is(err, telemetry.ErrCancelled) {
		h.logger.Warn("stream write ended early", "path", r.URL.Path, "written", written, "error", err)
	}
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sensorID, err := apihttp.RequiredInt64(r, "sensorId")
	if err != nil {
		apihttp.WriteError(w, r, h.logger, err)
		return
	}
	limit, err := apihttp.OptionalInt32(r, "limit")
	if err != nil {
		apihttp.WriteError(w, r, h.logger, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, h.synth.History(sensorID, apihttp.Deref(limit, 0)))
}

func (h *Handler) handleClear(w http.ResponseWriter, _ *http.Request) {
	h.synth.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	sensorID, err := apihttp.OptionalInt64(r, "sensorId")
	if err != nil {
		apihttp.WriteError(w, r, h.logger, err)
		return
	}
	if sensorID == nil {
		apihttp.WriteJSON(w, http.StatusOK, h.synth.AllStatistics())
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, h.synth.TemperatureStats(*sensorID))
}

func (h *Handler) handleBulk(w http.ResponseWriter, r *http.Request) {
	ids, err := apihttp.Int64List(r, "sensorIds")
	if err != nil {
		apihttp.WriteError(w, r, h.logger, err)
		return
	}
	bulk, err := h.synth.GenerateBulk(ids)
	if err != nil {
		apihttp.WriteError(w, r, h.logger, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, bulk)
}

type summaryResponse struct {
	TotalGenerated uint64 `json:"total_generated"`
	Sensors        int    `json:"sensors"`
}

func (h *Handler) handleSummary(w http.ResponseWriter, _ *http.Request) {
	apihttp.WriteJSON(w, http.StatusOK, summaryResponse{
		TotalGenerated: h.synth.TotalGenerated(),
		Sensors:        h.synth.SensorCount(),
	})
}

func (h *Handler) handleHistoryExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		apihttp.WriteError(w, r, h.logger, err)
		return
	}
	sensorID, err := apihttp.RequiredInt64(r, "sensorId")
	if err != nil {
		apihttp.WriteError(w, r, h.logger, err)
		return
	}
	limit, err := apihttp.OptionalInt32(r, "limit")
	if err != nil {
		apihttp.WriteError(w, r, h.logger, err)
		return
	}

	samples := h.synth.History(sensorID, apihttp.Deref(limit, 0))
	payload, err := export.RenderHistory(format, sensorID, samples, h.now())
	if err != nil {
		apihttp.WriteError(w, r, h.logger, fmt.Errorf("render history: %w", err))
		return
	}
	writeAttachment(w, format, telemetry.SensorKey(sensorID)+"_history", payload)
}

func (h *Handler) handleStatsExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		apihttp.WriteError(w, r, h.logger, err)
		return
	}

	payload, err := export.RenderStats(format, h.synth.AllStatistics(), h.now())
	if err != nil {
		apihttp.WriteError(w, r, h.logger, fmt.Errorf("render statistics: %w", err))
		return
	}
	writeAttachment(w, format, "sensor_statistics", payload)
}

func writeAttachment(w http.ResponseWriter, format export.Format, base string, payload []byte) {
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", format.Filename(base)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}
