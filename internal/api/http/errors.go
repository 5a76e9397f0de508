package apihttp

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	telemetry "sensor-stream/internal/telemetry/domain"
)

const (
	// local time without zone offset
	errorTimeLayout = "2006-01-02T15:04:05.000"

	defaultErrorMessage = "An unexpected error occurred"
)

// now is replaced in tests.
var now = time.Now

// ErrorResponse is the JSON body of every non-stream error.
type ErrorResponse struct {
	Timestamp string `json:"timestamp"`
	Status    int    `json:"status"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Path      string `json:"path"`
}

// StatusFor maps an error to its HTTP status and error label.
func StatusFor(err error) (int, string) {
	if errors.Is(err, telemetry.ErrInvalidArgument) {
		return http.StatusBadRequest, "BadRequest"
	}
	return http.StatusInternalServerError, "InternalServerError"
}

// WriteError logs err and writes the error envelope.
func WriteError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, label := StatusFor(err)

	message := defaultErrorMessage
	if err != nil && err.Error() != "" {
		message = err.Error()
	}
	if logger != nil {
		if status == http.StatusBadRequest {
			logger.Warn("bad request", "path", r.URL.Path, "error", message)
		} else {
			logger.Error("request failed", "path", r.URL.Path, "error", message)
		}
	}

	WriteJSON(w, status, ErrorResponse{
		Timestamp: now().Format(errorTimeLayout),
		Status:    status,
		Error:     label,
		Message:   message,
		Path:      r.URL.Path,
	})
}

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// MethodNotAllowed answers 405 with the allowed methods.
func MethodNotAllowed(w http.ResponseWriter, allowed ...string) {
	for _, method := range allowed {
		w.Header().Add("Allow", method)
	}
	w.WriteHeader(http.StatusMethodNotAllowed)
}
