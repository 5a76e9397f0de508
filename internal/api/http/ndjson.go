package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	telemetry "sensor-stream/internal/telemetry/domain"
)

// ContentTypeNDJSON is the media type of sample streams.
const ContentTypeNDJSON = "application/x-ndjson"

// WriteNDJSON commits a 200 response and writes every value received from
// items as one JSON line, flushing after each. It returns once items is
// closed, ctx is done or a write fails; errors after the header cannot be
// reported to the client and only end the body early. A done ctx yields an
// error wrapping telemetry.ErrCancelled.
func WriteNDJSON[T any](ctx context.Context, w http.ResponseWriter, items <-chan T) (int, error) {
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", ContentTypeNDJSON)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if err := flush(rc); err != nil {
		return 0, err
	}

	enc := json.NewEncoder(w)
	written := 0
	for {
		select {
		case item, ok := <-items:
			if !ok {
				return written, nil
			}
			if err := enc.Encode(item); err != nil {
				return written, err
			}
			if err := flush(rc); err != nil {
				return written, err
			}
			written++
		case <-ctx.Done():
			return written, fmt.Errorf("%w: %w", telemetry.ErrCancelled, ctx.Err())
		}
	}
}

func flush(rc *http.ResponseController) error {
	if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
