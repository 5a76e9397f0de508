package apihttp

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	telemetry "sensor-stream/internal/telemetry/domain"
)

// OptionalInt64 parses an optional int64 query parameter. Absent or empty
// yields nil.
func OptionalInt64(r *http.Request, key string) (*int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a 64-bit integer, got %q", telemetry.ErrInvalidArgument, key, raw)
	}
	return &v, nil
}

// OptionalInt32 parses an optional int32-ranged query parameter.
func OptionalInt32(r *http.Request, key string) (*int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a 32-bit integer, got %q", telemetry.ErrInvalidArgument, key, raw)
	}
	n := int(v)
	return &n, nil
}

// RequiredInt64 parses a mandatory int64 query parameter.
func RequiredInt64(r *http.Request, key string) (int64, error) {
	v, err := OptionalInt64(r, key)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, fmt.Errorf("%w: %s is required", telemetry.ErrInvalidArgument, key)
	}
	return *v, nil
}

// Int64List parses a comma-separated list of int64 values. Empty items are
// skipped; at least one value is required.
func Int64List(r *http.Request, key string) ([]int64, error) {
	raw := r.URL.Query()[key]
	var out []int64
	for _, chunk := range raw {
		for _, part := range strings.Split(chunk, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			v, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s must list 64-bit integers, got %q", telemetry.ErrInvalidArgument, key, part)
			}
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s is required", telemetry.ErrInvalidArgument, key)
	}
	return out, nil
}

// Deref returns *v or def when v is nil.
func Deref[T any](v *T, def T) T {
	if v == nil {
		return def
	}
	return *v
}

// OrUnset renders an optional parameter for logging.
func OrUnset[T any](v *T) any {
	if v == nil {
		return "unset"
	}
	return *v
}
