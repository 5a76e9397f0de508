package telemetry

import "errors"

var (
	// ErrInvalidArgument is returned for malformed caller input.
	ErrInvalidArgument = errors.New("telemetry: invalid argument")
	// ErrOutOfRange is returned for indexed access beyond a window's size.
	ErrOutOfRange = errors.New("telemetry: index out of range")
	// ErrUpstreamUnavailable is returned when the relay exhausted its retries.
	ErrUpstreamUnavailable = errors.New("telemetry: upstream unavailable")
	// ErrCancelled marks a stream whose consumer went away.
	ErrCancelled = errors.New("telemetry: cancelled")
	// ErrInternal is returned on invariant violations.
	ErrInternal = errors.New("telemetry: internal error")
)
