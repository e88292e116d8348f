package telemetry

import "codeberg.org/mutker/pulsecore/internal/errors"

const (
	// Collection Errors
	ErrCounterRead       = errors.ErrorCode("telemetry_counter_read_failed")
	ErrSensorUnavailable = errors.ErrorCode("telemetry_sensor_unavailable")
	ErrNoBaseline        = errors.ErrorCode("telemetry_no_baseline")
)
