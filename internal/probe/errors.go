package probe

import "codeberg.org/mutker/pulsecore/internal/errors"

const (
	ErrInvalidTarget = errors.ErrorCode("probe_invalid_target")
	ErrSpawnFailed   = errors.ErrorCode("probe_spawn_failed")
	ErrNoOutput      = errors.ErrorCode("probe_no_output")
	ErrTimeout       = errors.ErrorCode("probe_timeout")
)
