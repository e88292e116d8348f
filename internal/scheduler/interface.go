package scheduler

import (
	"context"

	"codeberg.org/mutker/pulsecore/internal/settings"
	"codeberg.org/mutker/pulsecore/internal/telemetry"
)

type Sampler interface {
	Collect() telemetry.Snapshot
}

// Publisher delivers events to subscribers. It must not block.
type Publisher interface {
	Publish(event string, payload any) error
}

type Pruner interface {
	Prune(ctx context.Context, keepDays int) (int64, error)
}

// ViewSource hands out a consistent copy of mode and settings.
type ViewSource interface {
	View() settings.View
}
