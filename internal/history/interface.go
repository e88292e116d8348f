package history

import (
	"context"
	"time"

	"codeberg.org/mutker/pulsecore/internal/settings"
)

// Repository defines the history storage operations
type Repository interface {
	settings.Repository

	Insert(ctx context.Context, result SpeedTestResult) error
	Query(ctx context.Context, filter Filter) (Page, error)
	ExportCSV(ctx context.Context, path string, r TimeRange) (ExportResult, error)
	Prune(ctx context.Context, keepDays int) (int64, error)
	Close() error
}

// SpeedTestResult is one completed network performance test, keyed by TaskID.
type SpeedTestResult struct {
	TaskID       string    `json:"task_id" validate:"notblank"`
	Endpoint     string    `json:"endpoint"`
	DownloadMbps float64   `json:"download_mbps" validate:"gte=0"`
	UploadMbps   *float64  `json:"upload_mbps" validate:"omitempty,gte=0"`
	LatencyMs    *float64  `json:"latency_ms" validate:"omitempty,gte=0"`
	JitterMs     *float64  `json:"jitter_ms" validate:"omitempty,gte=0"`
	LossPct      *float64  `json:"loss_pct" validate:"omitempty,gte=0,lte=100"`
	StartedAt    time.Time `json:"started_at" validate:"required"`
	DurationMs   int64     `json:"duration_ms" validate:"gte=0"`

	// TimestampInvalid marks a stored row whose started_at could not be
	// parsed; StartedAt then holds the read time instead.
	TimestampInvalid bool `json:"timestamp_invalid,omitempty"`
}

// Filter selects one page of history. Bounds are inclusive.
type Filter struct {
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
	From     *time.Time `json:"from,omitempty"`
	To       *time.Time `json:"to,omitempty"`
}

// Page is one page of results, most recent first.
type Page struct {
	Total int64             `json:"total"`
	Items []SpeedTestResult `json:"items"`
}

// TimeRange bounds an export. Bounds are inclusive.
type TimeRange struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

type ExportResult struct {
	Path string `json:"path"`
	Rows uint64 `json:"rows"`
}

const (
	minPageSize = 1
	maxPageSize = 200
)

// normalized clamps page to >= 1 and page size to 1..200.
func (f Filter) normalized() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	f.PageSize = min(max(f.PageSize, minPageSize), maxPageSize)
	return f
}

func (f Filter) offset() int {
	return (f.Page - 1) * f.PageSize
}
