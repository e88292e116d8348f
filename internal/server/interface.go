package server

import (
	"context"

	"codeberg.org/mutker/pulsecore/internal/history"
	"codeberg.org/mutker/pulsecore/internal/probe"
	"codeberg.org/mutker/pulsecore/internal/settings"
	"codeberg.org/mutker/pulsecore/internal/telemetry"
)

type SettingsService interface {
	Get() settings.AppSettings
	Set(ctx context.Context, s settings.AppSettings) error
	SetMode(mode settings.Mode)
	View() settings.View
}

type HistoryStore interface {
	Insert(ctx context.Context, result history.SpeedTestResult) error
	Query(ctx context.Context, filter history.Filter) (history.Page, error)
	ExportCSV(ctx context.Context, path string, r history.TimeRange) (history.ExportResult, error)
}

type Pinger interface {
	Measure(ctx context.Context, target string, count int) (probe.PingResult, error)
}

type RecentSource interface {
	Recent() []telemetry.Snapshot
}
