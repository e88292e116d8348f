// Package scheduler drives the sampling loop: collect, buffer, publish,
// periodically prune, then sleep for a mode-dependent interval.
package scheduler

import (
	"context"
	"time"

	"codeberg.org/mutker/pulsecore/internal/events"
	"codeberg.org/mutker/pulsecore/internal/logger"
	"codeberg.org/mutker/pulsecore/internal/settings"
	"codeberg.org/mutker/pulsecore/internal/telemetry"
)

const (
	MinInterval = 100 * time.Millisecond
	MaxInterval = 10 * time.Second

	DefaultPruneEvery     = 180
	DefaultRecentCapacity = 300
)

type Deps struct {
	Sampler   Sampler
	Publisher Publisher
	Pruner    Pruner
	Settings  ViewSource
	Log       logger.Logger
}

type Config struct {
	// PruneEvery is the number of ticks between history prunes.
	PruneEvery int
	// RecentCapacity bounds the in-memory snapshot buffer.
	RecentCapacity int
}

type Scheduler struct {
	deps   Deps
	cfg    Config
	recent *ring
	log    logger.Logger

	ticks uint64
	after func(time.Duration) <-chan time.Time
}

func New(deps Deps, cfg Config) *Scheduler {
	if cfg.PruneEvery <= 0 {
		cfg.PruneEvery = DefaultPruneEvery
	}
	if cfg.RecentCapacity <= 0 {
		cfg.RecentCapacity = DefaultRecentCapacity
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}

	return &Scheduler{
		deps:   deps,
		cfg:    cfg,
		recent: newRing(cfg.RecentCapacity),
		log:    deps.Log.With("scheduler"),
		after:  time.After,
	}
}

// Run ticks until ctx is cancelled and then returns nil. Failures inside a
// tick are logged or published as warnings; they never stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info().
		Int("prune_every", s.cfg.PruneEvery).
		Int("recent_capacity", s.cfg.RecentCapacity).
		Msg("Telemetry loop started")

	for {
		interval := s.tick(ctx)

		select {
		case <-ctx.Done():
			s.log.Info().Uint64("ticks", s.ticks).Msg("Telemetry loop stopped")
			return nil
		case <-s.after(interval):
		}
	}
}

// Recent returns the buffered snapshots, oldest first.
func (s *Scheduler) Recent() []telemetry.Snapshot {
	return s.recent.snapshot()
}

func (s *Scheduler) tick(ctx context.Context) time.Duration {
	snap := s.deps.Sampler.Collect()
	s.recent.push(snap)

	if err := s.deps.Publisher.Publish(events.EventSnapshot, snap); err != nil {
		s.log.Warn().Err(err).Msg("Failed to publish snapshot")
	}

	// One view per tick so prune and interval agree
	view := s.deps.Settings.View()

	s.ticks++
	if s.ticks%uint64(s.cfg.PruneEvery) == 0 {
		s.prune(ctx, view.Settings.HistoryRetentionDays)
	}

	return Interval(view)
}

func (s *Scheduler) prune(ctx context.Context, keepDays int) {
	removed, err := s.deps.Pruner.Prune(ctx, keepDays)
	if err == nil {
		if removed > 0 {
			s.log.Info().Int64("removed", removed).Int("keep_days", keepDays).Msg("History pruned")
		}
		return
	}

	s.log.Warn().Err(err).Msg("History prune failed")

	warning := events.Warning{Message: err.Error(), Source: events.SourceHistoryPrune}
	if err := s.deps.Publisher.Publish(events.EventWarning, warning); err != nil {
		s.log.Warn().Err(err).Msg("Failed to publish warning")
	}
}

// Interval is the sleep before the next tick for the given view, clamped to
// [MinInterval, MaxInterval].
func Interval(view settings.View) time.Duration {
	ms := view.Settings.RefreshRateMs
	if view.Mode == settings.ModeLowPower {
		ms = view.Settings.LowPowerRateMs
	}

	// Clamp in milliseconds so huge values cannot overflow a Duration
	const minMs, maxMs = uint64(MinInterval / time.Millisecond), uint64(MaxInterval / time.Millisecond)
	ms = min(max(ms, minMs), maxMs)

	return time.Duration(ms) * time.Millisecond
}
