package scheduler

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/pulsecore/internal/events"
	"codeberg.org/mutker/pulsecore/internal/logger"
	"codeberg.org/mutker/pulsecore/internal/settings"
	"codeberg.org/mutker/pulsecore/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSampler struct {
	mu sync.Mutex
	n  int
}

func (c *countingSampler) Collect() telemetry.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return telemetry.Snapshot{Timestamp: time.Unix(int64(c.n), 0).UTC()}
}

type published struct {
	event   string
	payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *recordingPublisher) Publish(event string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{event, payload})
	return p.err
}

func (p *recordingPublisher) byName(name string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, e := range p.events {
		if e.event == name {
			out = append(out, e)
		}
	}
	return out
}

type fakePruner struct {
	mu    sync.Mutex
	calls []int
	err   error
}

func (p *fakePruner) Prune(_ context.Context, keepDays int) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, keepDays)
	return 1, p.err
}

func (p *fakePruner) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type mutableView struct {
	mu    sync.Mutex
	view  settings.View
	reads int
}

func (v *mutableView) View() settings.View {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.reads++
	return v.view
}

func (v *mutableView) readCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reads
}

func (v *mutableView) set(fn func(*settings.View)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fn(&v.view)
}

// steppedTimer lets a test release the loop one tick at a time.
type steppedTimer struct {
	requested chan time.Duration
	fire      chan time.Time
}

func newSteppedTimer() *steppedTimer {
	return &steppedTimer{
		requested: make(chan time.Duration),
		fire:      make(chan time.Time),
	}
}

func (s *steppedTimer) after(d time.Duration) <-chan time.Time {
	s.requested <- d
	return s.fire
}

// step waits for the loop to finish a tick and returns the interval it chose.
func (s *steppedTimer) step(t *testing.T) time.Duration {
	t.Helper()
	select {
	case d := <-s.requested:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not complete a tick")
		return 0
	}
}

func (s *steppedTimer) release() {
	s.fire <- time.Time{}
}

type harness struct {
	sched     *Scheduler
	timer     *steppedTimer
	sampler   *countingSampler
	publisher *recordingPublisher
	pruner    *fakePruner
	view      *mutableView
	cancel    context.CancelFunc
	done      chan struct{}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	h := &harness{
		timer:     newSteppedTimer(),
		sampler:   &countingSampler{},
		publisher: &recordingPublisher{},
		pruner:    &fakePruner{},
		view:      &mutableView{view: settings.View{Settings: settings.Defaults()}},
		done:      make(chan struct{}),
	}

	h.sched = New(Deps{
		Sampler:   h.sampler,
		Publisher: h.publisher,
		Pruner:    h.pruner,
		Settings:  h.view,
		Log:       logger.Nop(),
	}, cfg)
	h.sched.after = h.timer.after

	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.done)
		h.sched.Run(ctx)
	}()
	t.Cleanup(h.stop)
}

func (h *harness) stop() {
	h.cancel()
	// Unblock a pending timer request, if any
	select {
	case <-h.timer.requested:
	case <-h.done:
	case <-time.After(time.Second):
	}
	<-h.done
}

// ticks runs n complete ticks and returns the chosen intervals.
func (h *harness) ticks(t *testing.T, n int) []time.Duration {
	t.Helper()
	intervals := make([]time.Duration, 0, n)
	for i := range n {
		intervals = append(intervals, h.timer.step(t))
		if i < n-1 {
			h.timer.release()
		}
	}
	return intervals
}

func TestRunPublishesEverySnapshot(t *testing.T) {
	h := newHarness(t, Config{PruneEvery: 100, RecentCapacity: 10})
	h.start(t)

	h.ticks(t, 3)

	snaps := h.publisher.byName(events.EventSnapshot)
	require.Len(t, snaps, 3)
	assert.Equal(t, time.Unix(3, 0).UTC(), snaps[2].payload.(telemetry.Snapshot).Timestamp)
}

func TestRunPrunesEveryNthTick(t *testing.T) {
	h := newHarness(t, Config{PruneEvery: 3, RecentCapacity: 10})
	h.view.set(func(v *settings.View) { v.Settings.HistoryRetentionDays = 7 })
	h.start(t)

	h.ticks(t, 2)
	assert.Zero(t, h.pruner.count())

	h.timer.release()
	h.ticks(t, 4)
	assert.Equal(t, 2, h.pruner.count())
	assert.Equal(t, []int{7, 7}, h.pruner.calls)
}

func TestRunPruneFailureIsWarning(t *testing.T) {
	h := newHarness(t, Config{PruneEvery: 1, RecentCapacity: 10})
	h.pruner.err = stderrors.New("database is locked")
	h.start(t)

	h.ticks(t, 2)

	warnings := h.publisher.byName(events.EventWarning)
	require.Len(t, warnings, 2)
	w := warnings[0].payload.(events.Warning)
	assert.Equal(t, "database is locked", w.Message)
	assert.Equal(t, events.SourceHistoryPrune, w.Source)
	assert.Len(t, h.publisher.byName(events.EventSnapshot), 2)
}

func TestRunSurvivesPublishFailure(t *testing.T) {
	h := newHarness(t, Config{PruneEvery: 100, RecentCapacity: 10})
	h.publisher.err = stderrors.New("hub full")
	h.start(t)

	h.ticks(t, 3)
	assert.Len(t, h.sched.Recent(), 3)
}

func TestRunFollowsModeEachTick(t *testing.T) {
	h := newHarness(t, Config{PruneEvery: 100, RecentCapacity: 10})
	h.start(t)

	assert.Equal(t, time.Second, h.timer.step(t))

	h.view.set(func(v *settings.View) { v.Mode = settings.ModeLowPower })
	h.timer.release()
	assert.Equal(t, 5*time.Second, h.timer.step(t))

	h.view.set(func(v *settings.View) {
		v.Mode = settings.ModeNormal
		v.Settings.RefreshRateMs = 250
	})
	h.timer.release()
	assert.Equal(t, 250*time.Millisecond, h.timer.step(t))
}

func TestRunReadsOneViewPerTick(t *testing.T) {
	h := newHarness(t, Config{PruneEvery: 1, RecentCapacity: 10})
	h.view.set(func(v *settings.View) {
		v.Settings.HistoryRetentionDays = 9
		v.Settings.RefreshRateMs = 400
	})
	h.start(t)

	intervals := h.ticks(t, 3)

	assert.Equal(t, 3, h.view.readCount())
	assert.Equal(t, []int{9, 9, 9}, h.pruner.calls)
	assert.Equal(t, []time.Duration{400 * time.Millisecond, 400 * time.Millisecond, 400 * time.Millisecond}, intervals)
}

func TestRecentIsBounded(t *testing.T) {
	h := newHarness(t, Config{PruneEvery: 100, RecentCapacity: 3})
	h.start(t)

	h.ticks(t, 5)

	recent := h.sched.Recent()
	require.Len(t, recent, 3)
	assert.Equal(t, time.Unix(3, 0).UTC(), recent[0].Timestamp)
	assert.Equal(t, time.Unix(5, 0).UTC(), recent[2].Timestamp)

	// Callers get a copy
	recent[0].Timestamp = time.Time{}
	assert.Equal(t, time.Unix(3, 0).UTC(), h.sched.Recent()[0].Timestamp)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)

	h.timer.step(t)
	h.cancel()

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestInterval(t *testing.T) {
	view := func(mode settings.Mode, normal, low uint64) settings.View {
		return settings.View{
			Mode:     mode,
			Settings: settings.AppSettings{RefreshRateMs: normal, LowPowerRateMs: low},
		}
	}

	assert.Equal(t, time.Second, Interval(view(settings.ModeNormal, 1000, 5000)))
	assert.Equal(t, 5*time.Second, Interval(view(settings.ModeLowPower, 1000, 5000)))
	assert.Equal(t, MinInterval, Interval(view(settings.ModeNormal, 1, 5000)))
	assert.Equal(t, MinInterval, Interval(view(settings.ModeNormal, 0, 5000)))
	assert.Equal(t, MaxInterval, Interval(view(settings.ModeLowPower, 1000, 60000)))
	assert.Equal(t, MaxInterval, Interval(view(settings.ModeNormal, ^uint64(0), 0)))
}

func TestNewAppliesDefaults(t *testing.T) {
	s := New(Deps{Log: logger.Nop()}, Config{})
	assert.Equal(t, DefaultPruneEvery, s.cfg.PruneEvery)
	assert.Equal(t, DefaultRecentCapacity, s.cfg.RecentCapacity)
	assert.Empty(t, s.Recent())
}
