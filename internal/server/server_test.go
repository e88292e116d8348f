package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/pulsecore/internal/errors"
	"codeberg.org/mutker/pulsecore/internal/hardware"
	"codeberg.org/mutker/pulsecore/internal/history"
	"codeberg.org/mutker/pulsecore/internal/logger"
	"codeberg.org/mutker/pulsecore/internal/probe"
	"codeberg.org/mutker/pulsecore/internal/settings"
	"codeberg.org/mutker/pulsecore/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	mu     sync.Mutex
	target string
	count  int
	err    error
}

func (p *fakePinger) Measure(_ context.Context, target string, count int) (probe.PingResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.target, p.count = target, count
	if p.err != nil {
		return probe.PingResult{}, p.err
	}
	return probe.Parse(target, "64 bytes: time=12.5 ms\n0% packet loss"), nil
}

type staticRecent []telemetry.Snapshot

func (r staticRecent) Recent() []telemetry.Snapshot { return r }

type testEnv struct {
	srv       *Server
	store     *history.Store
	settings  *settings.Service
	pinger    *fakePinger
	exportDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	store, err := history.Open(history.DefaultConfig(filepath.Join(dir, "pulsecore.db")), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := settings.NewService(store, logger.Nop())
	require.NoError(t, svc.Load(context.Background()))

	env := &testEnv{
		store:     store,
		settings:  svc,
		pinger:    &fakePinger{},
		exportDir: filepath.Join(dir, "exports"),
	}
	env.srv = New(Deps{
		Settings:  svc,
		History:   store,
		Pinger:    env.pinger,
		Recent:    staticRecent{{Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}},
		Hardware:  hardware.Info{CPUModel: "Test CPU", DiskModels: []string{"Test disk"}},
		ExportDir: env.exportDir,
		Log:       logger.Nop(),
	})
	env.srv.now = func() time.Time { return time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC) }

	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)

	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestGetState(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Contains(t, rec.Body.String(), `"mode":"normal"`)

	got := decode[stateResponse](t, rec)
	assert.Equal(t, settings.Defaults(), got.Settings)
	assert.Equal(t, settings.ModeNormal, got.Mode)
	assert.Len(t, got.Recent, 1)
	assert.Equal(t, "Test CPU", got.Hardware.CPUModel)
}

func TestGetHardware(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/hardware", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Test disk"}, decode[hardware.Info](t, rec).DiskModels)
}

func TestPutSettings(t *testing.T) {
	env := newTestEnv(t)

	next := settings.Defaults()
	next.RefreshRateMs = 500
	rec := env.do(t, http.MethodPut, "/api/settings", next)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 500, decode[settings.AppSettings](t, rec).RefreshRateMs)

	stored, err := env.store.LoadSettings(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 500, stored.RefreshRateMs)

	rec = env.do(t, http.MethodGet, "/api/settings", nil)
	assert.EqualValues(t, 500, decode[settings.AppSettings](t, rec).RefreshRateMs)
}

func TestPutSettingsInvalid(t *testing.T) {
	env := newTestEnv(t)

	bad := settings.Defaults()
	bad.PingCount = 50
	rec := env.do(t, http.MethodPut, "/api/settings", bad)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(settings.ErrInvalidSettings), decode[errorBody](t, rec).Code)
	assert.Equal(t, 4, env.settings.Get().PingCount)
}

func TestPutMode(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/api/mode", map[string]string{"mode": "low_power"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, settings.ModeLowPower, env.settings.Mode())

	rec = env.do(t, http.MethodPut, "/api/mode", map[string]string{"mode": "turbo"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, settings.ModeLowPower, env.settings.Mode())

	rec = env.do(t, http.MethodPut, "/api/mode", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(ErrBadRequest), decode[errorBody](t, rec).Code)
	assert.Equal(t, settings.ModeLowPower, env.settings.Mode())
}

func TestPostPingUsesSettingsDefaults(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/ping", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1.1.1.1", env.pinger.target)
	assert.Equal(t, 4, env.pinger.count)

	res := decode[probe.PingResult](t, rec)
	require.NotNil(t, res.AvgMs)
	assert.InDelta(t, 12.5, *res.AvgMs, 1e-9)

	rec = env.do(t, http.MethodPost, "/api/ping", pingRequest{Target: "9.9.9.9", Count: 10})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "9.9.9.9", env.pinger.target)
	assert.Equal(t, 10, env.pinger.count)
}

func TestPostPingErrors(t *testing.T) {
	env := newTestEnv(t)

	env.pinger.err = errors.New().Wrap(probe.ErrTimeout, context.DeadlineExceeded)
	rec := env.do(t, http.MethodPost, "/api/ping", nil)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, string(probe.ErrTimeout), decode[errorBody](t, rec).Code)

	env.pinger.err = errors.New().New(probe.ErrSpawnFailed)
	rec = env.do(t, http.MethodPost, "/api/ping", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHistoryRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	latency := 14.2
	for i, id := range []string{"t1", "t2", "t3"} {
		rec := env.do(t, http.MethodPost, "/api/history", history.SpeedTestResult{
			TaskID:       id,
			Endpoint:     "https://speed.example.net",
			DownloadMbps: 100 + float64(i),
			LatencyMs:    &latency,
			StartedAt:    time.Date(2024, 5, 1, 10+i, 0, 0, 0, time.UTC),
			DurationMs:   9000,
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := env.do(t, http.MethodGet, "/api/history?page=1&page_size=2&from=2024-05-01T11:00:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	page := decode[history.Page](t, rec)
	assert.EqualValues(t, 2, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "t3", page.Items[0].TaskID)
	assert.Equal(t, "t2", page.Items[1].TaskID)
}

func TestHistoryBadRequests(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/history?from=yesterday", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/history?page=one", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/history?page=-1", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/history?page_size=500", nil).Code)

	rec := env.do(t, http.MethodPost, "/api/history", history.SpeedTestResult{DownloadMbps: 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(history.ErrInvalidRecord), decode[errorBody](t, rec).Code)
}

func TestPostHistoryRejectsInvalidPayloads(t *testing.T) {
	env := newTestEnv(t)

	valid := func() map[string]any {
		return map[string]any{
			"task_id":       "t1",
			"endpoint":      "https://speed.example.net",
			"download_mbps": 88.0,
			"started_at":    "2024-05-01T10:00:00Z",
			"duration_ms":   9000,
		}
	}

	cases := map[string]struct {
		mutate func(map[string]any)
		code   errors.ErrorCode
	}{
		"missing download":   {func(b map[string]any) { delete(b, "download_mbps") }, ErrBadRequest},
		"negative download":  {func(b map[string]any) { b["download_mbps"] = -3.5 }, history.ErrInvalidRecord},
		"negative duration":  {func(b map[string]any) { b["duration_ms"] = -1 }, history.ErrInvalidRecord},
		"missing started_at": {func(b map[string]any) { delete(b, "started_at") }, history.ErrInvalidRecord},
		"blank task_id":      {func(b map[string]any) { b["task_id"] = " " }, history.ErrInvalidRecord},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			body := valid()
			tc.mutate(body)

			rec := env.do(t, http.MethodPost, "/api/history", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, string(tc.code), decode[errorBody](t, rec).Code)
		})
	}

	rec := env.do(t, http.MethodPost, "/api/history", map[string]any{"task_id": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	page, err := env.store.Query(context.Background(), history.Filter{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestPostHistoryAcceptsZeroDownload(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/history", map[string]any{
		"task_id":       "offline",
		"download_mbps": 0,
		"started_at":    "2024-05-01T10:00:00Z",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Zero(t, decode[history.SpeedTestResult](t, rec).DownloadMbps)
}

func TestPostExport(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/history/export", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[history.ExportResult](t, rec)
	assert.Equal(t, filepath.Join(env.exportDir, "history-20240502-083000.csv"), res.Path)
	assert.EqualValues(t, 0, res.Rows)
	_, err := os.Stat(res.Path)
	require.NoError(t, err)

	rec = env.do(t, http.MethodPost, "/api/history/export", exportRequest{FileName: "may"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, filepath.Join(env.exportDir, "may.csv"), decode[history.ExportResult](t, rec).Path)

	for _, name := range []string{"../escape.csv", ".hidden.csv", "a/b.csv"} {
		rec = env.do(t, http.MethodPost, "/api/history/export", exportRequest{FileName: name})
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

func TestStatusFor(t *testing.T) {
	wrapped := errors.New().Wrap(settings.ErrSaveSettings, errors.New().New(history.ErrInvalidRecord))
	assert.Equal(t, http.StatusBadRequest, statusFor(wrapped))

	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New().New(history.ErrStorageAccess)))
}
