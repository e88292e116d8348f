package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/pulsecore/internal/errors"
	"codeberg.org/mutker/pulsecore/internal/logger"
	"codeberg.org/mutker/pulsecore/internal/settings"
	"codeberg.org/mutker/pulsecore/internal/validation"
	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is RFC 3339 with fixed millisecond width. Stored values are UTC,
// so text order equals time order.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Store is the SQLite-backed history repository. Writes are serialized by
// the store; reads run concurrently on the pool.
type Store struct {
	db  *sql.DB
	log logger.Logger
	cfg Config
	now func() time.Time

	mu sync.Mutex
}

var _ Repository = (*Store)(nil)

// Open creates the database directory, opens the database in WAL mode and
// brings the schema up to date.
func Open(cfg Config, log logger.Logger) (*Store, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log = log.With("history")

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}
	db.SetMaxOpenConns(cfg.maxOpenConns())

	if err := ValidateAndUpdateSchema(db, cfg, log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("max_open_conns", cfg.maxOpenConns()).
		Msg("History store initialized")

	return &Store{
		db:  db,
		log: log,
		cfg: cfg,
		now: time.Now,
	}, nil
}

func (s *Store) LoadSettings(ctx context.Context) (*settings.AppSettings, error) {
	errFactory := errors.New()

	var raw string
	err := s.db.QueryRowContext(ctx, selectSettingsSQL).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	var out settings.AppSettings
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, errFactory.Wrap(ErrDecodeRecord, err)
	}

	return &out, nil
}

func (s *Store) SaveSettings(ctx context.Context, in settings.AppSettings) error {
	errFactory := errors.New()

	raw, err := json.Marshal(in)
	if err != nil {
		return errFactory.Wrap(ErrEncodeRecord, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, upsertSettingsSQL, string(raw)); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	return nil
}

// Insert stores result, replacing every field of an existing record with
// the same task id.
func (s *Store) Insert(ctx context.Context, result SpeedTestResult) error {
	errFactory := errors.New()

	if problems := validation.Struct(result); problems != nil {
		return errFactory.WithData(ErrInvalidRecord, problems)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, upsertSpeedTestSQL,
		result.TaskID,
		result.Endpoint,
		result.DownloadMbps,
		nullFloat(result.UploadMbps),
		nullFloat(result.LatencyMs),
		nullFloat(result.JitterMs),
		nullFloat(result.LossPct),
		formatTime(result.StartedAt),
		result.DurationMs,
	)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	s.log.Debug().
		Str("task_id", result.TaskID).
		Float64("download_mbps", result.DownloadMbps).
		Msg("Speed test recorded")

	return nil
}

// Query returns the total number of matching records and one page of them,
// most recent first. Both reads share one transaction.
func (s *Store) Query(ctx context.Context, filter Filter) (Page, error) {
	errFactory := errors.New()
	filter = filter.normalized()

	where, args := rangeClause(filter.From, filter.To)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Page{}, errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.log.Debug().Err(err).Msg("Failed to end read transaction")
		}
	}()

	var total int64
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM speed_tests"+where, args...).Scan(&total); err != nil {
		return Page{}, errFactory.Wrap(ErrStorageAccess, err)
	}

	pageArgs := append(append([]any{}, args...), filter.PageSize, filter.offset())
	rows, err := tx.QueryContext(ctx,
		selectSpeedTestColumns+where+" ORDER BY started_at DESC LIMIT ? OFFSET ?",
		pageArgs...)
	if err != nil {
		return Page{}, errFactory.Wrap(ErrStorageAccess, err)
	}

	items, err := s.scanResults(rows)
	if err != nil {
		return Page{}, err
	}

	return Page{Total: total, Items: items}, nil
}

// Prune deletes records started before now - max(keepDays, 1) days and
// returns the number removed. Settings are never touched.
func (s *Store) Prune(ctx context.Context, keepDays int) (int64, error) {
	errFactory := errors.New()

	keepDays = max(keepDays, 1)
	cutoff := s.now().Add(-time.Duration(keepDays) * 24 * time.Hour)

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, pruneSpeedTestsSQL, formatTime(cutoff))
	if err != nil {
		return 0, errFactory.Wrap(ErrStorageAccess, err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, errFactory.Wrap(ErrStorageAccess, err)
	}

	s.log.Debug().
		Int("keep_days", keepDays).
		Int64("removed", removed).
		Msg("History pruned")

	return removed, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Checkpoint WAL on close
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.log.Debug().Err(err).Msg("Failed to checkpoint WAL")
	}

	if err := s.db.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}

	s.log.Info().Msg("History store closed")

	return nil
}

// rangeClause builds the WHERE clause shared by count, page and export reads.
func rangeClause(from, to *time.Time) (string, []any) {
	var parts []string
	var args []any

	if from != nil {
		parts = append(parts, "started_at >= ?")
		args = append(args, formatTime(*from))
	}
	if to != nil {
		parts = append(parts, "started_at <= ?")
		args = append(args, formatTime(*to))
	}

	if len(parts) == 0 {
		return "", nil
	}

	return " WHERE " + strings.Join(parts, " AND "), args
}

func (s *Store) scanResults(rows *sql.Rows) ([]SpeedTestResult, error) {
	errFactory := errors.New()
	defer rows.Close()

	items := make([]SpeedTestResult, 0)
	for rows.Next() {
		var (
			r                             SpeedTestResult
			upload, latency, jitter, loss sql.NullFloat64
			startedRaw                    string
		)

		if err := rows.Scan(
			&r.TaskID, &r.Endpoint, &r.DownloadMbps, &upload,
			&latency, &jitter, &loss, &startedRaw, &r.DurationMs,
		); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}

		r.UploadMbps = floatPtr(upload)
		r.LatencyMs = floatPtr(latency)
		r.JitterMs = floatPtr(jitter)
		r.LossPct = floatPtr(loss)

		startedAt, err := time.Parse(time.RFC3339Nano, startedRaw)
		if err != nil {
			s.log.Warn().
				Str("task_id", r.TaskID).
				Str("started_at", startedRaw).
				Msg("Unparseable started_at, substituting read time")
			startedAt = s.now()
			r.TimestampInvalid = true
		}
		r.StartedAt = startedAt.UTC()

		items = append(items, r)
	}

	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return items, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
