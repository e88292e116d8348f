package history

import (
	"database/sql"

	"codeberg.org/mutker/pulsecore/internal/errors"
	"codeberg.org/mutker/pulsecore/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS settings (
	       id    INTEGER PRIMARY KEY CHECK (id = 1),
	       json  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS speed_tests (
	       task_id        TEXT PRIMARY KEY,
	       endpoint       TEXT NOT NULL,
	       download_mbps  REAL NOT NULL,
	       upload_mbps    REAL,
	       latency_ms     REAL,
	       jitter_ms      REAL,
	       loss_pct       REAL,
	       started_at     TEXT NOT NULL,
	       duration_ms    INTEGER NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS idx_speed_tests_started_at ON speed_tests (started_at);`

	upsertSettingsSQL = `
    INSERT INTO settings (id, json) VALUES (1, ?)
    ON CONFLICT(id) DO UPDATE SET json = excluded.json`

	selectSettingsSQL = `SELECT json FROM settings WHERE id = 1`

	upsertSpeedTestSQL = `
    INSERT INTO speed_tests (
        task_id, endpoint,
        download_mbps, upload_mbps,
        latency_ms, jitter_ms, loss_pct,
        started_at, duration_ms
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(task_id) DO UPDATE SET
        endpoint = excluded.endpoint,
        download_mbps = excluded.download_mbps,
        upload_mbps = excluded.upload_mbps,
        latency_ms = excluded.latency_ms,
        jitter_ms = excluded.jitter_ms,
        loss_pct = excluded.loss_pct,
        started_at = excluded.started_at,
        duration_ms = excluded.duration_ms`

	selectSpeedTestColumns = `
    SELECT task_id, endpoint, download_mbps, upload_mbps,
           latency_ms, jitter_ms, loss_pct, started_at, duration_ms
    FROM speed_tests`

	pruneSpeedTestsSQL = `DELETE FROM speed_tests WHERE started_at < ?`
)

// InitSchema creates the schema if missing and records the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database schema...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	// Track transaction state
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Phase string
			Error string
		}{
			Phase: "create_tables",
			Error: err.Error(),
		})
	}

	if _, err := tx.Exec(`
        INSERT OR IGNORE INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Phase string
			Error string
		}{
			Phase: "record_version",
			Error: err.Error(),
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized")

	return nil
}

// GetSchemaVersion returns the recorded schema version, 0 for a fresh database
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
