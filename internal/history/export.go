package history

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"

	"codeberg.org/mutker/pulsecore/internal/errors"
)

var exportHeader = []string{
	"task_id",
	"endpoint",
	"download_mbps",
	"upload_mbps",
	"latency_ms",
	"jitter_ms",
	"loss_pct",
	"started_at",
	"duration_ms",
}

// ExportCSV writes every record in r to path, most recent first. The file is
// written next to path and renamed into place, so a failed export never
// leaves a partial file behind.
func (s *Store) ExportCSV(ctx context.Context, path string, r TimeRange) (ExportResult, error) {
	errFactory := errors.New()

	if path == "" {
		return ExportResult{}, errFactory.WithData(ErrExportFailed, "export path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), defaultDirPerm); err != nil {
		return ExportResult{}, errFactory.WithData(ErrExportFailed, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  path,
			Error: err.Error(),
		})
	}

	where, args := rangeClause(r.From, r.To)
	rows, err := s.db.QueryContext(ctx, selectSpeedTestColumns+where+" ORDER BY started_at DESC", args...)
	if err != nil {
		return ExportResult{}, errFactory.Wrap(ErrStorageAccess, err)
	}

	items, err := s.scanResults(rows)
	if err != nil {
		return ExportResult{}, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*.csv")
	if err != nil {
		return ExportResult{}, errFactory.Wrap(ErrExportFailed, err)
	}
	tmpPath := tmp.Name()
	renamed := false
	defer func() {
		if !renamed {
			os.Remove(tmpPath)
		}
	}()

	w := csv.NewWriter(tmp)
	if err := w.Write(exportHeader); err != nil {
		tmp.Close()
		return ExportResult{}, errFactory.Wrap(ErrExportFailed, err)
	}
	for i := range items {
		if err := w.Write(exportRow(items[i])); err != nil {
			tmp.Close()
			return ExportResult{}, errFactory.Wrap(ErrExportFailed, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return ExportResult{}, errFactory.Wrap(ErrExportFailed, err)
	}

	if err := tmp.Chmod(defaultFilePerm); err != nil {
		s.log.Debug().Err(err).Msg("Failed to set export file mode")
	}
	if err := tmp.Close(); err != nil {
		return ExportResult{}, errFactory.Wrap(ErrExportFailed, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return ExportResult{}, errFactory.WithData(ErrExportFailed, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "rename",
			Path:  path,
			Error: err.Error(),
		})
	}
	renamed = true

	s.log.Info().
		Str("path", path).
		Int("rows", len(items)).
		Msg("History exported")

	return ExportResult{Path: path, Rows: uint64(len(items))}, nil
}

func exportRow(r SpeedTestResult) []string {
	return []string{
		r.TaskID,
		r.Endpoint,
		formatNumber(r.DownloadMbps),
		formatOptional(r.UploadMbps),
		formatOptional(r.LatencyMs),
		formatOptional(r.JitterMs),
		formatOptional(r.LossPct),
		formatTime(r.StartedAt),
		strconv.FormatInt(r.DurationMs, 10),
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatNumber(*v)
}
