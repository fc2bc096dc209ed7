package writer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/schollz/progressbar/v3"

	"github.com/lamim/skipdoc/internal/batch"
	"github.com/lamim/skipdoc/pkg/models"
)

// ErrSessionLocked is returned when another export holds the session lock
var ErrSessionLocked = errors.New("session is locked by another export")

// Exporter writes one epoch of every split into a session directory
type Exporter struct {
	Session  *SessionManager
	Format   Format
	Progress io.Writer // progress bars are drawn here; nil disables them
	Logger   *slog.Logger
}

// Export drains each source once, in split order, and returns what was
// written per split. The session lock is held for the whole export.
func (e *Exporter) Export(ctx context.Context, sources map[models.SplitName]*batch.Source) (map[models.SplitName]*models.SplitStats, error) {
	logger := e.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	format := e.Format
	if format == "" {
		format = FormatJSONL
	}

	lock := flock.New(e.Session.GetLockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock session: %w", err)
	}
	if !locked {
		return nil, ErrSessionLocked
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("Failed to release session lock", "error", err)
		}
	}()

	stats := make(map[models.SplitName]*models.SplitStats, len(sources))
	for _, name := range models.Splits {
		src, ok := sources[name]
		if !ok {
			continue
		}
		st, err := e.exportSplit(ctx, src, format, logger)
		if err != nil {
			return stats, err
		}
		stats[name] = st
	}
	return stats, nil
}

func (e *Exporter) exportSplit(ctx context.Context, src *batch.Source, format Format, logger *slog.Logger) (st *models.SplitStats, err error) {
	path := e.Session.GetBatchesPath(src.Split(), format)
	w, err := NewBatchWriter(path, format)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	var bar *progressbar.ProgressBar
	if e.Progress != nil {
		bar = progressbar.NewOptions(src.NumBatches(),
			progressbar.OptionSetWriter(e.Progress),
			progressbar.OptionSetDescription(fmt.Sprintf("Exporting %s", src.Split())),
			progressbar.OptionShowCount(),
		)
	}

	st = &models.SplitStats{Records: src.Len(), File: filepath.Base(path)}
	for b, berr := range src.Batches(ctx) {
		if berr != nil {
			return nil, fmt.Errorf("exporting split %s: %w", src.Split(), berr)
		}
		if err := w.WriteBatch(b); err != nil {
			return nil, err
		}
		st.Batches++
		st.Examples += b.Size()
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	st.Skipped = st.Records - st.Examples

	logger.Info("Exported split",
		"split", src.Split(),
		"records", st.Records,
		"examples", st.Examples,
		"skipped", st.Skipped,
		"batches", st.Batches,
		"path", path)
	return st, nil
}
