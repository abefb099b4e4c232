// Package ingest runs the invoice pipeline: it downloads each new invoice
// through a browser session, delivers it and records it in the history.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/invoice-relay/scrapers"
)

// ErrDownloadTimeout means no finished file appeared in time.
var ErrDownloadTimeout = errors.New("download timeout")

const (
	candidateExt  = ".pdf"
	inProgressExt = ".crdownload"
)

// DownloadedFile is a finished download in the watched directory.
type DownloadedFile struct {
	Path      string
	CreatedAt time.Time
}

// Snapshot is the set of candidate files present before a trigger.
type Snapshot map[string]struct{}

// Watcher detects finished downloads by polling a directory.
type Watcher struct {
	dir      string
	interval time.Duration
	logger   *slog.Logger
}

func NewWatcher(dir string, interval time.Duration, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{dir: dir, interval: interval, logger: logger}
}

func (w *Watcher) Dir() string { return w.dir }

// Prepare creates the watched directory.
func (w *Watcher) Prepare() error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}
	return nil
}

// Reset removes candidate and partial files left behind by an earlier run.
// It returns how many it removed.
func (w *Watcher) Reset() (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read download directory: %w", err)
	}
	var (
		removed int
		errs    []error
	)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != candidateExt && ext != inProgressExt {
			continue
		}
		if err := os.Remove(filepath.Join(w.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Snapshot lists the finished candidate files currently present.
func (w *Watcher) Snapshot() (Snapshot, error) {
	files, err := w.candidates()
	if err != nil {
		return nil, err
	}
	snap := make(Snapshot, len(files))
	for _, f := range files {
		snap[f.Path] = struct{}{}
	}
	return snap, nil
}

// TriggerAndWait fires trigger and polls until a finished file absent from
// before shows up. When several appear, the most recently created wins.
func (w *Watcher) TriggerAndWait(ctx context.Context, trigger scrapers.Trigger, before Snapshot, timeout time.Duration) (DownloadedFile, error) {
	if err := trigger.Fire(ctx); err != nil {
		return DownloadedFile{}, fmt.Errorf("failed to trigger download: %w", err)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		f, ok, err := w.newest(before)
		if err != nil {
			return DownloadedFile{}, err
		}
		if ok {
			return f, nil
		}

		select {
		case <-ctx.Done():
			return DownloadedFile{}, ctx.Err()
		case <-deadline.C:
			if f, ok, err := w.newest(before); err == nil && ok {
				return f, nil
			}
			return DownloadedFile{}, fmt.Errorf("%w after %s", ErrDownloadTimeout, timeout)
		case <-ticker.C:
		}
	}
}

// Quarantine discards downloads that finish after their wait timed out, so
// a straggler is never taken for the next invoice's file. For window it
// removes every finished file absent from before, then removes partial files
// so Chrome cannot complete them later. It returns how many it removed.
func (w *Watcher) Quarantine(ctx context.Context, before Snapshot, window time.Duration) (int, error) {
	deadline := time.NewTimer(window)
	defer deadline.Stop()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	removed := 0
	for {
		n, err := w.discardNew(before)
		removed += n
		if err != nil {
			return removed, err
		}

		select {
		case <-ctx.Done():
			return removed, ctx.Err()
		case <-deadline.C:
			n, err := w.discardNew(before)
			removed += n
			if err != nil {
				return removed, err
			}
			n, err = w.discardPartial()
			return removed + n, err
		case <-ticker.C:
		}
	}
}

func (w *Watcher) discardNew(before Snapshot) (int, error) {
	files, err := w.candidates()
	if err != nil {
		return 0, err
	}
	var (
		removed int
		errs    []error
	)
	for _, f := range files {
		if _, seen := before[f.Path]; seen {
			continue
		}
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		w.logger.Info("Discarded late download", "file", filepath.Base(f.Path))
		removed++
	}
	return removed, errors.Join(errs...)
}

func (w *Watcher) discardPartial() (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read download directory: %w", err)
	}
	var (
		removed int
		errs    []error
	)
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), inProgressExt) {
			continue
		}
		if err := os.Remove(filepath.Join(w.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		w.logger.Info("Discarded unfinished download", "file", e.Name())
		removed++
	}
	return removed, errors.Join(errs...)
}

func (w *Watcher) newest(before Snapshot) (DownloadedFile, bool, error) {
	files, err := w.candidates()
	if err != nil {
		return DownloadedFile{}, false, err
	}
	var (
		best  DownloadedFile
		found bool
	)
	for _, f := range files {
		if _, seen := before[f.Path]; seen {
			continue
		}
		if !found || f.CreatedAt.After(best.CreatedAt) ||
			(f.CreatedAt.Equal(best.CreatedAt) && f.Path > best.Path) {
			best, found = f, true
		}
	}
	return best, found, nil
}

// candidates lists finished PDFs. Chrome writes to *.crdownload until the
// download completes, so those never match.
func (w *Watcher) candidates() ([]DownloadedFile, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read download directory: %w", err)
	}
	files := make([]DownloadedFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), candidateExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// renamed or removed between ReadDir and Info
			continue
		}
		files = append(files, DownloadedFile{
			Path:      filepath.Join(w.dir, e.Name()),
			CreatedAt: info.ModTime(),
		})
	}
	return files, nil
}
