// Package spool ingests operation files dropped by field tools. Survey
// apps and import scripts that cannot link the queue directly write one
// JSON file per operation into a spool directory; the watcher enqueues
// each file and archives it. This is the file-based admission path into
// the sync queue — the programmatic path is engine.Enqueue.
package spool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/relieftools/fieldsync/internal/queue"
)

// Subdirectories for processed and rejected operation files. Files are
// moved, never deleted, so an ingestion bug can always be replayed.
const (
	doneDir   = "processed"
	rejectDir = "rejected"
)

// settleDelay gives the writing process time to finish the file after the
// create event fires. Spool files are small; partial reads past this
// window surface as JSON errors and land in rejected/.
const settleDelay = 200 * time.Millisecond

// Operation is the on-disk format of one spool file.
type Operation struct {
	Type       string          `json:"type"`
	Action     string          `json:"action"`
	EntityUUID string          `json:"entityUuid"`
	Data       json.RawMessage `json:"data,omitempty"`
	Priority   int             `json:"priority,omitempty"`
}

// Enqueuer admits validated operations into the sync queue. Satisfied by
// *engine.Engine.
type Enqueuer interface {
	Enqueue(
		ctx context.Context, typ queue.EntityType, action queue.Action,
		entityUUID string, payload json.RawMessage, priority int,
	) (string, error)
}

// Watcher ingests operation files from a spool directory.
type Watcher struct {
	dir      string
	enqueuer Enqueuer
	logger   *slog.Logger
}

// NewWatcher creates a watcher for dir. The directory and its processed/
// and rejected/ subdirectories are created if missing.
func NewWatcher(dir string, enqueuer Enqueuer, logger *slog.Logger) (*Watcher, error) {
	for _, d := range []string{dir, filepath.Join(dir, doneDir), filepath.Join(dir, rejectDir)} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return nil, fmt.Errorf("spool: creating directory %s: %w", d, err)
		}
	}

	return &Watcher{dir: dir, enqueuer: enqueuer, logger: logger}, nil
}

// Run ingests files already present in the spool, then watches for new
// ones until the context is canceled. Returns nil on clean shutdown.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("spool: creating filesystem watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("spool: watching %s: %w", w.dir, err)
	}

	// Drain files that arrived before the watch was registered.
	if n := w.ScanOnce(ctx); n > 0 {
		w.logger.Info("ingested existing spool files", slog.Int("count", n))
	}

	w.logger.Info("spool watcher started", slog.String("dir", w.dir))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			if !isOpFile(event.Name) {
				continue
			}

			// Writers may still be flushing when the create event fires.
			if sleepErr := sleepCtx(ctx, settleDelay); sleepErr != nil {
				return nil
			}

			w.ingestFile(ctx, event.Name)

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("spool watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// ScanOnce ingests every operation file currently in the spool directory
// and returns the number handled. Also used by the one-shot sync command
// so a daemon is not required for spool ingestion.
func (w *Watcher) ScanOnce(ctx context.Context) int {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("spool scan failed", slog.String("error", err.Error()))
		return 0
	}

	count := 0

	for _, entry := range entries {
		if entry.IsDir() || !isOpFile(entry.Name()) {
			continue
		}

		w.ingestFile(ctx, filepath.Join(w.dir, entry.Name()))
		count++
	}

	return count
}

// ingestFile parses one operation file, enqueues it, and moves it to
// processed/ on success or rejected/ on any failure.
func (w *Watcher) ingestFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Renamed-away or already-handled files are not failures.
		if errors.Is(err, fs.ErrNotExist) {
			return
		}

		w.logger.Warn("reading spool file failed",
			slog.String("file", path),
			slog.String("error", err.Error()),
		)
		w.archive(path, rejectDir)

		return
	}

	var op Operation

	if err := json.Unmarshal(data, &op); err != nil {
		w.logger.Warn("malformed spool file",
			slog.String("file", path),
			slog.String("error", err.Error()),
		)
		w.archive(path, rejectDir)

		return
	}

	id, err := w.enqueuer.Enqueue(ctx,
		queue.EntityType(op.Type), queue.Action(op.Action),
		op.EntityUUID, op.Data, op.Priority,
	)
	if err != nil {
		w.logger.Warn("spool operation rejected",
			slog.String("file", path),
			slog.String("error", err.Error()),
		)
		w.archive(path, rejectDir)

		return
	}

	w.logger.Info("spool operation enqueued",
		slog.String("file", filepath.Base(path)),
		slog.String("uuid", id),
	)
	w.archive(path, doneDir)
}

// archive moves a handled file into the given subdirectory, prefixing a
// timestamp so repeated drops of the same filename never collide.
func (w *Watcher) archive(path, subdir string) {
	name := fmt.Sprintf("%d-%s", time.Now().UnixNano(), filepath.Base(path))

	if err := os.Rename(path, filepath.Join(w.dir, subdir, name)); err != nil {
		w.logger.Warn("archiving spool file failed",
			slog.String("file", path),
			slog.String("error", err.Error()),
		)
	}
}

// isOpFile reports whether a path looks like an operation file.
func isOpFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// sleepCtx waits for d or until the context is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
