package snapshot

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounce = 200 * time.Millisecond

// BuildCallback is called with a newly committed build.
type BuildCallback func(b *Build)

// Watch watches the database file (and its WAL companions) for writes by a
// separate build process and calls cb once per new build id until ctx is
// cancelled. Bursts of writes are coalesced.
func Watch(ctx context.Context, db *DB, logger *slog.Logger, cb BuildCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir, base := filepath.Split(db.path)
	if dir == "" {
		dir = "."
	}
	if err := w.Add(dir); err != nil {
		return err
	}

	seen, err := db.LatestID()
	if err != nil {
		return err
	}
	logger.Info("snapshot watcher: started", slog.String("path", db.path), slog.Int64("build", seen))

	var timer *time.Timer
	var fire <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			fire = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("snapshot watcher: stopped")
			return nil

		case <-fire:
			id, err := db.LatestID()
			if err != nil {
				logger.Warn("snapshot watcher: latest id failed", slog.String("error", err.Error()))
				continue
			}
			if id <= seen {
				continue
			}
			b, err := db.LatestBuild()
			if err != nil {
				logger.Warn("snapshot watcher: load failed", slog.String("error", err.Error()))
				continue
			}
			seen = b.ID
			logger.Info("snapshot watcher: new build", slog.Int64("build", b.ID), slog.Int("posts", len(b.Posts)))
			if cb != nil {
				cb(b)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(filepath.Base(ev.Name), base) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("snapshot watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
