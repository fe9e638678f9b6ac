// Package spool watches a drafts directory and feeds completed workout
// files into the sync queue. Other tools (editors, export scripts, the
// mobile companion) drop a JSON file per session; the watcher enqueues it
// and deletes the file, making the directory itself the handoff protocol.
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

	"github.com/liftlabs/liftlog-go/internal/api"
	"github.com/liftlabs/liftlog-go/internal/ident"
	"github.com/liftlabs/liftlog-go/internal/queue"
)

const (
	// rescanInterval is the safety net for events fsnotify missed.
	rescanInterval = time.Minute

	// rejectAge is how old an unparseable file must be before it is set
	// aside. Younger files may still be mid-write; the rescan retries them.
	rejectAge = 5 * time.Second

	// Watcher error backoff bounds.
	errInitBackoff = time.Second
	errMaxBackoff  = 30 * time.Second
)

// Enqueuer persists a draft session for later sync. Satisfied by
// *sync.Engine.
type Enqueuer interface {
	AddWorkoutSession(ctx context.Context, draft *api.WorkoutSession) (string, error)
}

// Watcher ingests draft files from a directory.
type Watcher struct {
	dir      string
	enqueuer Enqueuer
	logger   *slog.Logger
	nowFunc  func() time.Time
}

// New creates a Watcher over dir. The directory is created on Run if absent.
func New(dir string, enqueuer Enqueuer, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		dir:      dir,
		enqueuer: enqueuer,
		logger:   logger,
		nowFunc:  time.Now,
	}
}

// Run blocks processing draft files until ctx is canceled. Files already in
// the directory are processed before the watch starts, so drafts written
// while the watcher was down are not stranded.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("spool: creating drafts directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("spool: creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("spool: watching %s: %w", w.dir, err)
	}

	w.logger.Info("watching drafts directory", slog.String("dir", w.dir))

	w.scan(ctx)

	ticker := time.NewTicker(rescanInterval)
	defer ticker.Stop()

	backoff := errInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.processFile(ctx, event.Name)
			}

			backoff = errInitBackoff

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("drafts watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", backoff),
			)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}

			backoff = min(backoff*2, errMaxBackoff)

		case <-ticker.C:
			w.scan(ctx)
			backoff = errInitBackoff
		}
	}
}

// scan processes every eligible file currently in the directory.
func (w *Watcher) scan(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("scanning drafts directory failed", slog.String("error", err.Error()))
		return
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}

		if entry.IsDir() {
			continue
		}

		w.processFile(ctx, filepath.Join(w.dir, entry.Name()))
	}
}

// processFile enqueues one draft file and removes it. Unparseable files are
// left in place while young (the writer may not be done) and renamed with a
// .rejected suffix once they are clearly not going to become valid.
func (w *Watcher) processFile(ctx context.Context, path string) {
	name := filepath.Base(path)

	if !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("reading draft failed",
				slog.String("file", name),
				slog.String("error", err.Error()),
			)
		}

		return
	}

	var draft api.WorkoutSession
	if err := json.Unmarshal(data, &draft); err != nil {
		w.handleUnparseable(path, name, err)
		return
	}

	// Persist assigned ids into the file before enqueueing. A crash between
	// enqueue and delete then re-ingests the draft under the same identity
	// instead of minting a second session the server cannot deduplicate.
	if assignIDs(&draft) {
		if err := w.rewriteDraft(path, &draft); err != nil {
			w.logger.Warn("persisting draft ids failed",
				slog.String("file", name),
				slog.String("error", err.Error()),
			)

			return
		}
	}

	_, err = w.enqueuer.AddWorkoutSession(ctx, &draft)

	switch {
	case errors.Is(err, queue.ErrDuplicateID):
		// A previous pass enqueued this draft but died before the delete.
		// The handoff is already complete; just finish it.
		w.logger.Info("draft already enqueued",
			slog.String("file", name),
			slog.String("session_id", draft.ID),
		)

		w.removeDraft(path, name)

		return

	case err != nil:
		// Keep the file; the rescan retries once storage recovers.
		w.logger.Warn("enqueueing draft failed",
			slog.String("file", name),
			slog.String("error", err.Error()),
		)

		return
	}

	w.removeDraft(path, name)

	w.logger.Info("draft enqueued",
		slog.String("file", name),
		slog.String("session_id", draft.ID),
	)
}

func (w *Watcher) removeDraft(path, name string) {
	if err := os.Remove(path); err != nil {
		w.logger.Warn("removing ingested draft failed",
			slog.String("file", name),
			slog.String("error", err.Error()),
		)
	}
}

// assignIDs fills any missing session and set ids, reporting whether the
// draft changed.
func assignIDs(draft *api.WorkoutSession) bool {
	changed := false

	if draft.ID == "" {
		draft.ID = ident.New()
		changed = true
	}

	for i := range draft.Sets {
		if draft.Sets[i].ID == "" {
			draft.Sets[i].ID = ident.New()
			changed = true
		}
	}

	return changed
}

// rewriteDraft replaces the draft file atomically. The temp file carries a
// "." prefix so the watcher never tries to ingest it.
func (w *Watcher) rewriteDraft(path string, draft *api.WorkoutSession) error {
	data, err := json.MarshalIndent(draft, "", "  ")
	if err != nil {
		return fmt.Errorf("spool: encoding draft: %w", err)
	}

	tmp, err := os.CreateTemp(w.dir, ".draft-*.tmp")
	if err != nil {
		return fmt.Errorf("spool: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)

		return fmt.Errorf("spool: writing draft: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("spool: closing draft: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("spool: replacing draft: %w", err)
	}

	return nil
}

func (w *Watcher) handleUnparseable(path, name string, parseErr error) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	if w.nowFunc().Sub(info.ModTime()) < rejectAge {
		// Probably still being written.
		return
	}

	rejected := path + ".rejected"

	if err := os.Rename(path, rejected); err != nil {
		w.logger.Warn("setting aside bad draft failed",
			slog.String("file", name),
			slog.String("error", err.Error()),
		)

		return
	}

	w.logger.Warn("draft rejected: invalid JSON",
		slog.String("file", name),
		slog.String("error", parseErr.Error()),
	)
}
