// Package queue provides crash-safe persistence for the pending sync queue.
//
// The store is an embedded SQLite database in WAL mode. The queue is a FIFO
// sequence ordered by the autoincrement seq column; insertion order is
// submission order and is never reordered. Every mutation is a single
// transaction, so after a crash the store's content is exactly the last
// committed write.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// Sentinel errors. Use errors.Is to check.
var (
	// ErrStorageUnavailable wraps all persistence-layer failures (disk full,
	// corruption, locked database). Callers must not assume anything was
	// written when they see it.
	ErrStorageUnavailable = errors.New("queue: storage unavailable")

	// ErrDuplicateID is returned by Append when the item id already exists.
	// Ids are assigned once at creation; a caller re-submitting a persisted
	// draft can treat this as already enqueued.
	ErrDuplicateID = errors.New("queue: duplicate item id")
)

// Store persists the ordered Item collection across process restarts.
// It is the sole writer of its database (SetMaxOpenConns(1)).
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (or creates) the queue database at dbPath, applies
// migrations, and returns the store. Use ":memory:" for tests.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("queue: opening database: %w", err)
	}

	// Single connection: SQLite allows one writer, and a second pooled
	// connection would not see :memory: databases at all.
	db.SetMaxOpenConns(1)

	if err := setPragmas(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("queue database ready", slog.String("path", dbPath))

	return &Store{db: db, logger: logger}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// setPragmas configures SQLite for WAL mode and full durability.
func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("queue: %s: %w", p, err)
		}
	}

	return nil
}

const sqlInsertItem = `INSERT INTO queue_items (id, kind, payload, enqueued_at, attempts)
	VALUES (?, ?, ?, ?, ?)`

// Append adds an item to the tail of the queue.
func (s *Store) Append(ctx context.Context, item Item) error {
	_, err := s.db.ExecContext(ctx, sqlInsertItem,
		item.ID, string(item.Kind), string(item.Payload),
		item.EnqueuedAt.UnixMilli(), item.Attempts,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateID, item.ID)
		}

		return storageErr("appending item", err)
	}

	s.logger.Debug("item enqueued",
		slog.String("item_id", item.ID),
		slog.String("kind", string(item.Kind)),
	)

	return nil
}

// List returns the full queue in FIFO order. Read-only; safe to call
// concurrently with no in-flight mutation.
func (s *Store) List(ctx context.Context) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, kind, payload, enqueued_at, attempts
		 FROM queue_items ORDER BY seq`)
	if err != nil {
		return nil, storageErr("listing items", err)
	}
	defer rows.Close()

	var items []Item

	for rows.Next() {
		var (
			item       Item
			kind       string
			payload    string
			enqueuedAt int64
		)

		if err := rows.Scan(&item.Seq, &item.ID, &kind, &payload, &enqueuedAt, &item.Attempts); err != nil {
			return nil, storageErr("scanning item", err)
		}

		item.Kind = Kind(kind)
		item.Payload = []byte(payload)
		item.EnqueuedAt = time.UnixMilli(enqueuedAt).UTC()

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("iterating items", err)
	}

	return items, nil
}

// RemoveByID removes exactly one matching item if present. Removing an
// absent id is a no-op, not an error — this makes cleanup after a race
// idempotent.
func (s *Store) RemoveByID(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM queue_items WHERE id = ?`, id)
	if err != nil {
		return storageErr("removing item", err)
	}

	return nil
}

// ReplaceAll atomically replaces the snapshot portion of the queue (rows
// with seq <= through) with items. This is the single commit point of a
// drain pass: updated attempts counters and removals land in one
// transaction, so a crash mid-pass re-derives from the last
// fully-committed state.
//
// Rows appended after the snapshot was taken have seq > through and are
// left untouched — an enqueue racing a drain is never lost. Survivors are
// reinserted with their original seq so FIFO order holds across the
// boundary.
func (s *Store) ReplaceAll(ctx context.Context, through int64, items []Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("beginning replace", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_items WHERE seq <= ?`, through); err != nil {
		return storageErr("clearing for replace", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO queue_items (seq, id, kind, payload, enqueued_at, attempts)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return storageErr("preparing replace insert", err)
	}
	defer stmt.Close()

	for i := range items {
		item := &items[i]

		// Items without a seq (never persisted) go to the tail.
		seq := sql.NullInt64{Int64: item.Seq, Valid: item.Seq != 0}

		_, execErr := stmt.ExecContext(ctx,
			seq, item.ID, string(item.Kind), string(item.Payload),
			item.EnqueuedAt.UnixMilli(), item.Attempts,
		)
		if execErr != nil {
			return storageErr(fmt.Sprintf("replacing item %s", item.ID), execErr)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("committing replace", err)
	}

	return nil
}

// Clear empties the store. Used for account logout and test reset only —
// the drain loop never calls it.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM queue_items`)
	if err != nil {
		return storageErr("clearing queue", err)
	}

	s.logger.Info("queue cleared")

	return nil
}

// Count returns the number of pending items.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int

	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_items`).Scan(&n)
	if err != nil {
		return 0, storageErr("counting items", err)
	}

	return n, nil
}

// storageErr wraps a database error as ErrStorageUnavailable with context.
func storageErr(desc string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, desc, err)
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
// The modernc driver exposes no typed constraint error, so match the
// SQLite error text.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
