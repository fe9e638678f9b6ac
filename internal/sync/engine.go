// Package sync implements the offline-safe workout sync engine: the durable
// enqueue path and the drain loop that submits pending sessions to the
// backend with per-attempt idempotency keys.
//
// The engine is the only component with write access to remote state. Safety
// under retry rests on two independent mechanisms: the server's idempotency
// cache (keyed by the per-attempt transport key) and the client-assigned
// resource ids, which make a replayed create surface as 409 rather than a
// duplicate session.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/liftlabs/liftlog-go/internal/api"
	"github.com/liftlabs/liftlog-go/internal/ident"
	"github.com/liftlabs/liftlog-go/internal/queue"
)

// maxAttempts is the retry ceiling: an item whose submission fails this many
// times is dropped and reported as a loss.
const maxAttempts = 3

// Store is the durable queue the engine drains. Satisfied by *queue.Store.
type Store interface {
	Append(ctx context.Context, item queue.Item) error
	List(ctx context.Context) ([]queue.Item, error)
	ReplaceAll(ctx context.Context, through int64, items []queue.Item) error
	Count(ctx context.Context) (int, error)
}

// Submitter performs the remote write. Satisfied by *api.Client.
type Submitter interface {
	CreateSession(ctx context.Context, idemKey string, session *api.WorkoutSession) (*api.Session, error)
}

// Reachability exposes the cached online signal. Satisfied by
// *netmon.Monitor. The engine never probes the network itself.
type Reachability interface {
	Online() bool
}

// EngineConfig holds the collaborators for NewEngine. Everything is
// injected — no package-level state — so tests can swap in fakes.
type EngineConfig struct {
	Store     Store
	Submitter Submitter
	Net       Reachability
	Logger    *slog.Logger

	// NewID overrides id generation (sessions, sets, idempotency keys).
	// Defaults to ident.New.
	NewID func() string

	// NowFunc overrides the clock for enqueue timestamps and loss events.
	NowFunc func() time.Time
}

// Report summarizes one drain pass. Dropped is reported separately from
// Failed: failed items remain queued, dropped items are gone.
type Report struct {
	Synced   int
	Failed   int
	Dropped  int
	Offline  bool
	Duration time.Duration
}

// LossEvent records an item dropped after exhausting the retry budget.
// This is the one place real user data is lost, so it is kept retrievable
// rather than only logged.
type LossEvent struct {
	ItemID    string
	SessionID string
	Attempts  int
	LastErr   string
	At        time.Time
}

// Engine owns the enqueue and drain protocols.
type Engine struct {
	store     Store
	submitter Submitter
	net       Reachability
	logger    *slog.Logger
	newID     func() string
	nowFunc   func() time.Time

	// draining is the re-entrancy guard: two concurrent drains would
	// submit the same item under two different idempotency keys.
	draining atomic.Bool

	pending *pendingNotifier
	losses  *lossLog
}

// NewEngine creates an Engine and seeds the pending-count signal from the
// store so observers see the right value before the first enqueue.
func NewEngine(ctx context.Context, cfg *EngineConfig) (*Engine, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.NewID == nil {
		cfg.NewID = ident.New
	}

	if cfg.NowFunc == nil {
		cfg.NowFunc = time.Now
	}

	count, err := cfg.Store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync: reading initial queue depth: %w", err)
	}

	e := &Engine{
		store:     cfg.Store,
		submitter: cfg.Submitter,
		net:       cfg.Net,
		logger:    cfg.Logger,
		newID:     cfg.NewID,
		nowFunc:   cfg.NowFunc,
		pending:   newPendingNotifier(),
		losses:    newLossLog(),
	}

	e.pending.set(count)

	return e, nil
}

// AddWorkoutSession assigns any missing client ids to the draft, persists it
// as a queue item, and returns the session id. It never performs network
// I/O — the caller can navigate away immediately.
//
// Drafts may already carry ids (resuming an edit); existing ids are kept so
// the record's server-side identity is stable across re-enqueues.
func (e *Engine) AddWorkoutSession(ctx context.Context, draft *api.WorkoutSession) (string, error) {
	if draft.ID == "" {
		draft.ID = e.newID()
	}

	for i := range draft.Sets {
		if draft.Sets[i].ID == "" {
			draft.Sets[i].ID = e.newID()
		}
	}

	payload, err := json.Marshal(draft)
	if err != nil {
		return "", fmt.Errorf("sync: encoding session %s: %w", draft.ID, err)
	}

	item := queue.Item{
		ID:         draft.ID,
		Kind:       queue.KindWorkoutSession,
		Payload:    payload,
		EnqueuedAt: e.nowFunc().UTC(),
	}

	if err := e.store.Append(ctx, item); err != nil {
		return "", fmt.Errorf("sync: enqueueing session %s: %w", draft.ID, err)
	}

	count := e.pending.add(1)

	e.logger.Info("workout session enqueued",
		slog.String("session_id", draft.ID),
		slog.Int("sets", len(draft.Sets)),
		slog.Int("pending", count),
	)

	return draft.ID, nil
}

// SyncQueue runs one drain pass: snapshot the queue, submit each item in
// FIFO order, persist the surviving set in a single ReplaceAll.
//
// A zero-effect Report (no error) is returned when offline or when another
// drain is already running. Storage failures abort the pass and propagate;
// nothing is marked as sent in that case because the queue on disk is
// untouched until the final commit.
func (e *Engine) SyncQueue(ctx context.Context) (*Report, error) {
	report := &Report{}

	if !e.draining.CompareAndSwap(false, true) {
		return report, nil
	}
	defer e.draining.Store(false)

	if !e.net.Online() {
		report.Offline = true
		return report, nil
	}

	start := e.nowFunc()

	items, err := e.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync: snapshotting queue: %w", err)
	}

	if len(items) == 0 {
		return report, nil
	}

	e.logger.Info("drain pass starting", slog.Int("pending", len(items)))

	working, abortErr := e.drainItems(ctx, items, report)

	// Commit the pass in one transaction, bounded at the snapshot's tail so
	// items enqueued mid-pass survive untouched.
	through := items[len(items)-1].Seq

	if err := e.store.ReplaceAll(ctx, through, working); err != nil {
		// The on-disk queue still holds the pre-pass state; the next pass
		// re-derives from it and at worst re-attempts items that actually
		// succeeded, which the 409 rule absorbs.
		return nil, fmt.Errorf("sync: persisting drain results: %w", err)
	}

	// Racing enqueues mean len(working) can undercount; ask the store.
	if count, err := e.store.Count(ctx); err == nil {
		e.pending.set(count)
	} else {
		e.pending.set(len(working))
	}

	report.Duration = e.nowFunc().Sub(start)

	e.logger.Info("drain pass complete",
		slog.Int("synced", report.Synced),
		slog.Int("failed", report.Failed),
		slog.Int("dropped", report.Dropped),
		slog.Duration("duration", report.Duration),
	)

	return report, abortErr
}

// drainItems submits each item once, returning the set that stays queued.
// A non-nil abort error means the pass stopped early (auth failure or
// cancellation) and the unprocessed tail was kept unchanged.
func (e *Engine) drainItems(ctx context.Context, items []queue.Item, report *Report) ([]queue.Item, error) {
	working := make([]queue.Item, 0, len(items))

	for i := range items {
		if ctx.Err() != nil {
			working = append(working, items[i:]...)
			return working, fmt.Errorf("sync: drain canceled: %w", ctx.Err())
		}

		item := items[i]

		switch e.submitOne(ctx, &item) {
		case submitSynced:
			report.Synced++
		case submitRetry:
			report.Failed++

			working = append(working, item)
		case submitDropped:
			report.Dropped++
		case submitAuthFailed:
			// The credential provider could not resolve a 401. Abort
			// without touching attempts — auth failures must not count
			// against the item's retry budget.
			working = append(working, items[i:]...)
			return working, fmt.Errorf("sync: authentication failed: %w", api.ErrUnauthorized)
		}
	}

	return working, nil
}

// submitOne outcomes.
type submitResult int

const (
	submitSynced submitResult = iota
	submitRetry
	submitDropped
	submitAuthFailed
)

// submitOne makes one physical submission attempt for the item, mutating
// its Attempts counter on failure and recording a loss when the ceiling is
// reached. The idempotency key is freshly generated for this attempt —
// safe because the resource ids inside the payload are stable.
func (e *Engine) submitOne(ctx context.Context, item *queue.Item) submitResult {
	var session api.WorkoutSession
	if err := json.Unmarshal(item.Payload, &session); err != nil {
		// A payload that cannot be decoded will never submit; let it run
		// through the normal retry budget so the loss is recorded.
		return e.recordFailure(item, fmt.Errorf("sync: decoding payload: %w", err))
	}

	idemKey := e.newID()

	_, err := e.submitter.CreateSession(ctx, idemKey, &session)

	switch {
	case err == nil:
		return submitSynced

	case errors.Is(err, api.ErrConflict):
		// The session id already exists server-side: a prior attempt
		// succeeded without the client observing it. Success, not failure.
		e.logger.Info("session already applied on server",
			slog.String("session_id", item.ID),
		)

		return submitSynced

	case errors.Is(err, api.ErrUnauthorized):
		return submitAuthFailed

	default:
		return e.recordFailure(item, err)
	}
}

// recordFailure increments the attempts counter and drops the item when the
// retry ceiling is hit.
func (e *Engine) recordFailure(item *queue.Item, err error) submitResult {
	item.Attempts++

	if item.Attempts < maxAttempts {
		e.logger.Warn("submission failed, will retry next pass",
			slog.String("session_id", item.ID),
			slog.Int("attempts", item.Attempts),
			slog.String("error", err.Error()),
		)

		return submitRetry
	}

	loss := LossEvent{
		ItemID:    item.ID,
		SessionID: item.ID,
		Attempts:  item.Attempts,
		LastErr:   err.Error(),
		At:        e.nowFunc().UTC(),
	}

	e.losses.record(loss)

	e.logger.Warn("session dropped after exhausting retries",
		slog.String("session_id", item.ID),
		slog.Int("attempts", item.Attempts),
		slog.String("last_error", loss.LastErr),
	)

	return submitDropped
}

// Pending returns the current pending-count signal.
func (e *Engine) Pending() int {
	return e.pending.get()
}

// SubscribePending returns a channel receiving the pending count after each
// change. Latest-value semantics — a slow reader sees the newest count.
func (e *Engine) SubscribePending() <-chan int {
	return e.pending.subscribe()
}

// Losses returns the loss events recorded by this process, oldest first.
func (e *Engine) Losses() []LossEvent {
	return e.losses.all()
}
