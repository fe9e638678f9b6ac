package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/liftlabs/liftlog-go/internal/api"
	"github.com/liftlabs/liftlog-go/internal/queue"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(testWriter{t}, nil))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// fakeSubmitter records every physical submission attempt and delegates the
// outcome to respond.
type fakeSubmitter struct {
	calls   []submissionCall
	respond func(call submissionCall) error
}

type submissionCall struct {
	IdemKey   string
	SessionID string
}

func (f *fakeSubmitter) CreateSession(_ context.Context, idemKey string, session *api.WorkoutSession) (*api.Session, error) {
	call := submissionCall{IdemKey: idemKey, SessionID: session.ID}
	f.calls = append(f.calls, call)

	if f.respond != nil {
		if err := f.respond(call); err != nil {
			return nil, err
		}
	}

	return &api.Session{ID: session.ID}, nil
}

// fakeNet is a settable Reachability.
type fakeNet struct{ online bool }

func (f *fakeNet) Online() bool { return f.online }

func serverError() error {
	return &api.APIError{StatusCode: http.StatusInternalServerError, Err: api.ErrServerError}
}

func conflictError() error {
	return &api.APIError{StatusCode: http.StatusConflict, Err: api.ErrConflict}
}

type engineFixture struct {
	engine    *Engine
	store     *queue.Store
	submitter *fakeSubmitter
	net       *fakeNet
}

func newFixture(t *testing.T) *engineFixture {
	t.Helper()

	store, err := queue.NewStore(":memory:", testLogger(t))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	t.Cleanup(func() { store.Close() })

	submitter := &fakeSubmitter{}
	net := &fakeNet{online: true}

	engine, err := NewEngine(context.Background(), &EngineConfig{
		Store:     store,
		Submitter: submitter,
		Net:       net,
		Logger:    testLogger(t),
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	return &engineFixture{engine: engine, store: store, submitter: submitter, net: net}
}

func draftSession(name string) *api.WorkoutSession {
	return &api.WorkoutSession{
		WorkoutName: name,
		Date:        "2026-08-23",
		Sets: []api.WorkoutSet{
			{ExerciseID: "ex-bench", SetNumber: 1, Weight: 80, Reps: 8, Completed: true},
			{ExerciseID: "ex-bench", SetNumber: 2, Weight: 80, Reps: 6, Completed: true},
		},
	}
}

func TestAddWorkoutSession_AssignsMissingIDs(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	draft := draftSession("Push")

	id, err := fx.engine.AddWorkoutSession(context.Background(), draft)
	if err != nil {
		t.Fatalf("AddWorkoutSession: %v", err)
	}

	if id == "" || draft.ID != id {
		t.Errorf("returned id %q, draft id %q — want matching non-empty", id, draft.ID)
	}

	for i, set := range draft.Sets {
		if set.ID == "" {
			t.Errorf("set %d has no id after enqueue", i)
		}
	}

	// Enqueue never touches the network.
	if len(fx.submitter.calls) != 0 {
		t.Errorf("enqueue made %d network calls, want 0", len(fx.submitter.calls))
	}

	if fx.engine.Pending() != 1 {
		t.Errorf("pending = %d, want 1", fx.engine.Pending())
	}
}

func TestAddWorkoutSession_KeepsExistingIDs(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)

	draft := draftSession("Pull")
	draft.ID = "existing-session-id"
	draft.Sets[0].ID = "existing-set-id"

	id, err := fx.engine.AddWorkoutSession(context.Background(), draft)
	if err != nil {
		t.Fatalf("AddWorkoutSession: %v", err)
	}

	if id != "existing-session-id" {
		t.Errorf("id = %q, want existing-session-id", id)
	}

	if draft.Sets[0].ID != "existing-set-id" {
		t.Errorf("set 0 id = %q, want existing-set-id", draft.Sets[0].ID)
	}

	if draft.Sets[1].ID == "" {
		t.Error("set 1 should have been assigned an id")
	}
}

// TestSyncQueue_OfflineThenOnline is Scenario A: drain while offline makes
// zero network calls and leaves the queue intact; once online, one drain
// submits the single item exactly once.
func TestSyncQueue_OfflineThenOnline(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.net.online = false
	ctx := context.Background()

	if _, err := fx.engine.AddWorkoutSession(ctx, draftSession("Legs")); err != nil {
		t.Fatalf("AddWorkoutSession: %v", err)
	}

	report, err := fx.engine.SyncQueue(ctx)
	if err != nil {
		t.Fatalf("SyncQueue offline: %v", err)
	}

	if !report.Offline {
		t.Error("report.Offline = false while offline")
	}

	if len(fx.submitter.calls) != 0 {
		t.Errorf("offline drain made %d network calls, want 0", len(fx.submitter.calls))
	}

	if fx.engine.Pending() != 1 {
		t.Errorf("pending after offline drain = %d, want 1", fx.engine.Pending())
	}

	fx.net.online = true

	report, err = fx.engine.SyncQueue(ctx)
	if err != nil {
		t.Fatalf("SyncQueue online: %v", err)
	}

	if report.Synced != 1 || report.Failed != 0 || report.Dropped != 0 {
		t.Errorf("report = %+v, want 1 synced", report)
	}

	if len(fx.submitter.calls) != 1 {
		t.Errorf("made %d create calls, want exactly 1", len(fx.submitter.calls))
	}

	if fx.engine.Pending() != 0 {
		t.Errorf("pending after sync = %d, want 0", fx.engine.Pending())
	}
}

// TestSyncQueue_FIFOOrderDistinctKeys is Scenario C / P2: three sessions
// enqueued back-to-back are submitted in enqueue order, each under its own
// idempotency key.
func TestSyncQueue_FIFOOrderDistinctKeys(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()

	var ids []string

	for _, name := range []string{"Push", "Pull", "Legs"} {
		id, err := fx.engine.AddWorkoutSession(ctx, draftSession(name))
		if err != nil {
			t.Fatalf("AddWorkoutSession(%s): %v", name, err)
		}

		ids = append(ids, id)
	}

	report, err := fx.engine.SyncQueue(ctx)
	if err != nil {
		t.Fatalf("SyncQueue: %v", err)
	}

	if report.Synced != 3 {
		t.Fatalf("synced = %d, want 3", report.Synced)
	}

	if len(fx.submitter.calls) != 3 {
		t.Fatalf("got %d calls, want 3", len(fx.submitter.calls))
	}

	keys := make(map[string]bool)

	for i, call := range fx.submitter.calls {
		if call.SessionID != ids[i] {
			t.Errorf("call %d session = %s, want %s (FIFO violated)", i, call.SessionID, ids[i])
		}

		if call.IdemKey == "" || keys[call.IdemKey] {
			t.Errorf("call %d idempotency key %q not distinct", i, call.IdemKey)
		}

		keys[call.IdemKey] = true
	}
}

// TestSyncQueue_ConflictIsSuccess is Scenario B / P1: a timeout on the first
// pass followed by a 409 on the second leaves exactly one server-side
// session, with the item removed and counted as synced.
func TestSyncQueue_ConflictIsSuccess(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()

	id, err := fx.engine.AddWorkoutSession(ctx, draftSession("Push"))
	if err != nil {
		t.Fatalf("AddWorkoutSession: %v", err)
	}

	// First pass: the request "times out" — the server may or may not have
	// applied it.
	fx.submitter.respond = func(submissionCall) error {
		return fmt.Errorf("api: POST /workout-sessions: %w", context.DeadlineExceeded)
	}

	report, err := fx.engine.SyncQueue(ctx)
	if err != nil {
		t.Fatalf("SyncQueue pass 1: %v", err)
	}

	if report.Failed != 1 || report.Synced != 0 {
		t.Fatalf("pass 1 report = %+v, want 1 failed", report)
	}

	// Second pass: the server says the session id already exists.
	fx.submitter.respond = func(submissionCall) error { return conflictError() }

	report, err = fx.engine.SyncQueue(ctx)
	if err != nil {
		t.Fatalf("SyncQueue pass 2: %v", err)
	}

	if report.Synced != 1 || report.Failed != 0 || report.Dropped != 0 {
		t.Errorf("pass 2 report = %+v, want 1 synced", report)
	}

	if fx.engine.Pending() != 0 {
		t.Errorf("pending = %d, want 0", fx.engine.Pending())
	}

	// Distinct transport keys across the two physical attempts, same
	// session id.
	if len(fx.submitter.calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(fx.submitter.calls))
	}

	if fx.submitter.calls[0].IdemKey == fx.submitter.calls[1].IdemKey {
		t.Error("idempotency key reused across physical attempts")
	}

	for i, call := range fx.submitter.calls {
		if call.SessionID != id {
			t.Errorf("call %d session id = %s, want %s", i, call.SessionID, id)
		}
	}
}

// TestSyncQueue_BoundedRetryThenDrop is Scenario D / P3: an always-failing
// item is attempted exactly three times, then dropped with a loss event.
func TestSyncQueue_BoundedRetryThenDrop(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()

	id, err := fx.engine.AddWorkoutSession(ctx, draftSession("Cursed"))
	if err != nil {
		t.Fatalf("AddWorkoutSession: %v", err)
	}

	fx.submitter.respond = func(submissionCall) error { return serverError() }

	// Passes 1 and 2: failed but still queued.
	for pass := 1; pass <= 2; pass++ {
		report, err := fx.engine.SyncQueue(ctx)
		if err != nil {
			t.Fatalf("SyncQueue pass %d: %v", pass, err)
		}

		if report.Failed != 1 || report.Dropped != 0 {
			t.Fatalf("pass %d report = %+v, want 1 failed", pass, report)
		}
	}

	// Pass 3: ceiling reached, item dropped.
	report, err := fx.engine.SyncQueue(ctx)
	if err != nil {
		t.Fatalf("SyncQueue pass 3: %v", err)
	}

	if report.Dropped != 1 || report.Failed != 0 {
		t.Fatalf("pass 3 report = %+v, want 1 dropped", report)
	}

	if fx.engine.Pending() != 0 {
		t.Errorf("pending = %d, want 0 after drop", fx.engine.Pending())
	}

	losses := fx.engine.Losses()
	if len(losses) != 1 {
		t.Fatalf("got %d loss events, want 1", len(losses))
	}

	if losses[0].SessionID != id || losses[0].Attempts != 3 {
		t.Errorf("loss = %+v, want session %s with 3 attempts", losses[0], id)
	}

	// Never a 4th attempt.
	if len(fx.submitter.calls) != 3 {
		t.Fatalf("got %d physical attempts, want exactly 3", len(fx.submitter.calls))
	}

	report, err = fx.engine.SyncQueue(ctx)
	if err != nil {
		t.Fatalf("SyncQueue pass 4: %v", err)
	}

	if len(fx.submitter.calls) != 3 {
		t.Errorf("pass 4 made extra attempts: %d total, want 3", len(fx.submitter.calls))
	}

	if report.Synced != 0 || report.Failed != 0 || report.Dropped != 0 {
		t.Errorf("pass 4 report = %+v, want all zero", report)
	}
}

// TestSyncQueue_MixedOutcomes: failures ahead in the queue do not block
// later items, and order among survivors is preserved.
func TestSyncQueue_MixedOutcomes(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()

	var ids []string

	for _, name := range []string{"A", "B", "C"} {
		id, err := fx.engine.AddWorkoutSession(ctx, draftSession(name))
		if err != nil {
			t.Fatalf("AddWorkoutSession: %v", err)
		}

		ids = append(ids, id)
	}

	// Middle item fails, others succeed.
	fx.submitter.respond = func(call submissionCall) error {
		if call.SessionID == ids[1] {
			return serverError()
		}

		return nil
	}

	report, err := fx.engine.SyncQueue(ctx)
	if err != nil {
		t.Fatalf("SyncQueue: %v", err)
	}

	if report.Synced != 2 || report.Failed != 1 {
		t.Errorf("report = %+v, want 2 synced 1 failed", report)
	}

	items, err := fx.store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	if len(items) != 1 || items[0].ID != ids[1] {
		t.Errorf("queue = %v, want only the failed middle item", items)
	}

	if items[0].Attempts != 1 {
		t.Errorf("attempts = %d, want 1", items[0].Attempts)
	}
}

// TestSyncQueue_Reentrancy: a drain started while another is in flight is a
// no-op, so the same item can never be submitted concurrently under two
// different idempotency keys.
func TestSyncQueue_Reentrancy(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.engine.AddWorkoutSession(ctx, draftSession("Slow")); err != nil {
		t.Fatalf("AddWorkoutSession: %v", err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})

	fx.submitter.respond = func(submissionCall) error {
		close(entered)
		<-release

		return nil
	}

	done := make(chan *Report, 1)

	go func() {
		report, err := fx.engine.SyncQueue(ctx)
		if err != nil {
			t.Errorf("first SyncQueue: %v", err)
		}

		done <- report
	}()

	<-entered

	// Second drain while the first is blocked mid-submission.
	second, err := fx.engine.SyncQueue(ctx)
	if err != nil {
		t.Fatalf("second SyncQueue: %v", err)
	}

	if second.Synced != 0 || second.Failed != 0 || second.Dropped != 0 || second.Offline {
		t.Errorf("concurrent drain report = %+v, want zero-effect", second)
	}

	close(release)

	first := <-done
	if first.Synced != 1 {
		t.Errorf("first drain synced = %d, want 1", first.Synced)
	}

	if len(fx.submitter.calls) != 1 {
		t.Errorf("total physical attempts = %d, want 1", len(fx.submitter.calls))
	}
}

// TestSyncQueue_EnqueueDuringDrain: an item enqueued after the drain's
// snapshot is not submitted by the running pass and survives its commit
// (second clause of P2).
func TestSyncQueue_EnqueueDuringDrain(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.engine.AddWorkoutSession(ctx, draftSession("First")); err != nil {
		t.Fatalf("AddWorkoutSession: %v", err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})

	fx.submitter.respond = func(submissionCall) error {
		close(entered)
		<-release

		return nil
	}

	done := make(chan struct{})

	go func() {
		defer close(done)

		if _, err := fx.engine.SyncQueue(ctx); err != nil {
			t.Errorf("SyncQueue: %v", err)
		}
	}()

	<-entered

	racerID, err := fx.engine.AddWorkoutSession(ctx, draftSession("Racer"))
	if err != nil {
		t.Fatalf("AddWorkoutSession during drain: %v", err)
	}

	close(release)
	<-done

	// The racing item was not submitted by the first pass...
	if len(fx.submitter.calls) != 1 {
		t.Fatalf("first pass made %d calls, want 1", len(fx.submitter.calls))
	}

	// ...and is still queued for the next one.
	items, err := fx.store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	if len(items) != 1 || items[0].ID != racerID {
		t.Fatalf("queue after drain = %v, want only the racing item", items)
	}

	fx.submitter.respond = nil

	report, err := fx.engine.SyncQueue(ctx)
	if err != nil {
		t.Fatalf("second SyncQueue: %v", err)
	}

	if report.Synced != 1 {
		t.Errorf("second pass synced = %d, want 1", report.Synced)
	}
}

// TestSyncQueue_AuthFailureDoesNotBurnAttempts: a 401 that survives the
// client's refresh-and-retry aborts the pass without touching any attempts
// counter.
func TestSyncQueue_AuthFailureDoesNotBurnAttempts(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()

	for _, name := range []string{"One", "Two"} {
		if _, err := fx.engine.AddWorkoutSession(ctx, draftSession(name)); err != nil {
			t.Fatalf("AddWorkoutSession: %v", err)
		}
	}

	fx.submitter.respond = func(submissionCall) error {
		return &api.APIError{StatusCode: http.StatusUnauthorized, Err: api.ErrUnauthorized}
	}

	_, err := fx.engine.SyncQueue(ctx)
	if !errors.Is(err, api.ErrUnauthorized) {
		t.Fatalf("SyncQueue = %v, want ErrUnauthorized", err)
	}

	// Only the head item was attempted; the pass aborted there.
	if len(fx.submitter.calls) != 1 {
		t.Errorf("made %d attempts, want 1", len(fx.submitter.calls))
	}

	items, listErr := fx.store.List(ctx)
	if listErr != nil {
		t.Fatalf("List: %v", listErr)
	}

	if len(items) != 2 {
		t.Fatalf("queue has %d items, want 2 (nothing lost)", len(items))
	}

	for _, item := range items {
		if item.Attempts != 0 {
			t.Errorf("item %s attempts = %d, want 0 (auth must not burn retries)", item.ID, item.Attempts)
		}
	}
}

// TestSyncQueue_StorageFailureAborts: when the store cannot list, nothing
// is submitted and the error is surfaced.
func TestSyncQueue_StorageFailureAborts(t *testing.T) {
	t.Parallel()

	submitter := &fakeSubmitter{}
	store := &failingStore{}

	engine, err := NewEngine(context.Background(), &EngineConfig{
		Store:     store,
		Submitter: submitter,
		Net:       &fakeNet{online: true},
		Logger:    testLogger(t),
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	store.failList = true

	if _, err := engine.SyncQueue(context.Background()); !errors.Is(err, queue.ErrStorageUnavailable) {
		t.Errorf("SyncQueue = %v, want ErrStorageUnavailable", err)
	}

	if len(submitter.calls) != 0 {
		t.Errorf("made %d network calls despite storage failure, want 0", len(submitter.calls))
	}
}

// failingStore implements Store with injectable failures.
type failingStore struct {
	items    []queue.Item
	failList bool
}

func (f *failingStore) Append(_ context.Context, item queue.Item) error {
	f.items = append(f.items, item)
	return nil
}

func (f *failingStore) List(context.Context) ([]queue.Item, error) {
	if f.failList {
		return nil, fmt.Errorf("%w: disk on fire", queue.ErrStorageUnavailable)
	}

	return f.items, nil
}

func (f *failingStore) ReplaceAll(_ context.Context, _ int64, items []queue.Item) error {
	f.items = items
	return nil
}

func (f *failingStore) Count(context.Context) (int, error) {
	return len(f.items), nil
}

func TestSubscribePending(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()

	ch := fx.engine.SubscribePending()

	if _, err := fx.engine.AddWorkoutSession(ctx, draftSession("Push")); err != nil {
		t.Fatalf("AddWorkoutSession: %v", err)
	}

	select {
	case n := <-ch:
		if n != 1 {
			t.Errorf("pending signal = %d, want 1", n)
		}
	case <-time.After(time.Second):
		t.Fatal("no pending signal after enqueue")
	}

	if _, err := fx.engine.SyncQueue(ctx); err != nil {
		t.Fatalf("SyncQueue: %v", err)
	}

	select {
	case n := <-ch:
		if n != 0 {
			t.Errorf("pending signal = %d, want 0 after drain", n)
		}
	case <-time.After(time.Second):
		t.Fatal("no pending signal after drain")
	}
}
