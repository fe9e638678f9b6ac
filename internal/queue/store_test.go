package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(":memory:", testLogger(t))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	t.Cleanup(func() { s.Close() })

	return s
}

func testItem(id string) Item {
	return Item{
		ID:         id,
		Kind:       KindWorkoutSession,
		Payload:    []byte(fmt.Sprintf(`{"id":%q}`, id)),
		EnqueuedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestStore_AppendAndList_FIFO(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.Append(ctx, testItem(id)); err != nil {
			t.Fatalf("Append(%s): %v", id, err)
		}
	}

	items, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}

	for i, want := range []string{"a", "b", "c"} {
		if items[i].ID != want {
			t.Errorf("items[%d].ID = %q, want %q", i, items[i].ID, want)
		}
	}
}

func TestStore_Append_DuplicateID(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, testItem("dup")); err != nil {
		t.Fatalf("first Append: %v", err)
	}

	err := s.Append(ctx, testItem("dup"))
	if !errors.Is(err, ErrDuplicateID) {
		t.Errorf("second Append = %v, want ErrDuplicateID", err)
	}
}

func TestStore_RemoveByID_Idempotent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"x", "y"} {
		if err := s.Append(ctx, testItem(id)); err != nil {
			t.Fatalf("Append(%s): %v", id, err)
		}
	}

	// Remove twice, then remove an id that never existed. None may error,
	// and the other item must be untouched.
	if err := s.RemoveByID(ctx, "x"); err != nil {
		t.Fatalf("RemoveByID(x): %v", err)
	}

	if err := s.RemoveByID(ctx, "x"); err != nil {
		t.Errorf("second RemoveByID(x): %v", err)
	}

	if err := s.RemoveByID(ctx, "never-existed"); err != nil {
		t.Errorf("RemoveByID(absent): %v", err)
	}

	items, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	if len(items) != 1 || items[0].ID != "y" {
		t.Errorf("remaining items = %v, want just y", items)
	}
}

func TestStore_ReplaceAll(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.Append(ctx, testItem(id)); err != nil {
			t.Fatalf("Append(%s): %v", id, err)
		}
	}

	snapshot, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	// Simulate a drain pass: a synced, b failed once, c dropped.
	b := snapshot[1]
	b.Attempts = 1

	through := snapshot[len(snapshot)-1].Seq

	if err := s.ReplaceAll(ctx, through, []Item{b}); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}

	items, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}

	if items[0].ID != "b" || items[0].Attempts != 1 {
		t.Errorf("item = %+v, want b with attempts 1", items[0])
	}
}

func TestStore_ReplaceAll_PreservesOrder(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	ids := []string{"one", "two", "three", "four"}
	items := make([]Item, 0, len(ids))

	for _, id := range ids {
		items = append(items, testItem(id))
	}

	if err := s.ReplaceAll(ctx, 0, items); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}

	got, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	for i, want := range ids {
		if got[i].ID != want {
			t.Errorf("got[%d].ID = %q, want %q", i, got[i].ID, want)
		}
	}
}

// TestStore_ReplaceAll_KeepsPostSnapshotRows covers the enqueue-racing-drain
// case: rows appended after the snapshot boundary must survive the commit
// and order after the reinserted survivors.
func TestStore_ReplaceAll_KeepsPostSnapshotRows(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := s.Append(ctx, testItem(id)); err != nil {
			t.Fatalf("Append(%s): %v", id, err)
		}
	}

	snapshot, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	// Racing enqueue lands after the snapshot was taken.
	if err := s.Append(ctx, testItem("racer")); err != nil {
		t.Fatalf("Append(racer): %v", err)
	}

	// Drain commit: a synced, b stays with a bumped counter.
	b := snapshot[1]
	b.Attempts = 1

	if err := s.ReplaceAll(ctx, snapshot[1].Seq, []Item{b}); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}

	got, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("got %d items, want 2 (survivor + racer)", len(got))
	}

	if got[0].ID != "b" || got[1].ID != "racer" {
		t.Errorf("order = [%s %s], want [b racer]", got[0].ID, got[1].ID)
	}

	if got[0].Attempts != 1 {
		t.Errorf("survivor attempts = %d, want 1", got[0].Attempts)
	}
}

func TestStore_Clear(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, testItem("z")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}

	if n != 0 {
		t.Errorf("Count after Clear = %d, want 0", n)
	}
}

// TestStore_PersistsAcrossReopen covers crash safety at the store level: a
// committed ReplaceAll must be exactly what a fresh open observes.
func TestStore_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	s, err := NewStore(dbPath, testLogger(t))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	first := testItem("persist-1")
	second := testItem("persist-2")
	second.Attempts = 2

	if err := s.ReplaceAll(ctx, 0, []Item{first, second}); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewStore(dbPath, testLogger(t))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	items, err := reopened.List(ctx)
	if err != nil {
		t.Fatalf("List after reopen: %v", err)
	}

	if len(items) != 2 {
		t.Fatalf("got %d items after reopen, want 2", len(items))
	}

	if items[0].ID != "persist-1" || items[1].ID != "persist-2" {
		t.Errorf("order after reopen = [%s %s], want [persist-1 persist-2]", items[0].ID, items[1].ID)
	}

	if items[1].Attempts != 2 {
		t.Errorf("attempts after reopen = %d, want 2", items[1].Attempts)
	}

	if items[0].EnqueuedAt.IsZero() {
		t.Error("enqueued_at lost across reopen")
	}
}

func TestStore_Count(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}

	if n != 0 {
		t.Errorf("empty Count = %d, want 0", n)
	}

	for i := range 5 {
		if err := s.Append(ctx, testItem(fmt.Sprintf("c%d", i))); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	n, err = s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}

	if n != 5 {
		t.Errorf("Count = %d, want 5", n)
	}
}
