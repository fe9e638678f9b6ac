package netmon

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
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

func TestMonitor_StartsOffline(t *testing.T) {
	t.Parallel()

	m := New(testLogger(t))
	if m.Online() {
		t.Error("new monitor should start offline")
	}
}

func TestMonitor_TransitionFiresHandlerOnce(t *testing.T) {
	t.Parallel()

	m := New(testLogger(t))

	var fired int

	m.OnOnline(func() { fired++ })

	// Repeated offline events: no edge, no firing.
	m.SetOnline(false)
	m.SetOnline(false)

	if fired != 0 {
		t.Fatalf("handler fired %d times while offline, want 0", fired)
	}

	// The edge fires exactly once, repeats are absorbed.
	m.SetOnline(true)
	m.SetOnline(true)

	if fired != 1 {
		t.Errorf("handler fired %d times, want 1", fired)
	}

	// Going down and back up is a second edge.
	m.SetOnline(false)
	m.SetOnline(true)

	if fired != 2 {
		t.Errorf("handler fired %d times after second edge, want 2", fired)
	}
}

func TestMonitor_GoingOfflineDoesNotFire(t *testing.T) {
	t.Parallel()

	m := New(testLogger(t))

	var fired int

	m.OnOnline(func() { fired++ })

	m.SetOnline(true)
	m.SetOnline(false)

	if fired != 1 {
		t.Errorf("handler fired %d times, want 1 (offline edge must not fire)", fired)
	}
}

func TestMonitor_Subscribe_LatestValueWins(t *testing.T) {
	t.Parallel()

	m := New(testLogger(t))
	ch := m.Subscribe()

	// Two transitions with no reader in between: only the latest survives.
	m.SetOnline(true)
	m.SetOnline(false)

	select {
	case got := <-ch:
		if got {
			t.Error("subscriber got stale true, want latest false")
		}
	default:
		t.Error("subscriber channel empty after transitions")
	}
}

func TestMonitor_Probe_Reachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := New(testLogger(t))

	if err := m.Probe(context.Background(), srv.Client(), srv.URL); err != nil {
		t.Fatalf("Probe: %v", err)
	}

	if !m.Online() {
		t.Error("monitor offline after successful probe")
	}
}

func TestMonitor_Probe_ServerErrorStillOnline(t *testing.T) {
	t.Parallel()

	// A 500 proves the network path is up; the probe must not conflate
	// server health with reachability.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := New(testLogger(t))

	if err := m.Probe(context.Background(), srv.Client(), srv.URL); err != nil {
		t.Fatalf("Probe: %v", err)
	}

	if !m.Online() {
		t.Error("monitor offline after HTTP 500 probe response")
	}
}

func TestMonitor_Probe_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	srv.Close() // nothing listening anymore

	m := New(testLogger(t))

	if err := m.Probe(context.Background(), http.DefaultClient, srv.URL); err != nil {
		t.Fatalf("Probe should treat unreachable as a state, got error: %v", err)
	}

	if m.Online() {
		t.Error("monitor online after failed probe")
	}
}
