// Package netmon maintains the process-wide "online" signal. The flag is
// updated by whatever connectivity events the host provides (in the CLI,
// a periodic probe in watch mode) — consumers read the cached value and
// never probe the network themselves.
package netmon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
)

// Startup probe bounds. The probe is a one-time reachability check; it
// retries briefly so a flaky first packet does not mark a connected device
// offline, but gives up fast enough not to stall CLI startup.
const (
	probeBaseDelay  = 250 * time.Millisecond
	probeMaxRetries = 2
	probeTimeout    = 5 * time.Second
)

// Monitor holds a single boolean online flag and notifies observers on
// transitions. Safe for concurrent use.
type Monitor struct {
	online atomic.Bool
	logger *slog.Logger

	mu       sync.Mutex
	onOnline func()
	subs     []chan bool
}

// New creates a Monitor that starts offline until Probe or SetOnline says
// otherwise.
func New(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{logger: logger}
}

// Online reports the current cached connectivity state.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// OnOnline registers the handler fired once per offline-to-online
// transition. The sync engine's drain hangs off this.
func (m *Monitor) OnOnline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.onOnline = fn
}

// SetOnline updates the flag from a host connectivity event. The transition
// handler runs synchronously on the calling goroutine, and only on an
// actual offline-to-online edge — repeated "online" events are absorbed.
func (m *Monitor) SetOnline(online bool) {
	was := m.online.Swap(online)
	if was == online {
		return
	}

	m.logger.Info("connectivity changed", slog.Bool("online", online))

	m.notify(online)

	if online {
		m.mu.Lock()
		fn := m.onOnline
		m.mu.Unlock()

		if fn != nil {
			fn()
		}
	}
}

// Probe performs the one-time startup reachability check against probeURL
// (normally the API base URL) and seeds the online flag with the result.
// Unreachable is a state, not an error — Probe only returns an error for a
// misconstructed request.
func (m *Monitor) Probe(ctx context.Context, httpClient *http.Client, probeURL string) error {
	backoff := retry.WithMaxRetries(probeMaxRetries, retry.NewFibonacci(probeBaseDelay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		reqCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()

		req, reqErr := http.NewRequestWithContext(reqCtx, http.MethodHead, probeURL, nil)
		if reqErr != nil {
			return reqErr
		}

		resp, doErr := httpClient.Do(req)
		if doErr != nil {
			return retry.RetryableError(doErr)
		}

		resp.Body.Close()

		// Any HTTP response at all means the network path is up; the
		// status code is the server's business.
		return nil
	})

	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("netmon: probe canceled: %w", ctx.Err())
		}

		m.logger.Info("startup probe failed, starting offline",
			slog.String("error", err.Error()),
		)

		m.SetOnline(false)

		return nil
	}

	m.SetOnline(true)

	return nil
}

// Subscribe returns a channel receiving the online flag after each
// transition. The channel holds only the latest value: a slow reader sees
// the newest state, never a backlog.
func (m *Monitor) Subscribe() <-chan bool {
	ch := make(chan bool, 1)

	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()

	return ch
}

// notify pushes the new state to all subscribers, latest-value-wins.
func (m *Monitor) notify(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ch := range m.subs {
		// Drain a stale value so the buffered send below cannot block.
		select {
		case <-ch:
		default:
		}

		select {
		case ch <- online:
		default:
		}
	}
}
