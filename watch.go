package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/liftlabs/liftlog-go/internal/api"
	"github.com/liftlabs/liftlog-go/internal/spool"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the background sync loop",
		Long: `Keep syncing until interrupted: watch the drafts directory for new
sessions, probe connectivity periodically, and drain the queue on every
interval tick, on each offline-to-online transition, and whenever a new
session is enqueued while online.

Only one watcher may run per data directory; a PID file lock enforces this.`,
		RunE: runWatch,
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	pidPath := filepath.Join(filepath.Dir(cc.Config.QueuePath), "watch.pid")

	cleanup, err := writePIDFile(pidPath)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	app, err := openEngine(ctx, cc)
	if err != nil {
		if errors.Is(err, api.ErrNotLoggedIn) {
			return fmt.Errorf("not logged in — run 'liftlog login' first")
		}

		return err
	}
	defer app.Close()

	// drainRequests coalesces triggers: ticker, online edge, new enqueue.
	// Buffered(1) so a trigger during a running pass queues exactly one more.
	drainRequests := make(chan struct{}, 1)

	requestDrain := func() {
		select {
		case drainRequests <- struct{}{}:
		default:
		}
	}

	app.Monitor.OnOnline(requestDrain)

	app.probe(ctx, cc)
	requestDrain()

	watcher := spool.New(cc.Config.SpoolDir, app.Engine, cc.Logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return watcher.Run(ctx)
	})

	g.Go(func() error {
		return probeLoop(ctx, cc, app)
	})

	g.Go(func() error {
		return drainLoop(ctx, cc, app, drainRequests, requestDrain)
	})

	cc.Statusf("Watching %s (Ctrl-C to stop)\n", cc.Config.SpoolDir)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// probeLoop refreshes the online flag on the configured interval.
func probeLoop(ctx context.Context, cc *CLIContext, app *appHandles) error {
	ticker := time.NewTicker(cc.Config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			app.probe(ctx, cc)
		}
	}
}

// drainLoop runs a drain pass for every request and on the drain interval.
// New enqueues while online trigger a pass immediately instead of waiting
// for the next tick.
func drainLoop(ctx context.Context, cc *CLIContext, app *appHandles, requests <-chan struct{}, requestDrain func()) error {
	ticker := time.NewTicker(cc.Config.DrainInterval)
	defer ticker.Stop()

	pendingCh := app.Engine.SubscribePending()
	lastPending := app.Engine.Pending()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			requestDrain()

		case n := <-pendingCh:
			if n > lastPending && app.Monitor.Online() {
				requestDrain()
			}

			lastPending = n

		case <-requests:
			report, err := app.Engine.SyncQueue(ctx)

			switch {
			case err != nil && errors.Is(err, api.ErrUnauthorized):
				// Token refresh failed. Keep watching; the user can log in
				// again without restarting the watcher.
				cc.Logger.Warn("drain aborted: authentication failed")

			case err != nil && ctx.Err() != nil:
				return nil

			case err != nil:
				cc.Logger.Warn("drain pass failed", "error", err)

			case report.Synced > 0 || report.Dropped > 0:
				cc.Statusf("Synced %d, dropped %d (%d pending)\n",
					report.Synced, report.Dropped, app.Engine.Pending())
			}
		}
	}
}
