package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/liftlabs/liftlog-go/internal/api"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Submit all pending sessions to the backend",
		Long: `Run one drain pass over the sync queue: each pending session is
submitted in enqueue order. Items that fail are retried on the next pass;
an item that fails three times is dropped and reported.

Exits cleanly when offline — pending sessions stay queued.`,
		RunE: runSync,
	}
}

func runSync(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	app, err := openEngine(cmd.Context(), cc)
	if err != nil {
		if errors.Is(err, api.ErrNotLoggedIn) {
			return fmt.Errorf("not logged in — run 'liftlog login' first")
		}

		return err
	}
	defer app.Close()

	app.probe(cmd.Context(), cc)

	report, err := app.Engine.SyncQueue(cmd.Context())
	if err != nil {
		return err
	}

	if cc.JSON {
		return json.NewEncoder(os.Stdout).Encode(map[string]any{
			"synced":  report.Synced,
			"failed":  report.Failed,
			"dropped": report.Dropped,
			"offline": report.Offline,
			"pending": app.Engine.Pending(),
		})
	}

	if report.Offline {
		cc.Statusf("Offline — %d session(s) still queued\n", app.Engine.Pending())
		return nil
	}

	cc.Statusf("Synced %d, failed %d, dropped %d (%d pending)\n",
		report.Synced, report.Failed, report.Dropped, app.Engine.Pending())

	for _, loss := range app.Engine.Losses() {
		fmt.Fprintf(os.Stderr, "Warning: session %s dropped after %d attempts: %s\n",
			loss.SessionID, loss.Attempts, loss.LastErr)
	}

	return nil
}
