package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/liftlabs/liftlog-go/internal/api"
)

func newLogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log [file]",
		Short: "Enqueue a workout session for sync",
		Long: `Read a workout session as JSON from a file (or stdin with no argument)
and append it to the durable sync queue.

The session is persisted locally and assigned its permanent ids before the
command returns; no network access happens. Run 'liftlog sync' or keep
'liftlog watch' running to submit it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runLog,
	}
}

func runLog(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	var (
		data []byte
		err  error
	)

	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading session file: %w", err)
		}
	} else {
		data, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading session from stdin: %w", err)
		}
	}

	var draft api.WorkoutSession
	if err := json.Unmarshal(data, &draft); err != nil {
		return fmt.Errorf("parsing session JSON: %w", err)
	}

	app, err := openQueueOnly(cmd.Context(), cc)
	if err != nil {
		return err
	}
	defer app.Close()

	id, err := app.Engine.AddWorkoutSession(cmd.Context(), &draft)
	if err != nil {
		return err
	}

	if cc.JSON {
		return json.NewEncoder(os.Stdout).Encode(map[string]any{
			"session_id": id,
			"pending":    app.Engine.Pending(),
		})
	}

	cc.Statusf("Queued session %s (%d pending)\n", id, app.Engine.Pending())

	return nil
}
