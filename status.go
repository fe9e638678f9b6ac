package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/liftlabs/liftlog-go/internal/queue"
	"github.com/liftlabs/liftlog-go/internal/tokenfile"
)

// Token state constants for status reporting.
const (
	tokenStateMissing = "missing"
	tokenStateExpired = "expired"
	tokenStateValid   = "valid"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show login state and pending queue",
		Long: `Display the account, token validity, and every session waiting in the
sync queue. Reads local state only — never touches the network.`,
		RunE: runStatus,
	}
}

// statusReport is the JSON shape of the status output.
type statusReport struct {
	Email      string       `json:"email,omitempty"`
	TokenState string       `json:"token_state"`
	Pending    int          `json:"pending"`
	Items      []statusItem `json:"items,omitempty"`
}

type statusItem struct {
	SessionID  string    `json:"session_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	report := statusReport{TokenState: tokenStateMissing}

	tok, email, err := tokenfile.Load(cc.Config.TokenPath)
	if err != nil {
		return fmt.Errorf("reading credentials: %w", err)
	}

	if tok != nil {
		report.Email = email
		report.TokenState = tokenStateValid

		if !tok.Expiry.IsZero() && time.Now().After(tok.Expiry) && tok.RefreshToken == "" {
			report.TokenState = tokenStateExpired
		}
	}

	store, err := queue.NewStore(cc.Config.QueuePath, cc.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	items, err := store.List(cmd.Context())
	if err != nil {
		return err
	}

	report.Pending = len(items)

	for _, item := range items {
		report.Items = append(report.Items, statusItem{
			SessionID:  sessionIDFromItem(item),
			EnqueuedAt: item.EnqueuedAt,
			Attempts:   item.Attempts,
		})
	}

	if cc.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(report)
	}

	printStatusText(&report)

	return nil
}

// sessionIDFromItem prefers the payload's id but falls back to the queue
// item id (they are the same for sessions enqueued by this client).
func sessionIDFromItem(item queue.Item) string {
	var payload struct {
		ID string `json:"id"`
	}

	if err := json.Unmarshal(item.Payload, &payload); err == nil && payload.ID != "" {
		return payload.ID
	}

	return item.ID
}

func printStatusText(report *statusReport) {
	if report.Email == "" {
		fmt.Println("Not logged in. Run 'liftlog login' to get started.")
	} else {
		fmt.Printf("Account: %s\n", report.Email)
		fmt.Printf("Token:   %s\n", report.TokenState)
	}

	if report.Pending == 0 {
		fmt.Println("Queue:   empty")
		return
	}

	fmt.Printf("Queue:   %d pending\n\n", report.Pending)

	rows := make([][]string, 0, len(report.Items))
	for _, item := range report.Items {
		rows = append(rows, []string{
			item.SessionID,
			formatTime(item.EnqueuedAt),
			fmt.Sprintf("%d", item.Attempts),
		})
	}

	printTable(os.Stdout, []string{"SESSION", "QUEUED", "ATTEMPTS"}, rows)
}
