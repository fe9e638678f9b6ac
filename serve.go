package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/liftlabs/liftlog-go/internal/server"
)

// serveShutdownTimeout bounds graceful drain of in-flight requests.
const serveShutdownTimeout = 10 * time.Second

// keyCleanupInterval is how often expired idempotency cache entries are
// swept. Lookups also expire lazily; the sweep just keeps the table small.
const keyCleanupInterval = time.Hour

func newServeCmd() *cobra.Command {
	var (
		addr   string
		dbPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the backend API server",
		Long: `Run the reference liftlog backend. Configuration comes from flags and
environment variables (a .env file is loaded if present):

  LIFTLOG_SERVER_SECRET  token signing secret (required)
  LIFTLOG_SERVER_ADDR    listen address (default :8080)
  LIFTLOG_SERVER_DB      database path (default liftlog-server.db)`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, addr, dbPath)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides LIFTLOG_SERVER_ADDR)")
	cmd.Flags().StringVar(&dbPath, "db", "", "database path (overrides LIFTLOG_SERVER_DB)")

	return cmd
}

func runServe(cmd *cobra.Command, addr, dbPath string) error {
	cc := mustCLIContext(cmd.Context())

	// Optional .env for local development; absence is not an error.
	if err := godotenv.Load(); err == nil {
		cc.Logger.Debug("loaded environment from .env")
	}

	secret := os.Getenv("LIFTLOG_SERVER_SECRET")
	if secret == "" {
		return fmt.Errorf("LIFTLOG_SERVER_SECRET is required")
	}

	if addr == "" {
		addr = os.Getenv("LIFTLOG_SERVER_ADDR")
	}

	if addr == "" {
		addr = ":8080"
	}

	if dbPath == "" {
		dbPath = os.Getenv("LIFTLOG_SERVER_DB")
	}

	if dbPath == "" {
		dbPath = "liftlog-server.db"
	}

	store, err := server.NewStore(dbPath, cc.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	srv := server.New(addr, store, []byte(secret), cc.Logger)

	ctx := shutdownContext(cmd.Context(), cc.Logger)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)

	g.Go(func() error {
		ticker := time.NewTicker(keyCleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if n, err := store.CleanupExpiredKeys(ctx); err != nil {
					cc.Logger.Warn("idempotency key cleanup failed", "error", err)
				} else if n > 0 {
					cc.Logger.Info("expired idempotency keys removed", "count", n)
				}
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), serveShutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
