package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/liftlabs/liftlog-go/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagBaseURL    string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// httpClientTimeout is the fallback request bound for commands that run
// without resolved client config (serve). A hung request must never hold
// the drain loop (or the user's terminal) indefinitely.
const httpClientTimeout = 30 * time.Second

// CLIContext carries the resolved configuration and logger to subcommands
// through the command context.
type CLIContext struct {
	Config *config.Resolved
	Logger *slog.Logger
	JSON   bool
	Quiet  bool
}

type cliContextKey struct{}

// mustCLIContext retrieves the CLIContext installed by PersistentPreRunE.
// Panics when called outside a command run, which is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("CLIContext missing from command context")
	}

	return cc
}

// serveCommandPath skips client config resolution for the backend command,
// which configures itself from the environment.
const serveCommandPath = "liftlog serve"

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "liftlog",
		Short:   "Offline-first workout logger",
		Long:    "Log workouts offline and sync them to the backend when connectivity returns.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.CommandPath() == serveCommandPath {
				cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, &CLIContext{
					Logger: buildLogger("", "auto"),
					JSON:   flagJSON,
					Quiet:  flagQuiet,
				}))

				return nil
			}

			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "backend API base URL")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newLogCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override chain
// and installs a CLIContext on the command context.
func loadConfig(cmd *cobra.Command) error {
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	if cmd.Flags().Changed("base-url") {
		cli.BaseURL = &flagBaseURL
	}

	switch {
	case flagVerbose:
		level := "debug"
		cli.LogLevel = &level
	case flagQuiet:
		level := "error"
		cli.LogLevel = &level
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cc := &CLIContext{
		Config: resolved,
		Logger: buildLogger(resolved.LogLevel, resolved.LogFormat),
		JSON:   flagJSON,
		Quiet:  flagQuiet,
	}

	cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

	return nil
}

// buildLogger creates an slog.Logger for the given level and format. Format
// "auto" picks text on a terminal and JSON otherwise, so logs piped into a
// collector are machine-readable without configuration.
func buildLogger(levelName, format string) *slog.Logger {
	level := slog.LevelInfo

	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	useJSON := format == "json"
	if format == "auto" || format == "" {
		useJSON = !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd())
	}

	if useJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// httpClient returns an HTTP client bounded by the configured
// api.request_timeout, falling back to the built-in default.
func (cc *CLIContext) httpClient() *http.Client {
	timeout := httpClientTimeout

	if cc.Config != nil && cc.Config.RequestTimeout > 0 {
		timeout = cc.Config.RequestTimeout
	}

	return &http.Client{Timeout: timeout}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
