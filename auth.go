package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/liftlabs/liftlog-go/internal/api"
	"github.com/liftlabs/liftlog-go/internal/queue"
	"github.com/liftlabs/liftlog-go/internal/tokenfile"
)

func newLoginCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with the backend and save credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogin(cmd, email)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email (prompted if omitted)")

	return cmd
}

func runLogin(cmd *cobra.Command, email string) error {
	cc := mustCLIContext(cmd.Context())

	if email == "" {
		fmt.Fprint(os.Stderr, "Email: ")

		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading email: %w", err)
		}

		email = strings.TrimSpace(line)
	}

	if email == "" {
		return fmt.Errorf("email is required")
	}

	fmt.Fprint(os.Stderr, "Password: ")

	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}

	src, err := api.Login(cmd.Context(), cc.Config.BaseURL, cc.httpClient(),
		email, string(password), cc.Config.TokenPath, cc.Logger)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	cc.Statusf("Logged in as %s\n", src.Email())

	return nil
}

func newLogoutCmd() *cobra.Command {
	var keepQueue bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove saved credentials",
		Long: `Delete the saved token file. By default the pending sync queue is also
cleared, since queued sessions belong to the logged-out account; pass
--keep-queue to preserve them for the next login.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogout(cmd, keepQueue)
		},
	}

	cmd.Flags().BoolVar(&keepQueue, "keep-queue", false, "keep pending sessions in the queue")

	return cmd
}

func runLogout(cmd *cobra.Command, keepQueue bool) error {
	cc := mustCLIContext(cmd.Context())

	if err := tokenfile.Remove(cc.Config.TokenPath); err != nil {
		return fmt.Errorf("removing credentials: %w", err)
	}

	if !keepQueue {
		store, err := queue.NewStore(cc.Config.QueuePath, cc.Logger)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Clear(cmd.Context()); err != nil {
			return err
		}
	}

	cc.Statusf("Logged out\n")

	return nil
}
