package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: withApp(func(cmd *cobra.Command, app App) error {
			if err := app.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			zap.L().Info("schema up to date")
			return nil
		}),
	}
}

func newTokenCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print an access token for a user",
		RunE: withApp(func(cmd *cobra.Command, app App) error {
			if email == "" {
				return errors.New("--email is required")
			}
			token, expires, err := app.IssueToken(cmd.Context(), email)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.Format(time.RFC3339))
			return nil
		}),
	}
	cmd.Flags().StringVar(&email, "email", "", "email of the user to sign in as")
	return cmd
}

func newProcessSubscriptionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process-subscriptions",
		Short: "Queue one run over every active subscription",
		RunE: withApp(func(cmd *cobra.Command, app App) error {
			if err := app.ProcessSubscriptions(cmd.Context()); err != nil {
				return fmt.Errorf("queue subscriptions: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "queued")
			return nil
		}),
	}
}
