// Package cmd defines the CLI commands of the portal executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fleetinfo/portal/internal/config"
	"github.com/fleetinfo/portal/internal/logging"
	"github.com/fleetinfo/portal/internal/server"
)

// App is what the subcommands need from the built application. Tests swap
// in a fake through newApp.
type App interface {
	Serve(ctx context.Context) error
	Work(ctx context.Context) error
	Schedule(ctx context.Context) error
	Migrate(ctx context.Context) error
	IssueToken(ctx context.Context, email string) (string, time.Time, error)
	ProcessSubscriptions(ctx context.Context) error
	Close()
}

type appKeyType string

const appKey appKeyType = "app"

var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return server.Build(ctx, cfg, logger)
}

var loadConfig = config.Load

// newRootCmd builds the command tree. The application is created once in
// PersistentPreRunE and closed by withApp when the subcommand returns.
func newRootCmd() *cobra.Command {
	var cfgFile string
	var logger *zap.Logger

	cmd := &cobra.Command{
		Use:           "portal",
		Short:         "Fleet information portal server",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `portal serves the fleet information REST API and runs its background
jobs: scraping news sources, generating AI content and processing content
subscriptions.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(*cobra.Command, []string) {
			if logger != nil {
				_ = logger.Sync() //nolint:errcheck // stderr sync fails on some terminals
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env PORTAL_* overrides it)")

	cmd.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newSchedulerCmd(),
		newMigrateCmd(),
		newTokenCmd(),
		newProcessSubscriptionsCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// withApp adapts fn to a RunE that closes the application afterwards, even
// when fn fails.
func withApp(fn func(cmd *cobra.Command, app App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		app, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()
		return fn(cmd, app)
	}
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "portal: %v\n", err)
		stop()
		os.Exit(1) //nolint:gocritic // stop already ran
	}
}
