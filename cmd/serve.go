package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serves the REST API. Without redis.addr the job workers, the daily
subscription schedule and the cache purge run in the same process.`,
		RunE: withApp(func(cmd *cobra.Command, app App) error {
			return app.Serve(cmd.Context())
		}),
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume background jobs from Redis",
		RunE: withApp(func(cmd *cobra.Command, app App) error {
			return app.Work(cmd.Context())
		}),
	}
}

func newSchedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Trigger the daily subscription run",
		RunE: withApp(func(cmd *cobra.Command, app App) error {
			return app.Schedule(cmd.Context())
		}),
	}
}
