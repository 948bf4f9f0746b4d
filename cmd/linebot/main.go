package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/losehrt/fhirlinebot-sub000/internal/bootstrap"
	"github.com/losehrt/fhirlinebot-sub000/internal/config"
	"github.com/losehrt/fhirlinebot-sub000/internal/db/migrate"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "linebot",
		Short:        "LINE Login and Messaging webhook service",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server (login, webhook, admin API)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(fx.New(
				coreModule,
				serveModule,
				fx.Invoke(useTelemetry, bootstrap.CheckCredentials, listenCredentialEvents, startHTTPServer),
			))
		},
	}
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume deferred webhook tasks from Kafka",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(fx.New(
				coreModule,
				fx.Provide(newContactRepository, newTaskApplier, newConsumer),
				fx.Invoke(useTelemetry, startConsumer),
			))
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	for _, direction := range []migrate.Direction{migrate.Up, migrate.Down} {
		direction := direction
		cmd.AddCommand(&cobra.Command{
			Use:   string(direction),
			Short: fmt.Sprintf("Apply migrations %s", direction),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				if err := migrate.Run(cfg.DatabaseURL, direction); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "migrate %s: ok\n", direction)
				return nil
			},
		})
	}
	return cmd
}

func run(app *fx.App) error {
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}
