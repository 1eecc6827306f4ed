package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Badsnus/game-scheduler-bot/cmd/scheduler"
	"github.com/Badsnus/game-scheduler-bot/internal/adapters/config"
	"github.com/Badsnus/game-scheduler-bot/internal/adapters/database/postgres"
	"github.com/Badsnus/game-scheduler-bot/pkg/logger"
	"github.com/spf13/cobra"

	_ "time/tzdata"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configDir string

	root := &cobra.Command{
		Use:          "game-scheduler",
		Short:        "Background daemons of the game scheduling bot",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configDir, "config", "c", ".", "directory containing config.yaml")

	daemonCmd := func(name, short string) *cobra.Command {
		return &cobra.Command{
			Use:   name,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.Load(configDir)
				if err != nil {
					return err
				}
				app, err := scheduler.New(cmd.Context(), cfg, name)
				if err != nil {
					return err
				}
				return app.Run(cmd.Context(), name)
			},
		}
	}

	root.AddCommand(
		daemonCmd(scheduler.Notifications, "Publish reminder and join notifications when they are due"),
		daemonCmd(scheduler.StatusTransitions, "Move games to IN_PROGRESS and COMPLETED at their scheduled times"),
		&cobra.Command{
			Use:   "migrate",
			Short: "Create or update the database schema",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.Load(configDir)
				if err != nil {
					return err
				}
				app, err := scheduler.New(cmd.Context(), cfg, "migrate")
				if err != nil {
					return err
				}
				defer func() {
					_ = app.Session.Close()
					logger.Sync()
				}()

				if err = postgres.Migrate(cmd.Context(), app.Session.DB()); err != nil {
					return fmt.Errorf("failed to migrate database: %w", err)
				}
				app.Logger.Info("Database migrated")
				return nil
			},
		},
	)

	return root
}
