package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/semmidev/dbkeeper/internal/app"
	"github.com/semmidev/dbkeeper/internal/config"
	"github.com/semmidev/dbkeeper/internal/infrastructure/logger"
)

type cli struct {
	configPath string
	logLevel   string

	cfg *config.Config
	log *logger.Logger
	app *app.App
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "dbkeeper",
		Short:         "Back up and restore databases to local or cloud storage",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.app != nil {
				c.app.Shutdown()
			}
		},
	}

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "settings file (default ~/.dbkeeper.yaml)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		newBackupCmd(c),
		newRestoreCmd(c),
		newTestConnectionCmd(c),
		newScheduleCmd(c),
		newSchedulesCmd(c),
		newCancelScheduleCmd(c),
		newServeCmd(c),
		newListCmd(c),
		newPruneCmd(c),
		newConfigureCmd(c),
		newGDriveAuthCmd(c),
	)
	return root
}

func (c *cli) init(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if c.logLevel != "" {
		cfg.App.LogLevel = c.logLevel
	}

	log, err := logger.New(logger.Options{Level: cfg.App.LogLevel, File: cfg.App.LogFile})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	application, err := app.New(cmd.Context(), cfg, log)
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}

	c.cfg, c.log, c.app = cfg, log, application
	return nil
}
