package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/semmidev/dbkeeper/internal/infrastructure/scheduler"
)

func newScheduleCmd(c *cli) *cobra.Command {
	var (
		conn     connectionFlags
		store    storageFlags
		opts     backupFlags
		cronSpec string
		detach   bool
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Persist a recurring backup and run it on its cron schedule",
		Long: "Persist a recurring backup. Unless --detach is given the command keeps running and " +
			"fires the new schedule until interrupted; use serve to run every persisted schedule.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fs := cmd.Flags()
			connCfg, err := conn.resolve(fs, c.cfg.Database)
			if err != nil {
				return err
			}
			storeCfg, err := store.resolve(fs, c.cfg.Storage, opts.outputDir(fs, c.cfg))
			if err != nil {
				return err
			}
			req, err := opts.request(fs, c.cfg, connCfg, storeCfg)
			if err != nil {
				return err
			}

			entry, err := c.app.Schedules.Create(cronSpec, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scheduled backup %s (%s)\n", entry.ID, entry.Cron)
			if detach {
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop.")
			return c.app.Wait(cmd.Context())
		},
	}

	conn.register(cmd.Flags())
	store.register(cmd.Flags())
	opts.register(cmd.Flags())
	cmd.Flags().StringVar(&cronSpec, "cron", "", `cron expression, e.g. "0 0 * * *" or @daily`)
	cmd.Flags().BoolVar(&detach, "detach", false, "only persist the schedule")
	_ = cmd.MarkFlagRequired("cron")
	return cmd
}

func newSchedulesCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "schedules",
		Short: "List persisted schedules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := c.app.Schedules.List()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No schedules found")
				return nil
			}

			now := time.Now()
			table := uitable.New()
			table.AddRow("ID", "CRON", "TYPE", "DATABASE", "STORAGE", "CREATED", "NEXT RUN")
			for _, e := range entries {
				next := "invalid"
				if at, err := scheduler.NextRun(e.Cron, now); err == nil {
					next = humanize.Time(at)
				}
				table.AddRow(e.ID, e.Cron, e.Request.Connection.Engine, e.Request.Connection.Database,
					e.Request.Storage.Backend, e.CreatedAt.Local().Format("2006-01-02 15:04"), next)
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
}

func newCancelScheduleCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel-schedule <id>",
		Short: "Remove a persisted schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.Schedules.Cancel(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled schedule %s\n", args[0])
			return nil
		},
	}
}

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run every persisted and configured schedule until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.app.Serve(cmd.Context())
		},
	}
}
