package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/semmidev/dbkeeper/internal/usecase"
)

func newListCmd(c *cli) *cobra.Command {
	var store storageFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored backups, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			storeCfg, err := store.resolve(cmd.Flags(), c.cfg.Storage, c.cfg.Backup.OutputDir)
			if err != nil {
				return err
			}

			objects, err := c.app.List.Execute(cmd.Context(), storeCfg)
			if err != nil {
				return err
			}
			if len(objects) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No backups found")
				return nil
			}

			table := uitable.New()
			table.MaxColWidth = 80
			table.AddRow("NAME", "SIZE", "MODIFIED", "TYPE")
			for _, obj := range objects {
				kind := string(usecase.ArtifactKind(obj.Name))
				if kind == "" {
					kind = "unknown"
				}
				table.AddRow(obj.Name, humanize.Bytes(uint64(obj.Size)), humanize.Time(obj.LastModified), kind)
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}

	store.register(cmd.Flags())
	return cmd
}

func newPruneCmd(c *cli) *cobra.Command {
	var (
		store    storageFlags
		keepDays int
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete stored backups older than the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fs := cmd.Flags()
			storeCfg, err := store.resolve(fs, c.cfg.Storage, c.cfg.Backup.OutputDir)
			if err != nil {
				return err
			}

			res, err := c.app.Prune.Execute(cmd.Context(), storeCfg, pick(fs, "keep-days", keepDays, c.cfg.Backup.RetentionDays))
			if res != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d backup(s)\n", len(res.Deleted))
			}
			return err
		},
	}

	store.register(cmd.Flags())
	cmd.Flags().IntVar(&keepDays, "keep-days", 0, "retention in days (default from settings)")
	return cmd
}
