package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/semmidev/dbkeeper/internal/domain"
	"github.com/semmidev/dbkeeper/internal/usecase"
)

func newBackupCmd(c *cli) *cobra.Command {
	var (
		conn  connectionFlags
		store storageFlags
		opts  backupFlags
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Dump a database and store the artifact",
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

			res, err := c.app.Backup.Execute(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup completed in %s\nRun:      %s\nLocation: %s\n",
				res.Elapsed.Round(time.Millisecond), res.RunID, res.Location)
			return nil
		},
	}

	conn.register(cmd.Flags())
	store.register(cmd.Flags())
	opts.register(cmd.Flags())
	return cmd
}

func newRestoreCmd(c *cli) *cobra.Command {
	var (
		conn   connectionFlags
		store  storageFlags
		source string
		tables string
	)

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a database from a stored artifact",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fs := cmd.Flags()
			connCfg, err := conn.resolve(fs, c.cfg.Database)
			if err != nil {
				return err
			}
			storeCfg, err := store.resolve(fs, c.cfg.Storage, c.cfg.Backup.OutputDir)
			if err != nil {
				return err
			}

			res, err := c.app.Restore.Execute(cmd.Context(), domain.RestoreRequest{
				Connection: connCfg,
				Storage:    storeCfg,
				Source:     source,
				Tables:     usecase.ParseTables(tables),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restore completed in %s\nRun:    %s\nSource: %s\n",
				res.Elapsed.Round(time.Millisecond), res.RunID, res.Source)
			return nil
		},
	}

	conn.register(cmd.Flags())
	store.register(cmd.Flags())
	cmd.Flags().StringVarP(&source, "source", "f", "", "artifact to restore (object name, or path for local storage)")
	cmd.Flags().StringVar(&tables, "selective", "", "comma separated tables or collections to restore")
	cmd.Flags().SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		if name == "tables" {
			name = "selective"
		}
		return pflag.NormalizedName(name)
	})
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func newTestConnectionCmd(c *cli) *cobra.Command {
	var conn connectionFlags

	cmd := &cobra.Command{
		Use:   "test-connection",
		Short: "Check that a database is reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			connCfg, err := conn.resolve(cmd.Flags(), c.cfg.Database)
			if err != nil {
				return err
			}
			if err := c.app.TestConnection.Execute(cmd.Context(), connCfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Connection to %s successful\n", connCfg.Target())
			return nil
		},
	}

	conn.register(cmd.Flags())
	return cmd
}
