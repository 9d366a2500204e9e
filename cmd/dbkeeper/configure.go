package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/semmidev/dbkeeper/internal/app"
	"github.com/semmidev/dbkeeper/internal/config"
)

func newConfigureCmd(c *cli) *cobra.Command {
	var (
		conn        connectionFlags
		store       storageFlags
		outputDir   string
		compress    bool
		level       int
		retention   int
		logLevel    string
		logFile     string
		stepTimeout time.Duration
		webhook     string
		tgToken     string
		tgChat      int64
		tgSendFile  bool
	)

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Write default settings used by every command",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fs := cmd.Flags()
			cfg := *c.cfg

			cfg.Database = conn.merge(fs, cfg.Database)
			cfg.Storage = store.merge(fs, cfg.Storage)
			cfg.Backup.OutputDir = pick(fs, "output", outputDir, cfg.Backup.OutputDir)
			cfg.Backup.Compress = pick(fs, "compress", compress, cfg.Backup.Compress)
			cfg.Backup.CompressionLevel = pick(fs, "compression-level", level, cfg.Backup.CompressionLevel)
			cfg.Backup.RetentionDays = pick(fs, "retention-days", retention, cfg.Backup.RetentionDays)
			cfg.App.LogLevel = pick(fs, "default-log-level", logLevel, cfg.App.LogLevel)
			cfg.App.LogFile = pick(fs, "log-file", logFile, cfg.App.LogFile)
			cfg.App.StepTimeout = pick(fs, "step-timeout", stepTimeout, cfg.App.StepTimeout)
			cfg.Notifications.SlackWebhookURL = pick(fs, "slack-webhook", webhook, cfg.Notifications.SlackWebhookURL)
			cfg.Notifications.Telegram.BotToken = pick(fs, "telegram-token", tgToken, cfg.Notifications.Telegram.BotToken)
			cfg.Notifications.Telegram.ChatID = pick(fs, "telegram-chat", tgChat, cfg.Notifications.Telegram.ChatID)
			cfg.Notifications.Telegram.SendFile = pick(fs, "telegram-send-file", tgSendFile, cfg.Notifications.Telegram.SendFile)

			path := c.configPath
			if path == "" {
				path = config.DefaultPath()
			}
			if err := config.Save(path, &cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Settings saved to %s\n", path)
			return nil
		},
	}

	fs := cmd.Flags()
	conn.register(fs)
	store.register(fs)
	fs.StringVarP(&outputDir, "output", "o", "", "default local directory for dumps")
	fs.BoolVarP(&compress, "compress", "c", true, "compress backups by default")
	fs.IntVar(&level, "compression-level", 9, "gzip level, -2 (Huffman only) to 9")
	fs.IntVar(&retention, "retention-days", 7, "days kept by prune and the scheduled cleanup")
	fs.StringVar(&logLevel, "default-log-level", "info", "default log level")
	fs.StringVar(&logFile, "log-file", "", "JSON log file")
	fs.DurationVar(&stepTimeout, "step-timeout", 2*time.Hour, "deadline per pipeline step, 0 disables")
	fs.StringVar(&webhook, "slack-webhook", "", "Slack compatible webhook URL")
	fs.StringVar(&tgToken, "telegram-token", "", "Telegram bot token")
	fs.Int64Var(&tgChat, "telegram-chat", 0, "Telegram chat id")
	fs.BoolVar(&tgSendFile, "telegram-send-file", false, "attach the artifact to Telegram notifications")
	return cmd
}

func newGDriveAuthCmd(c *cli) *cobra.Command {
	var (
		clientSecret string
		tokenPath    string
		addr         string
	)

	cmd := &cobra.Command{
		Use:   "gdrive-auth",
		Short: "Authorize Google Drive access and save the OAuth token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if tokenPath == "" {
				tokenPath = c.cfg.Storage.TokenFile
			}
			if tokenPath == "" {
				tokenPath = defaultTokenPath()
			}

			svc, err := app.NewGoogleOAuthService(c.log, clientSecret, tokenPath)
			if err != nil {
				return err
			}
			if err := svc.StartAuthServer(cmd.Context(), addr); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Open http://%s%s in a browser to authorize.\n", addr, app.AuthStartPath)

			select {
			case <-svc.Done():
				fmt.Fprintf(cmd.OutOrStdout(), "Token saved. Set storage.token_file to %s\n", tokenPath)
			case <-cmd.Context().Done():
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return svc.Shutdown(ctx)
		},
	}

	cmd.Flags().StringVar(&clientSecret, "client-secret", "", "OAuth client secret JSON downloaded from Google Cloud")
	cmd.Flags().StringVar(&tokenPath, "token", "", "where to write the token (default storage.token_file)")
	cmd.Flags().StringVar(&addr, "addr", "localhost:8080", "listen address for the OAuth callback")
	_ = cmd.MarkFlagRequired("client-secret")
	return cmd
}

func defaultTokenPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "gdrive-token.json"
	}
	return filepath.Join(home, ".dbkeeper", "gdrive-token.json")
}
