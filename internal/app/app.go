package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/semmidev/dbkeeper/internal/adapter/compressor"
	"github.com/semmidev/dbkeeper/internal/adapter/database"
	"github.com/semmidev/dbkeeper/internal/adapter/notifier"
	"github.com/semmidev/dbkeeper/internal/adapter/storage"
	"github.com/semmidev/dbkeeper/internal/config"
	"github.com/semmidev/dbkeeper/internal/domain"
	"github.com/semmidev/dbkeeper/internal/infrastructure/lock"
	"github.com/semmidev/dbkeeper/internal/infrastructure/logger"
	"github.com/semmidev/dbkeeper/internal/infrastructure/scheduler"
	"github.com/semmidev/dbkeeper/internal/usecase"
)

// cleanupSchedule runs retention pruning daily at 3 AM.
const cleanupSchedule = "0 0 3 * * *"

type App struct {
	config    *config.Config
	logger    *logger.Logger
	scheduler *scheduler.Scheduler

	Backup         *usecase.Backup
	Restore        *usecase.Restore
	List           *usecase.List
	Prune          *usecase.Prune
	TestConnection *usecase.TestConnection
	Schedules      *usecase.Schedule
}

// New wires every usecase against one logger and one lock table. Jobs armed
// on the scheduler run under ctx.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if cfg == nil || log == nil {
		return nil, fmt.Errorf("config and logger are required")
	}

	connectors := func(engine domain.Engine) (domain.Connector, error) {
		return database.New(engine, nil, log.Named(string(engine)))
	}
	providers := func(backend domain.Backend) (domain.Provider, error) {
		return storage.New(backend, log.Named(string(backend)))
	}

	gz, err := compressor.NewGzipLevel(cfg.Backup.CompressionLevel)
	if err != nil {
		return nil, err
	}
	archive := compressor.NewArchive(gz, log)
	locks := lock.New()
	notify := &lazyNotifier{build: func() domain.Notifier { return initializeNotifiers(cfg, log) }}
	timeout := cfg.App.StepTimeout

	backupUC := usecase.NewBackup(connectors, providers, archive, locks, notify, log, timeout)
	sched := scheduler.New(ctx, log.Named("scheduler"))

	return &App{
		config:         cfg,
		logger:         log,
		scheduler:      sched,
		Backup:         backupUC,
		Restore:        usecase.NewRestore(connectors, providers, archive, locks, log, timeout),
		List:           usecase.NewList(providers, log),
		Prune:          usecase.NewPrune(providers, log),
		TestConnection: usecase.NewTestConnection(connectors, log, timeout),
		Schedules:      usecase.NewSchedule(scheduler.NewStore(cfg.App.ScheduleFile), sched, backupUC, log),
	}, nil
}

func initializeNotifiers(cfg *config.Config, log *logger.Logger) domain.Notifier {
	var channels notifier.Multi

	if url := cfg.Notifications.SlackWebhookURL; url != "" {
		channels = append(channels, notifier.NewWebhook(url))
		log.Infof("✓ Webhook notifications enabled")
	}

	if tg := cfg.Notifications.Telegram; tg.BotToken != "" {
		t, err := notifier.NewTelegram(tg.BotToken, tg.ChatID, tg.SendFile)
		if err != nil {
			log.Errorf("Failed to initialize Telegram: %v", err)
		} else {
			channels = append(channels, t)
			log.Infof("✓ Telegram notifications enabled")
		}
	}

	return channels
}

// lazyNotifier defers building notification channels until the first
// notification, so commands that never notify make no bot API calls.
type lazyNotifier struct {
	once  sync.Once
	build func() domain.Notifier
	n     domain.Notifier
}

func (l *lazyNotifier) Notify(ctx context.Context, n domain.Notification) error {
	l.once.Do(func() { l.n = l.build() })
	return l.n.Notify(ctx, n)
}

// DefaultRequest builds a backup request for db from the configured storage
// and backup defaults.
func (a *App) DefaultRequest(db config.DatabaseConfig) domain.BackupRequest {
	kind, _ := domain.ParseBackupKind(db.BackupType)
	return domain.BackupRequest{
		Connection: db.Connection(),
		Storage:    a.config.StorageTarget(),
		OutputDir:  a.config.Backup.OutputDir,
		Kind:       kind,
		Compress:   a.config.Backup.Compress,
		Notify:     a.hasNotifications(),
	}
}

func (a *App) hasNotifications() bool {
	return a.config.Notifications.SlackWebhookURL != "" || a.config.Notifications.Telegram.BotToken != ""
}

// Serve arms persisted schedules, databases declared in the settings file and
// the retention cleanup, then blocks until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	armed, err := a.Schedules.Reload()
	if err != nil {
		return err
	}

	for _, db := range a.config.GetEnabledDatabases() {
		if err := a.Schedules.Arm("config:"+db.Name, db.Schedule, a.DefaultRequest(db)); err != nil {
			a.logger.Errorf("Failed to schedule backup for %s: %v", db.Name, err)
			continue
		}
		a.logger.Infof("✓ Scheduled backup for %s: %s", db.Name, db.Schedule)
		armed++
	}

	if armed == 0 {
		return fmt.Errorf("no schedules found")
	}

	if days := a.config.Backup.RetentionDays; days > 0 {
		storageCfg := a.config.StorageTarget()
		a.logger.Infof("Scheduling cleanup: %s", cleanupSchedule)
		err := a.scheduler.Add("cleanup", cleanupSchedule, func(ctx context.Context) error {
			_, err := a.Prune.Execute(ctx, storageCfg, days)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to schedule cleanup: %w", err)
		}
	}

	a.logger.Infof("Application started with %d backup job(s)", armed)
	return a.Wait(ctx)
}

// Wait runs the scheduler until ctx is cancelled.
func (a *App) Wait(ctx context.Context) error {
	a.scheduler.Start()
	a.logger.Infof("Scheduler started successfully")

	<-ctx.Done()
	return nil
}

func (a *App) Shutdown() {
	a.logger.Infof("Shutting down application...")
	a.scheduler.Stop()
	a.logger.Close()
}
