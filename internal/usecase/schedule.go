package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/semmidev/dbkeeper/internal/domain"
	"github.com/semmidev/dbkeeper/internal/infrastructure/scheduler"
)

type ScheduleStore interface {
	List() ([]domain.ScheduleEntry, error)
	Append(entry domain.ScheduleEntry) error
	Remove(id string) (bool, error)
}

type Timers interface {
	Add(id, spec string, job scheduler.Job) error
	Remove(id string) bool
}

type BackupRunner interface {
	Execute(ctx context.Context, req domain.BackupRequest) (*domain.BackupResult, error)
}

// Schedule keeps persisted schedule entries and live timers in step.
type Schedule struct {
	store  ScheduleStore
	timers Timers
	backup BackupRunner
	logger domain.Logger
}

func NewSchedule(store ScheduleStore, timers Timers, backup BackupRunner, logger domain.Logger) *Schedule {
	return &Schedule{store: store, timers: timers, backup: backup, logger: logger}
}

// Create validates the cron spec, appends a new entry and arms it.
func (uc *Schedule) Create(cronSpec string, req domain.BackupRequest) (domain.ScheduleEntry, error) {
	if err := scheduler.Validate(cronSpec); err != nil {
		return domain.ScheduleEntry{}, err
	}
	if _, err := domain.ParseEngine(string(req.Connection.Engine)); err != nil {
		return domain.ScheduleEntry{}, err
	}
	if _, err := domain.ParseBackend(string(req.Storage.Backend)); err != nil {
		return domain.ScheduleEntry{}, err
	}

	entry := domain.ScheduleEntry{
		ID:        uuid.NewString(),
		Cron:      cronSpec,
		Request:   req,
		CreatedAt: time.Now().UTC(),
	}
	if err := uc.store.Append(entry); err != nil {
		return domain.ScheduleEntry{}, fmt.Errorf("persist schedule: %w", err)
	}
	if err := uc.arm(entry); err != nil {
		return domain.ScheduleEntry{}, err
	}

	uc.logger.Infof("Scheduled %s backup of %s with cron %q (id %s)",
		req.Connection.Engine, req.Connection.Database, cronSpec, entry.ID)
	return entry, nil
}

// Reload arms every persisted entry and returns how many were armed. Entries
// that cannot be armed are logged and skipped.
func (uc *Schedule) Reload() (int, error) {
	entries, err := uc.store.List()
	if err != nil {
		return 0, fmt.Errorf("load schedules: %w", err)
	}

	armed := 0
	for _, entry := range entries {
		if err := uc.arm(entry); err != nil {
			uc.logger.Warnf("Skipping schedule %s: %v", entry.ID, err)
			continue
		}
		armed++
	}
	uc.logger.Infof("Armed %d of %d persisted schedule(s)", armed, len(entries))
	return armed, nil
}

// Arm registers a job that is not persisted, such as a database declared in
// the settings file.
func (uc *Schedule) Arm(id, cronSpec string, req domain.BackupRequest) error {
	return uc.arm(domain.ScheduleEntry{ID: id, Cron: cronSpec, Request: req})
}

func (uc *Schedule) Cancel(id string) error {
	removed, err := uc.store.Remove(id)
	if err != nil {
		return fmt.Errorf("remove schedule: %w", err)
	}
	disarmed := uc.timers.Remove(id)
	if !removed && !disarmed {
		return fmt.Errorf("schedule %s not found", id)
	}
	uc.logger.Infof("Cancelled schedule %s", id)
	return nil
}

func (uc *Schedule) List() ([]domain.ScheduleEntry, error) {
	return uc.store.List()
}

func (uc *Schedule) arm(entry domain.ScheduleEntry) error {
	req := entry.Request
	return uc.timers.Add(entry.ID, entry.Cron, func(ctx context.Context) error {
		_, err := uc.backup.Execute(ctx, req)
		return err
	})
}
