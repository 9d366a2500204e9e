package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/semmidev/dbkeeper/internal/domain"
)

// Job is one scheduled run. Its error is logged, never propagated.
type Job func(ctx context.Context) error

// Specs may carry an optional leading seconds field or be a descriptor
// such as @daily.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate reports whether spec is a cron expression the scheduler accepts.
func Validate(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return &domain.ValidationError{Field: "cron", Reason: err.Error()}
	}
	return nil
}

type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	logger domain.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New builds a stopped scheduler. Jobs receive ctx, so cancelling it aborts
// in-flight runs.
func New(ctx context.Context, logger domain.Logger) *Scheduler {
	cl := cronLogger{logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		ctx:     ctx,
		logger:  logger,
		entries: map[string]cron.EntryID{},
	}
}

// Add arms a job under id.
func (s *Scheduler) Add(id, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; ok {
		return fmt.Errorf("schedule %s is already armed", id)
	}

	entryID, err := s.cron.AddFunc(spec, func() {
		s.logger.Infof("Scheduled run %s triggered", id)
		if err := job(s.ctx); err != nil {
			s.logger.Errorf("Scheduled run %s failed: %v", id, err)
		}
	})
	if err != nil {
		return &domain.ValidationError{Field: "cron", Reason: err.Error()}
	}
	s.entries[id] = entryID
	return nil
}

// Remove disarms a job. It reports whether the id was armed.
func (s *Scheduler) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.entries[id]
	if !ok {
		return false
	}
	s.cron.Remove(entryID)
	delete(s.entries, id)
	return true
}

// NextRun returns the first activation of spec after from.
func NextRun(spec string, from time.Time) (time.Time, error) {
	schedule, err := parser.Parse(spec)
	if err != nil {
		return time.Time{}, &domain.ValidationError{Field: "cron", Reason: err.Error()}
	}
	return schedule.Next(from), nil
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the timers and waits for running jobs to return.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// cronLogger routes cron's own logging to the application logger.
type cronLogger struct {
	logger domain.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugf("cron: %s %v", msg, keysAndValues)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorf("cron: %s: %v %v", msg, err, keysAndValues)
}
