package scheduler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/semmidev/dbkeeper/internal/domain"
)

type scheduleFile struct {
	Schedules []domain.ScheduleEntry `yaml:"schedules"`
}

// Store persists schedule entries as one YAML document. Every change rewrites
// the whole file through a temp file and rename.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) List() ([]domain.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *Store) Append(entry domain.ScheduleEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.ID == entry.ID {
			return fmt.Errorf("schedule %s already exists", entry.ID)
		}
	}
	return s.write(append(entries, entry))
}

// Remove deletes the entry with id. It reports whether one was found.
func (s *Store) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return false, err
	}

	kept := entries[:0]
	found := false
	for _, e := range entries {
		if e.ID == id {
			found = true
			continue
		}
		kept = append(kept, e)
	}
	if !found {
		return false, nil
	}
	return true, s.write(kept)
}

func (s *Store) read() ([]domain.ScheduleEntry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read schedule file: %w", err)
	}

	var file scheduleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse schedule file %s: %w", s.path, err)
	}
	return file.Schedules, nil
}

func (s *Store) write(entries []domain.ScheduleEntry) error {
	data, err := yaml.Marshal(scheduleFile{Schedules: entries})
	if err != nil {
		return fmt.Errorf("failed to encode schedules: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create schedule directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".schedules-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write schedules: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write schedules: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace schedule file: %w", err)
	}
	return nil
}
