package domain

import (
	"strconv"
	"time"
)

type BackupRequest struct {
	Connection ConnectionConfig `yaml:"connection"`
	Storage    StorageConfig    `yaml:"storage"`
	OutputDir  string           `yaml:"output_dir"`
	Kind       BackupKind       `yaml:"kind"`
	Compress   bool             `yaml:"compress"`
	Notify     bool             `yaml:"notify"`
}

type BackupResult struct {
	RunID        string
	ArtifactPath string
	Location     string
	Elapsed      time.Duration
}

type RestoreRequest struct {
	Connection ConnectionConfig
	Storage    StorageConfig
	Source     string
	Tables     []string
}

type RestoreResult struct {
	RunID   string
	Source  string
	Elapsed time.Duration
}

type ScheduleEntry struct {
	ID        string        `yaml:"id"`
	Cron      string        `yaml:"cron"`
	Request   BackupRequest `yaml:"request"`
	CreatedAt time.Time     `yaml:"created_at"`
}

func itoa(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}
