package domain

import (
	"context"
	"strings"
	"time"
)

type Backend string

const (
	BackendLocal  Backend = "local"
	BackendS3     Backend = "s3"
	BackendGCS    Backend = "gcs"
	BackendAzure  Backend = "azure"
	BackendGDrive Backend = "gdrive"
)

func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case BackendLocal, BackendS3, BackendGCS, BackendAzure, BackendGDrive:
		return b, nil
	default:
		return "", &UnsupportedBackendError{Backend: s}
	}
}

const DefaultPrefix = "backups/"

// StorageConfig binds a provider to one backend. Fields unused by a backend are ignored.
type StorageConfig struct {
	Backend         Backend `yaml:"backend"`
	Bucket          string  `yaml:"bucket,omitempty"`
	Prefix          string  `yaml:"prefix,omitempty"`
	Region          string  `yaml:"region,omitempty"`
	Endpoint        string  `yaml:"endpoint,omitempty"`
	Key             string  `yaml:"key,omitempty"`
	Secret          string  `yaml:"secret,omitempty"`
	BasePath        string  `yaml:"base_path,omitempty"`
	ProjectID       string  `yaml:"project_id,omitempty"`
	CredentialsFile string  `yaml:"credentials_file,omitempty"`
	TokenFile       string  `yaml:"token_file,omitempty"`
	FolderID        string  `yaml:"folder_id,omitempty"`
}

type ObjectInfo struct {
	Name         string
	Size         int64
	LastModified time.Time
}

type Provider interface {
	Backend() Backend
	Initialize(ctx context.Context, cfg StorageConfig) error
	Store(ctx context.Context, localPath, name string) (string, error)
	Retrieve(ctx context.Context, ref, localPath string) (string, error)
	List(ctx context.Context) ([]ObjectInfo, error)
	Delete(ctx context.Context, ref string) error
}
