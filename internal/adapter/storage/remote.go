package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/semmidev/dbkeeper/internal/domain"
)

// ObjectClient is the narrow per-backend API a RemoteStorage drives. Keys are
// full object keys, prefix included.
type ObjectClient interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64) error
	Download(ctx context.Context, key string, w io.Writer) error
	List(ctx context.Context, prefix string) ([]domain.ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

type dialFunc func(ctx context.Context, cfg domain.StorageConfig) (ObjectClient, error)

// RemoteStorage implements domain.Provider on top of an ObjectClient. It is
// bound to one backend configuration for its lifetime.
type RemoteStorage struct {
	backend domain.Backend
	dial    dialFunc
	logger  domain.Logger

	mu     sync.Mutex
	cfg    *domain.StorageConfig
	prefix string
	client ObjectClient
}

func newRemote(backend domain.Backend, dial dialFunc, logger domain.Logger) *RemoteStorage {
	return &RemoteStorage{backend: backend, dial: dial, logger: logger}
}

// newWithClient builds a provider around an existing client.
func newWithClient(backend domain.Backend, client ObjectClient, logger domain.Logger) *RemoteStorage {
	return newRemote(backend, func(context.Context, domain.StorageConfig) (ObjectClient, error) {
		return client, nil
	}, logger)
}

func (r *RemoteStorage) Backend() domain.Backend {
	return r.backend
}

func (r *RemoteStorage) Initialize(ctx context.Context, cfg domain.StorageConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg.Backend = r.backend
	if r.cfg != nil {
		if *r.cfg != cfg {
			return fmt.Errorf("%s storage already initialized with another configuration", r.backend)
		}
		return nil
	}

	client, err := r.dial(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize %s storage: %w", r.backend, err)
	}

	r.cfg = &cfg
	r.client = client
	r.prefix = normalizePrefix(cfg.Prefix)
	r.logger.Infof("Initialized %s storage (bucket: %s, prefix: %s)", r.backend, cfg.Bucket, r.prefix)
	return nil
}

func (r *RemoteStorage) session() (ObjectClient, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil, "", errNotInitialized
	}
	return r.client, r.prefix, nil
}

func (r *RemoteStorage) Store(ctx context.Context, localPath, name string) (string, error) {
	client, prefix, err := r.session()
	if err != nil {
		return "", err
	}

	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat file: %w", err)
	}

	key := prefix + strings.TrimLeft(name, "/")
	if err := client.Upload(ctx, key, file, info.Size()); err != nil {
		return "", fmt.Errorf("failed to upload to %s: %w", r.backend, err)
	}

	r.logger.Infof("Uploaded %s to %s://%s", filepath.Base(localPath), r.backend, key)
	return key, nil
}

func (r *RemoteStorage) Retrieve(ctx context.Context, ref, localPath string) (string, error) {
	client, prefix, err := r.session()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create local directory: %w", err)
	}

	out, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to create local file: %w", err)
	}

	key := objectKey(prefix, ref)
	if err := client.Download(ctx, key, out); err != nil {
		out.Close()
		os.Remove(localPath)
		return "", fmt.Errorf("failed to download from %s: %w", r.backend, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(localPath)
		return "", fmt.Errorf("failed to write local file: %w", err)
	}

	r.logger.Infof("Downloaded %s://%s to %s", r.backend, key, localPath)
	return localPath, nil
}

func (r *RemoteStorage) List(ctx context.Context) ([]domain.ObjectInfo, error) {
	client, prefix, err := r.session()
	if err != nil {
		return nil, err
	}

	objects, err := client.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s objects: %w", r.backend, err)
	}
	return listing(prefix, objects), nil
}

func (r *RemoteStorage) Delete(ctx context.Context, ref string) error {
	client, prefix, err := r.session()
	if err != nil {
		return err
	}

	key := objectKey(prefix, ref)
	if err := client.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", r.backend, err)
	}
	r.logger.Infof("Deleted %s://%s", r.backend, key)
	return nil
}
