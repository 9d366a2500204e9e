package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/semmidev/dbkeeper/internal/domain"
)

const DefaultLocalPath = "./backups"

type LocalStorage struct {
	logger domain.Logger

	mu       sync.Mutex
	basePath string
}

func NewLocal(logger domain.Logger) *LocalStorage {
	return &LocalStorage{logger: logger}
}

func (l *LocalStorage) Backend() domain.Backend {
	return domain.BackendLocal
}

func (l *LocalStorage) Initialize(_ context.Context, cfg domain.StorageConfig) error {
	base := cfg.BasePath
	if base == "" {
		base = DefaultLocalPath
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.basePath != "" {
		if filepath.Clean(base) != l.basePath {
			return fmt.Errorf("local storage already initialized at %s", l.basePath)
		}
		return nil
	}

	if err := os.MkdirAll(base, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	l.basePath = filepath.Clean(base)
	return nil
}

func (l *LocalStorage) base() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.basePath == "" {
		return "", errNotInitialized
	}
	return l.basePath, nil
}

// Path resolves a reference against the base path. Absolute references are
// returned unchanged.
func (l *LocalStorage) Path(ref string) string {
	if filepath.IsAbs(ref) {
		return ref
	}
	base, err := l.base()
	if err != nil {
		base = DefaultLocalPath
	}
	return filepath.Join(base, ref)
}

func (l *LocalStorage) Store(_ context.Context, localPath, name string) (string, error) {
	base, err := l.base()
	if err != nil {
		return "", err
	}

	destPath := filepath.Join(base, name)
	if samePath(localPath, destPath) {
		l.logger.Debugf("Backup already in place at %s", destPath)
		return destPath, nil
	}

	if err := copyFile(localPath, destPath); err != nil {
		return "", err
	}
	l.logger.Infof("Stored %s in %s", name, base)
	return destPath, nil
}

func (l *LocalStorage) Retrieve(_ context.Context, ref, localPath string) (string, error) {
	if _, err := l.base(); err != nil {
		return "", err
	}

	src := l.Path(ref)
	if samePath(src, localPath) {
		return localPath, nil
	}
	if err := copyFile(src, localPath); err != nil {
		return "", err
	}
	return localPath, nil
}

func (l *LocalStorage) List(_ context.Context) ([]domain.ObjectInfo, error) {
	base, err := l.base()
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var objects []domain.ObjectInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to get file info for %s: %w", entry.Name(), err)
		}
		objects = append(objects, domain.ObjectInfo{
			Name:         entry.Name(),
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
	}
	return listing("", objects), nil
}

func (l *LocalStorage) Delete(_ context.Context, ref string) error {
	if _, err := l.base(); err != nil {
		return err
	}
	if err := os.Remove(l.Path(ref)); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func copyFile(src, dst string) (err error) {
	source, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer source.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create dest directory: %w", err)
	}
	dest, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create dest: %w", err)
	}
	defer func() {
		if cerr := dest.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close dest: %w", cerr)
		}
	}()

	if _, err := io.Copy(dest, source); err != nil {
		return fmt.Errorf("failed to copy: %w", err)
	}
	return nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA == nil && errB == nil && absA == absB {
		return true
	}
	infoA, errA := os.Stat(a)
	infoB, errB := os.Stat(b)
	return errA == nil && errB == nil && os.SameFile(infoA, infoB)
}
