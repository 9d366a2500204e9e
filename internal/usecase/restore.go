package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/semmidev/dbkeeper/internal/domain"
)

// ScopePrefix names the per-run scratch directory under os.TempDir.
const ScopePrefix = "dbkeeper-restore-"

// pathResolver is implemented by providers that can map a reference onto a
// local path.
type pathResolver interface {
	Path(ref string) string
}

type Restore struct {
	connectors  ConnectorFactory
	providers   ProviderFactory
	archive     domain.Archiver
	locks       Locker
	logger      domain.Logger
	stepTimeout time.Duration
	tempDir     string
}

func NewRestore(
	connectors ConnectorFactory,
	providers ProviderFactory,
	archive domain.Archiver,
	locks Locker,
	logger domain.Logger,
	stepTimeout time.Duration,
) *Restore {
	return &Restore{
		connectors:  connectors,
		providers:   providers,
		archive:     archive,
		locks:       locks,
		logger:      logger,
		stepTimeout: stepTimeout,
		tempDir:     os.TempDir(),
	}
}

// Execute restores one artifact. Every intermediate file lives in a scratch
// directory that is removed on every exit path; a local source file is never
// modified or removed.
func (uc *Restore) Execute(ctx context.Context, req domain.RestoreRequest) (*domain.RestoreResult, error) {
	start := time.Now()
	dbName := req.Connection.Database

	if strings.TrimSpace(req.Source) == "" {
		return nil, &domain.ValidationError{Field: "source", Reason: "must not be empty"}
	}

	connector, err := uc.connectors(req.Connection.Engine)
	if err != nil {
		return nil, err
	}
	provider, err := uc.providers(req.Storage.Backend)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	release, err := uc.locks.Acquire(req.Connection.Target(), runID)
	if err != nil {
		return nil, err
	}
	defer release()

	scope := filepath.Join(uc.tempDir, ScopePrefix+runID)
	defer func() {
		if err := os.RemoveAll(scope); err != nil {
			uc.logger.Warnf("[%s] Could not remove %s: %v", dbName, scope, err)
		}
	}()

	uc.logger.Infof("[%s] Starting restore from %s (run %s)...", dbName, req.Source, runID)

	err = uc.run(ctx, connector, provider, req, scope)
	elapsed := time.Since(start)
	if err != nil {
		uc.logger.Errorf("[%s] Restore failed after %s: %v", dbName, elapsed.Round(time.Millisecond), err)
		return nil, err
	}

	uc.logger.Infof("[%s] Restore completed in %s", dbName, elapsed.Round(time.Millisecond))
	return &domain.RestoreResult{RunID: runID, Source: req.Source, Elapsed: elapsed}, nil
}

func (uc *Restore) run(ctx context.Context, connector domain.Connector, provider domain.Provider, req domain.RestoreRequest, scope string) error {
	dbName := req.Connection.Database

	var path string
	err := withDeadline(ctx, uc.stepTimeout, func(ctx context.Context) error {
		var err error
		path, err = uc.fetch(ctx, provider, req, scope)
		return err
	})
	if err != nil {
		return err
	}

	if uc.archive.IsCompressed(path) {
		if err := os.MkdirAll(scope, 0700); err != nil {
			return fmt.Errorf("create scratch directory: %w", err)
		}
		if path, err = uc.archive.Extract(path, scope); err != nil {
			return err
		}
	}

	err = withDeadline(ctx, uc.stepTimeout, func(ctx context.Context) error {
		return connector.Connect(ctx, req.Connection)
	})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer disconnect(ctx, connector, uc.logger, dbName)

	if len(req.Tables) > 0 {
		uc.logger.Infof("[%s] Restoring %s from %s", dbName, strings.Join(req.Tables, ", "), filepath.Base(path))
	} else {
		uc.logger.Infof("[%s] Restoring from %s", dbName, filepath.Base(path))
	}
	err = withDeadline(ctx, uc.stepTimeout, func(ctx context.Context) error {
		return connector.Restore(ctx, path, req.Tables)
	})
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	return nil
}

// fetch returns a local path for the source. Remote objects are downloaded
// into scope; local sources are used in place.
func (uc *Restore) fetch(ctx context.Context, provider domain.Provider, req domain.RestoreRequest, scope string) (string, error) {
	if err := provider.Initialize(ctx, req.Storage); err != nil {
		return "", fmt.Errorf("initialize %s storage: %w", req.Storage.Backend, err)
	}

	if req.Storage.Backend == domain.BackendLocal {
		return localSource(provider, req)
	}

	if err := os.MkdirAll(scope, 0700); err != nil {
		return "", fmt.Errorf("create scratch directory: %w", err)
	}
	dest := filepath.Join(scope, filepath.Base(req.Source))
	uc.logger.Infof("[%s] Downloading %s from %s storage...", req.Connection.Database, req.Source, req.Storage.Backend)
	path, err := provider.Retrieve(ctx, req.Source, dest)
	if err != nil {
		return "", fmt.Errorf("retrieve: %w", err)
	}
	return path, nil
}

// localSource uses the path as given, falling back to the provider's base
// directory only when the path does not exist as-is.
func localSource(provider domain.Provider, req domain.RestoreRequest) (string, error) {
	if _, err := os.Stat(req.Source); err == nil {
		return req.Source, nil
	}
	if resolver, ok := provider.(pathResolver); ok {
		candidate := resolver.Path(req.Source)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", &domain.RestoreError{
		Engine: req.Connection.Engine,
		Err:    fmt.Errorf("backup file not found: %s", req.Source),
	}
}

// ParseTables splits a comma separated list. Order and duplicates are kept,
// blank names are dropped.
func ParseTables(s string) []string {
	var tables []string
	for _, part := range strings.Split(s, ",") {
		if name := strings.TrimSpace(part); name != "" {
			tables = append(tables, name)
		}
	}
	return tables
}
