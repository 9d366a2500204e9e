package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/semmidev/dbkeeper/internal/domain"
)

const DefaultOutputDir = "./backups"

type Backup struct {
	connectors  ConnectorFactory
	providers   ProviderFactory
	archive     domain.Archiver
	locks       Locker
	notifier    domain.Notifier
	logger      domain.Logger
	stepTimeout time.Duration
	now         func() time.Time
}

func NewBackup(
	connectors ConnectorFactory,
	providers ProviderFactory,
	archive domain.Archiver,
	locks Locker,
	notifier domain.Notifier,
	logger domain.Logger,
	stepTimeout time.Duration,
) *Backup {
	return &Backup{
		connectors:  connectors,
		providers:   providers,
		archive:     archive,
		locks:       locks,
		notifier:    notifier,
		logger:      logger,
		stepTimeout: stepTimeout,
		now:         time.Now,
	}
}

// Execute runs one backup: connect, dump, optionally compress, store. The
// connector is disconnected on every exit path.
func (uc *Backup) Execute(ctx context.Context, req domain.BackupRequest) (*domain.BackupResult, error) {
	start := uc.now()
	dbName := req.Connection.Database

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

	uc.logger.Infof("[%s] Starting %s backup (run %s)...", dbName, req.Connection.Engine, runID)

	result, err := uc.run(ctx, connector, provider, req)
	elapsed := uc.now().Sub(start)
	if err != nil {
		uc.logger.Errorf("[%s] Backup failed after %s: %v", dbName, elapsed.Round(time.Millisecond), err)
		uc.notify(ctx, req, domain.Notification{
			Subject: fmt.Sprintf("Backup failed: %s", dbName),
			Message: fmt.Sprintf("Run %s failed after %s: %v", runID, elapsed.Round(time.Second), err),
		})
		return nil, err
	}

	result.RunID = runID
	result.Elapsed = elapsed
	uc.logger.Infof("[%s] Backup completed in %s: %s", dbName, elapsed.Round(time.Millisecond), result.Location)

	uc.notify(ctx, req, domain.Notification{
		Subject:    fmt.Sprintf("Backup completed: %s", dbName),
		Message:    fmt.Sprintf("Run %s stored %s in %s", runID, result.Location, elapsed.Round(time.Second)),
		Attachment: result.ArtifactPath,
	})
	return result, nil
}

func (uc *Backup) run(ctx context.Context, connector domain.Connector, provider domain.Provider, req domain.BackupRequest) (*domain.BackupResult, error) {
	dbName := req.Connection.Database

	err := withDeadline(ctx, uc.stepTimeout, func(ctx context.Context) error {
		return connector.Connect(ctx, req.Connection)
	})
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer disconnect(ctx, connector, uc.logger, dbName)

	outputDir := req.OutputDir
	if outputDir == "" {
		outputDir = DefaultOutputDir
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	kind := req.Kind
	if kind == "" {
		kind = domain.BackupFull
	}
	filename := ArtifactName(req.Connection, kind, connector.FileExtension(), uc.now())
	outputPath := filepath.Join(outputDir, filename)

	uc.logger.Infof("[%s] Creating backup to: %s", dbName, outputPath)
	var artifact string
	err = withDeadline(ctx, uc.stepTimeout, func(ctx context.Context) error {
		var err error
		artifact, err = connector.Backup(ctx, outputPath, kind)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}

	if req.Compress {
		if artifact, err = uc.compressBackup(dbName, artifact); err != nil {
			return nil, err
		}
	}

	storage := req.Storage
	var location string
	err = withDeadline(ctx, uc.stepTimeout, func(ctx context.Context) error {
		if err := provider.Initialize(ctx, storage); err != nil {
			return fmt.Errorf("initialize %s storage: %w", storage.Backend, err)
		}
		uc.logger.Infof("[%s] Uploading to %s storage...", dbName, storage.Backend)
		var err error
		location, err = provider.Store(ctx, artifact, filepath.Base(artifact))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	return &domain.BackupResult{ArtifactPath: artifact, Location: location}, nil
}

// compressBackup replaces the dump with its .gz sibling. On failure the dump
// stays on disk.
func (uc *Backup) compressBackup(dbName, path string) (string, error) {
	originalSize := fileSize(path)

	uc.logger.Infof("[%s] Compressing backup...", dbName)
	compressed, err := uc.archive.CompressFile(path)
	if err != nil {
		return "", err
	}
	if err := os.Remove(path); err != nil {
		uc.logger.Warnf("[%s] Could not remove uncompressed dump %s: %v", dbName, path, err)
	}

	if size := fileSize(compressed); originalSize > 0 {
		uc.logger.Infof("[%s] Compression complete, size: %s (%.1f%% of original)",
			dbName, humanize.Bytes(uint64(size)), float64(size)/float64(originalSize)*100)
	}
	return compressed, nil
}

func (uc *Backup) notify(ctx context.Context, req domain.BackupRequest, n domain.Notification) {
	if !req.Notify || uc.notifier == nil {
		return
	}
	if err := uc.notifier.Notify(ctx, n); err != nil {
		uc.logger.Warnf("[%s] Notification failed: %v", req.Connection.Database, err)
	}
}

// ArtifactName builds {database}_{kind}_{timestamp}.{ext}. The timestamp is
// UTC ISO-8601 with millisecond precision, with ':' and '.' replaced by '-'.
// For sqlite the database part is the file name without its extension.
func ArtifactName(cfg domain.ConnectionConfig, kind domain.BackupKind, ext string, at time.Time) string {
	name := cfg.Database
	if cfg.Engine == domain.EngineSQLite {
		base := filepath.Base(name)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	stamp := at.UTC().Format("2006-01-02T15:04:05.000Z")
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	return fmt.Sprintf("%s_%s_%s.%s", name, kind, stamp, ext)
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
