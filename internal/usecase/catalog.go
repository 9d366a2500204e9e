package usecase

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/semmidev/dbkeeper/internal/domain"
)

var artifactStamp = regexp.MustCompile(`_(\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}-\d{3}Z)\.`)

// ArtifactTime recovers the creation time encoded in an artifact name.
func ArtifactTime(name string) (time.Time, error) {
	matches := artifactStamp.FindStringSubmatch(name)
	if len(matches) < 2 {
		return time.Time{}, fmt.Errorf("invalid filename format: no timestamp found")
	}
	return time.Parse("2006-01-02T15-04-05-000Z", matches[1])
}

// ArtifactKind reports the backup kind encoded in an artifact name, or "" when
// the name carries none.
func ArtifactKind(name string) domain.BackupKind {
	for _, kind := range []domain.BackupKind{domain.BackupFull, domain.BackupIncremental, domain.BackupDifferential} {
		if strings.Contains(name, "_"+string(kind)+"_") {
			return kind
		}
	}
	return ""
}

type List struct {
	providers ProviderFactory
	logger    domain.Logger
}

func NewList(providers ProviderFactory, logger domain.Logger) *List {
	return &List{providers: providers, logger: logger}
}

// Execute returns the stored artifacts, newest first.
func (uc *List) Execute(ctx context.Context, cfg domain.StorageConfig) ([]domain.ObjectInfo, error) {
	provider, err := uc.providers(cfg.Backend)
	if err != nil {
		return nil, err
	}
	if err := provider.Initialize(ctx, cfg); err != nil {
		return nil, fmt.Errorf("initialize %s storage: %w", cfg.Backend, err)
	}
	objects, err := provider.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	uc.logger.Debugf("Found %d backup(s) in %s storage", len(objects), cfg.Backend)
	return objects, nil
}

// pruneWorkers bounds concurrent deletes against one backend.
const pruneWorkers = 4

type PruneResult struct {
	Deleted []string
	Failed  int
}

// Prune deletes artifacts older than the retention window.
type Prune struct {
	providers ProviderFactory
	logger    domain.Logger
	now       func() time.Time
}

func NewPrune(providers ProviderFactory, logger domain.Logger) *Prune {
	return &Prune{providers: providers, logger: logger, now: time.Now}
}

func (uc *Prune) Execute(ctx context.Context, cfg domain.StorageConfig, keepDays int) (*PruneResult, error) {
	if keepDays < 0 {
		return nil, &domain.ValidationError{Field: "keep-days", Reason: "must not be negative"}
	}
	uc.logger.Infof("Starting cleanup, retention: %d days", keepDays)

	provider, err := uc.providers(cfg.Backend)
	if err != nil {
		return nil, err
	}
	if err := provider.Initialize(ctx, cfg); err != nil {
		return nil, fmt.Errorf("initialize %s storage: %w", cfg.Backend, err)
	}
	objects, err := provider.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	cutoff := uc.now().AddDate(0, 0, -keepDays)
	result := &PruneResult{}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(pruneWorkers)
	for _, obj := range objects {
		if !uc.expired(obj, cutoff) {
			continue
		}
		name := obj.Name
		g.Go(func() error {
			uc.logger.Infof("Deleting old backup from %s: %s", cfg.Backend, name)
			err := provider.Delete(ctx, name)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				uc.logger.Errorf("Failed to delete %s from %s: %v", name, cfg.Backend, err)
				result.Failed++
				return nil
			}
			result.Deleted = append(result.Deleted, name)
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(result.Deleted)

	uc.logger.Infof("Deleted %d old backup(s) from %s", len(result.Deleted), cfg.Backend)
	if result.Failed > 0 {
		return result, fmt.Errorf("failed to delete %d backup(s)", result.Failed)
	}
	return result, nil
}

// expired falls back to the timestamp in the name when the backend reports
// no modification time.
func (uc *Prune) expired(obj domain.ObjectInfo, cutoff time.Time) bool {
	modified := obj.LastModified
	if modified.IsZero() {
		ts, err := ArtifactTime(obj.Name)
		if err != nil {
			uc.logger.Warnf("Could not parse timestamp from %s: %v", obj.Name, err)
			return false
		}
		modified = ts
	}
	return modified.Before(cutoff)
}

type TestConnection struct {
	connectors  ConnectorFactory
	logger      domain.Logger
	stepTimeout time.Duration
}

func NewTestConnection(connectors ConnectorFactory, logger domain.Logger, stepTimeout time.Duration) *TestConnection {
	return &TestConnection{connectors: connectors, logger: logger, stepTimeout: stepTimeout}
}

func (uc *TestConnection) Execute(ctx context.Context, cfg domain.ConnectionConfig) error {
	connector, err := uc.connectors(cfg.Engine)
	if err != nil {
		return err
	}

	return withDeadline(ctx, uc.stepTimeout, func(ctx context.Context) error {
		if err := connector.Connect(ctx, cfg); err != nil {
			return err
		}
		defer disconnect(ctx, connector, uc.logger, cfg.Database)

		if err := connector.TestConnection(ctx); err != nil {
			return err
		}
		uc.logger.Infof("[%s] Connection to %s is healthy", cfg.Database, cfg.Target())
		return nil
	})
}
