package usecase

import (
	"context"
	"time"

	"github.com/semmidev/dbkeeper/internal/domain"
)

type ConnectorFactory func(engine domain.Engine) (domain.Connector, error)

type ProviderFactory func(backend domain.Backend) (domain.Provider, error)

// Locker hands out per-target advisory locks.
type Locker interface {
	Acquire(target, runID string) (func(), error)
}

// withDeadline runs fn under timeout. A non-positive timeout means no deadline.
func withDeadline(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}

// disconnect is always attempted and never overrides the run's own error.
func disconnect(ctx context.Context, connector domain.Connector, logger domain.Logger, label string) {
	if err := connector.Disconnect(context.WithoutCancel(ctx)); err != nil {
		logger.Warnf("[%s] Disconnect failed: %v", label, err)
	}
}
