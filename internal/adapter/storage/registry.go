package storage

import (
	"github.com/semmidev/dbkeeper/internal/domain"
)

var providers = map[domain.Backend]func(domain.Logger) domain.Provider{
	domain.BackendLocal:  func(l domain.Logger) domain.Provider { return NewLocal(l) },
	domain.BackendS3:     func(l domain.Logger) domain.Provider { return NewS3(l) },
	domain.BackendGCS:    func(l domain.Logger) domain.Provider { return NewGCS(l) },
	domain.BackendAzure:  func(l domain.Logger) domain.Provider { return NewAzure(l) },
	domain.BackendGDrive: func(l domain.Logger) domain.Provider { return NewGDrive(l) },
}

// New returns an uninitialized provider for the backend.
func New(backend domain.Backend, logger domain.Logger) (domain.Provider, error) {
	build, ok := providers[backend]
	if !ok {
		return nil, &domain.UnsupportedBackendError{Backend: string(backend)}
	}
	return build(logger), nil
}
