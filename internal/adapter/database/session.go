package database

import (
	"fmt"
	"sync"

	"github.com/semmidev/dbkeeper/internal/domain"
)

// session holds the connection binding shared by every connector. A connector
// stays bound to the first config it receives for its whole lifetime.
type session struct {
	engine domain.Engine
	logger domain.Logger

	mu        sync.Mutex
	cfg       *domain.ConnectionConfig
	connected bool
}

func (s *session) Engine() domain.Engine {
	return s.engine
}

func (s *session) bind(cfg domain.ConnectionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg.Engine = s.engine
	if s.cfg != nil && *s.cfg != cfg {
		return &domain.ConnectionError{
			Engine: s.engine,
			Err:    fmt.Errorf("connector already bound to %s", s.cfg.Target()),
		}
	}
	s.cfg = &cfg
	s.connected = true

	s.logger.Infof("Connecting to %s database: %s", s.engine, cfg.Database)
	return nil
}

func (s *session) config() (domain.ConnectionConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg == nil || !s.connected {
		return domain.ConnectionConfig{}, domain.ErrNotConnected
	}
	return *s.cfg, nil
}

// release marks the session closed. It reports whether it was open.
func (s *session) release() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	was := s.connected
	s.connected = false
	if was {
		s.logger.Infof("Disconnected from %s database", s.engine)
	}
	return was
}

// effectiveKind degrades kinds the engine cannot produce natively to a full dump.
func (s *session) effectiveKind(kind domain.BackupKind) domain.BackupKind {
	if kind == "" || kind == domain.BackupFull {
		return domain.BackupFull
	}
	s.logger.Warnf("%s doesn't support %s backups natively. Performing full backup instead.", s.engine, kind)
	return domain.BackupFull
}
