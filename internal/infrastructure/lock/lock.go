package lock

import (
	"sync"

	"github.com/semmidev/dbkeeper/internal/domain"
)

// TargetLocks is an in-process advisory lock keyed by database target. A busy
// target fails fast instead of queueing.
type TargetLocks struct {
	mu   sync.Mutex
	held map[string]string
}

func New() *TargetLocks {
	return &TargetLocks{held: map[string]string{}}
}

// Acquire takes the lock for target on behalf of runID. The returned release
// func is safe to call more than once.
func (l *TargetLocks) Acquire(target, runID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if holder, ok := l.held[target]; ok {
		return nil, &domain.LockedError{Target: target, Holder: holder}
	}
	l.held[target] = runID

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.held[target] == runID {
				delete(l.held, target)
			}
		})
	}, nil
}
