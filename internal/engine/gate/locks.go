package gate

import (
	"sync"
	"time"
)

// staleLockAfter is the advisory timeout after which a held lead lock is
// considered abandoned and may be taken over.
const staleLockAfter = 30 * time.Second

// leadLocks serializes confirmation processing per lead inside one process.
// It is advisory only and does not coordinate across instances.
type leadLocks struct {
	mu    sync.Mutex
	held  map[string]time.Time
	stale time.Duration
	now   func() time.Time
}

func newLeadLocks() *leadLocks {
	return &leadLocks{
		held:  make(map[string]time.Time),
		stale: staleLockAfter,
		now:   time.Now,
	}
}

// TryAcquire takes the lock for a lead. A lock held longer than the stale
// timeout is treated as abandoned and taken over.
func (l *leadLocks) TryAcquire(leadID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if since, ok := l.held[leadID]; ok && now.Sub(since) < l.stale {
		return false
	}
	l.held[leadID] = now
	return true
}

func (l *leadLocks) Release(leadID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, leadID)
}
