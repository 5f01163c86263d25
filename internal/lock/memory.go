package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jobs/integration-engine/pkg/errors"
)

// MemoryLocker 单进程部署使用的锁
type MemoryLocker struct {
	mu   sync.Mutex
	now  func() time.Time
	held map[string]memoryHold
}

type memoryHold struct {
	token string
	until time.Time
}

func NewMemoryLocker(now func() time.Time) *MemoryLocker {
	if now == nil {
		now = time.Now
	}
	return &MemoryLocker{now: now, held: make(map[string]memoryHold)}
}

func (l *MemoryLocker) Obtain(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if h, ok := l.held[key]; ok && h.until.After(now) {
		return nil, errors.Mark(errors.Newf("lock %s is held", key), errors.ErrLockHeld)
	}
	token := uuid.NewString()
	l.held[key] = memoryHold{token: token, until: now.Add(ttl)}
	return &memoryLease{locker: l, key: key, token: token}, nil
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	token  string
}

func (l *memoryLease) Refresh(_ context.Context, ttl time.Duration) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()

	h, ok := l.locker.held[l.key]
	if !ok || h.token != l.token {
		return errors.Newf("lock %s not held", l.key)
	}
	h.until = l.locker.now().Add(ttl)
	l.locker.held[l.key] = h
	return nil
}

func (l *memoryLease) Release(_ context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()

	if h, ok := l.locker.held[l.key]; ok && h.token == l.token {
		delete(l.locker.held, l.key)
	}
	return nil
}
