package lock

import (
	"context"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/jobs/integration-engine/pkg/errors"
)

// RedisLocker 基于 redislock 的分布式锁, 获取失败不重试
type RedisLocker struct {
	client *redislock.Client
}

func NewRedisLocker(client *redislock.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	lk, err := l.client.Obtain(ctx, key, ttl, &redislock.Options{RetryStrategy: redislock.NoRetry()})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, errors.Mark(errors.Newf("lock %s is held", key), errors.ErrLockHeld)
	} else if err != nil {
		return nil, errors.Wrapf(err, "obtain lock %s", key)
	}
	return &redisLease{lock: lk}, nil
}

type redisLease struct {
	lock *redislock.Lock
}

func (l *redisLease) Refresh(ctx context.Context, ttl time.Duration) error {
	if err := l.lock.Refresh(ctx, ttl, nil); err != nil {
		return errors.Wrapf(err, "refresh lock %s", l.lock.Key())
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context) error {
	err := l.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	return err
}

// RedisLeader is the leader lock for deployments without MySQL. Any Locker
// works; with a MemoryLocker it only elects within one process.
type RedisLeader struct {
	locker Locker
	key    string
	ttl    time.Duration

	mu    sync.Mutex
	lease Lease
}

func NewRedisLeader(locker Locker, key string, ttl time.Duration) *RedisLeader {
	return &RedisLeader{locker: locker, key: key, ttl: ttl}
}

func (l *RedisLeader) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lease != nil {
		return true, nil
	}
	lease, err := l.locker.Obtain(ctx, l.key, l.ttl)
	if errors.Is(err, errors.ErrLockHeld) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	l.lease = lease
	return true, nil
}

func (l *RedisLeader) Renew(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lease == nil {
		return errors.New("not holding lock")
	}
	if err := l.lease.Refresh(ctx, l.ttl); err != nil {
		l.lease = nil
		return err
	}
	return nil
}

func (l *RedisLeader) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lease == nil {
		return nil
	}
	err := l.lease.Release(ctx)
	l.lease = nil
	return err
}

func (l *RedisLeader) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lease != nil
}
