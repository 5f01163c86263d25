// Package lock provides the per-installation execution lock and the leader
// lock that decides which engine process runs the scheduler tick.
package lock

import (
	"context"
	"strconv"
	"time"
)

// Locker hands out short-lived exclusive leases. Obtain fails fast with an
// error marked errors.ErrLockHeld when another holder owns the key.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

type Lease interface {
	Refresh(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// InstallationKey 单个安装的执行锁
func InstallationKey(installationID uint64) string {
	return "engine:lock:installation:" + strconv.FormatUint(installationID, 10)
}

// LeaderLock is held by at most one engine process at a time.
type LeaderLock interface {
	TryLock(ctx context.Context) (bool, error)
	Renew(ctx context.Context) error
	Unlock(ctx context.Context) error
	IsLocked() bool
}
