package lock

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/jobs/integration-engine/pkg/errors"
	"go.uber.org/zap"
)

// MySQLLeader MySQL GET_LOCK 实现的领导者锁.
// GET_LOCK 是会话级的, 所以持锁期间固定使用同一个连接.
type MySQLLeader struct {
	db       *sql.DB
	lockName string
	timeout  time.Duration
	logger   *zap.Logger

	mu   sync.Mutex
	conn *sql.Conn
}

func NewMySQLLeader(db *sql.DB, lockName string, timeout time.Duration, logger *zap.Logger) *MySQLLeader {
	return &MySQLLeader{
		db:       db,
		lockName: lockName,
		timeout:  timeout,
		logger:   logger.Named("leader"),
	}
}

// TryLock 尝试获取锁
func (l *MySQLLeader) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		return true, nil
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, errors.Wrap(err, "pin connection for leader lock")
	}

	// 返回值: 1-成功获取锁, 0-超时, NULL-错误
	var result sql.NullInt64
	err = conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", l.lockName, int(l.timeout.Seconds())).Scan(&result)
	if err != nil {
		_ = conn.Close()
		return false, errors.Wrap(err, "acquire leader lock")
	}
	if !result.Valid {
		_ = conn.Close()
		return false, errors.New("lock query returned NULL")
	}
	if result.Int64 != 1 {
		_ = conn.Close()
		return false, nil
	}

	l.conn = conn
	l.logger.Info("acquired leader lock", zap.String("lock_name", l.lockName))
	return true, nil
}

// Renew checks that the pinned session still owns the lock.
func (l *MySQLLeader) Renew(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return errors.New("not holding lock")
	}

	// IS_USED_LOCK 返回持锁会话的 id
	var owner, self sql.NullInt64
	err := l.conn.QueryRowContext(ctx, "SELECT IS_USED_LOCK(?), CONNECTION_ID()", l.lockName).Scan(&owner, &self)
	if err != nil {
		l.dropLocked()
		return errors.Wrap(err, "check leader lock")
	}
	if !owner.Valid || owner.Int64 != self.Int64 {
		l.dropLocked()
		return errors.New("leader lock is no longer held")
	}
	return nil
}

// Unlock 释放锁
func (l *MySQLLeader) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}

	var result sql.NullInt64
	err := l.conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", l.lockName).Scan(&result)
	l.dropLocked()
	if err != nil {
		return errors.Wrap(err, "release leader lock")
	}
	if !result.Valid || result.Int64 != 1 {
		return errors.New("release leader lock: not owner or lock does not exist")
	}
	l.logger.Info("released leader lock", zap.String("lock_name", l.lockName))
	return nil
}

func (l *MySQLLeader) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

func (l *MySQLLeader) dropLocked() {
	if l.conn != nil {
		_ = l.conn.Close()
		l.conn = nil
	}
}
