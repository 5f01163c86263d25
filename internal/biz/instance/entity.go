package instance

import (
	"context"
	"time"
)

// EngineInstance 引擎进程, IsLeader 标记当前负责调度 tick 的实例
type EngineInstance struct {
	ID          uint64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	InstanceID  string
	Host        string
	IsLeader    bool
	HeartbeatAt time.Time
}

type Repo interface {
	// Register 创建或刷新实例记录
	Register(ctx context.Context, inst *EngineInstance) error
	GetByInstanceID(ctx context.Context, instanceID string) (*EngineInstance, error)
	UpdateLeaderStatus(ctx context.Context, instanceID string, isLeader bool) error
	Heartbeat(ctx context.Context, instanceID string, at time.Time) error
	List(ctx context.Context) ([]*EngineInstance, error)
}
