package execution

import (
	"context"
	"time"

	"github.com/jobs/integration-engine/internal/infra/persistence/commonrepo"
	"github.com/samber/mo"
)

type Repo interface {
	commonrepo.Transaction
	Create(ctx context.Context, run *ExecutionRun) error
	GetByID(ctx context.Context, id uint64) (*ExecutionRun, error)
	// Save 覆盖非终态的执行记录, 已结束的记录返回 ErrConflict
	Save(ctx context.Context, run *ExecutionRun) error

	// FindRunning 返回安装当前 running 的执行记录
	FindRunning(ctx context.Context, installationID uint64) ([]*ExecutionRun, error)
	List(ctx context.Context, filter ListFilter, offset, limit int) ([]*ExecutionRun, int64, error)
	// RequestCancel sets the cancel flag on a running run. It reports false when
	// the run is missing or already terminal.
	RequestCancel(ctx context.Context, id uint64) (bool, error)
}

type ListFilter struct {
	InstallationID mo.Option[uint64]
	TenantID       mo.Option[string]
	Status         mo.Option[RunStatus]
	StartedAfter   mo.Option[time.Time]
}
