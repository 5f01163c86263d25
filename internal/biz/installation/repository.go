package installation

import (
	"context"
	"time"

	"github.com/jobs/integration-engine/internal/biz/application"
	"github.com/jobs/integration-engine/internal/infra/persistence/commonrepo"
	"github.com/samber/mo"
)

type Repo interface {
	commonrepo.Transaction
	Create(ctx context.Context, inst *Installation) error
	GetByID(ctx context.Context, id uint64) (*Installation, error)
	Update(ctx context.Context, id uint64, patch *Patch) error
	Delete(ctx context.Context, id uint64) error
	List(ctx context.Context, filter *ListFilter) ([]*Installation, error)

	// FindDue 查找 next_run_at <= now 的可调度安装, 按 next_run_at, id 升序
	FindDue(ctx context.Context, now time.Time, limit int) ([]*Installation, error)

	// ClaimSlot moves nextRunAt from expected to next only if nobody moved it
	// first. It reports whether this caller won the slot.
	ClaimSlot(ctx context.Context, id uint64, expected time.Time, next *time.Time) (bool, error)
}

type ListFilter struct {
	TenantID      mo.Option[string]
	ApplicationID mo.Option[uint64]
	Status        mo.Option[Status]
	Enabled       mo.Option[bool]
	TriggerType   mo.Option[application.TriggerType]
}
