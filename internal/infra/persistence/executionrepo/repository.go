package executionrepo

import (
	"context"

	"github.com/google/wire"
	domain "github.com/jobs/integration-engine/internal/biz/execution"
	"github.com/jobs/integration-engine/internal/infra/persistence/commonrepo"
	pkgerrors "github.com/jobs/integration-engine/pkg/errors"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

var Provider = wire.NewSet(NewMysqlRepositoryImpl)

type MysqlRepositoryImpl struct {
	commonrepo.DefaultRepo
}

func NewMysqlRepositoryImpl(db commonrepo.DB) domain.Repo {
	return &MysqlRepositoryImpl{
		DefaultRepo: commonrepo.NewDefaultRepo(db),
	}
}

func (r *MysqlRepositoryImpl) Create(ctx context.Context, run *domain.ExecutionRun) error {
	po := new(ExecutionRunPo).FromDomain(run)
	if err := r.Db(ctx).Create(po).Error; err != nil {
		return err
	}
	run.ID = po.ID
	run.CreatedAt = po.CreatedAt
	run.UpdatedAt = po.UpdatedAt
	return nil
}

func (r *MysqlRepositoryImpl) GetByID(ctx context.Context, id uint64) (*domain.ExecutionRun, error) {
	po, err := commonrepo.First[ExecutionRunPo](r.Db(ctx).Where("id = ?", id))
	if err != nil || po == nil {
		return nil, err
	}
	return po.ToDomain(), nil
}

// Save 只更新未结束的记录, completed_at 作为条件保证终态不可变
func (r *MysqlRepositoryImpl) Save(ctx context.Context, run *domain.ExecutionRun) error {
	po := new(ExecutionRunPo).FromDomain(run)
	res := r.Db(ctx).Model(&ExecutionRunPo{}).
		Where("id = ? AND completed_at IS NULL", run.ID).
		Updates(saveToMap(po))
	if matched, err := commonrepo.Matched(res); err != nil {
		return err
	} else if !matched {
		return pkgerrors.Mark(pkgerrors.Newf("run %d is already finished", run.ID), pkgerrors.ErrConflict)
	}
	return nil
}

func (r *MysqlRepositoryImpl) FindRunning(ctx context.Context, installationID uint64) ([]*domain.ExecutionRun, error) {
	var pos []ExecutionRunPo
	err := r.Db(ctx).
		Where("installation_id = ? AND status = ?", installationID, domain.RunStatusRunning).
		Order("id ASC").
		Find(&pos).Error
	if err != nil {
		return nil, err
	}
	return lo.Map(pos, func(po ExecutionRunPo, _ int) *domain.ExecutionRun {
		return po.ToDomain()
	}), nil
}

func (r *MysqlRepositoryImpl) List(ctx context.Context, filter domain.ListFilter, offset, limit int) ([]*domain.ExecutionRun, int64, error) {
	query := func() *gorm.DB {
		var db = r.Db(ctx).Model(&ExecutionRunPo{})
		if filter.InstallationID.IsPresent() {
			db = db.Where("installation_id = ?", filter.InstallationID.MustGet())
		}
		if filter.TenantID.IsPresent() {
			db = db.Where("tenant_id = ?", filter.TenantID.MustGet())
		}
		if filter.Status.IsPresent() {
			db = db.Where("status = ?", filter.Status.MustGet())
		}
		if filter.StartedAfter.IsPresent() {
			db = db.Where("started_at >= ?", filter.StartedAfter.MustGet())
		}
		return db
	}

	var total int64
	if err := query().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var pos []ExecutionRunPo
	if err := query().Order("started_at DESC, id DESC").Offset(offset).Limit(limit).Find(&pos).Error; err != nil {
		return nil, 0, err
	}
	return lo.Map(pos, func(po ExecutionRunPo, _ int) *domain.ExecutionRun {
		return po.ToDomain()
	}), total, nil
}

func (r *MysqlRepositoryImpl) RequestCancel(ctx context.Context, id uint64) (bool, error) {
	res := r.Db(ctx).Model(&ExecutionRunPo{}).
		Where("id = ? AND completed_at IS NULL", id).
		Update("cancel_requested", true)
	return commonrepo.Matched(res)
}
