package installationrepo

import (
	"context"
	"time"

	"github.com/google/wire"
	"github.com/jobs/integration-engine/internal/biz/application"
	domain "github.com/jobs/integration-engine/internal/biz/installation"
	"github.com/jobs/integration-engine/internal/infra/persistence/commonrepo"
	"github.com/samber/lo"
)

var Provider = wire.NewSet(NewMysqlRepositoryImpl)

type MysqlRepositoryImpl struct {
	commonrepo.DefaultRepo
}

func NewMysqlRepositoryImpl(db commonrepo.DB) domain.Repo {
	return &MysqlRepositoryImpl{DefaultRepo: commonrepo.NewDefaultRepo(db)}
}

func (r *MysqlRepositoryImpl) Create(ctx context.Context, inst *domain.Installation) error {
	po := new(InstallationPo).FromDomain(inst)
	if err := r.Db(ctx).Create(po).Error; err != nil {
		return err
	}
	inst.ID = po.ID
	inst.CreatedAt = po.CreatedAt
	inst.UpdatedAt = po.UpdatedAt
	return nil
}

func (r *MysqlRepositoryImpl) GetByID(ctx context.Context, id uint64) (*domain.Installation, error) {
	po, err := commonrepo.First[InstallationPo](r.Db(ctx).Where("id = ?", id))
	if err != nil || po == nil {
		return nil, err
	}
	return po.ToDomain(), nil
}

func (r *MysqlRepositoryImpl) Update(ctx context.Context, id uint64, patch *domain.Patch) error {
	values := patchToMap(patch)
	if len(values) == 0 {
		return nil
	}
	return r.Db(ctx).Model(&InstallationPo{}).Where("id = ?", id).Updates(values).Error
}

func (r *MysqlRepositoryImpl) Delete(ctx context.Context, id uint64) error {
	return r.Db(ctx).Delete(&InstallationPo{}, id).Error
}

func (r *MysqlRepositoryImpl) List(ctx context.Context, filter *domain.ListFilter) ([]*domain.Installation, error) {
	var pos []InstallationPo
	query := r.Db(ctx).Model(&InstallationPo{})
	if filter != nil {
		if filter.TenantID.IsPresent() {
			query = query.Where("tenant_id = ?", filter.TenantID.MustGet())
		}
		if filter.ApplicationID.IsPresent() {
			query = query.Where("application_id = ?", filter.ApplicationID.MustGet())
		}
		if filter.Status.IsPresent() {
			query = query.Where("status = ?", filter.Status.MustGet())
		}
		if filter.Enabled.IsPresent() {
			query = query.Where("is_enabled = ?", filter.Enabled.MustGet())
		}
		if filter.TriggerType.IsPresent() {
			query = query.Where("trigger_type = ?", filter.TriggerType.MustGet())
		}
	}
	if err := query.Order("id ASC").Find(&pos).Error; err != nil {
		return nil, err
	}
	return lo.Map(pos, func(po InstallationPo, _ int) *domain.Installation {
		return po.ToDomain()
	}), nil
}

func (r *MysqlRepositoryImpl) FindDue(ctx context.Context, now time.Time, limit int) ([]*domain.Installation, error) {
	var pos []InstallationPo
	query := r.Db(ctx).Model(&InstallationPo{}).
		Where("is_enabled = ? AND status = ? AND trigger_type = ?", true, domain.StatusActive, application.TriggerTypeSchedule).
		Where("next_run_at IS NOT NULL AND next_run_at <= ?", now).
		Order("next_run_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&pos).Error; err != nil {
		return nil, err
	}
	return lo.Map(pos, func(po InstallationPo, _ int) *domain.Installation {
		return po.ToDomain()
	}), nil
}

// ClaimSlot 以 next_run_at 作为版本号做条件更新
func (r *MysqlRepositoryImpl) ClaimSlot(ctx context.Context, id uint64, expected time.Time, next *time.Time) (bool, error) {
	res := r.Db(ctx).Model(&InstallationPo{}).
		Where("id = ? AND next_run_at = ?", id, expected).
		Update("next_run_at", next)
	return commonrepo.Matched(res)
}
