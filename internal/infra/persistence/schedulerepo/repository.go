package schedulerepo

import (
	"context"

	"github.com/google/wire"
	domain "github.com/jobs/integration-engine/internal/biz/schedule"
	"github.com/jobs/integration-engine/internal/infra/persistence/commonrepo"
	"gorm.io/gorm/clause"
)

var Provider = wire.NewSet(NewMysqlRepositoryImpl)

type MysqlRepositoryImpl struct {
	commonrepo.DefaultRepo
}

func NewMysqlRepositoryImpl(db commonrepo.DB) domain.Repo {
	return &MysqlRepositoryImpl{DefaultRepo: commonrepo.NewDefaultRepo(db)}
}

func (r *MysqlRepositoryImpl) Upsert(ctx context.Context, schedule *domain.AutomationSchedule) error {
	po := new(AutomationSchedulePo).FromDomain(schedule)
	err := r.Db(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "installation_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"expression", "timezone", "window", "next_run_at", "last_run_at",
			"skipped_count", "last_skipped_at", "active", "updated_at",
		}),
	}).Create(po).Error
	if err != nil {
		return err
	}
	stored, err := r.GetByInstallationID(ctx, schedule.InstallationID)
	if err != nil {
		return err
	} else if stored != nil {
		schedule.ID = stored.ID
		schedule.CreatedAt = stored.CreatedAt
		schedule.UpdatedAt = stored.UpdatedAt
	}
	return nil
}

func (r *MysqlRepositoryImpl) GetByInstallationID(ctx context.Context, installationID uint64) (*domain.AutomationSchedule, error) {
	po, err := commonrepo.First[AutomationSchedulePo](r.Db(ctx).Where("installation_id = ?", installationID))
	if err != nil || po == nil {
		return nil, err
	}
	return po.ToDomain(), nil
}

func (r *MysqlRepositoryImpl) Update(ctx context.Context, installationID uint64, patch *domain.AutomationSchedulePatch) error {
	values := patchToMap(patch)
	if len(values) == 0 {
		return nil
	}
	return r.Db(ctx).Model(&AutomationSchedulePo{}).Where("installation_id = ?", installationID).Updates(values).Error
}

func (r *MysqlRepositoryImpl) DeleteByInstallationID(ctx context.Context, installationID uint64) error {
	return r.Db(ctx).Where("installation_id = ?", installationID).Delete(&AutomationSchedulePo{}).Error
}
