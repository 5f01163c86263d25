package healthrepo

import (
	"context"

	"github.com/google/wire"
	domain "github.com/jobs/integration-engine/internal/biz/health"
	"github.com/jobs/integration-engine/internal/infra/persistence/commonrepo"
	"github.com/samber/lo"
	"gorm.io/gorm/clause"
)

var Provider = wire.NewSet(NewMysqlRepositoryImpl)

type MysqlRepositoryImpl struct {
	commonrepo.DefaultRepo
}

func NewMysqlRepositoryImpl(db commonrepo.DB) domain.Repo {
	return &MysqlRepositoryImpl{DefaultRepo: commonrepo.NewDefaultRepo(db)}
}

// Save 每个安装只保留一条最新记录
func (r *MysqlRepositoryImpl) Save(ctx context.Context, h *domain.IntegrationHealth) error {
	po := new(IntegrationHealthPo).FromDomain(h)
	err := r.Db(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "installation_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "api_status", "connection_status", "credential_valid", "credential_expires_at",
			"quota_used", "quota_limit", "consecutive_failures", "message", "checked_at", "updated_at",
		}),
	}).Create(po).Error
	if err != nil {
		return err
	}
	stored, err := r.Latest(ctx, h.InstallationID)
	if err != nil {
		return err
	} else if stored != nil {
		h.ID = stored.ID
		h.CreatedAt = stored.CreatedAt
		h.UpdatedAt = stored.UpdatedAt
	}
	return nil
}

func (r *MysqlRepositoryImpl) Latest(ctx context.Context, installationID uint64) (*domain.IntegrationHealth, error) {
	po, err := commonrepo.First[IntegrationHealthPo](r.Db(ctx).Where("installation_id = ?", installationID))
	if err != nil || po == nil {
		return nil, err
	}
	return po.ToDomain(), nil
}

func (r *MysqlRepositoryImpl) LatestFor(ctx context.Context, installationIDs []uint64) (map[uint64]*domain.IntegrationHealth, error) {
	out := make(map[uint64]*domain.IntegrationHealth, len(installationIDs))
	if len(installationIDs) == 0 {
		return out, nil
	}
	var pos []IntegrationHealthPo
	if err := r.Db(ctx).Where("installation_id IN ?", installationIDs).Find(&pos).Error; err != nil {
		return nil, err
	}
	return lo.SliceToMap(pos, func(po IntegrationHealthPo) (uint64, *domain.IntegrationHealth) {
		return po.InstallationID, po.ToDomain()
	}), nil
}

func (r *MysqlRepositoryImpl) DeleteByInstallationID(ctx context.Context, installationID uint64) error {
	return r.Db(ctx).Where("installation_id = ?", installationID).Delete(&IntegrationHealthPo{}).Error
}
