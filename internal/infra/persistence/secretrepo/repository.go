package secretrepo

import (
	"context"
	"time"

	"github.com/google/wire"
	domain "github.com/jobs/integration-engine/internal/biz/secret"
	"github.com/jobs/integration-engine/internal/infra/persistence/commonrepo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var Provider = wire.NewSet(NewMysqlRepositoryImpl)

type MysqlRepositoryImpl struct {
	commonrepo.DefaultRepo
}

func NewMysqlRepositoryImpl(db commonrepo.DB) domain.Repo {
	return &MysqlRepositoryImpl{DefaultRepo: commonrepo.NewDefaultRepo(db)}
}

func (r *MysqlRepositoryImpl) Find(ctx context.Context, tenantID string, installationID *uint64, key string) (*domain.Secret, error) {
	po, err := commonrepo.First[SecretPo](r.Db(ctx).
		Where("tenant_id = ? AND installation_id = ? AND `key` = ?", tenantID, scope(installationID), key))
	if err != nil || po == nil {
		return nil, err
	}
	return po.ToDomain(), nil
}

// Upsert 冲突时覆盖密文并递增版本号
func (r *MysqlRepositoryImpl) Upsert(ctx context.Context, sec *domain.Secret) error {
	po := new(SecretPo).FromDomain(sec)
	po.Version = 1
	err := r.Db(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "installation_id"}, {Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"value":      po.Value,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		}),
	}).Create(po).Error
	if err != nil {
		return err
	}
	stored, err := r.Find(ctx, sec.TenantID, sec.InstallationID, sec.Key)
	if err != nil {
		return err
	} else if stored != nil {
		sec.ID = stored.ID
		sec.Version = stored.Version
		sec.CreatedAt = stored.CreatedAt
		sec.UpdatedAt = stored.UpdatedAt
	}
	return nil
}

func (r *MysqlRepositoryImpl) CompareAndSwap(ctx context.Context, id uint64, version int64, value []byte) (bool, error) {
	res := r.Db(ctx).Model(&SecretPo{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]any{
			"value":   value,
			"version": gorm.Expr("version + 1"),
		})
	return commonrepo.Matched(res)
}

func (r *MysqlRepositoryImpl) Touch(ctx context.Context, id uint64, at time.Time) error {
	return r.Db(ctx).Model(&SecretPo{}).Where("id = ?", id).UpdateColumn("last_used_at", at).Error
}

func (r *MysqlRepositoryImpl) Delete(ctx context.Context, id uint64) error {
	return r.Db(ctx).Delete(&SecretPo{}, id).Error
}

func (r *MysqlRepositoryImpl) DeleteByInstallationID(ctx context.Context, installationID uint64) error {
	if installationID == 0 {
		return nil
	}
	return r.Db(ctx).Where("installation_id = ?", installationID).Delete(&SecretPo{}).Error
}
