package applicationrepo

import (
	"context"

	"github.com/google/wire"
	domain "github.com/jobs/integration-engine/internal/biz/application"
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

func (r *MysqlRepositoryImpl) Upsert(ctx context.Context, app *domain.Application) error {
	po := new(ApplicationPo).FromDomain(app)
	err := r.Db(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}, {Name: "version"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "description", "execution_type", "trigger_type", "provider_key",
			"default_config", "required_secrets", "timeout_seconds", "max_pages", "updated_at",
		}),
	}).Create(po).Error
	if err != nil {
		return err
	}
	stored, err := r.getByKeyVersion(ctx, app.Key, app.Version)
	if err != nil {
		return err
	}
	app.ID = stored.ID
	app.CreatedAt = stored.CreatedAt
	app.UpdatedAt = stored.UpdatedAt
	return nil
}

func (r *MysqlRepositoryImpl) GetByID(ctx context.Context, id uint64) (*domain.Application, error) {
	po, err := commonrepo.First[ApplicationPo](r.Db(ctx).Where("id = ?", id))
	if err != nil || po == nil {
		return nil, err
	}
	return po.ToDomain(), nil
}

// GetByKey 返回最新发布的版本
func (r *MysqlRepositoryImpl) GetByKey(ctx context.Context, key string) (*domain.Application, error) {
	po, err := commonrepo.First[ApplicationPo](r.Db(ctx).Where("`key` = ?", key).Order("created_at DESC, id DESC"))
	if err != nil || po == nil {
		return nil, err
	}
	return po.ToDomain(), nil
}

func (r *MysqlRepositoryImpl) List(ctx context.Context) ([]*domain.Application, error) {
	var pos []ApplicationPo
	if err := r.Db(ctx).Order("id ASC").Find(&pos).Error; err != nil {
		return nil, err
	}
	return lo.Map(pos, func(po ApplicationPo, _ int) *domain.Application {
		return po.ToDomain()
	}), nil
}

func (r *MysqlRepositoryImpl) getByKeyVersion(ctx context.Context, key, version string) (*domain.Application, error) {
	var po ApplicationPo
	if err := r.Db(ctx).Where("`key` = ? AND version = ?", key, version).First(&po).Error; err != nil {
		return nil, err
	}
	return po.ToDomain(), nil
}
