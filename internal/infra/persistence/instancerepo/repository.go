package instancerepo

import (
	"context"
	"time"

	"github.com/google/wire"
	domain "github.com/jobs/integration-engine/internal/biz/instance"
	"github.com/jobs/integration-engine/internal/infra/persistence/commonrepo"
	"github.com/samber/lo"
	"gorm.io/gorm/clause"
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

// Register 以 instance_id 为键创建或刷新
func (r *MysqlRepositoryImpl) Register(ctx context.Context, instance *domain.EngineInstance) error {
	po := new(EngineInstancePo).FromDomain(instance)
	return r.Db(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "instance_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"host", "is_leader", "heartbeat_at", "updated_at"}),
	}).Create(po).Error
}

func (r *MysqlRepositoryImpl) GetByInstanceID(ctx context.Context, instanceID string) (*domain.EngineInstance, error) {
	po, err := commonrepo.First[EngineInstancePo](r.Db(ctx).Where("instance_id = ?", instanceID))
	if err != nil || po == nil {
		return nil, err
	}
	return po.ToDomain(), nil
}

func (r *MysqlRepositoryImpl) UpdateLeaderStatus(ctx context.Context, instanceID string, isLeader bool) error {
	return r.Db(ctx).Model(&EngineInstancePo{}).
		Where("instance_id = ?", instanceID).
		Update("is_leader", isLeader).Error
}

func (r *MysqlRepositoryImpl) Heartbeat(ctx context.Context, instanceID string, at time.Time) error {
	return r.Db(ctx).Model(&EngineInstancePo{}).
		Where("instance_id = ?", instanceID).
		Update("heartbeat_at", at).Error
}

func (r *MysqlRepositoryImpl) List(ctx context.Context) ([]*domain.EngineInstance, error) {
	var pos []*EngineInstancePo
	if err := r.Db(ctx).Order("instance_id ASC").Find(&pos).Error; err != nil {
		return nil, err
	}
	return lo.Map(pos, func(po *EngineInstancePo, _ int) *domain.EngineInstance {
		return po.ToDomain()
	}), nil
}
