package instancerepo

import (
	"time"

	domain "github.com/jobs/integration-engine/internal/biz/instance"
	"github.com/jobs/integration-engine/internal/infra/persistence/commonrepo"
)

type EngineInstancePo struct {
	commonrepo.Mode
	InstanceID  string    `gorm:"column:instance_id;size:64;uniqueIndex"`
	Host        string    `gorm:"column:host;size:255"`
	IsLeader    bool      `gorm:"column:is_leader;default:false"`
	HeartbeatAt time.Time `gorm:"column:heartbeat_at"`
}

func (EngineInstancePo) TableName() string {
	return "engine_instances"
}

func (po *EngineInstancePo) ToDomain() *domain.EngineInstance {
	return &domain.EngineInstance{
		ID:          po.ID,
		CreatedAt:   po.CreatedAt,
		UpdatedAt:   po.UpdatedAt,
		InstanceID:  po.InstanceID,
		Host:        po.Host,
		IsLeader:    po.IsLeader,
		HeartbeatAt: po.HeartbeatAt,
	}
}

func (po *EngineInstancePo) FromDomain(d *domain.EngineInstance) *EngineInstancePo {
	po.ID = d.ID
	po.InstanceID = d.InstanceID
	po.Host = d.Host
	po.IsLeader = d.IsLeader
	po.HeartbeatAt = d.HeartbeatAt
	if !d.CreatedAt.IsZero() {
		po.CreatedAt = d.CreatedAt
	}
	if !d.UpdatedAt.IsZero() {
		po.UpdatedAt = d.UpdatedAt
	}
	return po
}
