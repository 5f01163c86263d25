package secretrepo

import (
	"time"

	domain "github.com/jobs/integration-engine/internal/biz/secret"
	"github.com/jobs/integration-engine/internal/infra/persistence/commonrepo"
)

// SecretPo installation_id 为 0 表示租户级, 避免唯一索引中出现 NULL
type SecretPo struct {
	commonrepo.Mode
	TenantID       string     `gorm:"column:tenant_id;size:64;not null;uniqueIndex:uk_scope_key,priority:1"`
	InstallationID uint64     `gorm:"column:installation_id;not null;default:0;uniqueIndex:uk_scope_key,priority:2;index"`
	Key            string     `gorm:"column:key;size:128;not null;uniqueIndex:uk_scope_key,priority:3"`
	Value          []byte     `gorm:"column:value;type:blob;not null"`
	Version        int64      `gorm:"column:version;not null;default:1"`
	LastUsedAt     *time.Time `gorm:"column:last_used_at"`
}

func (SecretPo) TableName() string {
	return "secrets"
}

func (po *SecretPo) FromDomain(in *domain.Secret) *SecretPo {
	return &SecretPo{
		Mode: commonrepo.Mode{
			ID:        in.ID,
			CreatedAt: in.CreatedAt,
			UpdatedAt: in.UpdatedAt,
		},
		TenantID:       in.TenantID,
		InstallationID: scope(in.InstallationID),
		Key:            in.Key,
		Value:          in.Value,
		Version:        in.Version,
		LastUsedAt:     in.LastUsedAt,
	}
}

func (po *SecretPo) ToDomain() *domain.Secret {
	out := &domain.Secret{
		ID:         po.ID,
		CreatedAt:  po.CreatedAt,
		UpdatedAt:  po.UpdatedAt,
		TenantID:   po.TenantID,
		Key:        po.Key,
		Value:      po.Value,
		Version:    po.Version,
		LastUsedAt: po.LastUsedAt,
	}
	if po.InstallationID != 0 {
		id := po.InstallationID
		out.InstallationID = &id
	}
	return out
}

func scope(installationID *uint64) uint64 {
	if installationID == nil {
		return 0
	}
	return *installationID
}
