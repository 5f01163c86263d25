package healthrepo

import (
	"time"

	domain "github.com/jobs/integration-engine/internal/biz/health"
	"github.com/jobs/integration-engine/internal/infra/persistence/commonrepo"
)

type IntegrationHealthPo struct {
	commonrepo.Mode
	InstallationID      uint64        `gorm:"column:installation_id;not null;uniqueIndex"`
	Status              domain.Status `gorm:"column:status;size:32;not null;index"`
	APIStatus           string        `gorm:"column:api_status;size:32"`
	ConnectionStatus    string        `gorm:"column:connection_status;size:32"`
	CredentialValid     bool          `gorm:"column:credential_valid"`
	CredentialExpiresAt *time.Time    `gorm:"column:credential_expires_at"`
	QuotaUsed           int64         `gorm:"column:quota_used"`
	QuotaLimit          int64         `gorm:"column:quota_limit"`
	ConsecutiveFailures int           `gorm:"column:consecutive_failures;not null;default:0"`
	Message             string        `gorm:"column:message;type:text"`
	CheckedAt           time.Time     `gorm:"column:checked_at"`
}

func (IntegrationHealthPo) TableName() string {
	return "integration_healths"
}

func (po *IntegrationHealthPo) FromDomain(in *domain.IntegrationHealth) *IntegrationHealthPo {
	return &IntegrationHealthPo{
		Mode: commonrepo.Mode{
			ID:        in.ID,
			CreatedAt: in.CreatedAt,
			UpdatedAt: in.UpdatedAt,
		},
		InstallationID:      in.InstallationID,
		Status:              in.Status,
		APIStatus:           in.APIStatus,
		ConnectionStatus:    in.ConnectionStatus,
		CredentialValid:     in.CredentialValid,
		CredentialExpiresAt: in.CredentialExpiresAt,
		QuotaUsed:           in.QuotaUsed,
		QuotaLimit:          in.QuotaLimit,
		ConsecutiveFailures: in.ConsecutiveFailures,
		Message:             in.Message,
		CheckedAt:           in.CheckedAt,
	}
}

func (po *IntegrationHealthPo) ToDomain() *domain.IntegrationHealth {
	return &domain.IntegrationHealth{
		ID:                  po.ID,
		CreatedAt:           po.CreatedAt,
		UpdatedAt:           po.UpdatedAt,
		InstallationID:      po.InstallationID,
		Status:              po.Status,
		APIStatus:           po.APIStatus,
		ConnectionStatus:    po.ConnectionStatus,
		CredentialValid:     po.CredentialValid,
		CredentialExpiresAt: po.CredentialExpiresAt,
		QuotaUsed:           po.QuotaUsed,
		QuotaLimit:          po.QuotaLimit,
		ConsecutiveFailures: po.ConsecutiveFailures,
		Message:             po.Message,
		CheckedAt:           po.CheckedAt,
	}
}
