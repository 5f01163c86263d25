package applicationrepo

import (
	domain "github.com/jobs/integration-engine/internal/biz/application"
	"github.com/jobs/integration-engine/internal/infra/persistence/commonrepo"
	"gorm.io/datatypes"
)

type ApplicationPo struct {
	commonrepo.Mode
	Key             string                      `gorm:"column:key;size:128;not null;uniqueIndex:uk_key_version"`
	Version         string                      `gorm:"column:version;size:32;not null;uniqueIndex:uk_key_version"`
	Name            string                      `gorm:"column:name;size:255;not null"`
	Description     string                      `gorm:"column:description;type:text"`
	ExecutionType   domain.ExecutionType        `gorm:"column:execution_type;size:32;not null"`
	TriggerType     domain.TriggerType          `gorm:"column:trigger_type;size:32;not null"`
	ProviderKey     string                      `gorm:"column:provider_key;size:64"`
	DefaultConfig   datatypes.JSONMap           `gorm:"column:default_config;type:json"`
	RequiredSecrets datatypes.JSONSlice[string] `gorm:"column:required_secrets;type:json"`
	TimeoutSeconds  int                         `gorm:"column:timeout_seconds;default:60"`
	MaxPages        int                         `gorm:"column:max_pages;default:10"`
}

func (ApplicationPo) TableName() string {
	return "applications"
}

func (po *ApplicationPo) FromDomain(in *domain.Application) *ApplicationPo {
	return &ApplicationPo{
		Mode: commonrepo.Mode{
			ID:        in.ID,
			CreatedAt: in.CreatedAt,
			UpdatedAt: in.UpdatedAt,
		},
		Key:             in.Key,
		Version:         in.Version,
		Name:            in.Name,
		Description:     in.Description,
		ExecutionType:   in.ExecutionType,
		TriggerType:     in.TriggerType,
		ProviderKey:     in.ProviderKey,
		DefaultConfig:   in.DefaultConfig,
		RequiredSecrets: in.RequiredSecrets,
		TimeoutSeconds:  in.TimeoutSeconds,
		MaxPages:        in.MaxPages,
	}
}

func (po *ApplicationPo) ToDomain() *domain.Application {
	return &domain.Application{
		ID:              po.ID,
		CreatedAt:       po.CreatedAt,
		UpdatedAt:       po.UpdatedAt,
		Key:             po.Key,
		Version:         po.Version,
		Name:            po.Name,
		Description:     po.Description,
		ExecutionType:   po.ExecutionType,
		TriggerType:     po.TriggerType,
		ProviderKey:     po.ProviderKey,
		DefaultConfig:   po.DefaultConfig,
		RequiredSecrets: po.RequiredSecrets,
		TimeoutSeconds:  po.TimeoutSeconds,
		MaxPages:        po.MaxPages,
	}
}
