package installationrepo

import (
	domain "github.com/jobs/integration-engine/internal/biz/installation"
	"github.com/jobs/integration-engine/internal/infra/persistence/commonrepo"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func (po *InstallationPo) FromDomain(in *domain.Installation) *InstallationPo {
	return &InstallationPo{
		Mode: commonrepo.Mode{
			ID:        in.ID,
			CreatedAt: in.CreatedAt,
			UpdatedAt: in.UpdatedAt,
		},
		TenantID:         in.TenantID,
		ApplicationID:    in.ApplicationID,
		ProviderKey:      in.ProviderKey,
		TriggerType:      in.TriggerType,
		Status:           in.Status,
		IsEnabled:        in.IsEnabled,
		Config:           in.Config,
		Frequency:        in.Frequency,
		Timezone:         in.Timezone,
		Window:           datatypes.NewJSONType(in.Window),
		NextRunAt:        in.NextRunAt,
		LastRunAt:        in.LastRunAt,
		RunCount:         in.RunCount,
		SuccessCount:     in.SuccessCount,
		ErrorCount:       in.ErrorCount,
		LastErrorMessage: in.LastErrorMessage,
	}
}

func (po *InstallationPo) ToDomain() *domain.Installation {
	return &domain.Installation{
		ID:               po.ID,
		CreatedAt:        po.CreatedAt,
		UpdatedAt:        po.UpdatedAt,
		TenantID:         po.TenantID,
		ApplicationID:    po.ApplicationID,
		ProviderKey:      po.ProviderKey,
		TriggerType:      po.TriggerType,
		Status:           po.Status,
		IsEnabled:        po.IsEnabled,
		Config:           po.Config,
		Frequency:        po.Frequency,
		Timezone:         po.Timezone,
		Window:           po.Window.Data(),
		NextRunAt:        po.NextRunAt,
		LastRunAt:        po.LastRunAt,
		RunCount:         po.RunCount,
		SuccessCount:     po.SuccessCount,
		ErrorCount:       po.ErrorCount,
		LastErrorMessage: po.LastErrorMessage,
	}
}

func patchToMap(input *domain.Patch) map[string]any {
	var values = make(map[string]any)

	if input.Status != nil {
		values["status"] = *input.Status
	}
	if input.IsEnabled != nil {
		values["is_enabled"] = *input.IsEnabled
	}
	if input.Config != nil {
		values["config"] = datatypes.JSONMap(*input.Config)
	}
	if input.Frequency != nil {
		values["frequency"] = *input.Frequency
	}
	if input.Timezone != nil {
		values["timezone"] = *input.Timezone
	}
	if input.Window != nil {
		values["window"] = datatypes.NewJSONType(*input.Window)
	}
	if next, ok := input.NextRunAt.Get(); ok {
		values["next_run_at"] = next
	}
	if input.LastRunAt != nil {
		values["last_run_at"] = *input.LastRunAt
	}
	if input.RunCountDelta != 0 {
		values["run_count"] = gorm.Expr("run_count + ?", input.RunCountDelta)
	}
	if input.SuccessCountDelta != 0 {
		values["success_count"] = gorm.Expr("success_count + ?", input.SuccessCountDelta)
	}
	if input.ErrorCountDelta != 0 {
		values["error_count"] = gorm.Expr("error_count + ?", input.ErrorCountDelta)
	}
	if input.LastErrorMessage != nil {
		values["last_error_message"] = *input.LastErrorMessage
	}
	return values
}
