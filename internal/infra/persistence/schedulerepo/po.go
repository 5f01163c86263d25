package schedulerepo

import (
	"time"

	domain "github.com/jobs/integration-engine/internal/biz/schedule"
	"github.com/jobs/integration-engine/internal/infra/persistence/commonrepo"
	"gorm.io/datatypes"
)

type AutomationSchedulePo struct {
	commonrepo.Mode
	InstallationID uint64                                `gorm:"column:installation_id;not null;uniqueIndex"`
	Expression     string                                `gorm:"column:expression;size:128;not null"`
	Timezone       string                                `gorm:"column:timezone;size:64"`
	Window         datatypes.JSONType[domain.WindowSpec] `gorm:"column:window;type:json"`
	NextRunAt      *time.Time                            `gorm:"column:next_run_at;index"`
	LastRunAt      *time.Time                            `gorm:"column:last_run_at"`
	SkippedCount   int                                   `gorm:"column:skipped_count;not null;default:0"`
	LastSkippedAt  *time.Time                            `gorm:"column:last_skipped_at"`
	Active         bool                                  `gorm:"column:active;not null;default:true"`
}

func (AutomationSchedulePo) TableName() string {
	return "automation_schedules"
}

func (po *AutomationSchedulePo) FromDomain(in *domain.AutomationSchedule) *AutomationSchedulePo {
	return &AutomationSchedulePo{
		Mode: commonrepo.Mode{
			ID:        in.ID,
			CreatedAt: in.CreatedAt,
			UpdatedAt: in.UpdatedAt,
		},
		InstallationID: in.InstallationID,
		Expression:     in.Expression,
		Timezone:       in.Timezone,
		Window:         datatypes.NewJSONType(in.Window),
		NextRunAt:      in.NextRunAt,
		LastRunAt:      in.LastRunAt,
		SkippedCount:   in.SkippedCount,
		LastSkippedAt:  in.LastSkippedAt,
		Active:         in.Active,
	}
}

func (po *AutomationSchedulePo) ToDomain() *domain.AutomationSchedule {
	return &domain.AutomationSchedule{
		ID:             po.ID,
		CreatedAt:      po.CreatedAt,
		UpdatedAt:      po.UpdatedAt,
		InstallationID: po.InstallationID,
		Expression:     po.Expression,
		Timezone:       po.Timezone,
		Window:         po.Window.Data(),
		NextRunAt:      po.NextRunAt,
		LastRunAt:      po.LastRunAt,
		SkippedCount:   po.SkippedCount,
		LastSkippedAt:  po.LastSkippedAt,
		Active:         po.Active,
	}
}

func patchToMap(input *domain.AutomationSchedulePatch) map[string]any {
	var values = make(map[string]any)
	if input.Expression != nil {
		values["expression"] = *input.Expression
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
	if input.SkippedCount != nil {
		values["skipped_count"] = *input.SkippedCount
	}
	if input.LastSkippedAt != nil {
		values["last_skipped_at"] = *input.LastSkippedAt
	}
	if input.Active != nil {
		values["active"] = *input.Active
	}
	return values
}
