package installationrepo

import (
	"time"

	"github.com/jobs/integration-engine/internal/biz/application"
	domain "github.com/jobs/integration-engine/internal/biz/installation"
	"github.com/jobs/integration-engine/internal/biz/schedule"
	"github.com/jobs/integration-engine/internal/infra/persistence/commonrepo"
	"gorm.io/datatypes"
)

type InstallationPo struct {
	commonrepo.Mode
	TenantID      string                  `gorm:"column:tenant_id;size:64;not null;index"`
	ApplicationID uint64                  `gorm:"column:application_id;not null;index"`
	ProviderKey   string                  `gorm:"column:provider_key;size:64"`
	TriggerType   application.TriggerType `gorm:"column:trigger_type;size:32;not null"`
	Status        domain.Status           `gorm:"column:status;size:32;not null;index:idx_due,priority:2"`
	IsEnabled     bool                    `gorm:"column:is_enabled;not null;default:true;index:idx_due,priority:1"`
	Config        datatypes.JSONMap       `gorm:"column:config;type:json"`

	Frequency string                                  `gorm:"column:frequency;size:128"`
	Timezone  string                                  `gorm:"column:timezone;size:64"`
	Window    datatypes.JSONType[schedule.WindowSpec] `gorm:"column:window;type:json"`
	NextRunAt *time.Time                              `gorm:"column:next_run_at;index:idx_due,priority:3"`
	LastRunAt *time.Time                              `gorm:"column:last_run_at"`

	RunCount         int64  `gorm:"column:run_count;not null;default:0"`
	SuccessCount     int64  `gorm:"column:success_count;not null;default:0"`
	ErrorCount       int64  `gorm:"column:error_count;not null;default:0"`
	LastErrorMessage string `gorm:"column:last_error_message;type:text"`
}

func (InstallationPo) TableName() string {
	return "installations"
}
