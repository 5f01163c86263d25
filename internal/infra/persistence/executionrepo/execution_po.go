package executionrepo

import (
	"time"

	domain "github.com/jobs/integration-engine/internal/biz/execution"
	"github.com/jobs/integration-engine/internal/infra/persistence/commonrepo"
	"gorm.io/datatypes"
)

type ExecutionRunPo struct {
	commonrepo.Mode
	InstallationID  uint64                               `gorm:"column:installation_id;not null;index:idx_installation_status"`
	TenantID        string                               `gorm:"column:tenant_id;size:64;not null;index"`
	JobID           string                               `gorm:"column:job_id;size:64;index"`
	Status          domain.RunStatus                     `gorm:"column:status;size:32;not null;index:idx_installation_status"`
	TriggeredBy     domain.TriggerSource                 `gorm:"column:triggered_by;size:32;not null"`
	Attempts        int                                  `gorm:"column:attempts;not null;default:1"`
	StartedAt       time.Time                            `gorm:"column:started_at;not null;index"`
	CompletedAt     *time.Time                           `gorm:"column:completed_at"`
	DurationMs      int64                                `gorm:"column:duration_ms;default:0"`
	Results         datatypes.JSONMap                    `gorm:"column:results;type:json"`
	ErrorMessage    string                               `gorm:"column:error_message;type:text"`
	Logs            datatypes.JSONSlice[domain.LogEntry] `gorm:"column:logs;type:json"`
	CancelRequested bool                                 `gorm:"column:cancel_requested;not null;default:false"`
}

func (ExecutionRunPo) TableName() string {
	return "execution_runs"
}
