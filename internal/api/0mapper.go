package api

import (
	"time"

	bizhealth "github.com/jobs/integration-engine/internal/biz/health"
	"github.com/jobs/integration-engine/internal/biz/execution"
	"github.com/jobs/integration-engine/internal/biz/installation"
	"github.com/jobs/integration-engine/internal/biz/schedule"
)

type ListInstallationsReq struct {
	TenantID      string `form:"tenant_id"`
	ApplicationID uint64 `form:"application_id"`
	Status        string `form:"status" binding:"omitempty,oneof=pending installing active inactive error"`
	Enabled       *bool  `form:"enabled"`
}

// UpdateInstallationReq 未出现的字段保持不变
type UpdateInstallationReq struct {
	Config    *map[string]any      `json:"config"`
	Frequency *string              `json:"frequency"`
	Timezone  *string              `json:"timezone"`
	Window    *schedule.WindowSpec `json:"window"`
	Enabled   *bool                `json:"enabled"`
}

type TriggerReq struct {
	Source string `json:"source"`
}

type ListRunsReq struct {
	Status string `form:"status" binding:"omitempty,oneof=running success error cancelled"`
	Offset int    `form:"offset" binding:"min=0"`
	Limit  int    `form:"limit" binding:"min=0,max=200"`
}

type InstallationResp struct {
	ID               uint64              `json:"id"`
	TenantID         string              `json:"tenant_id"`
	ApplicationID    uint64              `json:"application_id"`
	ProviderKey      string              `json:"provider_key"`
	TriggerType      string              `json:"trigger_type"`
	Status           string              `json:"status"`
	IsEnabled        bool                `json:"is_enabled"`
	Config           map[string]any      `json:"config"`
	Frequency        string              `json:"frequency,omitempty"`
	Timezone         string              `json:"timezone,omitempty"`
	Window           schedule.WindowSpec `json:"window"`
	NextRunAt        *time.Time          `json:"next_run_at"`
	LastRunAt        *time.Time          `json:"last_run_at"`
	RunCount         int64               `json:"run_count"`
	SuccessCount     int64               `json:"success_count"`
	ErrorCount       int64               `json:"error_count"`
	LastErrorMessage string              `json:"last_error_message,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

type TriggerResp struct {
	JobID          string `json:"job_id"`
	InstallationID uint64 `json:"installation_id"`
	TriggeredBy    string `json:"triggered_by"`
	Status         string `json:"status"`
}

type HealthResp struct {
	InstallationID      uint64     `json:"installation_id"`
	Status              string     `json:"status"`
	APIStatus           string     `json:"api_status"`
	ConnectionStatus    string     `json:"connection_status"`
	CredentialValid     bool       `json:"credential_valid"`
	CredentialExpiresAt *time.Time `json:"credential_expires_at"`
	QuotaUsed           int64      `json:"quota_used"`
	QuotaLimit          int64      `json:"quota_limit"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	Message             string     `json:"message,omitempty"`
	CheckedAt           *time.Time `json:"checked_at"`
}

type RunResp struct {
	ID             uint64               `json:"id"`
	InstallationID uint64               `json:"installation_id"`
	JobID          string               `json:"job_id"`
	Status         string               `json:"status"`
	TriggeredBy    string               `json:"triggered_by"`
	Attempts       int                  `json:"attempts"`
	StartedAt      time.Time            `json:"started_at"`
	CompletedAt    *time.Time           `json:"completed_at"`
	DurationMs     int64                `json:"duration_ms"`
	Results        map[string]any       `json:"results,omitempty"`
	ErrorMessage   string               `json:"error_message,omitempty"`
	Logs           []execution.LogEntry `json:"logs"`
}

type RunPageResp struct {
	Items []RunResp `json:"items"`
	Total int64     `json:"total"`
}

type CancelRunResp struct {
	RunID  uint64 `json:"run_id"`
	Status string `json:"status"`
}

func toInstallationResp(inst *installation.Installation) InstallationResp {
	return InstallationResp{
		ID:               inst.ID,
		TenantID:         inst.TenantID,
		ApplicationID:    inst.ApplicationID,
		ProviderKey:      inst.ProviderKey,
		TriggerType:      string(inst.TriggerType),
		Status:           string(inst.Status),
		IsEnabled:        inst.IsEnabled,
		Config:           inst.Config,
		Frequency:        inst.Frequency,
		Timezone:         inst.Timezone,
		Window:           inst.Window,
		NextRunAt:        inst.NextRunAt,
		LastRunAt:        inst.LastRunAt,
		RunCount:         inst.RunCount,
		SuccessCount:     inst.SuccessCount,
		ErrorCount:       inst.ErrorCount,
		LastErrorMessage: inst.LastErrorMessage,
		CreatedAt:        inst.CreatedAt,
		UpdatedAt:        inst.UpdatedAt,
	}
}

func toHealthResp(h *bizhealth.IntegrationHealth) HealthResp {
	resp := HealthResp{
		InstallationID:      h.InstallationID,
		Status:              string(h.Status),
		APIStatus:           h.APIStatus,
		ConnectionStatus:    h.ConnectionStatus,
		CredentialValid:     h.CredentialValid,
		CredentialExpiresAt: h.CredentialExpiresAt,
		QuotaUsed:           h.QuotaUsed,
		QuotaLimit:          h.QuotaLimit,
		ConsecutiveFailures: h.ConsecutiveFailures,
		Message:             h.Message,
	}
	if !h.CheckedAt.IsZero() {
		resp.CheckedAt = &h.CheckedAt
	}
	return resp
}

func toRunResp(run *execution.ExecutionRun) RunResp {
	return RunResp{
		ID:             run.ID,
		InstallationID: run.InstallationID,
		JobID:          run.JobID,
		Status:         string(run.Status),
		TriggeredBy:    string(run.TriggeredBy),
		Attempts:       run.Attempts,
		StartedAt:      run.StartedAt,
		CompletedAt:    run.CompletedAt,
		DurationMs:     run.DurationMs,
		Results:        run.Results,
		ErrorMessage:   run.ErrorMessage,
		Logs:           run.Logs,
	}
}
