package executionrepo

import (
	domain "github.com/jobs/integration-engine/internal/biz/execution"
	"github.com/jobs/integration-engine/internal/infra/persistence/commonrepo"
)

func (po *ExecutionRunPo) ToDomain() *domain.ExecutionRun {
	return &domain.ExecutionRun{
		ID:              po.ID,
		CreatedAt:       po.CreatedAt,
		UpdatedAt:       po.UpdatedAt,
		InstallationID:  po.InstallationID,
		TenantID:        po.TenantID,
		JobID:           po.JobID,
		Status:          po.Status,
		TriggeredBy:     po.TriggeredBy,
		Attempts:        po.Attempts,
		StartedAt:       po.StartedAt,
		CompletedAt:     po.CompletedAt,
		DurationMs:      po.DurationMs,
		Results:         po.Results,
		ErrorMessage:    po.ErrorMessage,
		Logs:            po.Logs,
		CancelRequested: po.CancelRequested,
	}
}

func (po *ExecutionRunPo) FromDomain(in *domain.ExecutionRun) *ExecutionRunPo {
	return &ExecutionRunPo{
		Mode: commonrepo.Mode{
			ID:        in.ID,
			CreatedAt: in.CreatedAt,
			UpdatedAt: in.UpdatedAt,
		},
		InstallationID:  in.InstallationID,
		TenantID:        in.TenantID,
		JobID:           in.JobID,
		Status:          in.Status,
		TriggeredBy:     in.TriggeredBy,
		Attempts:        in.Attempts,
		StartedAt:       in.StartedAt,
		CompletedAt:     in.CompletedAt,
		DurationMs:      in.DurationMs,
		Results:         in.Results,
		ErrorMessage:    in.ErrorMessage,
		Logs:            in.Logs,
		CancelRequested: in.CancelRequested,
	}
}

// saveToMap 取消标记只由 RequestCancel 写入, 这里不覆盖
func saveToMap(po *ExecutionRunPo) map[string]any {
	return map[string]any{
		"status":        po.Status,
		"attempts":      po.Attempts,
		"completed_at":  po.CompletedAt,
		"duration_ms":   po.DurationMs,
		"results":       po.Results,
		"error_message": po.ErrorMessage,
		"logs":          po.Logs,
	}
}
