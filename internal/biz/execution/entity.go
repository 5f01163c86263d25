package execution

import (
	"fmt"
	"time"
)

// ExecutionRun 一次安装执行, CompletedAt 设置后不可再变更
type ExecutionRun struct {
	ID        uint64
	CreatedAt time.Time
	UpdatedAt time.Time

	InstallationID  uint64
	TenantID        string
	JobID           string
	Status          RunStatus
	TriggeredBy     TriggerSource
	Attempts        int
	StartedAt       time.Time
	CompletedAt     *time.Time
	DurationMs      int64
	Results         map[string]any
	ErrorMessage    string
	Logs            []LogEntry
	CancelRequested bool
}

// Start 创建 running 状态的执行记录
func Start(installationID uint64, tenantID, jobID string, triggeredBy TriggerSource, at time.Time) *ExecutionRun {
	return &ExecutionRun{
		InstallationID: installationID,
		TenantID:       tenantID,
		JobID:          jobID,
		Status:         RunStatusRunning,
		TriggeredBy:    triggeredBy,
		Attempts:       1,
		StartedAt:      at,
		Logs:           []LogEntry{{At: at, Message: fmt.Sprintf("run started by %s trigger", triggeredBy)}},
	}
}

func (r *ExecutionRun) IsTerminal() bool {
	return r.CompletedAt != nil
}

func (r *ExecutionRun) AppendLog(at time.Time, format string, args ...any) {
	r.Logs = append(r.Logs, LogEntry{At: at, Message: fmt.Sprintf(format, args...)})
}

// NextAttempt 记录一次重试
func (r *ExecutionRun) NextAttempt(at time.Time, reason string, delay time.Duration) {
	r.AppendLog(at, "attempt %d failed: %s; retrying in %s", r.Attempts, reason, delay)
	r.Attempts++
}

func (r *ExecutionRun) Complete(at time.Time, results map[string]any) {
	r.Results = results
	r.finish(RunStatusSuccess, at)
	r.AppendLog(at, "run succeeded after %d attempt(s)", r.Attempts)
}

func (r *ExecutionRun) Fail(at time.Time, message string) {
	r.ErrorMessage = message
	r.finish(RunStatusError, at)
	r.AppendLog(at, "run failed: %s", message)
}

func (r *ExecutionRun) Cancel(at time.Time) {
	r.finish(RunStatusCancelled, at)
	r.AppendLog(at, "run cancelled")
}

func (r *ExecutionRun) finish(status RunStatus, at time.Time) {
	r.Status = status
	r.CompletedAt = &at
	r.DurationMs = at.Sub(r.StartedAt).Milliseconds()
	if r.DurationMs < 0 {
		r.DurationMs = 0
	}
}
