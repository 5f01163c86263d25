package health

import (
	"context"
	"time"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Outcome 一次探测的归一化结果
type Outcome string

const (
	OutcomeOK                 Outcome = "ok"
	OutcomeQuota              Outcome = "quota_exceeded"
	OutcomeTransient          Outcome = "transient"
	OutcomePermanent          Outcome = "permanent"
	OutcomeAuthFailed         Outcome = "auth_failed"
	OutcomeCredentialsExpired Outcome = "credentials_expired"
	OutcomeNotConnected       Outcome = "not_connected"
)

type ProbeResult struct {
	Outcome             Outcome
	Message             string
	HTTPStatus          int
	CredentialExpiresAt *time.Time
	QuotaUsed           int64
	QuotaLimit          int64
}

// IntegrationHealth 安装最近一次健康探测结果, 仅由健康监控写入
type IntegrationHealth struct {
	ID        uint64
	CreatedAt time.Time
	UpdatedAt time.Time

	InstallationID      uint64
	Status              Status
	APIStatus           string
	ConnectionStatus    string
	CredentialValid     bool
	CredentialExpiresAt *time.Time
	QuotaUsed           int64
	QuotaLimit          int64
	ConsecutiveFailures int
	Message             string
	CheckedAt           time.Time
}

// Unknown is the record reported for installations never probed.
func Unknown(installationID uint64) *IntegrationHealth {
	return &IntegrationHealth{
		InstallationID:   installationID,
		Status:           StatusUnknown,
		APIStatus:        "unknown",
		ConnectionStatus: "unknown",
	}
}

// Apply folds a probe result into the record.
// Credential problems are unhealthy at once; provider side failures degrade the
// installation until threshold consecutive failures make it unhealthy.
func (h *IntegrationHealth) Apply(r ProbeResult, threshold int, at time.Time) (becameUnhealthy bool, recovered bool) {
	before := h.Status
	h.CheckedAt = at
	h.Message = r.Message
	h.CredentialExpiresAt = r.CredentialExpiresAt
	if r.QuotaLimit > 0 {
		h.QuotaUsed, h.QuotaLimit = r.QuotaUsed, r.QuotaLimit
	}

	switch r.Outcome {
	case OutcomeOK:
		h.ConsecutiveFailures = 0
		h.Status = StatusHealthy
		h.APIStatus = "ok"
		h.ConnectionStatus = "connected"
		h.CredentialValid = true
	case OutcomeCredentialsExpired, OutcomeNotConnected, OutcomeAuthFailed:
		h.ConsecutiveFailures++
		h.Status = StatusUnhealthy
		h.CredentialValid = false
		h.APIStatus = "unauthorized"
		h.ConnectionStatus = "expired"
		if r.Outcome == OutcomeNotConnected {
			h.APIStatus = "unknown"
			h.ConnectionStatus = "disconnected"
		}
	default:
		h.ConsecutiveFailures++
		h.CredentialValid = true
		h.ConnectionStatus = "connected"
		h.APIStatus = string(r.Outcome)
		h.Status = StatusDegraded
		if threshold > 0 && h.ConsecutiveFailures >= threshold {
			h.Status = StatusUnhealthy
		}
	}

	becameUnhealthy = h.Status == StatusUnhealthy && before != StatusUnhealthy
	recovered = h.Status == StatusHealthy && (before == StatusUnhealthy || before == StatusDegraded)
	return
}

type Repo interface {
	// Save 按 installation_id 覆盖当前记录
	Save(ctx context.Context, h *IntegrationHealth) error
	Latest(ctx context.Context, installationID uint64) (*IntegrationHealth, error)
	LatestFor(ctx context.Context, installationIDs []uint64) (map[uint64]*IntegrationHealth, error)
	DeleteByInstallationID(ctx context.Context, installationID uint64) error
}
