package secret

import (
	"context"
	"time"

	"github.com/jobs/integration-engine/internal/infra/persistence/commonrepo"
)

// Secret 租户级或安装级的密文, Value 为封装后的字节, 不可记录到日志
type Secret struct {
	ID        uint64
	CreatedAt time.Time
	UpdatedAt time.Time

	TenantID string
	// InstallationID nil 表示租户级
	InstallationID *uint64
	Key            string
	Value          []byte
	Version        int64
	LastUsedAt     *time.Time
}

// CredentialKey is the secret key under which a provider credential is stored.
func CredentialKey(providerKey string) string {
	return "oauth:" + providerKey
}

type Repo interface {
	commonrepo.Transaction
	// Find 按精确作用域查找, 不回退到租户级
	Find(ctx context.Context, tenantID string, installationID *uint64, key string) (*Secret, error)
	// Upsert stores the value and bumps the version.
	Upsert(ctx context.Context, s *Secret) error
	// CompareAndSwap replaces the value only when the stored version still equals version.
	CompareAndSwap(ctx context.Context, id uint64, version int64, value []byte) (bool, error)
	Touch(ctx context.Context, id uint64, at time.Time) error
	Delete(ctx context.Context, id uint64) error
	DeleteByInstallationID(ctx context.Context, installationID uint64) error
}
