package memrepo

import (
	"bytes"
	"context"
	"time"

	"github.com/jobs/integration-engine/internal/biz/secret"
)

type SecretRepo struct {
	tx
	s *Store
}

func NewSecretRepo(s *Store) secret.Repo {
	return &SecretRepo{s: s}
}

func (r *SecretRepo) Find(ctx context.Context, tenantID string, installationID *uint64, key string) (*secret.Secret, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sec := r.find(tenantID, installationID, key); sec != nil {
		return copySecret(sec), nil
	}
	return nil, nil
}

func (r *SecretRepo) Upsert(ctx context.Context, sec *secret.Secret) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	if existing := r.find(sec.TenantID, sec.InstallationID, sec.Key); existing != nil {
		existing.Value = bytes.Clone(sec.Value)
		existing.Version++
		existing.UpdatedAt = now
		sec.ID, sec.Version, sec.CreatedAt, sec.UpdatedAt = existing.ID, existing.Version, existing.CreatedAt, now
		return nil
	}
	sec.ID = r.s.id()
	sec.Version = 1
	sec.CreatedAt, sec.UpdatedAt = now, now
	r.s.secrets[sec.ID] = copySecret(sec)
	return nil
}

func (r *SecretRepo) CompareAndSwap(ctx context.Context, id uint64, version int64, value []byte) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sec, ok := r.s.secrets[id]
	if !ok || sec.Version != version {
		return false, nil
	}
	sec.Value = bytes.Clone(value)
	sec.Version++
	sec.UpdatedAt = r.s.now()
	return true, nil
}

func (r *SecretRepo) Touch(ctx context.Context, id uint64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sec, ok := r.s.secrets[id]; ok {
		sec.LastUsedAt = &at
	}
	return nil
}

func (r *SecretRepo) Delete(ctx context.Context, id uint64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.secrets, id)
	return nil
}

func (r *SecretRepo) DeleteByInstallationID(ctx context.Context, installationID uint64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, sec := range r.s.secrets {
		if sec.InstallationID != nil && *sec.InstallationID == installationID {
			delete(r.s.secrets, id)
		}
	}
	return nil
}

func (r *SecretRepo) find(tenantID string, installationID *uint64, key string) *secret.Secret {
	for _, sec := range r.s.secrets {
		if sec.TenantID != tenantID || sec.Key != key {
			continue
		}
		switch {
		case installationID == nil && sec.InstallationID == nil:
			return sec
		case installationID != nil && sec.InstallationID != nil && *installationID == *sec.InstallationID:
			return sec
		}
	}
	return nil
}

func copySecret(sec *secret.Secret) *secret.Secret {
	c := *sec
	c.Value = bytes.Clone(sec.Value)
	c.LastUsedAt = cloneTime(sec.LastUsedAt)
	if sec.InstallationID != nil {
		id := *sec.InstallationID
		c.InstallationID = &id
	}
	return &c
}
