package memrepo

import (
	"context"

	"github.com/jobs/integration-engine/internal/biz/health"
)

type HealthRepo struct {
	s *Store
}

func NewHealthRepo(s *Store) health.Repo {
	return &HealthRepo{s: s}
}

func (r *HealthRepo) Save(ctx context.Context, h *health.IntegrationHealth) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	if existing, ok := r.s.healths[h.InstallationID]; ok {
		h.ID, h.CreatedAt = existing.ID, existing.CreatedAt
	} else {
		h.ID, h.CreatedAt = r.s.id(), now
	}
	h.UpdatedAt = now
	r.s.healths[h.InstallationID] = copyHealth(h)
	return nil
}

func (r *HealthRepo) Latest(ctx context.Context, installationID uint64) (*health.IntegrationHealth, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	h, ok := r.s.healths[installationID]
	if !ok {
		return nil, nil
	}
	return copyHealth(h), nil
}

func (r *HealthRepo) LatestFor(ctx context.Context, installationIDs []uint64) (map[uint64]*health.IntegrationHealth, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[uint64]*health.IntegrationHealth, len(installationIDs))
	for _, id := range installationIDs {
		if h, ok := r.s.healths[id]; ok {
			out[id] = copyHealth(h)
		}
	}
	return out, nil
}

func (r *HealthRepo) DeleteByInstallationID(ctx context.Context, installationID uint64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.healths, installationID)
	return nil
}

func copyHealth(h *health.IntegrationHealth) *health.IntegrationHealth {
	c := *h
	c.CredentialExpiresAt = cloneTime(h.CredentialExpiresAt)
	return &c
}
