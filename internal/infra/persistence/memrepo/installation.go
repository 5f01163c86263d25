package memrepo

import (
	"context"
	"sort"
	"time"

	"github.com/jobs/integration-engine/internal/biz/installation"
	"github.com/jobs/integration-engine/pkg/errors"
)

type InstallationRepo struct {
	tx
	s *Store
}

func NewInstallationRepo(s *Store) installation.Repo {
	return &InstallationRepo{s: s}
}

func (r *InstallationRepo) Create(ctx context.Context, inst *installation.Installation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if inst.ID == 0 {
		inst.ID = r.s.id()
	}
	now := r.s.now()
	inst.CreatedAt, inst.UpdatedAt = now, now
	r.s.installations[inst.ID] = copyInstallation(inst)
	return nil
}

func (r *InstallationRepo) GetByID(ctx context.Context, id uint64) (*installation.Installation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inst, ok := r.s.installations[id]
	if !ok {
		return nil, nil
	}
	return copyInstallation(inst), nil
}

func (r *InstallationRepo) Update(ctx context.Context, id uint64, patch *installation.Patch) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inst, ok := r.s.installations[id]
	if !ok {
		return errors.Mark(errors.Newf("installation %d not found", id), errors.ErrNotFound)
	}
	applyInstallationPatch(inst, patch)
	inst.UpdatedAt = r.s.now()
	return nil
}

func (r *InstallationRepo) Delete(ctx context.Context, id uint64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.installations, id)
	return nil
}

func (r *InstallationRepo) List(ctx context.Context, filter *installation.ListFilter) ([]*installation.Installation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*installation.Installation
	for _, inst := range r.s.installations {
		if filter != nil && !matchInstallation(inst, filter) {
			continue
		}
		out = append(out, copyInstallation(inst))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *InstallationRepo) FindDue(ctx context.Context, now time.Time, limit int) ([]*installation.Installation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*installation.Installation
	for _, inst := range r.s.installations {
		if !inst.Schedulable() || inst.NextRunAt == nil || inst.NextRunAt.After(now) {
			continue
		}
		out = append(out, copyInstallation(inst))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextRunAt.Equal(*out[j].NextRunAt) {
			return out[i].NextRunAt.Before(*out[j].NextRunAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *InstallationRepo) ClaimSlot(ctx context.Context, id uint64, expected time.Time, next *time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inst, ok := r.s.installations[id]
	if !ok || inst.NextRunAt == nil || !inst.NextRunAt.Equal(expected) {
		return false, nil
	}
	inst.NextRunAt = cloneTime(next)
	inst.UpdatedAt = r.s.now()
	return true, nil
}

func matchInstallation(inst *installation.Installation, f *installation.ListFilter) bool {
	if v, ok := f.TenantID.Get(); ok && inst.TenantID != v {
		return false
	}
	if v, ok := f.ApplicationID.Get(); ok && inst.ApplicationID != v {
		return false
	}
	if v, ok := f.Status.Get(); ok && inst.Status != v {
		return false
	}
	if v, ok := f.Enabled.Get(); ok && inst.IsEnabled != v {
		return false
	}
	if v, ok := f.TriggerType.Get(); ok && inst.TriggerType != v {
		return false
	}
	return true
}

func applyInstallationPatch(inst *installation.Installation, p *installation.Patch) {
	if p.Status != nil {
		inst.Status = *p.Status
	}
	if p.IsEnabled != nil {
		inst.IsEnabled = *p.IsEnabled
	}
	if p.Config != nil {
		inst.Config = cloneMap(*p.Config)
	}
	if p.Frequency != nil {
		inst.Frequency = *p.Frequency
	}
	if p.Timezone != nil {
		inst.Timezone = *p.Timezone
	}
	if p.Window != nil {
		inst.Window = *p.Window
	}
	if next, ok := p.NextRunAt.Get(); ok {
		inst.NextRunAt = cloneTime(next)
	}
	if p.LastRunAt != nil {
		inst.LastRunAt = cloneTime(p.LastRunAt)
	}
	inst.RunCount += p.RunCountDelta
	inst.SuccessCount += p.SuccessCountDelta
	inst.ErrorCount += p.ErrorCountDelta
	if p.LastErrorMessage != nil {
		inst.LastErrorMessage = *p.LastErrorMessage
	}
}

func copyInstallation(inst *installation.Installation) *installation.Installation {
	c := *inst
	c.Config = cloneMap(inst.Config)
	c.NextRunAt = cloneTime(inst.NextRunAt)
	c.LastRunAt = cloneTime(inst.LastRunAt)
	return &c
}
