package memrepo

import (
	"context"

	"github.com/jobs/integration-engine/internal/biz/schedule"
	"github.com/jobs/integration-engine/pkg/errors"
)

type ScheduleRepo struct {
	tx
	s *Store
}

func NewScheduleRepo(s *Store) schedule.Repo {
	return &ScheduleRepo{s: s}
}

func (r *ScheduleRepo) Upsert(ctx context.Context, as *schedule.AutomationSchedule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	if existing, ok := r.s.schedules[as.InstallationID]; ok {
		as.ID, as.CreatedAt = existing.ID, existing.CreatedAt
	} else {
		as.ID, as.CreatedAt = r.s.id(), now
	}
	as.UpdatedAt = now
	r.s.schedules[as.InstallationID] = copySchedule(as)
	return nil
}

func (r *ScheduleRepo) GetByInstallationID(ctx context.Context, installationID uint64) (*schedule.AutomationSchedule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	as, ok := r.s.schedules[installationID]
	if !ok {
		return nil, nil
	}
	return copySchedule(as), nil
}

func (r *ScheduleRepo) Update(ctx context.Context, installationID uint64, patch *schedule.AutomationSchedulePatch) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	as, ok := r.s.schedules[installationID]
	if !ok {
		return errors.Mark(errors.Newf("schedule of installation %d not found", installationID), errors.ErrNotFound)
	}
	if patch.Expression != nil {
		as.Expression = *patch.Expression
	}
	if patch.Timezone != nil {
		as.Timezone = *patch.Timezone
	}
	if patch.Window != nil {
		as.Window = *patch.Window
	}
	if next, ok := patch.NextRunAt.Get(); ok {
		as.NextRunAt = cloneTime(next)
	}
	if patch.LastRunAt != nil {
		as.LastRunAt = cloneTime(patch.LastRunAt)
	}
	if patch.SkippedCount != nil {
		as.SkippedCount = *patch.SkippedCount
	}
	if patch.LastSkippedAt != nil {
		as.LastSkippedAt = cloneTime(patch.LastSkippedAt)
	}
	if patch.Active != nil {
		as.Active = *patch.Active
	}
	as.UpdatedAt = r.s.now()
	return nil
}

func (r *ScheduleRepo) DeleteByInstallationID(ctx context.Context, installationID uint64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.schedules, installationID)
	return nil
}

func copySchedule(as *schedule.AutomationSchedule) *schedule.AutomationSchedule {
	c := *as
	c.NextRunAt = cloneTime(as.NextRunAt)
	c.LastRunAt = cloneTime(as.LastRunAt)
	c.LastSkippedAt = cloneTime(as.LastSkippedAt)
	return &c
}
