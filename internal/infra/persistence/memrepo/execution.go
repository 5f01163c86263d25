package memrepo

import (
	"context"
	"slices"
	"sort"

	"github.com/jobs/integration-engine/internal/biz/execution"
	"github.com/jobs/integration-engine/pkg/errors"
)

type ExecutionRepo struct {
	tx
	s *Store
}

func NewExecutionRepo(s *Store) execution.Repo {
	return &ExecutionRepo{s: s}
}

func (r *ExecutionRepo) Create(ctx context.Context, run *execution.ExecutionRun) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if run.ID == 0 {
		run.ID = r.s.id()
	}
	now := r.s.now()
	run.CreatedAt, run.UpdatedAt = now, now
	r.s.runs[run.ID] = copyRun(run)
	return nil
}

func (r *ExecutionRepo) GetByID(ctx context.Context, id uint64) (*execution.ExecutionRun, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	run, ok := r.s.runs[id]
	if !ok {
		return nil, nil
	}
	return copyRun(run), nil
}

func (r *ExecutionRepo) Save(ctx context.Context, run *execution.ExecutionRun) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.runs[run.ID]
	if !ok {
		return errors.Mark(errors.Newf("run %d not found", run.ID), errors.ErrNotFound)
	} else if stored.IsTerminal() {
		return errors.Mark(errors.Newf("run %d is already %s", run.ID, stored.Status), errors.ErrConflict)
	}
	// 取消标记只能由 RequestCancel 设置
	cancel := stored.CancelRequested || run.CancelRequested
	run.UpdatedAt = r.s.now()
	c := copyRun(run)
	c.CancelRequested = cancel
	r.s.runs[run.ID] = c
	return nil
}

func (r *ExecutionRepo) FindRunning(ctx context.Context, installationID uint64) ([]*execution.ExecutionRun, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*execution.ExecutionRun
	for _, run := range r.s.runs {
		if run.InstallationID == installationID && run.Status == execution.RunStatusRunning {
			out = append(out, copyRun(run))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *ExecutionRepo) List(ctx context.Context, filter execution.ListFilter, offset, limit int) ([]*execution.ExecutionRun, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var matched []*execution.ExecutionRun
	for _, run := range r.s.runs {
		if v, ok := filter.InstallationID.Get(); ok && run.InstallationID != v {
			continue
		}
		if v, ok := filter.TenantID.Get(); ok && run.TenantID != v {
			continue
		}
		if v, ok := filter.Status.Get(); ok && run.Status != v {
			continue
		}
		if v, ok := filter.StartedAfter.Get(); ok && run.StartedAt.Before(v) {
			continue
		}
		matched = append(matched, run)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].StartedAt.Equal(matched[j].StartedAt) {
			return matched[i].StartedAt.After(matched[j].StartedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]*execution.ExecutionRun, 0, len(matched))
	for _, run := range matched {
		out = append(out, copyRun(run))
	}
	return out, total, nil
}

func (r *ExecutionRepo) RequestCancel(ctx context.Context, id uint64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	run, ok := r.s.runs[id]
	if !ok || run.IsTerminal() {
		return false, nil
	}
	run.CancelRequested = true
	run.UpdatedAt = r.s.now()
	return true, nil
}

func copyRun(run *execution.ExecutionRun) *execution.ExecutionRun {
	c := *run
	c.CompletedAt = cloneTime(run.CompletedAt)
	c.Results = cloneMap(run.Results)
	c.Logs = slices.Clone(run.Logs)
	return &c
}
