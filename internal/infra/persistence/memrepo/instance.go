package memrepo

import (
	"context"
	"sort"
	"time"

	"github.com/jobs/integration-engine/internal/biz/instance"
)

type InstanceRepo struct {
	s *Store
}

func NewInstanceRepo(s *Store) instance.Repo {
	return &InstanceRepo{s: s}
}

func (r *InstanceRepo) Register(ctx context.Context, inst *instance.EngineInstance) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	if existing, ok := r.s.instances[inst.InstanceID]; ok {
		inst.ID, inst.CreatedAt = existing.ID, existing.CreatedAt
	} else {
		inst.ID, inst.CreatedAt = r.s.id(), now
	}
	inst.UpdatedAt = now
	c := *inst
	r.s.instances[inst.InstanceID] = &c
	return nil
}

func (r *InstanceRepo) GetByInstanceID(ctx context.Context, instanceID string) (*instance.EngineInstance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inst, ok := r.s.instances[instanceID]
	if !ok {
		return nil, nil
	}
	c := *inst
	return &c, nil
}

func (r *InstanceRepo) UpdateLeaderStatus(ctx context.Context, instanceID string, isLeader bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if inst, ok := r.s.instances[instanceID]; ok {
		inst.IsLeader = isLeader
		inst.UpdatedAt = r.s.now()
	}
	return nil
}

func (r *InstanceRepo) Heartbeat(ctx context.Context, instanceID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if inst, ok := r.s.instances[instanceID]; ok {
		inst.HeartbeatAt = at
	}
	return nil
}

func (r *InstanceRepo) List(ctx context.Context) ([]*instance.EngineInstance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*instance.EngineInstance, 0, len(r.s.instances))
	for _, inst := range r.s.instances {
		c := *inst
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out, nil
}
