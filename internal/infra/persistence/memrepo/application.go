package memrepo

import (
	"context"
	"slices"
	"sort"

	"github.com/jobs/integration-engine/internal/biz/application"
)

type ApplicationRepo struct {
	s *Store
}

func NewApplicationRepo(s *Store) application.Repo {
	return &ApplicationRepo{s: s}
}

func (r *ApplicationRepo) Upsert(ctx context.Context, app *application.Application) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.now()
	for id, existing := range r.s.applications {
		if existing.Key == app.Key && existing.Version == app.Version {
			app.ID, app.CreatedAt, app.UpdatedAt = id, existing.CreatedAt, now
			r.s.applications[id] = copyApplication(app)
			return nil
		}
	}
	if app.ID == 0 {
		app.ID = r.s.id()
	}
	app.CreatedAt, app.UpdatedAt = now, now
	r.s.applications[app.ID] = copyApplication(app)
	return nil
}

func (r *ApplicationRepo) GetByID(ctx context.Context, id uint64) (*application.Application, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	app, ok := r.s.applications[id]
	if !ok {
		return nil, nil
	}
	return copyApplication(app), nil
}

// GetByKey returns the most recently published version.
func (r *ApplicationRepo) GetByKey(ctx context.Context, key string) (*application.Application, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *application.Application
	for _, app := range r.s.applications {
		if app.Key != key {
			continue
		}
		if latest == nil || app.ID > latest.ID {
			latest = app
		}
	}
	if latest == nil {
		return nil, nil
	}
	return copyApplication(latest), nil
}

func (r *ApplicationRepo) List(ctx context.Context) ([]*application.Application, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*application.Application, 0, len(r.s.applications))
	for _, app := range r.s.applications {
		out = append(out, copyApplication(app))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func copyApplication(app *application.Application) *application.Application {
	c := *app
	c.DefaultConfig = cloneMap(app.DefaultConfig)
	c.RequiredSecrets = slices.Clone(app.RequiredSecrets)
	return &c
}
