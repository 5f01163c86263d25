// Package memrepo keeps every aggregate in process memory. It backs
// database.driver=memory and the use case tests.
package memrepo

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/wire"
	"github.com/jobs/integration-engine/internal/biz/application"
	"github.com/jobs/integration-engine/internal/biz/execution"
	"github.com/jobs/integration-engine/internal/biz/health"
	"github.com/jobs/integration-engine/internal/biz/installation"
	"github.com/jobs/integration-engine/internal/biz/instance"
	"github.com/jobs/integration-engine/internal/biz/schedule"
	"github.com/jobs/integration-engine/internal/biz/secret"
)

var Provider = wire.NewSet(
	New,
	NewApplicationRepo,
	NewInstallationRepo,
	NewSecretRepo,
	NewExecutionRepo,
	NewHealthRepo,
	NewScheduleRepo,
	NewInstanceRepo,
)

// Store 所有内存仓储共享的数据, 一把锁保护全部表
type Store struct {
	mu     sync.Mutex
	nextID uint64
	now    func() time.Time

	applications  map[uint64]*application.Application
	installations map[uint64]*installation.Installation
	secrets       map[uint64]*secret.Secret
	runs          map[uint64]*execution.ExecutionRun
	healths       map[uint64]*health.IntegrationHealth
	schedules     map[uint64]*schedule.AutomationSchedule
	instances     map[string]*instance.EngineInstance
}

func New() *Store {
	return &Store{
		now:           time.Now,
		applications:  make(map[uint64]*application.Application),
		installations: make(map[uint64]*installation.Installation),
		secrets:       make(map[uint64]*secret.Secret),
		runs:          make(map[uint64]*execution.ExecutionRun),
		healths:       make(map[uint64]*health.IntegrationHealth),
		schedules:     make(map[uint64]*schedule.AutomationSchedule),
		instances:     make(map[string]*instance.EngineInstance),
	}
}

func (s *Store) id() uint64 {
	s.nextID++
	return s.nextID
}

// tx 内存实现不回滚, 只保证回调在同一上下文中执行
type tx struct{}

func (tx) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}
