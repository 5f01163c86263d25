package scheduler

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/wire"
	"github.com/jobs/integration-engine/internal/biz/execution"
	"github.com/jobs/integration-engine/internal/biz/health"
	"github.com/jobs/integration-engine/internal/biz/installation"
	"github.com/jobs/integration-engine/internal/biz/instance"
	"github.com/jobs/integration-engine/internal/biz/schedule"
	"github.com/jobs/integration-engine/internal/lock"
	"github.com/jobs/integration-engine/internal/queue"
	"github.com/jobs/integration-engine/pkg/config"
	"github.com/jobs/integration-engine/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

var Provider = wire.NewSet(New)

// HealthSource 调度只关心最近一次健康结论
type HealthSource interface {
	LatestFor(ctx context.Context, installationIDs []uint64) (map[uint64]*health.IntegrationHealth, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, job *queue.Job, opts ...queue.EnqueueOption) (string, error)
}

// TickReport 一次 tick 的统计
type TickReport struct {
	Scanned  int
	Enqueued int
	Skipped  int
	// Lost 被其他调度者抢先推进的槽位
	Lost     int
	Disarmed int
	Full     bool
}

// Scheduler 把到期的定时安装转换为执行任务, 只有持有 leader 锁的实例会 tick
type Scheduler struct {
	config config.SchedulerConfig
	leader lock.LeaderLock
	logger *zap.Logger
	now    func() time.Time

	instanceID string
	isLeader   atomic.Bool
	stopCh     chan struct{}
	wg         sync.WaitGroup

	installs  installation.Repo
	schedules schedule.Repo
	healths   HealthSource
	jobs      Enqueuer
	instances instance.Repo
}

// New 创建调度器
func New(
	cfg config.Config,
	leader lock.LeaderLock,
	logger *zap.Logger,

	installs installation.Repo,
	schedules schedule.Repo,
	healths HealthSource,
	jobs Enqueuer,
	instances instance.Repo,
) *Scheduler {
	return &Scheduler{
		config:     cfg.Scheduler,
		leader:     leader,
		logger:     logger.Named("scheduler"),
		now:        time.Now,
		instanceID: cfg.Engine.InstanceID,
		stopCh:     make(chan struct{}),
		installs:   installs,
		schedules:  schedules,
		healths:    healths,
		jobs:       jobs,
		instances:  instances,
	}
}

// WithClock 替换时间源
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

func (s *Scheduler) IsLeader() bool {
	return s.isLeader.Load()
}

// Start 注册实例并启动选主与 tick 循环
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("starting scheduler", zap.String("instance_id", s.instanceID))

	host, _ := os.Hostname()
	err := s.instances.Register(ctx, &instance.EngineInstance{
		InstanceID:  s.instanceID,
		Host:        host,
		HeartbeatAt: s.now(),
	})
	if err != nil {
		return errors.Wrap(err, "register engine instance")
	}

	if !s.config.Enabled {
		s.logger.Info("scheduler is disabled")
		return nil
	}

	s.tryBecomeLeader()

	s.wg.Add(2)
	go s.leaderElection()
	go s.tickLoop()
	return nil
}

// Stop 停止调度器
func (s *Scheduler) Stop() error {
	s.logger.Info("stopping scheduler", zap.String("instance_id", s.instanceID))

	close(s.stopCh)
	s.wg.Wait()

	if s.leader.IsLocked() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.leader.Unlock(ctx); err != nil {
			s.logger.Error("failed to release leader lock", zap.Error(err))
		}
	}
	if s.isLeader.Swap(false) {
		s.updateInstanceStatus(false)
	}

	s.logger.Info("scheduler stopped", zap.String("instance_id", s.instanceID))
	return nil
}

// leaderElection 领导者选举, 同时刷新实例心跳
func (s *Scheduler) leaderElection() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tryBecomeLeader()
			s.heartbeat()
		case <-s.stopCh:
			return
		}
	}
}

// tryBecomeLeader 尝试成为领导者, 已是领导者时续约
func (s *Scheduler) tryBecomeLeader() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.LockTimeout)
	defer cancel()

	if !s.isLeader.Load() {
		locked, err := s.leader.TryLock(ctx)
		if err != nil {
			s.logger.Error("failed to acquire leader lock", zap.Error(err))
			return
		}
		if locked {
			s.isLeader.Store(true)
			s.updateInstanceStatus(true)
			s.logger.Info("became leader", zap.String("instance_id", s.instanceID))
		}
		return
	}

	if err := s.leader.Renew(ctx); err != nil {
		s.logger.Error("failed to renew leader lock", zap.Error(err))
		s.isLeader.Store(false)
		s.updateInstanceStatus(false)
	}
}

func (s *Scheduler) heartbeat() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.LockTimeout)
	defer cancel()
	if err := s.instances.Heartbeat(ctx, s.instanceID, s.now()); err != nil {
		s.logger.Warn("failed to record heartbeat", zap.Error(err))
	}
}

// updateInstanceStatus 更新实例状态
func (s *Scheduler) updateInstanceStatus(isLeader bool) {
	err := s.instances.UpdateLeaderStatus(context.Background(), s.instanceID, isLeader)
	if err != nil {
		s.logger.Error("failed to update instance status", zap.Error(err))
	}
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.TickIfLeader(context.Background()); err != nil && !errors.Is(err, ErrNotLeader) {
				s.logger.Error("scheduler tick failed", zap.Error(err))
			}
		case <-s.stopCh:
			return
		}
	}
}

// TickIfLeader runs one tick when this instance holds the leader lock.
func (s *Scheduler) TickIfLeader(ctx context.Context) (TickReport, error) {
	if !s.isLeader.Load() {
		return TickReport{}, ErrNotLeader
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.TickInterval)
	defer cancel()
	return s.Tick(ctx, s.now())
}

// Tick 扫描到期安装, 每个槽位先 CAS 推进 nextRunAt 再入队, 同一槽位只会入队一次
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	var report TickReport

	due, err := s.installs.FindDue(ctx, now, s.config.BatchSize)
	if err != nil {
		return report, errors.Wrap(err, "find due installations")
	}
	report.Scanned = len(due)
	if len(due) == 0 {
		return report, nil
	}

	// 健康数据不可用时照常调度
	healths, err := s.healths.LatestFor(ctx, lo.Map(due, func(inst *installation.Installation, _ int) uint64 {
		return inst.ID
	}))
	if err != nil {
		s.logger.Warn("failed to load health, scheduling without it", zap.Error(err))
		healths = nil
	}

	for _, inst := range due {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if !inst.Schedulable() || inst.NextRunAt == nil {
			continue
		}
		expected := *inst.NextRunAt

		sched, err := inst.Schedule()
		if err != nil {
			s.disarm(ctx, inst, expected, err, &report)
			continue
		}
		next := schedule.ComputeNextRun(sched, now)
		var nextPtr *time.Time
		if !next.IsZero() {
			nextPtr = &next
		}

		if h := healths[inst.ID]; h != nil && h.Status == health.StatusUnhealthy {
			s.skip(ctx, inst, expected, nextPtr, now, &report)
			continue
		}

		won, err := s.installs.ClaimSlot(ctx, inst.ID, expected, nextPtr)
		if err != nil {
			return report, errors.Wrapf(err, "claim slot of installation %d", inst.ID)
		}
		if !won {
			report.Lost++
			continue
		}

		job := queue.NewJob(queue.JobTypeExecute, inst.ID, string(execution.TriggerSchedule), nil)
		jobID, err := s.jobs.Enqueue(ctx, job)
		if err != nil {
			s.restore(ctx, inst.ID, nextPtr, expected)
			if errors.Is(err, errors.ErrQueueFull) {
				s.logger.Warn("queue full, stopping tick",
					zap.Uint64("installation_id", inst.ID),
					zap.Int("enqueued", report.Enqueued))
				report.Full = true
				return report, nil
			}
			return report, errors.Wrapf(err, "enqueue installation %d", inst.ID)
		}
		report.Enqueued++

		s.logger.Info("scheduled installation",
			zap.Uint64("installation_id", inst.ID),
			zap.String("job_id", jobID),
			zap.Time("slot", expected),
			zap.Timep("next_run_at", nextPtr))

		s.mirror(ctx, inst.ID, func(as *schedule.AutomationSchedule) *schedule.AutomationSchedulePatch {
			return as.Advance(now, next)
		})
	}
	return report, nil
}

// skip 健康状态为 unhealthy 时推进槽位但不入队
func (s *Scheduler) skip(ctx context.Context, inst *installation.Installation, expected time.Time, next *time.Time, now time.Time, report *TickReport) {
	won, err := s.installs.ClaimSlot(ctx, inst.ID, expected, next)
	if err != nil {
		s.logger.Error("failed to advance unhealthy installation", zap.Uint64("installation_id", inst.ID), zap.Error(err))
		return
	}
	if !won {
		report.Lost++
		return
	}
	report.Skipped++
	s.logger.Warn("skipping unhealthy installation",
		zap.Uint64("installation_id", inst.ID),
		zap.Time("slot", expected),
		zap.Timep("next_run_at", next))

	s.mirror(ctx, inst.ID, func(as *schedule.AutomationSchedule) *schedule.AutomationSchedulePatch {
		return as.Skip(now, lo.FromPtr(next))
	})
}

// disarm 存储的调度配置已无法解析, 清空 nextRunAt 避免每次 tick 重复扫描
func (s *Scheduler) disarm(ctx context.Context, inst *installation.Installation, expected time.Time, cause error, report *TickReport) {
	s.logger.Error("invalid stored schedule, disarming",
		zap.Uint64("installation_id", inst.ID),
		zap.String("frequency", inst.Frequency),
		zap.Error(cause))
	won, err := s.installs.ClaimSlot(ctx, inst.ID, expected, nil)
	if err != nil {
		s.logger.Error("failed to disarm installation", zap.Uint64("installation_id", inst.ID), zap.Error(err))
		return
	}
	if won {
		report.Disarmed++
	}
}

// restore 入队失败时把槽位还原, 下一次 tick 会重新尝试
func (s *Scheduler) restore(ctx context.Context, id uint64, next *time.Time, expected time.Time) {
	ctx = context.WithoutCancel(ctx)
	var err error
	if next != nil {
		_, err = s.installs.ClaimSlot(ctx, id, *next, &expected)
	} else {
		err = s.installs.Update(ctx, id, installation.NewPatch().WithNextRunAt(&expected))
	}
	if err != nil {
		s.logger.Error("failed to restore slot",
			zap.Uint64("installation_id", id),
			zap.Time("slot", expected),
			zap.Error(err))
	}
}

// mirror 同步 AutomationSchedule, 失败只记录日志
func (s *Scheduler) mirror(ctx context.Context, id uint64, fn func(as *schedule.AutomationSchedule) *schedule.AutomationSchedulePatch) {
	as, err := s.schedules.GetByInstallationID(ctx, id)
	if err != nil {
		s.logger.Warn("failed to load automation schedule", zap.Uint64("installation_id", id), zap.Error(err))
		return
	}
	if as == nil {
		return
	}
	if err := s.schedules.Update(ctx, id, fn(as)); err != nil {
		s.logger.Warn("failed to update automation schedule", zap.Uint64("installation_id", id), zap.Error(err))
	}
}
