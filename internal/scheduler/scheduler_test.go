package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/jobs/integration-engine/internal/biz/application"
	"github.com/jobs/integration-engine/internal/biz/execution"
	"github.com/jobs/integration-engine/internal/biz/health"
	"github.com/jobs/integration-engine/internal/biz/installation"
	"github.com/jobs/integration-engine/internal/biz/instance"
	"github.com/jobs/integration-engine/internal/biz/schedule"
	"github.com/jobs/integration-engine/internal/infra/persistence/memrepo"
	"github.com/jobs/integration-engine/internal/lock"
	"github.com/jobs/integration-engine/internal/queue"
	"github.com/jobs/integration-engine/pkg/config"
	"github.com/jobs/integration-engine/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var newYear = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	scheduler *Scheduler
	installs  installation.Repo
	schedules schedule.Repo
	healths   health.Repo
	instances instance.Repo
	jobs      *queue.MemoryQueue
	locker    *lock.RedisLocker
	leader    *lock.RedisLeader
}

func testConfig() config.Config {
	return config.Config{
		Engine: config.EngineConfig{InstanceID: "engine-a"},
		Scheduler: config.SchedulerConfig{
			Enabled:           true,
			TickInterval:      time.Hour,
			BatchSize:         100,
			LockKey:           "engine:leader",
			LockTimeout:       time.Second,
			HeartbeatInterval: time.Hour,
		},
	}
}

func newFixture(t *testing.T, capacity int64) *fixture {
	t.Helper()
	store := memrepo.New()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &fixture{
		installs:  memrepo.NewInstallationRepo(store),
		schedules: memrepo.NewScheduleRepo(store),
		healths:   memrepo.NewHealthRepo(store),
		instances: memrepo.NewInstanceRepo(store),
		jobs:      queue.NewMemoryQueue(capacity, time.Minute, func() time.Time { return newYear }),
		locker:    lock.NewRedisLocker(redislock.New(rdb)),
	}
	f.leader = lock.NewRedisLeader(f.locker, "engine:leader", time.Minute)
	f.scheduler = New(testConfig(), f.leader, zap.NewNop(), f.installs, f.schedules, f.healths, f.jobs, f.instances)
	return f
}

// install 创建一个 nextRunAt 已到期的定时安装
func (f *fixture) install(t *testing.T, frequency string, nextRunAt time.Time) *installation.Installation {
	t.Helper()
	ctx := context.Background()
	inst := &installation.Installation{
		TenantID:    "tenant-1",
		ProviderKey: "ads",
		TriggerType: application.TriggerTypeSchedule,
		Status:      installation.StatusActive,
		IsEnabled:   true,
		Config:      map[string]any{"operation": "listCampaigns"},
		Frequency:   frequency,
		Timezone:    "UTC",
		NextRunAt:   &nextRunAt,
	}
	require.NoError(t, f.installs.Create(ctx, inst))
	require.NoError(t, f.schedules.Upsert(ctx, &schedule.AutomationSchedule{
		InstallationID: inst.ID,
		Expression:     frequency,
		Timezone:       "UTC",
		NextRunAt:      &nextRunAt,
		Active:         true,
	}))
	return inst
}

func (f *fixture) nextRunAt(t *testing.T, id uint64) *time.Time {
	t.Helper()
	inst, err := f.installs.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, inst)
	return inst.NextRunAt
}

func TestTickEnqueuesDueInstallation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	inst := f.install(t, "24h", newYear)
	now := newYear.Add(time.Second)

	report, err := f.scheduler.Tick(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, TickReport{Scanned: 1, Enqueued: 1}, report)

	job, err := f.jobs.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, inst.ID, job.InstallationID)
	assert.Equal(t, queue.JobTypeExecute, job.Type)
	assert.Equal(t, string(execution.TriggerSchedule), job.TriggerSource)
	assert.Equal(t, queue.PriorityNormal, job.Priority)
	assert.Empty(t, job.Config, "config is read from the installation when the job runs")

	next := f.nextRunAt(t, inst.ID)
	require.NotNil(t, next)
	assert.True(t, next.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)), "got %s", next)

	as, err := f.schedules.GetByInstallationID(ctx, inst.ID)
	require.NoError(t, err)
	require.NotNil(t, as.LastRunAt)
	assert.True(t, as.LastRunAt.Equal(now))
	assert.True(t, as.NextRunAt.Equal(*next))
}

func TestTickIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	f.install(t, "24h", newYear)
	now := newYear.Add(time.Second)

	_, err := f.scheduler.Tick(ctx, now)
	require.NoError(t, err)
	report, err := f.scheduler.Tick(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, report.Enqueued)

	n, err := f.jobs.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestConcurrentTicksEnqueueOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)
	for i := 0; i < 5; i++ {
		f.install(t, "1h", newYear)
	}
	other := New(testConfig(), f.leader, zap.NewNop(), f.installs, f.schedules, f.healths, f.jobs, f.instances)

	var wg sync.WaitGroup
	for _, s := range []*Scheduler{f.scheduler, other, f.scheduler, other} {
		wg.Add(1)
		go func(s *Scheduler) {
			defer wg.Done()
			_, err := s.Tick(ctx, newYear.Add(time.Minute))
			assert.NoError(t, err)
		}(s)
	}
	wg.Wait()

	n, err := f.jobs.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
}

func TestTickSkipsMissedSlots(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	inst := f.install(t, "24h", newYear)

	report, err := f.scheduler.Tick(ctx, time.Date(2024, 1, 3, 5, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Enqueued)

	next := f.nextRunAt(t, inst.ID)
	require.NotNil(t, next)
	assert.True(t, next.Equal(time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)), "got %s", next)
}

func TestTickSkipsUnhealthyInstallation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	sick := f.install(t, "1h", newYear)
	fine := f.install(t, "1h", newYear)
	require.NoError(t, f.healths.Save(ctx, &health.IntegrationHealth{InstallationID: sick.ID, Status: health.StatusUnhealthy}))
	require.NoError(t, f.healths.Save(ctx, &health.IntegrationHealth{InstallationID: fine.ID, Status: health.StatusDegraded}))
	now := newYear.Add(time.Second)

	report, err := f.scheduler.Tick(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Enqueued)
	assert.Equal(t, 1, report.Skipped)

	job, err := f.jobs.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, fine.ID, job.InstallationID)

	next := f.nextRunAt(t, sick.ID)
	require.NotNil(t, next)
	assert.True(t, next.Equal(newYear.Add(time.Hour)))

	as, err := f.schedules.GetByInstallationID(ctx, sick.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, as.SkippedCount)
	require.NotNil(t, as.LastSkippedAt)
	assert.True(t, as.LastSkippedAt.Equal(now))
	assert.Nil(t, as.LastRunAt)
}

func TestTickStopsWhenQueueFull(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	first := f.install(t, "1h", newYear)
	second := f.install(t, "1h", newYear)
	third := f.install(t, "1h", newYear)

	report, err := f.scheduler.Tick(ctx, newYear.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, report.Full)
	assert.Equal(t, 1, report.Enqueued)

	assert.True(t, f.nextRunAt(t, first.ID).Equal(newYear.Add(time.Hour)))
	// 入队失败的槽位被还原, 之后的安装未被触碰
	assert.True(t, f.nextRunAt(t, second.ID).Equal(newYear))
	assert.True(t, f.nextRunAt(t, third.ID).Equal(newYear))

	job, err := f.jobs.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, f.jobs.Ack(ctx, job))

	report, err = f.scheduler.Tick(ctx, newYear.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Enqueued)
	assert.True(t, f.nextRunAt(t, second.ID).Equal(newYear.Add(time.Hour)))
}

func TestTickDisarmsInvalidSchedule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	inst := f.install(t, "every tuesday-ish", newYear)

	report, err := f.scheduler.Tick(ctx, newYear.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Disarmed)
	assert.Zero(t, report.Enqueued)
	assert.Nil(t, f.nextRunAt(t, inst.ID))
}

func TestTickIgnoresDisabledInstallations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	inst := f.install(t, "1h", newYear)
	require.NoError(t, f.installs.Update(ctx, inst.ID, installation.NewPatch().WithIsEnabled(false)))

	report, err := f.scheduler.Tick(ctx, newYear.Add(time.Second))
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
}

func TestLeaderElection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)

	_, err := f.scheduler.TickIfLeader(ctx)
	assert.True(t, errors.Is(err, ErrNotLeader))

	require.NoError(t, f.scheduler.Start(ctx))
	assert.True(t, f.scheduler.IsLeader())

	inst, err := f.instances.GetByInstanceID(ctx, "engine-a")
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.True(t, inst.IsLeader)

	cfg := testConfig()
	cfg.Engine.InstanceID = "engine-b"
	follower := New(cfg, lock.NewRedisLeader(f.locker, "engine:leader", time.Minute), zap.NewNop(),
		f.installs, f.schedules, f.healths, f.jobs, f.instances)
	require.NoError(t, follower.Start(ctx))
	assert.False(t, follower.IsLeader())

	_, err = f.scheduler.TickIfLeader(ctx)
	require.NoError(t, err)

	require.NoError(t, f.scheduler.Stop())
	require.NoError(t, follower.Stop())
	inst, err = f.instances.GetByInstanceID(ctx, "engine-a")
	require.NoError(t, err)
	assert.False(t, inst.IsLeader)
}
