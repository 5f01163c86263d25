package installation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jobs/integration-engine/internal/biz/application"
	"github.com/jobs/integration-engine/internal/biz/execution"
	"github.com/jobs/integration-engine/internal/biz/health"
	"github.com/jobs/integration-engine/internal/biz/installation"
	"github.com/jobs/integration-engine/internal/biz/schedule"
	"github.com/jobs/integration-engine/internal/credential"
	"github.com/jobs/integration-engine/internal/infra/persistence/memrepo"
	"github.com/jobs/integration-engine/internal/queue"
	"github.com/jobs/integration-engine/pkg/errors"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type changeRecorder struct {
	mu      sync.Mutex
	changes []installation.ChangeAction
}

func (r *changeRecorder) InstallationChanged(_ context.Context, _ uint64, action installation.ChangeAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, action)
	return nil
}

type fixture struct {
	uc        *installation.Usecase
	repo      installation.Repo
	apps      application.Repo
	schedules schedule.Repo
	healths   health.Repo
	runs      execution.Repo
	creds     *credential.Store
	jobs      *queue.MemoryQueue
	changes   *changeRecorder
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memrepo.New()
	sealer, err := credential.NewSealer(make([]byte, 32))
	require.NoError(t, err)

	f := &fixture{
		repo:      memrepo.NewInstallationRepo(store),
		apps:      memrepo.NewApplicationRepo(store),
		schedules: memrepo.NewScheduleRepo(store),
		healths:   memrepo.NewHealthRepo(store),
		runs:      memrepo.NewExecutionRepo(store),
		changes:   &changeRecorder{},
		now:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	f.creds = credential.NewStore(memrepo.NewSecretRepo(store), sealer, nil, credential.StoreConfig{}, zap.NewNop())
	f.jobs = queue.NewMemoryQueue(10, time.Minute, func() time.Time { return f.now })
	f.uc = installation.NewUsecase(f.repo, f.apps, f.schedules, f.healths, f.creds, f.jobs, f.changes, zap.NewNop()).
		WithClock(func() time.Time { return f.now })

	require.NoError(t, f.apps.Upsert(context.Background(), &application.Application{
		Key:             "ads-campaign-sync",
		Name:            "Ads campaign sync",
		Version:         "1.0.0",
		ExecutionType:   application.ExecutionTypeBackend,
		TriggerType:     application.TriggerTypeSchedule,
		ProviderKey:     "ads",
		DefaultConfig:   map[string]any{"frequency": "24h", "operation": "listCampaigns"},
		RequiredSecrets: []string{"customer_id"},
		TimeoutSeconds:  30,
	}))
	require.NoError(t, f.apps.Upsert(context.Background(), &application.Application{
		Key:           "mail-digest",
		Version:       "1.0.0",
		ExecutionType: application.ExecutionTypeBackend,
		TriggerType:   application.TriggerTypeManual,
		ProviderKey:   "mail",
	}))
	return f
}

func (f *fixture) install(t *testing.T) *installation.Installation {
	t.Helper()
	inst, err := f.uc.Install(context.Background(), &installation.InstallRequest{
		TenantID:       "tenant-1",
		ApplicationKey: "ads-campaign-sync",
		Config:         map[string]any{"customer": "42"},
		Secrets:        map[string]string{"customer_id": "123-456"},
		Timezone:       "UTC",
	})
	require.NoError(t, err)
	return inst
}

func TestInstallScheduledApplication(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	inst := f.install(t)

	stored, err := f.uc.Get(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, installation.StatusActive, stored.Status)
	assert.True(t, stored.IsEnabled)
	assert.Equal(t, "ads", stored.ProviderKey)
	assert.Equal(t, "24h", stored.Frequency)
	assert.Equal(t, "listCampaigns", stored.Config["operation"], "application defaults are merged")
	assert.Equal(t, "42", stored.Config["customer"])
	require.NotNil(t, stored.NextRunAt)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), *stored.NextRunAt)

	as, err := f.schedules.GetByInstallationID(ctx, inst.ID)
	require.NoError(t, err)
	require.NotNil(t, as)
	assert.True(t, as.Active)
	assert.Equal(t, *stored.NextRunAt, *as.NextRunAt)

	ok, err := f.creds.HasSecret(ctx, "tenant-1", &inst.ID, "customer_id")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []installation.ChangeAction{installation.ChangeInstalled}, f.changes.changes)
}

func TestInstallRejectsInvalidRequests(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cases := []struct {
		name string
		req  *installation.InstallRequest
		want error
	}{
		{
			name: "missing tenant",
			req:  &installation.InstallRequest{ApplicationKey: "ads-campaign-sync"},
			want: errors.ErrInvalidRequest,
		},
		{
			name: "missing application",
			req:  &installation.InstallRequest{TenantID: "tenant-1"},
			want: errors.ErrInvalidRequest,
		},
		{
			name: "unknown application",
			req:  &installation.InstallRequest{TenantID: "tenant-1", ApplicationKey: "nope"},
			want: errors.ErrNotFound,
		},
		{
			name: "required secret missing",
			req:  &installation.InstallRequest{TenantID: "tenant-1", ApplicationKey: "ads-campaign-sync"},
			want: errors.ErrInvalidRequest,
		},
		{
			name: "bad frequency",
			req: &installation.InstallRequest{
				TenantID:       "tenant-1",
				ApplicationKey: "ads-campaign-sync",
				Secrets:        map[string]string{"customer_id": "1"},
				Frequency:      "every so often",
			},
			want: errors.ErrScheduleConfigInvalid,
		},
		{
			name: "bad timezone",
			req: &installation.InstallRequest{
				TenantID:       "tenant-1",
				ApplicationKey: "ads-campaign-sync",
				Secrets:        map[string]string{"customer_id": "1"},
				Timezone:       "Mars/Olympus",
			},
			want: errors.ErrScheduleConfigInvalid,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.uc.Install(ctx, tc.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}

	all, err := f.uc.List(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestInstallUsesTenantSecret(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.creds.PutSecret(ctx, "tenant-1", nil, "customer_id", "999"))

	inst, err := f.uc.Install(ctx, &installation.InstallRequest{TenantID: "tenant-1", ApplicationKey: "ads-campaign-sync"})
	require.NoError(t, err)
	assert.Equal(t, installation.StatusActive, inst.Status)
}

func TestInstallDisabledHasNoNextRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	disabled := false

	inst, err := f.uc.Install(ctx, &installation.InstallRequest{
		TenantID:       "tenant-1",
		ApplicationKey: "ads-campaign-sync",
		Secrets:        map[string]string{"customer_id": "1"},
		Enabled:        &disabled,
	})
	require.NoError(t, err)
	assert.False(t, inst.IsEnabled)
	assert.Nil(t, inst.NextRunAt)

	as, err := f.schedules.GetByInstallationID(ctx, inst.ID)
	require.NoError(t, err)
	require.NotNil(t, as)
	assert.False(t, as.Active)
}

func TestInstallManualApplication(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	inst, err := f.uc.Install(ctx, &installation.InstallRequest{TenantID: "tenant-1", ApplicationKey: "mail-digest"})
	require.NoError(t, err)
	assert.Nil(t, inst.NextRunAt)

	as, err := f.schedules.GetByInstallationID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Nil(t, as)
}

func TestUpdateSettingsRearmsSchedule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	inst := f.install(t)

	f.now = time.Date(2024, 1, 1, 6, 30, 0, 0, time.UTC)
	updated, err := f.uc.UpdateSettings(ctx, inst.ID, &installation.UpdateRequest{Frequency: mo.Some("1h")})
	require.NoError(t, err)
	require.NotNil(t, updated.NextRunAt)
	assert.Equal(t, time.Date(2024, 1, 1, 7, 30, 0, 0, time.UTC), *updated.NextRunAt)

	as, err := f.schedules.GetByInstallationID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "1h", as.Expression)

	_, err = f.uc.UpdateSettings(ctx, inst.ID, &installation.UpdateRequest{Timezone: mo.Some("Nowhere/Land")})
	assert.True(t, errors.Is(err, errors.ErrScheduleConfigInvalid))

	stored, err := f.uc.Get(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "UTC", stored.Timezone, "rejected update leaves the installation untouched")
}

func TestUpdateSettingsDisableAndReEnable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	inst := f.install(t)

	disabled, err := f.uc.UpdateSettings(ctx, inst.ID, &installation.UpdateRequest{Enabled: mo.Some(false)})
	require.NoError(t, err)
	assert.False(t, disabled.IsEnabled)
	assert.Nil(t, disabled.NextRunAt)

	as, err := f.schedules.GetByInstallationID(ctx, inst.ID)
	require.NoError(t, err)
	assert.False(t, as.Active)

	// 凭证失效后重新启用
	stored, err := f.repo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	require.NoError(t, f.repo.Update(ctx, inst.ID, stored.DisableForCredentials()))

	f.now = time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)
	enabled, err := f.uc.UpdateSettings(ctx, inst.ID, &installation.UpdateRequest{Enabled: mo.Some(true)})
	require.NoError(t, err)
	assert.Equal(t, installation.StatusActive, enabled.Status)
	assert.True(t, enabled.IsEnabled)
	require.NotNil(t, enabled.NextRunAt)
	assert.Equal(t, time.Date(2024, 1, 4, 12, 0, 0, 0, time.UTC), *enabled.NextRunAt)

	stored, err = f.repo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, installation.StatusActive, stored.Status)
	assert.True(t, stored.Schedulable())
}

func TestUninstallCascades(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	inst := f.install(t)

	require.NoError(t, f.healths.Save(ctx, health.Unknown(inst.ID)))
	run := execution.Start(inst.ID, inst.TenantID, "job-1", execution.TriggerManual, f.now)
	require.NoError(t, f.runs.Create(ctx, run))

	require.NoError(t, f.uc.Uninstall(ctx, inst.ID))

	_, err := f.uc.Get(ctx, inst.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	as, err := f.schedules.GetByInstallationID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Nil(t, as)

	h, err := f.healths.Latest(ctx, inst.ID)
	require.NoError(t, err)
	assert.Nil(t, h)

	ok, err := f.creds.HasSecret(ctx, "tenant-1", &inst.ID, "customer_id")
	require.NoError(t, err)
	assert.False(t, ok)

	kept, err := f.runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.NotNil(t, kept, "runs stay as history")

	assert.True(t, errors.Is(f.uc.Uninstall(ctx, inst.ID), errors.ErrNotFound))
	assert.Equal(t, []installation.ChangeAction{installation.ChangeInstalled, installation.ChangeDeleted}, f.changes.changes)
}

func TestTriggerEnqueuesHighPriority(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	inst := f.install(t)

	_, err := f.uc.UpdateSettings(ctx, inst.ID, &installation.UpdateRequest{Enabled: mo.Some(false)})
	require.NoError(t, err)

	jobID, err := f.uc.Trigger(ctx, inst.ID, string(execution.TriggerManual))
	require.NoError(t, err, "manual triggers ignore isEnabled")
	assert.NotEmpty(t, jobID)

	job, err := f.jobs.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, jobID, job.ID)
	assert.Equal(t, queue.PriorityHigh, job.Priority)
	assert.Equal(t, inst.ID, job.InstallationID)
	assert.Equal(t, "manual", job.TriggerSource)
	assert.Empty(t, job.Config)

	_, err = f.uc.Trigger(ctx, 9999, "manual")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestTriggerQueueFull(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	inst := f.install(t)

	for i := 0; i < 10; i++ {
		_, err := f.uc.Trigger(ctx, inst.ID, "manual")
		require.NoError(t, err)
	}
	_, err := f.uc.Trigger(ctx, inst.ID, "manual")
	assert.True(t, errors.Is(err, errors.ErrQueueFull))
}
