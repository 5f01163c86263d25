package installation

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/wire"
	"github.com/jobs/integration-engine/internal/biz/application"
	"github.com/jobs/integration-engine/internal/biz/health"
	"github.com/jobs/integration-engine/internal/biz/schedule"
	"github.com/jobs/integration-engine/internal/queue"
	"github.com/jobs/integration-engine/pkg/errors"
	"github.com/samber/lo"
	"github.com/samber/mo"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

var Provider = wire.NewSet(NewUsecase)

var validate = validator.New(validator.WithRequiredStructEnabled())

// SecretWriter stores installation secrets. It is implemented by the credential store.
type SecretWriter interface {
	PutSecret(ctx context.Context, tenantID string, installationID *uint64, key, value string) error
	HasSecret(ctx context.Context, tenantID string, installationID *uint64, key string) (bool, error)
	DeleteInstallationSecrets(ctx context.Context, installationID uint64) error
}

type JobQueue interface {
	Enqueue(ctx context.Context, job *queue.Job, opts ...queue.EnqueueOption) (string, error)
}

// ChangeNotifier 通知其他引擎进程安装发生变更
type ChangeNotifier interface {
	InstallationChanged(ctx context.Context, installationID uint64, action ChangeAction) error
}

type Usecase struct {
	repo      Repo
	apps      application.Repo
	schedules schedule.Repo
	healths   health.Repo
	secrets   SecretWriter
	jobs      JobQueue
	notifier  ChangeNotifier
	logger    *zap.Logger
	now       func() time.Time
}

func NewUsecase(
	repo Repo,
	apps application.Repo,
	schedules schedule.Repo,
	healths health.Repo,
	secrets SecretWriter,
	jobs JobQueue,
	notifier ChangeNotifier,
	logger *zap.Logger,
) *Usecase {
	return &Usecase{
		repo:      repo,
		apps:      apps,
		schedules: schedules,
		healths:   healths,
		secrets:   secrets,
		jobs:      jobs,
		notifier:  notifier,
		logger:    logger.Named("installation"),
		now:       time.Now,
	}
}

// WithClock replaces the clock used for schedule computation.
func (u *Usecase) WithClock(now func() time.Time) *Usecase {
	u.now = now
	return u
}

type InstallRequest struct {
	TenantID       string              `json:"tenant_id" validate:"required,max=64"`
	ApplicationID  uint64              `json:"application_id" validate:"required_without=ApplicationKey"`
	ApplicationKey string              `json:"application_key" validate:"required_without=ApplicationID,max=128"`
	Config         map[string]any      `json:"config"`
	Secrets        map[string]string   `json:"secrets" validate:"dive,keys,required,max=128,endkeys,required"`
	Frequency      string              `json:"frequency" validate:"max=128"`
	Timezone       string              `json:"timezone" validate:"max=64"`
	Window         schedule.WindowSpec `json:"window"`
	Enabled        *bool               `json:"enabled"`
}

type UpdateRequest struct {
	Config    mo.Option[map[string]any]
	Frequency mo.Option[string]
	Timezone  mo.Option[string]
	Window    mo.Option[schedule.WindowSpec]
	Enabled   mo.Option[bool]
}

func invalidRequest(err error) error {
	return errors.Mark(errors.Wrap(err, "invalid install request"), errors.ErrInvalidRequest)
}

func notFound(id uint64) error {
	return errors.Mark(errors.Newf("installation %d not found", id), errors.ErrNotFound)
}

// Install 安装应用. 定时触发的应用同时创建 AutomationSchedule 并计算首次执行时间
func (u *Usecase) Install(ctx context.Context, req *InstallRequest) (*Installation, error) {
	if err := validate.Struct(req); err != nil {
		return nil, invalidRequest(err)
	}

	app, err := u.loadApplication(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := u.checkRequiredSecrets(ctx, req, app); err != nil {
		return nil, err
	}

	enabled := req.Enabled == nil || *req.Enabled
	inst := &Installation{
		TenantID:      req.TenantID,
		ApplicationID: app.ID,
		ProviderKey:   app.ProviderKey,
		TriggerType:   app.TriggerType,
		Status:        StatusInstalling,
		IsEnabled:     enabled,
		Config:        lo.Assign(app.DefaultConfig, req.Config),
		Timezone:      req.Timezone,
		Window:        req.Window,
	}

	var sched schedule.Schedule
	if inst.TriggerType == application.TriggerTypeSchedule {
		inst.Frequency = req.Frequency
		if inst.Frequency == "" {
			inst.Frequency = cast.ToString(app.DefaultConfig["frequency"])
		}
		if inst.Frequency == "" {
			return nil, errors.Mark(errors.Newf("application %s needs a frequency", app.Key), errors.ErrScheduleConfigInvalid)
		}
		if sched, err = schedule.Parse(inst.Frequency, inst.Timezone, inst.Window); err != nil {
			return nil, err
		}
	}

	now := u.now()
	err = u.repo.Execute(ctx, func(ctx context.Context) error {
		if err := u.repo.Create(ctx, inst); err != nil {
			return errors.Wrap(err, "create installation")
		}
		for key, value := range req.Secrets {
			if err := u.secrets.PutSecret(ctx, inst.TenantID, &inst.ID, key, value); err != nil {
				return errors.Wrapf(err, "store secret %s", key)
			}
		}

		patch := inst.Activate()
		if inst.TriggerType == application.TriggerTypeSchedule {
			next := u.arm(inst, sched, now)
			patch.With(next)
			if err := u.schedules.Upsert(ctx, automationFor(inst)); err != nil {
				return errors.Wrap(err, "create automation schedule")
			}
		}
		return u.repo.Update(ctx, inst.ID, patch)
	})
	if err != nil {
		return nil, err
	}

	u.logger.Info("application installed",
		zap.Uint64("installation_id", inst.ID),
		zap.String("tenant_id", inst.TenantID),
		zap.String("application", app.Key),
		zap.Timep("next_run_at", inst.NextRunAt))
	u.notify(ctx, inst.ID, ChangeInstalled)
	return inst, nil
}

func (u *Usecase) loadApplication(ctx context.Context, req *InstallRequest) (*application.Application, error) {
	var (
		app *application.Application
		err error
	)
	if req.ApplicationID != 0 {
		app, err = u.apps.GetByID(ctx, req.ApplicationID)
	} else {
		app, err = u.apps.GetByKey(ctx, req.ApplicationKey)
	}
	if err != nil {
		return nil, err
	} else if app == nil {
		return nil, errors.Mark(errors.Newf("application %d%s not found", req.ApplicationID, req.ApplicationKey), errors.ErrNotFound)
	}
	return app, nil
}

// checkRequiredSecrets 必需的密钥可以随请求提供, 也可以已经存在于租户级
func (u *Usecase) checkRequiredSecrets(ctx context.Context, req *InstallRequest, app *application.Application) error {
	for _, key := range app.RequiredSecrets {
		if _, ok := req.Secrets[key]; ok {
			continue
		}
		ok, err := u.secrets.HasSecret(ctx, req.TenantID, nil, key)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Mark(errors.Newf("application %s requires secret %s", app.Key, key), errors.ErrInvalidRequest)
		}
	}
	return nil
}

// arm 计算首次执行时间, 禁用的安装不产生 nextRunAt
func (u *Usecase) arm(inst *Installation, sched schedule.Schedule, now time.Time) *Patch {
	if !inst.IsEnabled || inst.Status != StatusActive {
		return inst.AdvanceSchedule(time.Time{})
	}
	return inst.AdvanceSchedule(schedule.ComputeNextRun(sched.WithAnchor(now), now))
}

func automationFor(inst *Installation) *schedule.AutomationSchedule {
	return &schedule.AutomationSchedule{
		InstallationID: inst.ID,
		Expression:     inst.Frequency,
		Timezone:       inst.Timezone,
		Window:         inst.Window,
		NextRunAt:      inst.NextRunAt,
		LastRunAt:      inst.LastRunAt,
		Active:         inst.NextRunAt != nil,
	}
}

func (u *Usecase) Get(ctx context.Context, id uint64) (*Installation, error) {
	inst, err := u.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	} else if inst == nil {
		return nil, notFound(id)
	}
	return inst, nil
}

func (u *Usecase) List(ctx context.Context, filter *ListFilter) ([]*Installation, error) {
	return u.repo.List(ctx, filter)
}

// UpdateSettings changes config, schedule or the enabled flag. A schedule
// change re-arms nextRunAt from now; enabling an errored installation
// reactivates it.
func (u *Usecase) UpdateSettings(ctx context.Context, id uint64, req *UpdateRequest) (*Installation, error) {
	inst, err := u.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	patch := NewPatch()
	if cfg, ok := req.Config.Get(); ok {
		inst.Config = cfg
		patch.WithConfig(cfg)
	}

	scheduleChanged := false
	if v, ok := req.Frequency.Get(); ok && v != inst.Frequency {
		inst.Frequency, scheduleChanged = v, true
		patch.WithFrequency(v)
	}
	if v, ok := req.Timezone.Get(); ok && v != inst.Timezone {
		inst.Timezone, scheduleChanged = v, true
		patch.WithTimezone(v)
	}
	if v, ok := req.Window.Get(); ok && v != inst.Window {
		inst.Window, scheduleChanged = v, true
		patch.WithWindow(v)
	}

	wasEnabled := inst.IsEnabled && inst.Status == StatusActive
	if enabled, ok := req.Enabled.Get(); ok {
		if enabled && (inst.Status == StatusError || inst.Status == StatusInactive) {
			patch.With(inst.Activate())
		}
		inst.IsEnabled = enabled
		patch.WithIsEnabled(enabled)
	}

	scheduled := inst.TriggerType == application.TriggerTypeSchedule
	var sched schedule.Schedule
	if scheduled {
		if sched, err = schedule.Parse(inst.Frequency, inst.Timezone, inst.Window); err != nil {
			return nil, err
		}
	}

	nowEnabled := inst.IsEnabled && inst.Status == StatusActive
	rearm := scheduled && (scheduleChanged || wasEnabled != nowEnabled || (nowEnabled && inst.NextRunAt == nil))

	err = u.repo.Execute(ctx, func(ctx context.Context) error {
		if rearm {
			patch.With(u.arm(inst, sched, u.now()))
			if err := u.schedules.Upsert(ctx, automationFor(inst)); err != nil {
				return errors.Wrap(err, "update automation schedule")
			}
		}
		return u.repo.Update(ctx, id, patch)
	})
	if err != nil {
		return nil, err
	}

	u.logger.Info("installation updated",
		zap.Uint64("installation_id", id),
		zap.Bool("enabled", inst.IsEnabled),
		zap.String("status", string(inst.Status)),
		zap.Timep("next_run_at", inst.NextRunAt))
	u.notify(ctx, id, ChangeUpdated)
	return inst, nil
}

// Uninstall removes the installation with its schedule, installation scoped
// secrets and health record. Execution runs are kept as history.
func (u *Usecase) Uninstall(ctx context.Context, id uint64) error {
	inst, err := u.Get(ctx, id)
	if err != nil {
		return err
	}

	err = u.repo.Execute(ctx, func(ctx context.Context) error {
		if err := u.schedules.DeleteByInstallationID(ctx, id); err != nil {
			return errors.Wrap(err, "delete automation schedule")
		}
		if err := u.secrets.DeleteInstallationSecrets(ctx, id); err != nil {
			return errors.Wrap(err, "delete installation secrets")
		}
		if err := u.healths.DeleteByInstallationID(ctx, id); err != nil {
			return errors.Wrap(err, "delete health record")
		}
		return u.repo.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	u.logger.Info("application uninstalled",
		zap.Uint64("installation_id", id),
		zap.String("tenant_id", inst.TenantID))
	u.notify(ctx, id, ChangeDeleted)
	return nil
}

// Trigger 手动触发一次执行, 以高优先级入队. 禁用的安装同样允许手动触发
func (u *Usecase) Trigger(ctx context.Context, id uint64, source string) (string, error) {
	inst, err := u.Get(ctx, id)
	if err != nil {
		return "", err
	}
	switch inst.Status {
	case StatusPending, StatusInstalling:
		return "", errors.Mark(errors.Newf("installation %d is still %s", id, inst.Status), errors.ErrInvalidRequest)
	}
	if inst.ProviderKey == "" {
		return "", errors.Mark(errors.Newf("installation %d does not run on the engine", id), errors.ErrInvalidRequest)
	}

	// 配置在执行时读取安装的当前值
	job := queue.NewJob(queue.JobTypeExecute, id, source, nil)
	jobID, err := u.jobs.Enqueue(ctx, job, queue.WithPriority(queue.PriorityHigh))
	if err != nil {
		return "", err
	}
	u.logger.Info("installation triggered",
		zap.Uint64("installation_id", id),
		zap.String("job_id", jobID),
		zap.String("source", source))
	return jobID, nil
}

func (u *Usecase) notify(ctx context.Context, id uint64, action ChangeAction) {
	if u.notifier == nil {
		return
	}
	if err := u.notifier.InstallationChanged(ctx, id, action); err != nil {
		u.logger.Warn("failed to publish installation change",
			zap.Uint64("installation_id", id),
			zap.String("action", string(action)),
			zap.Error(err))
	}
}
