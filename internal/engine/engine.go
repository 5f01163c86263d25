// Package engine executes queued installation jobs: it takes the
// per-installation lock, records the ExecutionRun, calls the provider through
// the adapter registry and writes the outcome back to the installation.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/wire"
	"github.com/jobs/integration-engine/internal/adapter"
	"github.com/jobs/integration-engine/internal/biz/application"
	"github.com/jobs/integration-engine/internal/biz/execution"
	"github.com/jobs/integration-engine/internal/biz/installation"
	"github.com/jobs/integration-engine/internal/credential"
	"github.com/jobs/integration-engine/internal/lock"
	"github.com/jobs/integration-engine/internal/queue"
	"github.com/jobs/integration-engine/pkg/config"
	"github.com/jobs/integration-engine/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

var Provider = wire.NewSet(NewEngine, ConfigFrom)

type CredentialSource interface {
	GetCredential(ctx context.Context, tenantID, providerKey string, installationID *uint64) (credential.Credential, error)
}

type Invoker interface {
	Invoke(ctx context.Context, providerKey, operation string, cred credential.Credential, params map[string]any, opts ...adapter.InvokeOption) adapter.Result
}

type Config struct {
	LockTTL        time.Duration
	LockRetryDelay time.Duration
	OrphanAfter    time.Duration
	DefaultTimeout time.Duration
	// Ceiling 最大重试次数, 一次运行最多尝试 Ceiling+1 次
	Ceiling int
	Backoff Backoff
}

func ConfigFrom(cfg config.Config) Config {
	return Config{
		LockTTL:        cfg.Engine.LockTTL,
		LockRetryDelay: cfg.Engine.LockRetryDelay,
		OrphanAfter:    cfg.Engine.OrphanAfter,
		DefaultTimeout: cfg.Engine.DefaultTimeout,
		Ceiling:        cfg.Retry.Ceiling,
		Backoff:        NewBackoff(cfg.Retry),
	}
}

// Stats 进程内计数, 用于 /healthz
type Stats struct {
	Started   int64 `json:"started"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Retried   int64 `json:"retried"`
	Cancelled int64 `json:"cancelled"`
	Deferred  int64 `json:"deferred"`
}

type Engine struct {
	installs installation.Repo
	apps     application.Repo
	runs     execution.Repo
	creds    CredentialSource
	invoker  Invoker
	jobs     queue.Queue
	locker   lock.Locker
	config   Config
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	inflight map[uint64]context.CancelFunc

	started, succeeded, failed, retried, cancelled, deferred atomic.Int64
}

func NewEngine(
	cfg Config,
	installs installation.Repo,
	apps application.Repo,
	runs execution.Repo,
	creds CredentialSource,
	invoker Invoker,
	jobs queue.Queue,
	locker lock.Locker,
	logger *zap.Logger,
) *Engine {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if cfg.LockRetryDelay <= 0 {
		cfg.LockRetryDelay = 5 * time.Second
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = time.Minute
	}
	return &Engine{
		installs: installs,
		apps:     apps,
		runs:     runs,
		creds:    creds,
		invoker:  invoker,
		jobs:     jobs,
		locker:   locker,
		config:   cfg,
		logger:   logger.Named("engine"),
		now:      time.Now,
		inflight: make(map[uint64]context.CancelFunc),
	}
}

// WithClock replaces the clock used for run timestamps.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) Stats() Stats {
	return Stats{
		Started:   e.started.Load(),
		Succeeded: e.succeeded.Load(),
		Failed:    e.failed.Load(),
		Retried:   e.retried.Load(),
		Cancelled: e.cancelled.Load(),
		Deferred:  e.deferred.Load(),
	}
}

// Cancel interrupts the provider call of a run executing in this process.
// It reports whether the run was found here.
func (e *Engine) Cancel(runID uint64) bool {
	e.mu.Lock()
	cancel, ok := e.inflight[runID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (e *Engine) track(runID uint64, cancel context.CancelFunc) func() {
	e.mu.Lock()
	e.inflight[runID] = cancel
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.inflight, runID)
		e.mu.Unlock()
		cancel()
	}
}

// Handle implements queue.Handler.
func (e *Engine) Handle(ctx context.Context, job *queue.Job) error {
	logger := e.logger.With(
		zap.String("job_id", job.ID),
		zap.Uint64("installation_id", job.InstallationID),
		zap.Int("attempt", job.Attempt))

	if job.Type != queue.JobTypeExecute {
		logger.Warn("dropping job of unknown type", zap.String("type", job.Type))
		return e.jobs.Ack(ctx, job)
	}

	inst, err := e.installs.GetByID(ctx, job.InstallationID)
	if err != nil {
		return errors.Wrap(err, "load installation")
	} else if inst == nil {
		return e.dropRemoved(ctx, job, logger)
	}

	app, err := e.apps.GetByID(ctx, inst.ApplicationID)
	if err != nil {
		return errors.Wrap(err, "load application")
	}
	timeout := e.config.DefaultTimeout
	maxPages := 0
	if app != nil {
		timeout = app.Timeout(e.config.DefaultTimeout)
		maxPages = app.MaxPages
	}

	ttl := e.config.LockTTL
	if need := timeout + e.config.LockRetryDelay; need > ttl {
		ttl = need
	}
	lease, err := e.locker.Obtain(ctx, lock.InstallationKey(inst.ID), ttl)
	if err != nil {
		if errors.Is(err, errors.ErrLockHeld) {
			logger.Debug("installation busy, deferring job")
			return e.postpone(ctx, job)
		}
		return errors.Wrap(err, "obtain installation lock")
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to release installation lock", zap.Error(err))
		}
	}()

	// 持锁后重新读取, 锁外读到的快照可能已被其他 worker 的终态写入改变
	inst, err = e.installs.GetByID(ctx, job.InstallationID)
	if err != nil {
		return errors.Wrap(err, "reload installation")
	} else if inst == nil {
		return e.dropRemoved(ctx, job, logger)
	}

	run, busy, err := e.resolveRun(ctx, job, inst)
	if err != nil {
		return err
	}
	if busy {
		logger.Info("another run is in progress, deferring job")
		return e.postpone(ctx, job)
	}
	if run == nil {
		// 重复投递, 运行已经结束
		return e.jobs.Ack(ctx, job)
	}
	logger = logger.With(zap.Uint64("run_id", run.ID))

	if run.CancelRequested {
		return e.finishCancelled(ctx, job, inst, run, logger)
	}
	return e.execute(ctx, job, inst, run, timeout, maxPages, logger)
}

func (e *Engine) dropRemoved(ctx context.Context, job *queue.Job, logger *zap.Logger) error {
	logger.Info("installation removed, dropping job")
	if job.RunID != 0 {
		if err := e.abandonRun(ctx, job.RunID, "installation removed"); err != nil {
			return err
		}
	}
	return e.jobs.Ack(ctx, job)
}

// resolveRun returns the run the job continues or a freshly started one. busy
// is set when a different run of the installation is still running.
func (e *Engine) resolveRun(ctx context.Context, job *queue.Job, inst *installation.Installation) (*execution.ExecutionRun, bool, error) {
	now := e.now()
	running, err := e.runs.FindRunning(ctx, inst.ID)
	if err != nil {
		return nil, false, errors.Wrap(err, "find running runs")
	}

	var own *execution.ExecutionRun
	for _, r := range running {
		if r.ID == job.RunID || (job.RunID == 0 && r.JobID == job.ID) {
			own = r
			continue
		}
		if e.config.OrphanAfter > 0 && now.Sub(r.StartedAt) > e.config.OrphanAfter {
			if err := e.closeOrphan(ctx, inst, r, now); err != nil {
				return nil, false, err
			}
			continue
		}
		return nil, true, nil
	}

	if own != nil {
		return own, false, nil
	}
	if job.RunID != 0 {
		// 运行已经是终态
		return nil, false, nil
	}

	cfgSnapshot := lo.Assign(inst.Config, job.Config)
	run := execution.Start(inst.ID, inst.TenantID, job.ID, execution.ParseTriggerSource(job.TriggerSource), now)
	run.AppendLog(now, "operation %s on %s", cast.ToString(cfgSnapshot["operation"]), inst.ProviderKey)
	if err := e.runs.Create(ctx, run); err != nil {
		return nil, false, errors.Wrap(err, "create run")
	}
	job.RunID = run.ID
	e.started.Add(1)
	return run, false, nil
}

func (e *Engine) closeOrphan(ctx context.Context, inst *installation.Installation, r *execution.ExecutionRun, now time.Time) error {
	e.logger.Warn("closing orphaned run",
		zap.Uint64("installation_id", inst.ID),
		zap.Uint64("run_id", r.ID),
		zap.Time("started_at", r.StartedAt))
	message := "run orphaned by a lost worker"
	r.Fail(now, message)
	return e.installs.Execute(ctx, func(ctx context.Context) error {
		if err := e.runs.Save(ctx, r); err != nil && !errors.Is(err, errors.ErrConflict) {
			return errors.Wrap(err, "close orphaned run")
		}
		return e.installs.Update(ctx, inst.ID, inst.RecordError(now, message))
	})
}

func (e *Engine) abandonRun(ctx context.Context, runID uint64, message string) error {
	run, err := e.runs.GetByID(ctx, runID)
	if err != nil || run == nil || run.IsTerminal() {
		return err
	}
	run.Fail(e.now(), message)
	if err := e.runs.Save(ctx, run); err != nil && !errors.Is(err, errors.ErrConflict) {
		return err
	}
	return nil
}

func (e *Engine) execute(ctx context.Context, job *queue.Job, inst *installation.Installation, run *execution.ExecutionRun,
	timeout time.Duration, maxPages int, logger *zap.Logger) error {
	cred, err := e.creds.GetCredential(ctx, inst.TenantID, inst.ProviderKey, &inst.ID)
	if err != nil {
		switch {
		case errors.Is(err, errors.ErrCredentialsExpired):
			return e.finishCredentials(ctx, job, inst, run, installation.MessageCredentialsExpired, logger)
		case errors.Is(err, errors.ErrNotConnected):
			return e.finishCredentials(ctx, job, inst, run, installation.MessageNotConnected, logger)
		}
		return e.retryOrFail(ctx, job, inst, run, err.Error(), true, 0, logger)
	}

	cfg := lo.Assign(inst.Config, job.Config)
	operation := cast.ToString(cfg["operation"])
	params := cast.ToStringMap(cfg["params"])

	callCtx, cancel := context.WithCancel(ctx)
	untrack := e.track(run.ID, cancel)
	opts := []adapter.InvokeOption{adapter.WithTimeout(timeout)}
	if maxPages > 0 {
		opts = append(opts, adapter.WithMaxPages(maxPages))
	}
	result := e.invoker.Invoke(callCtx, inst.ProviderKey, operation, cred, params, opts...)
	interrupted := callCtx.Err() != nil && ctx.Err() == nil
	untrack()

	if ctx.Err() != nil {
		// worker 正在退出, 租约到期后重新投递
		return ctx.Err()
	}
	if interrupted {
		return e.finishCancelled(ctx, job, inst, run, logger)
	}
	if result.Success {
		return e.finishSuccess(ctx, job, inst, run, result, logger)
	}

	fault := result.Error
	if fault == nil {
		fault = &adapter.Error{Provider: inst.ProviderKey, Kind: adapter.KindPermanent, Message: "provider call failed"}
	}
	if fault.Kind == adapter.KindAuthFailed {
		return e.finishCredentials(ctx, job, inst, run, fault.Error(), logger)
	}
	retryable := fault.Retryable || fault.Kind == adapter.KindTransient || fault.Kind == adapter.KindQuotaExceeded
	return e.retryOrFail(ctx, job, inst, run, fault.Error(), retryable, time.Duration(fault.RetryAfterMs)*time.Millisecond, logger)
}

// retryOrFail requeues the job while attempts remain, otherwise the run fails.
func (e *Engine) retryOrFail(ctx context.Context, job *queue.Job, inst *installation.Installation, run *execution.ExecutionRun,
	reason string, retryable bool, retryAfter time.Duration, logger *zap.Logger) error {
	now := e.now()
	if !retryable || run.Attempts > e.config.Ceiling {
		run.Fail(now, reason)
		if err := e.commit(ctx, inst, run, inst.RecordError(now, reason)); err != nil {
			return err
		}
		e.failed.Add(1)
		logger.Warn("run failed",
			zap.Int("attempts", run.Attempts),
			zap.Bool("retryable", retryable),
			zap.String("reason", reason))
		return e.jobs.Ack(ctx, job)
	}

	delay := e.config.Backoff.Delay(run.Attempts, retryAfter)
	run.NextAttempt(now, reason, delay)
	if err := e.runs.Save(ctx, run); err != nil {
		return errors.Wrap(err, "save run before retry")
	}
	job.Attempt = run.Attempts - 1
	if err := e.jobs.Requeue(ctx, job, delay); err != nil {
		return errors.Wrap(err, "requeue job for retry")
	}
	e.retried.Add(1)
	logger.Info("run will be retried",
		zap.Int("next_attempt", run.Attempts),
		zap.Duration("delay", delay),
		zap.String("reason", reason))
	return nil
}

func (e *Engine) finishSuccess(ctx context.Context, job *queue.Job, inst *installation.Installation, run *execution.ExecutionRun,
	result adapter.Result, logger *zap.Logger) error {
	now := e.now()
	results := lo.Assign(result.Data, map[string]any{"pages": result.Pages})
	if result.NextPageToken != "" {
		results["nextPageToken"] = result.NextPageToken
		run.AppendLog(now, "page limit reached after %d page(s)", result.Pages)
	}
	run.Complete(now, results)
	if err := e.commit(ctx, inst, run, inst.RecordSuccess(now)); err != nil {
		return err
	}
	e.succeeded.Add(1)
	logger.Info("run succeeded",
		zap.Int("attempts", run.Attempts),
		zap.Int("pages", result.Pages),
		zap.Int64("duration_ms", run.DurationMs))
	return e.jobs.Ack(ctx, job)
}

// finishCredentials 凭证失效: 运行失败, 安装进入 error 并停止调度, 不重试
func (e *Engine) finishCredentials(ctx context.Context, job *queue.Job, inst *installation.Installation, run *execution.ExecutionRun,
	reason string, logger *zap.Logger) error {
	now := e.now()
	run.Fail(now, reason)
	patch := inst.RecordError(now, reason).With(inst.DisableForCredentials())
	if err := e.commit(ctx, inst, run, patch); err != nil {
		return err
	}
	e.failed.Add(1)
	logger.Warn("installation disabled, credentials unusable",
		zap.String("tenant_id", inst.TenantID),
		zap.String("provider", inst.ProviderKey),
		zap.String("reason", reason))
	return e.jobs.Ack(ctx, job)
}

func (e *Engine) finishCancelled(ctx context.Context, job *queue.Job, inst *installation.Installation, run *execution.ExecutionRun,
	logger *zap.Logger) error {
	now := e.now()
	run.Cancel(now)
	if err := e.commit(ctx, inst, run, inst.RecordCancelled(now)); err != nil {
		return err
	}
	e.cancelled.Add(1)
	logger.Info("run cancelled", zap.Int("attempts", run.Attempts))
	return e.jobs.Ack(ctx, job)
}

// commit 终态运行和安装计数在同一事务中写入
func (e *Engine) commit(ctx context.Context, inst *installation.Installation, run *execution.ExecutionRun, patch *installation.Patch) error {
	return e.installs.Execute(context.WithoutCancel(ctx), func(ctx context.Context) error {
		if err := e.runs.Save(ctx, run); err != nil {
			return errors.Wrap(err, "save run")
		}
		return e.installs.Update(ctx, inst.ID, patch)
	})
}

func (e *Engine) postpone(ctx context.Context, job *queue.Job) error {
	e.deferred.Add(1)
	return e.jobs.Requeue(ctx, job, e.config.LockRetryDelay)
}
