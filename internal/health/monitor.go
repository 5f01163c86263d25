// Package health probes every active installation on a jittered interval and
// records the outcome as the installation's IntegrationHealth.
package health

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/wire"
	"github.com/jobs/integration-engine/internal/adapter"
	bizhealth "github.com/jobs/integration-engine/internal/biz/health"
	"github.com/jobs/integration-engine/internal/biz/installation"
	"github.com/jobs/integration-engine/internal/credential"
	"github.com/jobs/integration-engine/pkg/config"
	"github.com/jobs/integration-engine/pkg/errors"
	"github.com/samber/lo"
	"github.com/samber/mo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var Provider = wire.NewSet(NewMonitor)

type CredentialSource interface {
	GetCredential(ctx context.Context, tenantID, providerKey string, installationID *uint64) (credential.Credential, error)
}

// Prober 服务商的轻量探测调用
type Prober interface {
	Probe(ctx context.Context, providerKey string, cred credential.Credential) adapter.Result
}

type Monitor struct {
	config   config.HealthCheckConfig
	installs installation.Repo
	healths  bizhealth.Repo
	creds    CredentialSource
	prober   Prober
	logger   *zap.Logger
	now      func() time.Time
	rand     func() float64

	mu  sync.Mutex
	due map[uint64]time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewMonitor(cfg config.Config, installs installation.Repo, healths bizhealth.Repo, creds CredentialSource, prober Prober, logger *zap.Logger) *Monitor {
	hc := cfg.HealthCheck
	if hc.Concurrency <= 0 {
		hc.Concurrency = 1
	}
	if hc.Tick <= 0 {
		hc.Tick = time.Minute
	}
	return &Monitor{
		config:   hc,
		installs: installs,
		healths:  healths,
		creds:    creds,
		prober:   prober,
		logger:   logger.Named("health"),
		now:      time.Now,
		rand:     rand.Float64,
		due:      make(map[uint64]time.Time),
		stopCh:   make(chan struct{}),
	}
}

// WithClock 替换时间源
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

func (m *Monitor) Start() {
	if !m.config.Enabled {
		m.logger.Info("health monitor is disabled")
		return
	}
	m.wg.Add(1)
	go m.run()
	m.logger.Info("health monitor started",
		zap.Duration("interval", m.config.Interval),
		zap.Duration("jitter", m.config.Jitter))
}

func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.logger.Info("health monitor stopped")
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-m.stopCh
		cancel()
	}()

	ticker := time.NewTicker(m.config.Tick)
	defer ticker.Stop()

	m.checkDue(ctx)
	for {
		select {
		case <-ticker.C:
			m.checkDue(ctx)
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) checkDue(ctx context.Context) {
	if _, err := m.RunDue(ctx, m.now()); err != nil {
		m.logger.Error("health tick failed", zap.Error(err))
	}
}

// RunDue probes every active installation whose due time has passed and
// returns how many were probed.
func (m *Monitor) RunDue(ctx context.Context, now time.Time) (int, error) {
	active, err := m.installs.List(ctx, &installation.ListFilter{Status: mo.Some(installation.StatusActive)})
	if err != nil {
		return 0, errors.Wrap(err, "list active installations")
	}

	m.mu.Lock()
	known := lo.SliceToMap(active, func(inst *installation.Installation) (uint64, struct{}) {
		return inst.ID, struct{}{}
	})
	for id := range m.due {
		if _, ok := known[id]; !ok {
			delete(m.due, id)
		}
	}
	var due []*installation.Installation
	for _, inst := range active {
		// 首次出现的安装立即探测
		if at, ok := m.due[inst.ID]; ok && at.After(now) {
			continue
		}
		m.due[inst.ID] = m.nextDue(now)
		due = append(due, inst)
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.config.Concurrency)
	for _, inst := range due {
		g.Go(func() error {
			if _, err := m.Check(gctx, inst); err != nil {
				m.logger.Warn("failed to record health",
					zap.Uint64("installation_id", inst.ID),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(due), nil
}

// nextDue interval ± jitter
func (m *Monitor) nextDue(now time.Time) time.Time {
	offset := time.Duration((2*m.rand() - 1) * float64(m.config.Jitter))
	return now.Add(m.config.Interval + offset)
}

// Invalidate makes the installation due at the next tick.
func (m *Monitor) Invalidate(installationID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.due, installationID)
}

// Check probes one installation and saves the folded result. A panicking probe
// is recovered and logged.
func (m *Monitor) Check(ctx context.Context, inst *installation.Installation) (rec *bizhealth.IntegrationHealth, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("health probe panicked",
				zap.Uint64("installation_id", inst.ID),
				zap.Any("panic", r))
			rec, err = nil, errors.Newf("health probe panicked: %v", r)
		}
	}()

	if m.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.Timeout)
		defer cancel()
	}

	result := m.probe(ctx, inst)

	rec, err = m.healths.Latest(ctx, inst.ID)
	if err != nil {
		return nil, errors.Wrap(err, "load health")
	}
	if rec == nil {
		rec = bizhealth.Unknown(inst.ID)
	}
	becameUnhealthy, recovered := rec.Apply(result, m.config.FailureThreshold, m.now())

	if becameUnhealthy {
		m.logger.Warn("installation marked as unhealthy",
			zap.Uint64("installation_id", inst.ID),
			zap.String("provider", inst.ProviderKey),
			zap.String("outcome", string(result.Outcome)),
			zap.Int("failures", rec.ConsecutiveFailures))
	}
	if recovered {
		m.logger.Info("installation recovered to healthy",
			zap.Uint64("installation_id", inst.ID),
			zap.String("provider", inst.ProviderKey))
	}

	if err := m.healths.Save(context.WithoutCancel(ctx), rec); err != nil {
		return nil, errors.Wrap(err, "save health")
	}
	return rec, nil
}

func (m *Monitor) probe(ctx context.Context, inst *installation.Installation) bizhealth.ProbeResult {
	cred, err := m.creds.GetCredential(ctx, inst.TenantID, inst.ProviderKey, &inst.ID)
	switch {
	case errors.Is(err, errors.ErrNotConnected):
		return bizhealth.ProbeResult{Outcome: bizhealth.OutcomeNotConnected, Message: installation.MessageNotConnected}
	case errors.Is(err, errors.ErrCredentialsExpired):
		return bizhealth.ProbeResult{Outcome: bizhealth.OutcomeCredentialsExpired, Message: installation.MessageCredentialsExpired}
	case err != nil:
		return bizhealth.ProbeResult{Outcome: bizhealth.OutcomeTransient, Message: err.Error()}
	}

	var expiresAt *time.Time
	if !cred.Expiry.IsZero() {
		expiresAt = lo.ToPtr(cred.Expiry)
	}

	res := m.prober.Probe(ctx, inst.ProviderKey, cred)
	if res.Success {
		return bizhealth.ProbeResult{Outcome: bizhealth.OutcomeOK, CredentialExpiresAt: expiresAt}
	}

	out := bizhealth.ProbeResult{
		Outcome:             bizhealth.OutcomePermanent,
		CredentialExpiresAt: expiresAt,
	}
	if res.Error != nil {
		out.Message = res.Error.Message
		out.HTTPStatus = res.Error.HTTPStatus
		switch res.Error.Kind {
		case adapter.KindQuotaExceeded:
			out.Outcome = bizhealth.OutcomeQuota
		case adapter.KindAuthFailed:
			out.Outcome = bizhealth.OutcomeAuthFailed
		case adapter.KindTransient:
			out.Outcome = bizhealth.OutcomeTransient
		}
	}
	return out
}

// Latest 返回最近一次结果, 从未探测过的安装为 unknown
func (m *Monitor) Latest(ctx context.Context, installationID uint64) (*bizhealth.IntegrationHealth, error) {
	rec, err := m.healths.Latest(ctx, installationID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return bizhealth.Unknown(installationID), nil
	}
	return rec, nil
}
