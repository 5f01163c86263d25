package schedule

import (
	"context"
	"time"

	"github.com/jobs/integration-engine/internal/infra/persistence/commonrepo"
	"github.com/samber/mo"
)

// AutomationSchedule is the schedule owned by an enabled, schedule triggered installation.
type AutomationSchedule struct {
	ID        uint64
	CreatedAt time.Time
	UpdatedAt time.Time

	InstallationID uint64
	Expression     string
	Timezone       string
	Window         WindowSpec
	NextRunAt      *time.Time
	LastRunAt      *time.Time
	SkippedCount   int
	LastSkippedAt  *time.Time
	Active         bool
}

// Advance moves the schedule past a fired slot.
func (a *AutomationSchedule) Advance(firedAt time.Time, next time.Time) *AutomationSchedulePatch {
	patch := NewAutomationSchedulePatch()
	a.LastRunAt = &firedAt
	patch.WithLastRunAt(firedAt)
	a.setNext(next, patch)
	return patch
}

// Skip moves the schedule past a slot that was not enqueued.
func (a *AutomationSchedule) Skip(skippedAt time.Time, next time.Time) *AutomationSchedulePatch {
	patch := NewAutomationSchedulePatch()
	a.SkippedCount++
	a.LastSkippedAt = &skippedAt
	patch.WithSkippedCount(a.SkippedCount).WithLastSkippedAt(skippedAt)
	a.setNext(next, patch)
	return patch
}

func (a *AutomationSchedule) setNext(next time.Time, patch *AutomationSchedulePatch) {
	if next.IsZero() {
		a.NextRunAt = nil
		a.Active = false
		patch.WithNextRunAt(nil).WithActive(false)
		return
	}
	a.NextRunAt = &next
	patch.WithNextRunAt(&next)
}

type AutomationSchedulePatch struct {
	Expression    *string
	Timezone      *string
	Window        *WindowSpec
	NextRunAt     mo.Option[*time.Time]
	LastRunAt     *time.Time
	SkippedCount  *int
	LastSkippedAt *time.Time
	Active        *bool
}

func NewAutomationSchedulePatch() *AutomationSchedulePatch {
	return &AutomationSchedulePatch{}
}

func (p *AutomationSchedulePatch) WithNextRunAt(t *time.Time) *AutomationSchedulePatch {
	p.NextRunAt = mo.Some(t)
	return p
}

func (p *AutomationSchedulePatch) WithLastRunAt(t time.Time) *AutomationSchedulePatch {
	p.LastRunAt = &t
	return p
}

func (p *AutomationSchedulePatch) WithSkippedCount(n int) *AutomationSchedulePatch {
	p.SkippedCount = &n
	return p
}

func (p *AutomationSchedulePatch) WithLastSkippedAt(t time.Time) *AutomationSchedulePatch {
	p.LastSkippedAt = &t
	return p
}

func (p *AutomationSchedulePatch) WithActive(active bool) *AutomationSchedulePatch {
	p.Active = &active
	return p
}

type Repo interface {
	commonrepo.Transaction
	// Upsert 按 installation_id 创建或覆盖
	Upsert(ctx context.Context, schedule *AutomationSchedule) error
	GetByInstallationID(ctx context.Context, installationID uint64) (*AutomationSchedule, error)
	Update(ctx context.Context, installationID uint64, patch *AutomationSchedulePatch) error
	DeleteByInstallationID(ctx context.Context, installationID uint64) error
}
