package installation

import (
	"time"

	"github.com/jobs/integration-engine/internal/biz/application"
	"github.com/jobs/integration-engine/internal/biz/schedule"
	"github.com/samber/mo"
)

const (
	MessageCredentialsExpired = "credentials expired"
	MessageNotConnected       = "provider not connected"
	MessageCancelled          = "run cancelled"
)

// Installation 租户安装的应用实例
type Installation struct {
	ID        uint64
	CreatedAt time.Time
	UpdatedAt time.Time

	TenantID      string
	ApplicationID uint64
	ProviderKey   string
	TriggerType   application.TriggerType
	Status        Status
	IsEnabled     bool
	Config        map[string]any

	Frequency string
	Timezone  string
	Window    schedule.WindowSpec
	NextRunAt *time.Time
	LastRunAt *time.Time

	RunCount         int64
	SuccessCount     int64
	ErrorCount       int64
	LastErrorMessage string
}

// Schedulable reports whether the scheduler may produce runs for the installation.
func (i *Installation) Schedulable() bool {
	return i.IsEnabled && i.Status == StatusActive && i.TriggerType == application.TriggerTypeSchedule
}

// Schedule parses the stored frequency, timezone and window. The grid is
// anchored to the current nextRunAt when there is one.
func (i *Installation) Schedule() (schedule.Schedule, error) {
	s, err := schedule.Parse(i.Frequency, i.Timezone, i.Window)
	if err != nil {
		return s, err
	}
	if i.NextRunAt != nil {
		s = s.WithAnchor(*i.NextRunAt)
	}
	return s, nil
}

// RecordSuccess 终态成功
func (i *Installation) RecordSuccess(at time.Time) *Patch {
	i.RunCount++
	i.SuccessCount++
	i.LastRunAt = &at
	i.LastErrorMessage = ""
	return NewPatch().
		IncrCounters(1, 1, 0).
		WithLastRunAt(at).
		WithLastErrorMessage("")
}

// RecordError 终态失败
func (i *Installation) RecordError(at time.Time, message string) *Patch {
	i.RunCount++
	i.ErrorCount++
	i.LastRunAt = &at
	i.LastErrorMessage = message
	return NewPatch().
		IncrCounters(1, 0, 1).
		WithLastRunAt(at).
		WithLastErrorMessage(message)
}

// RecordCancelled leaves every counter untouched.
func (i *Installation) RecordCancelled(at time.Time) *Patch {
	i.LastRunAt = &at
	i.LastErrorMessage = MessageCancelled
	return NewPatch().WithLastRunAt(at).WithLastErrorMessage(MessageCancelled)
}

// DisableForCredentials stops scheduling until the tenant reconnects the provider.
func (i *Installation) DisableForCredentials() *Patch {
	i.Status = StatusError
	i.IsEnabled = false
	i.NextRunAt = nil
	return NewPatch().WithStatus(StatusError).WithIsEnabled(false).WithNextRunAt(nil)
}

func (i *Installation) Activate() *Patch {
	i.Status = StatusActive
	return NewPatch().WithStatus(StatusActive)
}

func (i *Installation) Deactivate() *Patch {
	i.Status = StatusInactive
	i.IsEnabled = false
	i.NextRunAt = nil
	return NewPatch().WithStatus(StatusInactive).WithIsEnabled(false).WithNextRunAt(nil)
}

// AdvanceSchedule moves nextRunAt. A zero next disarms the schedule.
func (i *Installation) AdvanceSchedule(next time.Time) *Patch {
	if next.IsZero() {
		i.NextRunAt = nil
		return NewPatch().WithNextRunAt(nil)
	}
	i.NextRunAt = &next
	return NewPatch().WithNextRunAt(&next)
}

type Patch struct {
	Status           *Status
	IsEnabled        *bool
	Config           *map[string]any
	Frequency        *string
	Timezone         *string
	Window           *schedule.WindowSpec
	NextRunAt        mo.Option[*time.Time]
	LastRunAt        *time.Time
	LastErrorMessage *string

	// 计数器为增量, 仓储以 col = col + n 写入, 不覆盖其他 worker 的结果
	RunCountDelta     int64
	SuccessCountDelta int64
	ErrorCountDelta   int64
}

func NewPatch() *Patch {
	return &Patch{}
}

// With 合并另一个 patch, other 中已设置的字段覆盖当前值, 计数增量相加
func (p *Patch) With(other *Patch) *Patch {
	if other == nil {
		return p
	}
	if other.Status != nil {
		p.Status = other.Status
	}
	if other.IsEnabled != nil {
		p.IsEnabled = other.IsEnabled
	}
	if other.Config != nil {
		p.Config = other.Config
	}
	if other.Frequency != nil {
		p.Frequency = other.Frequency
	}
	if other.Timezone != nil {
		p.Timezone = other.Timezone
	}
	if other.Window != nil {
		p.Window = other.Window
	}
	if other.NextRunAt.IsPresent() {
		p.NextRunAt = other.NextRunAt
	}
	if other.LastRunAt != nil {
		p.LastRunAt = other.LastRunAt
	}
	p.RunCountDelta += other.RunCountDelta
	p.SuccessCountDelta += other.SuccessCountDelta
	p.ErrorCountDelta += other.ErrorCountDelta
	if other.LastErrorMessage != nil {
		p.LastErrorMessage = other.LastErrorMessage
	}
	return p
}

func (p *Patch) WithStatus(status Status) *Patch {
	p.Status = &status
	return p
}

func (p *Patch) WithIsEnabled(enabled bool) *Patch {
	p.IsEnabled = &enabled
	return p
}

func (p *Patch) WithConfig(config map[string]any) *Patch {
	p.Config = &config
	return p
}

func (p *Patch) WithFrequency(frequency string) *Patch {
	p.Frequency = &frequency
	return p
}

func (p *Patch) WithTimezone(timezone string) *Patch {
	p.Timezone = &timezone
	return p
}

func (p *Patch) WithWindow(window schedule.WindowSpec) *Patch {
	p.Window = &window
	return p
}

func (p *Patch) WithNextRunAt(t *time.Time) *Patch {
	p.NextRunAt = mo.Some(t)
	return p
}

func (p *Patch) WithLastRunAt(t time.Time) *Patch {
	p.LastRunAt = &t
	return p
}

func (p *Patch) IncrCounters(runs, successes, errs int64) *Patch {
	p.RunCountDelta += runs
	p.SuccessCountDelta += successes
	p.ErrorCountDelta += errs
	return p
}

func (p *Patch) WithLastErrorMessage(message string) *Patch {
	p.LastErrorMessage = &message
	return p
}
