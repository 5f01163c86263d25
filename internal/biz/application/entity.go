package application

import (
	"context"
	"time"
)

type ExecutionType string

const (
	ExecutionTypeUIOnly  ExecutionType = "ui-only"
	ExecutionTypeBackend ExecutionType = "backend"
	ExecutionTypeBoth    ExecutionType = "both"
)

type TriggerType string

const (
	TriggerTypeSchedule TriggerType = "schedule"
	TriggerTypeWebhook  TriggerType = "webhook"
	TriggerTypeManual   TriggerType = "manual"
	TriggerTypeEvent    TriggerType = "event"
)

// Application 应用目录条目, 发布后不可变, 通过 Version 区分
type Application struct {
	ID        uint64
	CreatedAt time.Time
	UpdatedAt time.Time

	Key             string
	Name            string
	Description     string
	Version         string
	ExecutionType   ExecutionType
	TriggerType     TriggerType
	ProviderKey     string
	DefaultConfig   map[string]any
	RequiredSecrets []string
	TimeoutSeconds  int
	MaxPages        int
}

// Runnable reports whether installations of the application execute on the engine.
func (a *Application) Runnable() bool {
	return a.ExecutionType != ExecutionTypeUIOnly && a.ProviderKey != ""
}

func (a *Application) Timeout(fallback time.Duration) time.Duration {
	if a.TimeoutSeconds <= 0 {
		return fallback
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}

type Repo interface {
	// Upsert 按 (key, version) 创建或覆盖
	Upsert(ctx context.Context, app *Application) error
	GetByID(ctx context.Context, id uint64) (*Application, error)
	GetByKey(ctx context.Context, key string) (*Application, error)
	List(ctx context.Context) ([]*Application, error)
}
