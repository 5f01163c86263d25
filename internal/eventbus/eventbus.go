// Package eventbus broadcasts run cancellations and installation changes to
// every engine process over Redis pub/sub. Without Redis it dispatches in
// process.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/wire"
	"github.com/jobs/integration-engine/internal/biz/execution"
	"github.com/jobs/integration-engine/internal/biz/installation"
	"github.com/jobs/integration-engine/pkg/config"
	"github.com/jobs/integration-engine/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var Provider = wire.NewSet(
	NewBus,
	wire.Bind(new(execution.CancelNotifier), new(*Bus)),
	wire.Bind(new(installation.ChangeNotifier), new(*Bus)),
)

// EventType represents the type of events flowing through the bus.
type EventType string

const (
	EventRunCancel           EventType = "run_cancel"
	EventInstallationChanged EventType = "installation_changed"
)

// Event is the message payload for pub/sub.
type Event struct {
	Type           EventType                 `json:"type"`
	RunID          uint64                    `json:"run_id,omitempty"`
	InstallationID uint64                    `json:"installation_id,omitempty"`
	Action         installation.ChangeAction `json:"action,omitempty"`
	Source         string                    `json:"source,omitempty"`
	Timestamp      int64                     `json:"ts,omitempty"`
}

const Channel = "engine:events"

// Canceller 取消本进程内正在执行的 run
type Canceller interface {
	Cancel(runID uint64) bool
}

// Invalidator 安装变更后让健康探测尽快重新执行
type Invalidator interface {
	Invalidate(installationID uint64)
}

var (
	_ execution.CancelNotifier    = (*Bus)(nil)
	_ installation.ChangeNotifier = (*Bus)(nil)
)

type Bus struct {
	rdb     *redis.Client
	source  string
	cancels Canceller
	health  Invalidator
	logger  *zap.Logger
	now     func() time.Time

	sub *redis.PubSub
	wg  sync.WaitGroup
}

// NewBus constructs an event bus. A nil rdb makes every publish a direct
// in-process dispatch.
func NewBus(cfg config.Config, rdb *redis.Client, cancels Canceller, health Invalidator, logger *zap.Logger) *Bus {
	return &Bus{
		rdb:     rdb,
		source:  cfg.Engine.InstanceID,
		cancels: cancels,
		health:  health,
		logger:  logger.Named("eventbus"),
		now:     time.Now,
	}
}

// Start subscribes to the channel and dispatches every received event.
func (b *Bus) Start(ctx context.Context) error {
	if b.rdb == nil {
		b.logger.Info("redis disabled, dispatching events in process")
		return nil
	}
	sub := b.rdb.Subscribe(ctx, Channel)
	// 等待订阅确认, 之后发布的事件不会丢失
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return errors.Wrap(err, "subscribe event channel")
	}
	b.sub = sub

	b.wg.Add(1)
	go b.listen(sub.Channel())
	b.logger.Info("event bus subscribed", zap.String("channel", Channel))
	return nil
}

func (b *Bus) Stop() {
	if b.sub != nil {
		_ = b.sub.Close()
	}
	b.wg.Wait()
}

func (b *Bus) listen(ch <-chan *redis.Message) {
	defer b.wg.Done()
	for msg := range ch {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			b.logger.Warn("dropping malformed event", zap.String("payload", msg.Payload), zap.Error(err))
			continue
		}
		b.dispatch(ev)
	}
}

func (b *Bus) dispatch(ev Event) {
	switch ev.Type {
	case EventRunCancel:
		if b.cancels != nil && b.cancels.Cancel(ev.RunID) {
			b.logger.Info("cancelled in-flight run",
				zap.Uint64("run_id", ev.RunID),
				zap.String("source", ev.Source))
		}
	case EventInstallationChanged:
		if b.health != nil {
			b.health.Invalidate(ev.InstallationID)
		}
	default:
		b.logger.Debug("ignoring unknown event", zap.String("type", string(ev.Type)))
	}
}

func (b *Bus) publish(ctx context.Context, ev Event) error {
	ev.Source = b.source
	ev.Timestamp = b.now().UnixMilli()
	if b.rdb == nil {
		b.dispatch(ev)
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, Channel, payload).Err()
}

func (b *Bus) RunCancelled(ctx context.Context, runID uint64) error {
	return b.publish(ctx, Event{Type: EventRunCancel, RunID: runID})
}

func (b *Bus) InstallationChanged(ctx context.Context, installationID uint64, action installation.ChangeAction) error {
	return b.publish(ctx, Event{Type: EventInstallationChanged, InstallationID: installationID, Action: action})
}
