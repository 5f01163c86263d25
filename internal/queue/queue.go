// Package queue is the durable hand-off between the scheduler, manual triggers
// and the execution workers. Delivery is at-least-once: a dequeued job that is
// neither acked nor requeued before its lease ends becomes visible again.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jobs/integration-engine/pkg/errors"
)

type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

const maxPriority = PriorityHigh

// JobTypeExecute 执行一次安装
const JobTypeExecute = "execute"

// ErrStaleLease is returned when the caller's lease token no longer owns the job.
var ErrStaleLease = errors.Mark(errors.New("stale lease token"), errors.ErrConflict)

type Job struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	InstallationID uint64         `json:"installation_id"`
	TriggerSource  string         `json:"trigger_source"`
	Config         map[string]any `json:"config,omitempty"`
	Priority       Priority       `json:"priority"`
	// Attempt 从 0 开始, 每次重试加一
	Attempt    int       `json:"attempt"`
	RunID      uint64    `json:"run_id,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`

	// 出队时填充
	Deliveries int    `json:"-"`
	LeaseToken string `json:"-"`
}

func NewJob(jobType string, installationID uint64, triggerSource string, config map[string]any) *Job {
	return &Job{
		ID:             uuid.NewString(),
		Type:           jobType,
		InstallationID: installationID,
		TriggerSource:  triggerSource,
		Config:         config,
		Priority:       PriorityNormal,
	}
}

type Queue interface {
	// Enqueue 入队, 队列已满时返回 ErrQueueFull
	Enqueue(ctx context.Context, job *Job, opts ...EnqueueOption) (string, error)
	// Dequeue 返回 nil, nil 表示暂无可执行任务
	Dequeue(ctx context.Context) (*Job, error)
	Ack(ctx context.Context, job *Job) error
	// Requeue puts a leased job back under the same id with its updated
	// metadata. It is not bound by capacity.
	Requeue(ctx context.Context, job *Job, delay time.Duration) error
	Extend(ctx context.Context, job *Job, lease time.Duration) error
	Len(ctx context.Context) (int64, error)
}

type enqueueOptions struct {
	delay          time.Duration
	priority       *Priority
	bypassCapacity bool
}

type EnqueueOption func(*enqueueOptions)

func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) { o.delay = d }
}

func WithPriority(p Priority) EnqueueOption {
	return func(o *enqueueOptions) { o.priority = &p }
}

// BypassCapacity lets internal hand-offs through a full queue.
func BypassCapacity() EnqueueOption {
	return func(o *enqueueOptions) { o.bypassCapacity = true }
}

func buildOptions(job *Job, opts []EnqueueOption) enqueueOptions {
	var o enqueueOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.priority != nil {
		job.Priority = *o.priority
	}
	if job.Priority < PriorityLow {
		job.Priority = PriorityLow
	} else if job.Priority > maxPriority {
		job.Priority = maxPriority
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	return o
}

func queueFull(capacity int64) error {
	return errors.Mark(errors.Newf("queue reached capacity %d", capacity), errors.ErrQueueFull)
}
