package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jobs/integration-engine/pkg/errors"
)

type memoryEntry struct {
	job        Job
	dueAt      time.Time
	leaseUntil time.Time
	token      string
	deliveries int
}

// MemoryQueue 进程内队列, 与 RedisQueue 语义一致, 用于单机部署和测试
type MemoryQueue struct {
	mu       sync.Mutex
	capacity int64
	lease    time.Duration
	now      func() time.Time

	jobs    map[string]*memoryEntry
	ready   [maxPriority + 1][]string
	delayed []string
	leased  map[string]struct{}
}

func NewMemoryQueue(capacity int64, lease time.Duration, now func() time.Time) *MemoryQueue {
	if now == nil {
		now = time.Now
	}
	return &MemoryQueue{
		capacity: capacity,
		lease:    lease,
		now:      now,
		jobs:     make(map[string]*memoryEntry),
		leased:   make(map[string]struct{}),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, job *Job, opts ...EnqueueOption) (string, error) {
	o := buildOptions(job, opts)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capacity > 0 && !o.bypassCapacity && int64(len(q.jobs)) >= q.capacity {
		return "", queueFull(q.capacity)
	}
	if _, ok := q.jobs[job.ID]; ok {
		return "", errors.Mark(errors.Newf("job %s already queued", job.ID), errors.ErrConflict)
	}

	now := q.now()
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = now
	}
	e := &memoryEntry{job: *job}
	q.jobs[job.ID] = e
	q.schedule(e, now, o.delay)
	return job.ID, nil
}

func (q *MemoryQueue) schedule(e *memoryEntry, now time.Time, delay time.Duration) {
	if delay > 0 {
		e.dueAt = now.Add(delay)
		q.delayed = append(q.delayed, e.job.ID)
		return
	}
	q.ready[e.job.Priority] = append(q.ready[e.job.Priority], e.job.ID)
}

func (q *MemoryQueue) Dequeue(_ context.Context) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.promote(now)
	q.reclaim(now)

	for p := maxPriority; p >= PriorityLow; p-- {
		for len(q.ready[p]) > 0 {
			id := q.ready[p][0]
			q.ready[p] = q.ready[p][1:]
			e, ok := q.jobs[id]
			if !ok {
				continue
			}
			e.token = uuid.NewString()
			e.leaseUntil = now.Add(q.lease)
			e.deliveries++
			q.leased[id] = struct{}{}

			job := e.job
			job.LeaseToken = e.token
			job.Deliveries = e.deliveries
			return &job, nil
		}
	}
	return nil, nil
}

// promote 到期的延迟任务按到期时间进入就绪队列
func (q *MemoryQueue) promote(now time.Time) {
	if len(q.delayed) == 0 {
		return
	}
	var due, pending []string
	for _, id := range q.delayed {
		e, ok := q.jobs[id]
		if !ok {
			continue
		}
		if e.dueAt.After(now) {
			pending = append(pending, id)
		} else {
			due = append(due, id)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return q.jobs[due[i]].dueAt.Before(q.jobs[due[j]].dueAt)
	})
	for _, id := range due {
		e := q.jobs[id]
		q.ready[e.job.Priority] = append(q.ready[e.job.Priority], id)
	}
	q.delayed = pending
}

// reclaim 租约过期的任务回到队首, 先过期的排在前面
func (q *MemoryQueue) reclaim(now time.Time) {
	var expired []string
	for id := range q.leased {
		e, ok := q.jobs[id]
		if !ok {
			delete(q.leased, id)
			continue
		}
		if e.leaseUntil.After(now) {
			continue
		}
		expired = append(expired, id)
	}
	if len(expired) == 0 {
		return
	}
	sort.Slice(expired, func(i, j int) bool {
		a, b := q.jobs[expired[i]], q.jobs[expired[j]]
		if !a.leaseUntil.Equal(b.leaseUntil) {
			return a.leaseUntil.Before(b.leaseUntil)
		}
		return expired[i] < expired[j]
	})

	var head [maxPriority + 1][]string
	for _, id := range expired {
		e := q.jobs[id]
		delete(q.leased, id)
		e.token = ""
		head[e.job.Priority] = append(head[e.job.Priority], id)
	}
	for p, ids := range head {
		if len(ids) > 0 {
			q.ready[p] = append(ids, q.ready[p]...)
		}
	}
}

func (q *MemoryQueue) owned(job *Job) (*memoryEntry, error) {
	e, ok := q.jobs[job.ID]
	if !ok || job.LeaseToken == "" || e.token != job.LeaseToken {
		return nil, ErrStaleLease
	}
	return e, nil
}

func (q *MemoryQueue) Ack(_ context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.owned(job); err != nil {
		return err
	}
	delete(q.jobs, job.ID)
	delete(q.leased, job.ID)
	return nil
}

func (q *MemoryQueue) Requeue(_ context.Context, job *Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.owned(job)
	if err != nil {
		return err
	}
	delete(q.leased, job.ID)
	e.token = ""
	e.job = *job
	e.job.LeaseToken = ""
	q.schedule(e, q.now(), delay)
	return nil
}

func (q *MemoryQueue) Extend(_ context.Context, job *Job, lease time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.owned(job)
	if err != nil {
		return err
	}
	e.leaseUntil = q.now().Add(lease)
	return nil
}

func (q *MemoryQueue) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.jobs)), nil
}
