package queue

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jobs/integration-engine/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type queueFactory func(t *testing.T, capacity int64, lease time.Duration, clock *fakeClock) Queue

func backends() map[string]queueFactory {
	return map[string]queueFactory{
		"memory": func(t *testing.T, capacity int64, lease time.Duration, clock *fakeClock) Queue {
			return NewMemoryQueue(capacity, lease, clock.Now)
		},
		"redis": func(t *testing.T, capacity int64, lease time.Duration, clock *fakeClock) Queue {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return NewRedisQueue(rdb, "test:queue", capacity, lease, clock.Now)
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, newQueue queueFactory)) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) { fn(t, factory) })
	}
}

func TestQueueFIFOWithinPriority(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newQueue queueFactory) {
		ctx := context.Background()
		clock := newFakeClock()
		q := newQueue(t, 0, time.Minute, clock)

		first, err := q.Enqueue(ctx, NewJob(JobTypeExecute, 1, "schedule", nil))
		require.NoError(t, err)
		second, err := q.Enqueue(ctx, NewJob(JobTypeExecute, 2, "schedule", nil))
		require.NoError(t, err)
		urgent, err := q.Enqueue(ctx, NewJob(JobTypeExecute, 3, "manual", nil), WithPriority(PriorityHigh))
		require.NoError(t, err)

		var got []string
		for i := 0; i < 3; i++ {
			job, err := q.Dequeue(ctx)
			require.NoError(t, err)
			require.NotNil(t, job)
			assert.NotEmpty(t, job.LeaseToken)
			assert.Equal(t, 1, job.Deliveries)
			got = append(got, job.ID)
		}
		assert.Equal(t, []string{urgent, first, second}, got)

		job, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Nil(t, job)
	})
}

func TestQueueDelayedJobBecomesVisible(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newQueue queueFactory) {
		ctx := context.Background()
		clock := newFakeClock()
		q := newQueue(t, 0, time.Minute, clock)

		_, err := q.Enqueue(ctx, NewJob(JobTypeExecute, 1, "manual", nil), WithDelay(5*time.Second))
		require.NoError(t, err)

		job, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Nil(t, job)

		clock.Advance(5 * time.Second)
		job, err = q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, uint64(1), job.InstallationID)
	})
}

func TestQueueExpiredLeaseIsRedelivered(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newQueue queueFactory) {
		ctx := context.Background()
		clock := newFakeClock()
		q := newQueue(t, 0, 30*time.Second, clock)

		id, err := q.Enqueue(ctx, NewJob(JobTypeExecute, 7, "schedule", nil))
		require.NoError(t, err)

		first, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, first)

		clock.Advance(31 * time.Second)
		second, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, second)
		assert.Equal(t, id, second.ID)
		assert.Equal(t, 2, second.Deliveries)
		assert.NotEqual(t, first.LeaseToken, second.LeaseToken)

		// 旧租约不能再确认
		assert.ErrorIs(t, q.Ack(ctx, first), ErrStaleLease)
		require.NoError(t, q.Ack(ctx, second))

		n, err := q.Len(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestQueueExpiredLeasesKeepExpiryOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newQueue queueFactory) {
		ctx := context.Background()
		clock := newFakeClock()
		q := newQueue(t, 0, time.Minute, clock)

		var want []string
		for i := uint64(1); i <= 4; i++ {
			id, err := q.Enqueue(ctx, NewJob(JobTypeExecute, i, "schedule", nil))
			require.NoError(t, err)
			want = append(want, id)
		}
		for range want {
			job, err := q.Dequeue(ctx)
			require.NoError(t, err)
			require.NotNil(t, job)
			clock.Advance(time.Second)
		}
		fresh, err := q.Enqueue(ctx, NewJob(JobTypeExecute, 5, "schedule", nil))
		require.NoError(t, err)

		// 四个租约全部过期, 按过期先后回到队首
		clock.Advance(time.Minute)
		var got []string
		for i := 0; i < 5; i++ {
			job, err := q.Dequeue(ctx)
			require.NoError(t, err)
			require.NotNil(t, job)
			got = append(got, job.ID)
		}
		assert.Equal(t, append(want, fresh), got)
	})
}

func TestQueueExtendKeepsJobInvisible(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newQueue queueFactory) {
		ctx := context.Background()
		clock := newFakeClock()
		q := newQueue(t, 0, 30*time.Second, clock)

		_, err := q.Enqueue(ctx, NewJob(JobTypeExecute, 7, "schedule", nil))
		require.NoError(t, err)
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)

		clock.Advance(20 * time.Second)
		require.NoError(t, q.Extend(ctx, job, 30*time.Second))
		clock.Advance(20 * time.Second)

		again, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Nil(t, again)
	})
}

func TestQueueRequeueKeepsIDAndMetadata(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newQueue queueFactory) {
		ctx := context.Background()
		clock := newFakeClock()
		q := newQueue(t, 1, time.Minute, clock)

		id, err := q.Enqueue(ctx, NewJob(JobTypeExecute, 9, "manual", map[string]any{"operation": "report"}))
		require.NoError(t, err)
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)

		job.Attempt = 1
		job.RunID = 42
		require.NoError(t, q.Requeue(ctx, job, 2*time.Second))

		// 队列仍被该任务占满
		_, err = q.Enqueue(ctx, NewJob(JobTypeExecute, 10, "manual", nil))
		assert.True(t, errors.Is(err, errors.ErrQueueFull))

		clock.Advance(2 * time.Second)
		retry, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, retry)
		assert.Equal(t, id, retry.ID)
		assert.Equal(t, 1, retry.Attempt)
		assert.Equal(t, uint64(42), retry.RunID)
		assert.Equal(t, "report", retry.Config["operation"])

		// stale token
		assert.ErrorIs(t, q.Requeue(ctx, job, 0), ErrStaleLease)
	})
}

func TestQueueCapacity(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newQueue queueFactory) {
		ctx := context.Background()
		q := newQueue(t, 2, time.Minute, newFakeClock())

		for i := 0; i < 2; i++ {
			_, err := q.Enqueue(ctx, NewJob(JobTypeExecute, uint64(i), "schedule", nil))
			require.NoError(t, err)
		}
		_, err := q.Enqueue(ctx, NewJob(JobTypeExecute, 3, "schedule", nil))
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrQueueFull))

		_, err = q.Enqueue(ctx, NewJob(JobTypeExecute, 4, "manual", nil), BypassCapacity())
		require.NoError(t, err)

		n, err := q.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})
}

func TestQueueRejectsDuplicateID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newQueue queueFactory) {
		ctx := context.Background()
		q := newQueue(t, 0, time.Minute, newFakeClock())

		job := NewJob(JobTypeExecute, 1, "schedule", nil)
		_, err := q.Enqueue(ctx, job)
		require.NoError(t, err)
		_, err = q.Enqueue(ctx, job)
		assert.True(t, errors.Is(err, errors.ErrConflict))
	})
}

func TestRedisQueueKeysShareHashTag(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	clock := newFakeClock()
	q := NewRedisQueue(rdb, "test:queue", 0, time.Minute, clock.Now)

	_, err := q.Enqueue(ctx, NewJob(JobTypeExecute, 1, "schedule", nil))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, NewJob(JobTypeExecute, 2, "schedule", nil), WithDelay(time.Minute))
	require.NoError(t, err)
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	keys := mr.Keys()
	require.NotEmpty(t, keys)
	for _, key := range keys {
		assert.True(t, strings.HasPrefix(key, "{test:queue}:"), key)
	}
}
