package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jobs/integration-engine/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"
)

// KEYS: jobs, prio, delayed, ready
// ARGV: id, payload, priority, capacity, dueAt, now
var enqueueScript = redis.NewScript(`
local capacity = tonumber(ARGV[4])
if capacity > 0 and redis.call('HLEN', KEYS[1]) >= capacity then
	return 0
end
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then
	return -1
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
if tonumber(ARGV[5]) > tonumber(ARGV[6]) then
	redis.call('ZADD', KEYS[3], ARGV[5], ARGV[1])
else
	redis.call('RPUSH', KEYS[4], ARGV[1])
end
return 1
`)

// KEYS: jobs, prio, delayed, leased, tokens, deliveries, ready:0 .. ready:maxPriority
// ARGV: now, leaseUntil, token
var dequeueScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local function ready(p)
	return KEYS[7 + tonumber(p)]
end
local due = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', now)
for _, id in ipairs(due) do
	redis.call('ZREM', KEYS[3], id)
	local p = redis.call('HGET', KEYS[2], id) or '1'
	redis.call('RPUSH', ready(p), id)
end
local expired = redis.call('ZRANGEBYSCORE', KEYS[4], '-inf', now)
for i = #expired, 1, -1 do
	local id = expired[i]
	redis.call('ZREM', KEYS[4], id)
	redis.call('HDEL', KEYS[5], id)
	local p = redis.call('HGET', KEYS[2], id) or '1'
	redis.call('LPUSH', ready(p), id)
end
for i = #KEYS, 7, -1 do
	local id = redis.call('LPOP', KEYS[i])
	while id do
		local payload = redis.call('HGET', KEYS[1], id)
		if payload then
			redis.call('ZADD', KEYS[4], ARGV[2], id)
			redis.call('HSET', KEYS[5], id, ARGV[3])
			local n = redis.call('HINCRBY', KEYS[6], id, 1)
			return {payload, n}
		end
		id = redis.call('LPOP', KEYS[i])
	end
end
return false
`)

// KEYS: jobs, prio, leased, tokens, deliveries
// ARGV: id, token
var ackScript = redis.NewScript(`
if redis.call('HGET', KEYS[4], ARGV[1]) ~= ARGV[2] then
	return 0
end
redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('HDEL', KEYS[4], ARGV[1])
redis.call('HDEL', KEYS[5], ARGV[1])
return 1
`)

// KEYS: jobs, prio, delayed, leased, tokens, ready
// ARGV: id, token, payload, priority, dueAt, now
var requeueScript = redis.NewScript(`
if redis.call('HGET', KEYS[5], ARGV[1]) ~= ARGV[2] then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[4])
redis.call('ZREM', KEYS[4], ARGV[1])
redis.call('HDEL', KEYS[5], ARGV[1])
if tonumber(ARGV[5]) > tonumber(ARGV[6]) then
	redis.call('ZADD', KEYS[3], ARGV[5], ARGV[1])
else
	redis.call('RPUSH', KEYS[6], ARGV[1])
end
return 1
`)

// KEYS: leased, tokens
// ARGV: id, token, leaseUntil
var extendScript = redis.NewScript(`
if redis.call('HGET', KEYS[2], ARGV[1]) ~= ARGV[2] then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
return 1
`)

// RedisQueue keeps every job in one hash and moves ids between the delayed
// set, the per-priority ready lists and the leased set with Lua scripts.
type RedisQueue struct {
	rdb      redis.UniversalClient
	prefix   string
	capacity int64
	lease    time.Duration
	now      func() time.Time
}

func NewRedisQueue(rdb redis.UniversalClient, prefix string, capacity int64, lease time.Duration, now func() time.Time) *RedisQueue {
	if now == nil {
		now = time.Now
	}
	if prefix == "" {
		prefix = "engine:queue"
	}
	return &RedisQueue{rdb: rdb, prefix: prefix, capacity: capacity, lease: lease, now: now}
}

// key 所有键共用一个 hash tag, 集群模式下脚本访问的键落在同一个 slot
func (q *RedisQueue) key(name string) string { return "{" + q.prefix + "}:" + name }

func (q *RedisQueue) readyKey(p Priority) string {
	return q.key("ready:" + strconv.Itoa(int(p)))
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func (q *RedisQueue) Enqueue(ctx context.Context, job *Job, opts ...EnqueueOption) (string, error) {
	o := buildOptions(job, opts)
	now := q.now()
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = now
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return "", errors.Wrap(err, "encode job")
	}

	capacity := q.capacity
	if o.bypassCapacity {
		capacity = 0
	}
	res, err := enqueueScript.Run(ctx, q.rdb,
		[]string{q.key("jobs"), q.key("prio"), q.key("delayed"), q.readyKey(job.Priority)},
		job.ID, payload, int(job.Priority), capacity, millis(now.Add(o.delay)), millis(now),
	).Int()
	if err != nil {
		return "", errors.Wrap(err, "enqueue job")
	}
	switch res {
	case 0:
		return "", queueFull(q.capacity)
	case -1:
		return "", errors.Mark(errors.Newf("job %s already queued", job.ID), errors.ErrConflict)
	}
	return job.ID, nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Job, error) {
	now := q.now()
	token := uuid.NewString()
	keys := []string{q.key("jobs"), q.key("prio"), q.key("delayed"), q.key("leased"), q.key("tokens"), q.key("deliveries")}
	for p := PriorityLow; p <= maxPriority; p++ {
		keys = append(keys, q.readyKey(p))
	}
	res, err := dequeueScript.Run(ctx, q.rdb, keys, millis(now), millis(now.Add(q.lease)), token).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "dequeue job")
	}
	if len(res) != 2 {
		return nil, errors.Newf("unexpected dequeue reply of %d elements", len(res))
	}

	var job Job
	if err := json.Unmarshal([]byte(cast.ToString(res[0])), &job); err != nil {
		return nil, errors.Wrap(err, "decode job")
	}
	job.LeaseToken = token
	job.Deliveries = cast.ToInt(res[1])
	return &job, nil
}

func (q *RedisQueue) Ack(ctx context.Context, job *Job) error {
	ok, err := ackScript.Run(ctx, q.rdb,
		[]string{q.key("jobs"), q.key("prio"), q.key("leased"), q.key("tokens"), q.key("deliveries")},
		job.ID, job.LeaseToken,
	).Int()
	if err != nil {
		return errors.Wrap(err, "ack job")
	}
	if ok == 0 {
		return ErrStaleLease
	}
	return nil
}

func (q *RedisQueue) Requeue(ctx context.Context, job *Job, delay time.Duration) error {
	token := job.LeaseToken
	stored := *job
	stored.LeaseToken = ""
	payload, err := json.Marshal(&stored)
	if err != nil {
		return errors.Wrap(err, "encode job")
	}
	now := q.now()
	ok, err := requeueScript.Run(ctx, q.rdb,
		[]string{q.key("jobs"), q.key("prio"), q.key("delayed"), q.key("leased"), q.key("tokens"), q.readyKey(job.Priority)},
		job.ID, token, payload, int(job.Priority), millis(now.Add(delay)), millis(now),
	).Int()
	if err != nil {
		return errors.Wrap(err, "requeue job")
	}
	if ok == 0 {
		return ErrStaleLease
	}
	return nil
}

func (q *RedisQueue) Extend(ctx context.Context, job *Job, lease time.Duration) error {
	ok, err := extendScript.Run(ctx, q.rdb,
		[]string{q.key("leased"), q.key("tokens")},
		job.ID, job.LeaseToken, millis(q.now().Add(lease)),
	).Int()
	if err != nil {
		return errors.Wrap(err, "extend lease")
	}
	if ok == 0 {
		return ErrStaleLease
	}
	return nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.HLen(ctx, q.key("jobs")).Result()
	if err != nil {
		return 0, errors.Wrap(err, "queue length")
	}
	return n, nil
}
