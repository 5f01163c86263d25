package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jobs/integration-engine/internal/biz/installation"
	"github.com/jobs/integration-engine/pkg/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu          sync.Mutex
	cancelled   []uint64
	invalidated []uint64
}

func (r *recorder) Cancel(runID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, runID)
	return true
}

func (r *recorder) Invalidate(installationID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = append(r.invalidated, installationID)
}

func (r *recorder) snapshot() ([]uint64, []uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.cancelled...), append([]uint64(nil), r.invalidated...)
}

func newBus(instanceID string, rdb *redis.Client, rec *recorder) *Bus {
	cfg := config.Config{Engine: config.EngineConfig{InstanceID: instanceID}}
	return NewBus(cfg, rdb, rec, rec, zap.NewNop())
}

func TestInProcessDispatch(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	bus := newBus("engine-a", nil, rec)
	require.NoError(t, bus.Start(ctx))
	defer bus.Stop()

	require.NoError(t, bus.RunCancelled(ctx, 42))
	require.NoError(t, bus.InstallationChanged(ctx, 7, installation.ChangeUpdated))

	cancelled, invalidated := rec.snapshot()
	assert.Equal(t, []uint64{42}, cancelled)
	assert.Equal(t, []uint64{7}, invalidated)
}

func TestRedisBroadcastReachesEveryProcess(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := func() *redis.Client {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		return rdb
	}

	local, remote := &recorder{}, &recorder{}
	a := newBus("engine-a", client(), local)
	b := newBus("engine-b", client(), remote)
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))
	defer a.Stop()
	defer b.Stop()

	require.NoError(t, a.RunCancelled(ctx, 42))
	require.NoError(t, a.InstallationChanged(ctx, 7, installation.ChangeDeleted))

	for _, rec := range []*recorder{local, remote} {
		assert.Eventually(t, func() bool {
			cancelled, invalidated := rec.snapshot()
			return len(cancelled) == 1 && len(invalidated) == 1
		}, 2*time.Second, 10*time.Millisecond)
		cancelled, invalidated := rec.snapshot()
		assert.Equal(t, []uint64{42}, cancelled)
		assert.Equal(t, []uint64{7}, invalidated)
	}
}

func TestMalformedEventIsDropped(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	rec := &recorder{}
	bus := newBus("engine-a", rdb, rec)
	require.NoError(t, bus.Start(ctx))
	defer bus.Stop()

	require.NoError(t, rdb.Publish(ctx, Channel, "{not json").Err())
	require.NoError(t, bus.RunCancelled(ctx, 5))

	assert.Eventually(t, func() bool {
		cancelled, _ := rec.snapshot()
		return len(cancelled) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
