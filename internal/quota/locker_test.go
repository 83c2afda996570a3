package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerExpires(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	locker := NewLocalLocker()
	locker.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := locker.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = locker.Acquire(ctx, "k", time.Minute)
	assert.False(t, ok)
	ok, _ = locker.Acquire(ctx, "other", time.Minute)
	assert.True(t, ok)

	now = now.Add(time.Minute)
	ok, _ = locker.Acquire(ctx, "k", time.Minute)
	assert.True(t, ok)
}

func TestRedisLockerSharesClaimsAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	first := NewRedisLocker(client)
	second := NewRedisLocker(client)

	ok, err := first.Acquire(ctx, "antihub:recovery:1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = second.Acquire(ctx, "antihub:recovery:1", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Hour, mr.TTL("antihub:recovery:1"))

	mr.FastForward(time.Hour)
	ok, err = second.Acquire(ctx, "antihub:recovery:1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRecoverySchedulerWithRedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	now := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)

	ledger := &fakeLedger{}
	a := newTestScheduler(ledger, NewRedisLocker(client), now)
	b := newTestScheduler(ledger, NewRedisLocker(client), now)

	_, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	result, err := b.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, 1, ledger.callCount())
}

func TestRecoveryHealthReportsLockBackend(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	ctx := context.Background()

	local := newTestScheduler(&fakeLedger{}, nil, now)
	health, err := local.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "local", health.Lock)
	assert.True(t, health.LockReachable)
	assert.Nil(t, health.LastAppliedAt)
	assert.Equal(t, now.Add(45*time.Minute), health.NextTickAt)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s := newTestScheduler(&fakeLedger{result: RecoveryResult{Pools: 1, Recovered: 1}}, NewRedisLocker(client), now)
	_, err = s.RunOnce(ctx)
	require.NoError(t, err)

	health, err = s.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "redis", health.Lock)
	assert.True(t, health.LockReachable)
	require.NotNil(t, health.LastAppliedAt)
	assert.True(t, health.LastAppliedAt.Equal(now))

	mr.Close()
	health, err = s.Health(ctx)
	require.Error(t, err)
	assert.False(t, health.LockReachable)
	assert.Equal(t, "redis", health.Lock)

	custom := newTestScheduler(&fakeLedger{}, failingLocker{err: errors.New("down")}, now)
	health, err = custom.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "custom", health.Lock)
}
