package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	mu     sync.Mutex
	calls  []RecoveryParams
	result RecoveryResult
	err    error
}

func (f *fakeLedger) PoolBalance(context.Context, uint64, string) (float64, error) { return 0, nil }

func (f *fakeLedger) Settle(context.Context, Settlement) (models.ConsumptionLog, error) {
	return models.ConsumptionLog{}, nil
}

func (f *fakeLedger) RecoverPools(_ context.Context, params RecoveryParams) (RecoveryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, params)
	return f.result, f.err
}

func (f *fakeLedger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type failingLocker struct{ err error }

func (l failingLocker) Acquire(context.Context, string, time.Duration) (bool, error) {
	return false, l.err
}

func newTestScheduler(ledger Ledger, locker Locker, now time.Time) *RecoveryScheduler {
	s := NewRecoveryScheduler(ledger, locker, Options{RecoveryRate: 0.2, RecoveryInterval: time.Hour, CapMultiplier: 2})
	s.now = func() time.Time { return now }
	return s
}

func TestRunOnceRecoversOncePerPeriod(t *testing.T) {
	ledger := &fakeLedger{result: RecoveryResult{Pools: 3, Recovered: 3}}
	now := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	locker := NewLocalLocker()
	locker.now = func() time.Time { return now }
	s := newTestScheduler(ledger, locker, now)

	result, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Recovered)
	require.Equal(t, 1, ledger.callCount())
	assert.InDelta(t, 0.2, ledger.calls[0].Rate, 1e-9)
	assert.InDelta(t, 2.0, ledger.calls[0].CapMultiplier, 1e-9)

	result, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, 1, ledger.callCount())

	_, err = s.Run(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 2, ledger.callCount())

	next := now.Add(time.Hour)
	s.now = func() time.Time { return next }
	locker.now = s.now
	result, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 3, ledger.callCount())
}

func TestRunReportsLockAndPoolFailures(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	errRedis := errors.New("redis down")
	s := newTestScheduler(&fakeLedger{}, failingLocker{err: errRedis}, now)

	_, err := s.RunOnce(context.Background())
	var tickErr *RecoveryTickError
	require.True(t, errors.As(err, &tickErr))
	assert.Equal(t, now.Truncate(time.Hour), tickErr.Period)
	assert.ErrorIs(t, err, errRedis)

	errPool := errors.New("pool 7: deadlock")
	ledger := &fakeLedger{result: RecoveryResult{Pools: 2, Recovered: 1, Failed: 1, Errors: []error{errPool}}}
	s = newTestScheduler(ledger, nil, now)
	result, err := s.Run(context.Background(), true)
	require.True(t, errors.As(err, &tickErr))
	assert.ErrorIs(t, err, errPool)
	assert.Equal(t, 1, result.Recovered)
}

func TestUntilNextTickAlignsToInterval(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	s := newTestScheduler(&fakeLedger{}, nil, now)
	assert.Equal(t, 45*time.Minute, s.untilNextTick())
}
