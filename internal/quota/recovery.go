package quota

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

const recoveryLockPrefix = "antihub:recovery:"

// RecoveryScheduler tops up every shared pool once per interval.
type RecoveryScheduler struct {
	ledger Ledger
	locker Locker
	opts   Options
	now    func() time.Time

	lastApplied atomic.Int64 // unix nanos of the last applied tick, 0 before the first
}

// RecoveryHealth describes the recovery loop for health checks.
type RecoveryHealth struct {
	Lock          string     `json:"lock"`
	LockReachable bool       `json:"lock_reachable"`
	Interval      string     `json:"interval"`
	LastAppliedAt *time.Time `json:"last_applied_at"`
	NextTickAt    time.Time  `json:"next_tick_at"`
}

// lockHealth is implemented by lockers that can report on their backend.
type lockHealth interface {
	Backend() string
	Ping(ctx context.Context) error
}

// NewRecoveryScheduler constructs a scheduler. A nil locker falls back to an in-process lock.
func NewRecoveryScheduler(ledger Ledger, locker Locker, opts Options) *RecoveryScheduler {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &RecoveryScheduler{ledger: ledger, locker: locker, opts: opts, now: time.Now}
}

// Start launches the recovery loop in a background goroutine.
func (s *RecoveryScheduler) Start(ctx context.Context) {
	if s == nil {
		return
	}
	go s.run(ctx)
	log.Infof("quota recovery started (interval=%s)", s.opts.recoveryInterval())
}

func (s *RecoveryScheduler) run(ctx context.Context) {
	for {
		timer := time.NewTimer(s.untilNextTick())
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
		if _, errTick := s.RunOnce(ctx); errTick != nil {
			log.WithError(errTick).Warn("quota recovery: tick failed")
		}
	}
}

// untilNextTick returns the wait until the next interval boundary.
func (s *RecoveryScheduler) untilNextTick() time.Duration {
	interval := s.opts.recoveryInterval()
	now := s.now()
	return now.Truncate(interval).Add(interval).Sub(now)
}

// RunOnce applies recovery unless another run already claimed the current period.
func (s *RecoveryScheduler) RunOnce(ctx context.Context) (RecoveryResult, error) {
	return s.Run(ctx, false)
}

// Run applies recovery to every pool. With force set the period lock is not consulted.
func (s *RecoveryScheduler) Run(ctx context.Context, force bool) (RecoveryResult, error) {
	interval := s.opts.recoveryInterval()
	now := s.now()
	period := now.Truncate(interval)

	if !force {
		key := fmt.Sprintf("%s%d", recoveryLockPrefix, period.Unix())
		acquired, errLock := s.locker.Acquire(ctx, key, interval)
		if errLock != nil {
			return RecoveryResult{}, &RecoveryTickError{Period: period, Err: fmt.Errorf("acquire lock: %w", errLock)}
		}
		if !acquired {
			log.Debugf("quota recovery: period %s already recovered", period.UTC().Format(time.RFC3339))
			return RecoveryResult{Skipped: true}, nil
		}
	}

	result, errRecover := s.ledger.RecoverPools(ctx, RecoveryParams{
		Rate:          s.opts.recoveryRate(),
		CapMultiplier: s.opts.capMultiplier(),
		Now:           now,
	})
	if errRecover != nil {
		return result, &RecoveryTickError{Period: period, Err: errRecover}
	}
	if result.Failed > 0 {
		return result, &RecoveryTickError{Period: period, Err: errors.Join(result.Errors...)}
	}
	s.lastApplied.Store(now.UnixNano())
	log.WithFields(log.Fields{
		"pools":     result.Pools,
		"recovered": result.Recovered,
		"forced":    force,
	}).Info("quota recovery: tick applied")
	return result, nil
}

// Health reports the lock backend and the last applied tick. The error is the
// lock backend's ping failure, if any.
func (s *RecoveryScheduler) Health(ctx context.Context) (RecoveryHealth, error) {
	now := s.now()
	interval := s.opts.recoveryInterval()
	health := RecoveryHealth{
		Lock:          "custom",
		LockReachable: true,
		Interval:      interval.String(),
		NextTickAt:    now.Add(s.untilNextTick()).UTC(),
	}
	if last := s.lastApplied.Load(); last != 0 {
		at := time.Unix(0, last).UTC()
		health.LastAppliedAt = &at
	}
	checker, ok := s.locker.(lockHealth)
	if !ok {
		return health, nil
	}
	health.Lock = checker.Backend()
	if errPing := checker.Ping(ctx); errPing != nil {
		health.LockReachable = false
		return health, fmt.Errorf("recovery lock %s: %w", health.Lock, errPing)
	}
	return health, nil
}
