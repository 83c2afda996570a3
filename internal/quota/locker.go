package quota

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LocalLocker is an in-process Locker for single-instance deployments.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

// NewLocalLocker constructs a LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time), now: time.Now}
}

// Acquire claims key for ttl. It returns false while a previous claim is live.
func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, expires := range l.held {
		if !expires.After(now) {
			delete(l.held, k)
		}
	}
	if _, ok := l.held[key]; ok {
		return false, nil
	}
	l.held[key] = now.Add(ttl)
	return true, nil
}

// Backend names the lock implementation.
func (l *LocalLocker) Backend() string { return "local" }

// Ping always succeeds for the in-process lock.
func (l *LocalLocker) Ping(context.Context) error { return nil }

// RedisLocker claims keys with SET NX so that one instance per period wins.
type RedisLocker struct {
	client redis.UniversalClient
	owner  string
}

// NewRedisLocker constructs a RedisLocker.
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client, owner: uuid.NewString()}
}

// Acquire claims key for ttl.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, key, l.owner, ttl).Result()
}

// Backend names the lock implementation.
func (l *RedisLocker) Backend() string { return "redis" }

// Ping checks that the redis server answers.
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
