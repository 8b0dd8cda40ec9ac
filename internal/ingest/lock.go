package ingest

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Locker serializes poll cycles per restaurant. Two concurrent cycles
// for one restaurant would race the conditional insert and double-ack
// the feed.
type Locker interface {
	TryLock(ctx context.Context, restaurantID string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, restaurantID string) error
}

type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: map[string]time.Time{}}
}

func (l *MemoryLocker) TryLock(ctx context.Context, restaurantID string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if until, ok := l.held[restaurantID]; ok && time.Now().Before(until) {
		return false, nil
	}
	l.held[restaurantID] = time.Now().Add(ttl)
	return true, nil
}

func (l *MemoryLocker) Unlock(ctx context.Context, restaurantID string) error {
	l.mu.Lock()
	delete(l.held, restaurantID)
	l.mu.Unlock()
	return nil
}

// RedisLocker holds the poll lock across gateway replicas via SET NX.
type RedisLocker struct {
	rdb *redis.Client
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (l *RedisLocker) TryLock(ctx context.Context, restaurantID string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, l.key(restaurantID), "1", ttl).Result()
}

func (l *RedisLocker) Unlock(ctx context.Context, restaurantID string) error {
	return l.rdb.Del(ctx, l.key(restaurantID)).Err()
}

func (l *RedisLocker) key(restaurantID string) string { return "poll-lock:" + restaurantID }
