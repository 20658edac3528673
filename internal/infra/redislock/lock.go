// Package redislock provides a cross-process cycle lock on Redis.
package redislock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"volume_miner/internal/domain"
)

// releaseLua deletes the key only while it still holds the caller's token, so
// an expired holder cannot release a lock another replica has since taken.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Config holds connection parameters.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Locker implements domain.LockManager with SET NX PX and a token-checked
// release.
type Locker struct {
	rdb     *redis.Client
	release *redis.Script
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config) (*Locker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return NewWithClient(rdb), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb *redis.Client) *Locker {
	return &Locker{rdb: rdb, release: redis.NewScript(releaseLua)}
}

// Acquire takes key for ttl. It returns domain.ErrLockHeld when another
// holder owns it. The returned release func may be called more than once.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the cycle context may already be done by now
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = l.release.Run(ctx, l.rdb, []string{key}, token).Err()
		})
	}, nil
}

// Close closes the Redis connection.
func (l *Locker) Close() error {
	return l.rdb.Close()
}

var _ domain.LockManager = (*Locker)(nil)
