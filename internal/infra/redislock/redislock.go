// Package redislock provides single-holder expiring locks on redis.
package redislock

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/skillmarket/points/internal/domain"
)

//go:embed lua/release.lua
var luaRelease string

// ErrNotHeld is returned by Release when the lock expired or was taken over.
var ErrNotHeld = errors.New("lock not held")

// Config holds the redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Connect opens a client and checks it with PING.
func Connect(ctx context.Context, cfg Config) (redis.UniversalClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     4,
		OnConnect: func(ctx context.Context, cn *redis.Conn) error {
			_ = cn.ClientSetName(ctx, "pointsd").Err()
			return nil
		},
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// Locker acquires locks with SET NX PX and releases them with a
// compare-and-delete script, so only the owner can release.
type Locker struct {
	rdb    redis.UniversalClient
	scrRel *redis.Script
}

// New creates a Locker on rdb.
func New(rdb redis.UniversalClient) *Locker {
	return &Locker{rdb: rdb, scrRel: redis.NewScript(luaRelease)}
}

// TryLock attempts to take key for ttl without waiting.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (domain.Lock, bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &lock{l: l, key: key, token: token}, true, nil
}

type lock struct {
	l     *Locker
	key   string
	token string
}

func (k *lock) Release(ctx context.Context) error {
	n, err := k.l.scrRel.Run(ctx, k.l.rdb, []string{k.key}, k.token).Int64()
	if err != nil {
		return fmt.Errorf("unlock %s: %w", k.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
