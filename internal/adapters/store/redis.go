// Package store provides the pluggable collaborator backends: redis for
// multi-node deployments, in-memory for single-node runs and tests.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/carelink/realtime/internal/core"
)

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return rdb, nil
}

// revocation key: realtime:revoked:<sha256(token)>
// The auth service writes these on logout/ban; we only read.
func revocationKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "realtime:revoked:" + hex.EncodeToString(sum[:])
}

type RedisRevocations struct {
	rdb *redis.Client
}

func NewRedisRevocations(rdb *redis.Client) *RedisRevocations {
	return &RedisRevocations{rdb: rdb}
}

func (r *RedisRevocations) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := r.rdb.Exists(ctx, revocationKey(token)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}
	return n > 0, nil
}

// RedisRateStore mirrors app.WindowLimiter with INCR+EXPIRE so the window
// is shared across gateway nodes.
type RedisRateStore struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
}

func NewRedisRateStore(rdb *redis.Client, limit int, window time.Duration) *RedisRateStore {
	return &RedisRateStore{rdb: rdb, limit: limit, window: window}
}

func rateKey(connID core.ConnID, event string) string {
	return "realtime:rl:" + string(connID) + ":" + event
}

func (r *RedisRateStore) Allow(connID core.ConnID, event string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	key := rateKey(connID, event)
	n, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		// A broken rate-limit store must not take the channel down.
		log.Warn().Err(err).Str("module", "store.redis").Msg("rate incr")
		return true
	}
	if n == 1 {
		if err := r.rdb.Expire(ctx, key, r.window).Err(); err != nil {
			log.Warn().Err(err).Str("module", "store.redis").Msg("rate expire")
		}
	}
	return n <= int64(r.limit)
}

// Forget is a no-op: every redis bucket carries the window TTL and expires
// on its own.
func (r *RedisRateStore) Forget(core.ConnID) {}
