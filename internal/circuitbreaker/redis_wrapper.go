package circuitbreaker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWrapper wraps a Redis client with a circuit breaker. Used by the
// embedding cache; a down Redis degrades to cache misses instead of
// stalling retrieval.
type RedisWrapper struct {
	client *redis.Client
	cb     *CircuitBreaker
	logger *zap.Logger
}

// NewRedisWrapper builds the wrapper with the Redis breaker settings and
// registers it with the global metrics collector.
func NewRedisWrapper(client *redis.Client, logger *zap.Logger) *RedisWrapper {
	cb := NewCircuitBreaker("redis", GetRedisConfig().ToConfig(), logger)
	GlobalMetricsCollector.RegisterCircuitBreaker("redis", "embedding-cache", cb)
	return &RedisWrapper{client: client, cb: cb, logger: logger}
}

func (rw *RedisWrapper) record(success bool) {
	GlobalMetricsCollector.RecordRequest("redis", "embedding-cache", rw.cb.State(), success)
}

// guard runs op under the breaker. A key miss (redis.Nil) counts as a
// success; only transport and server errors trip the breaker.
func (rw *RedisWrapper) guard(ctx context.Context, op func() error) error {
	cbErr := rw.cb.Execute(ctx, func() error {
		if err := op(); err != nil && err != redis.Nil {
			return err
		}
		return nil
	})
	rw.record(cbErr == nil)
	return cbErr
}

// Ping checks connectivity through the breaker.
func (rw *RedisWrapper) Ping(ctx context.Context) *redis.StatusCmd {
	var cmd *redis.StatusCmd
	if err := rw.guard(ctx, func() error {
		cmd = rw.client.Ping(ctx)
		return cmd.Err()
	}); err != nil {
		cmd = redis.NewStatusCmd(ctx)
		cmd.SetErr(err)
	}
	return cmd
}

// Get fetches a key. Callers see redis.Nil for a miss exactly as with a
// bare client.
func (rw *RedisWrapper) Get(ctx context.Context, key string) *redis.StringCmd {
	var cmd *redis.StringCmd
	if err := rw.guard(ctx, func() error {
		cmd = rw.client.Get(ctx, key)
		return cmd.Err()
	}); err != nil {
		cmd = redis.NewStringCmd(ctx)
		cmd.SetErr(err)
	}
	return cmd
}

// Set stores a key with an expiration.
func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	var cmd *redis.StatusCmd
	if err := rw.guard(ctx, func() error {
		cmd = rw.client.Set(ctx, key, value, expiration)
		return cmd.Err()
	}); err != nil {
		cmd = redis.NewStatusCmd(ctx)
		cmd.SetErr(err)
	}
	return cmd
}

// Del removes keys.
func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var cmd *redis.IntCmd
	if err := rw.guard(ctx, func() error {
		cmd = rw.client.Del(ctx, keys...)
		return cmd.Err()
	}); err != nil {
		cmd = redis.NewIntCmd(ctx)
		cmd.SetErr(err)
	}
	return cmd
}

// Close closes the underlying client.
func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}

// GetClient exposes the bare client for operations the wrapper does not
// cover.
func (rw *RedisWrapper) GetClient() *redis.Client {
	return rw.client
}

// IsCircuitBreakerOpen reports whether the breaker is currently open.
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.cb.State() == StateOpen
}
