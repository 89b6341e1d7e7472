package embeddings

import (
	"container/list"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/echointellect/rag/internal/circuitbreaker"
)

// Cache stores computed embeddings keyed by model+text digest.
// Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, vector []float32)
}

// MakeKey derives a cache key from the model and input text.
func MakeKey(model, text string) string {
	sum := md5.Sum([]byte(model + ":" + text))
	return "emb:" + hex.EncodeToString(sum[:])
}

// LocalLRU is an in-process LRU embedding cache.
type LocalLRU struct {
	mu      sync.Mutex
	maxSize int
	order   *list.List
	entries map[string]*list.Element
}

type lruEntry struct {
	key    string
	vector []float32
}

// NewLocalLRU builds an LRU cache holding up to maxSize vectors.
func NewLocalLRU(maxSize int) *LocalLRU {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &LocalLRU{
		maxSize: maxSize,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

func (c *LocalLRU) Get(_ context.Context, key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry).vector, true
}

func (c *LocalLRU) Set(_ context.Context, key string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*lruEntry).vector = vector
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&lruEntry{key: key, vector: vector})
	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*lruEntry).key)
	}
}

// Len reports the number of cached vectors.
func (c *LocalLRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// RedisCache is a shared embedding cache backed by Redis through a circuit
// breaker. Failures degrade to cache misses.
type RedisCache struct {
	rw     *circuitbreaker.RedisWrapper
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache wraps a Redis client as an embedding cache.
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{
		rw:     circuitbreaker.NewRedisWrapper(client, logger),
		ttl:    ttl,
		logger: logger,
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]float32, bool) {
	raw, err := c.rw.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Debug("Embedding cache read failed", zap.Error(err))
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, false
	}
	return vec, true
}

func (c *RedisCache) Set(ctx context.Context, key string, vector []float32) {
	raw, err := json.Marshal(vector)
	if err != nil {
		return
	}
	if err := c.rw.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Debug("Embedding cache write failed", zap.Error(err))
	}
}

// Ping checks Redis reachability.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rw.Ping(ctx).Err()
}

// Close releases the underlying Redis connection.
func (c *RedisCache) Close() error {
	return c.rw.Close()
}

// tiered chains a local LRU in front of a shared cache.
type tiered struct {
	local  *LocalLRU
	shared Cache
}

// NewTiered layers a local LRU in front of shared. A shared hit backfills
// the local tier.
func NewTiered(local *LocalLRU, shared Cache) Cache {
	return &tiered{local: local, shared: shared}
}

func (t *tiered) Get(ctx context.Context, key string) ([]float32, bool) {
	if vec, ok := t.local.Get(ctx, key); ok {
		return vec, true
	}
	vec, ok := t.shared.Get(ctx, key)
	if ok {
		t.local.Set(ctx, key, vec)
	}
	return vec, ok
}

func (t *tiered) Set(ctx context.Context, key string, vector []float32) {
	t.local.Set(ctx, key, vector)
	t.shared.Set(ctx, key, vector)
}
