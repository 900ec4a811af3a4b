package embed

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/claudecontext/claude-context/internal/config"
	"github.com/claudecontext/claude-context/internal/pkg/hash"
	"github.com/claudecontext/claude-context/internal/pkg/logger"
)

// Cache caches dense embeddings by text hash.
type Cache interface {
	Get(text string) ([]float32, bool)
	Set(text string, embedding []float32)
}

// NewCacheFromConfig builds the configured cache backend. Falls back to the
// in-memory cache if Redis is unreachable at startup.
func NewCacheFromConfig(cfg config.CacheConfig, log *logger.Logger) Cache {
	if cfg.Type == "redis" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err == nil {
			client := redis.NewClient(opts)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err = client.Ping(ctx).Err(); err == nil {
				return NewRedisCache(client, log)
			}
		}
		log.Warn("Redis cache unavailable, using memory cache", "error", err)
	}
	return NewMemoryCache(cfg.Size)
}

// MemoryCache is an LRU embedding cache.
type MemoryCache struct {
	mu      sync.Mutex
	cache   map[string][]float32
	order   []string
	maxSize int
}

// NewMemoryCache creates an in-memory LRU cache.
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryCache{
		cache:   make(map[string][]float32),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
	}
}

// Get retrieves an embedding from cache.
func (c *MemoryCache) Get(text string) ([]float32, bool) {
	key := hash.SHA256String(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	emb, ok := c.cache[key]
	if !ok {
		return nil, false
	}
	c.moveToEnd(key)

	// Return a copy to prevent external mutation
	out := make([]float32, len(emb))
	copy(out, emb)
	return out, true
}

// Set stores an embedding in cache, evicting the least recently used entry
// when full.
func (c *MemoryCache) Set(text string, embedding []float32) {
	key := hash.SHA256String(text)

	emb := make([]float32, len(embedding))
	copy(emb, embedding)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.cache[key]; exists {
		c.cache[key] = emb
		c.moveToEnd(key)
		return
	}

	if len(c.cache) >= c.maxSize && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.cache, oldest)
	}

	c.cache[key] = emb
	c.order = append(c.order, key)
}

func (c *MemoryCache) moveToEnd(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			c.order = append(c.order, key)
			return
		}
	}
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// RedisCache stores embeddings in Redis, shared between processes.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

const redisKeyPrefix = "claude-context:embed:"

// NewRedisCache creates a Redis-backed embedding cache.
func NewRedisCache(client *redis.Client, log *logger.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    24 * time.Hour,
		log:    log,
	}
}

// Get retrieves an embedding from Redis. Transport errors degrade to a miss.
func (c *RedisCache) Get(text string) ([]float32, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := c.client.Get(ctx, redisKeyPrefix+hash.SHA256String(text)).Bytes()
	if err != nil {
		return nil, false
	}
	return decodeVector(data), true
}

// Set stores an embedding in Redis. Errors are logged and ignored.
func (c *RedisCache) Set(text string, embedding []float32) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := redisKeyPrefix + hash.SHA256String(text)
	if err := c.client.Set(ctx, key, encodeVector(embedding), c.ttl).Err(); err != nil {
		c.log.Debug("Failed to cache embedding in Redis", "error", err)
	}
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(data []byte) []float32 {
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec
}
