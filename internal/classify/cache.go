package classify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is a cached classification.
type Entry struct {
	DocumentType string  `json:"documentType"`
	Confidence   float64 `json:"confidence"`
	Provider     string  `json:"provider"`
}

// ResultCache stores classifications by content key. A miss returns
// (nil, nil).
type ResultCache interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, entry Entry) error
}

// CacheKey hashes the classified content together with the catalog names,
// so a catalog change never serves stale answers.
func CacheKey(modality string, text string, images [][]byte, names []string) string {
	h := sha256.New()
	h.Write([]byte(modality))
	h.Write([]byte{0})
	h.Write([]byte(text))
	for _, img := range images {
		h.Write([]byte{0})
		h.Write(img)
	}
	for _, n := range names {
		h.Write([]byte{0})
		h.Write([]byte(n))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RedisCache keeps entries in Redis with a TTL.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to redisURL.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	return NewRedisCacheFromClient(redis.NewClient(opt), ttl), nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: "docintel:classify:", ttl: ttl}
}

// Get implements ResultCache.
func (c *RedisCache) Get(ctx context.Context, key string) (*Entry, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode cached classification: %w", err)
	}
	return &e, nil
}

// Set implements ResultCache.
func (c *RedisCache) Set(ctx context.Context, key string, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, raw, c.ttl).Err()
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

type memoryEntry struct {
	entry   Entry
	expires time.Time
}

// MemoryCache is an in-process ResultCache.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates a cache whose entries expire after ttl (0 = never).
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, entries: make(map[string]memoryEntry), now: time.Now}
}

// Get implements ResultCache.
func (c *MemoryCache) Get(ctx context.Context, key string) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	me, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	if !me.expires.IsZero() && c.now().After(me.expires) {
		delete(c.entries, key)
		return nil, nil
	}
	e := me.entry
	return &e, nil
}

// Set implements ResultCache.
func (c *MemoryCache) Set(ctx context.Context, key string, entry Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	me := memoryEntry{entry: entry}
	if c.ttl > 0 {
		me.expires = c.now().Add(c.ttl)
	}
	c.entries[key] = me
	return nil
}
