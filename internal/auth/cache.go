package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenCache remembers verified tokens until they expire.
type TokenCache interface {
	Get(ctx context.Context, token string) (Identity, bool)
	Put(ctx context.Context, token string, id Identity, expiresAt time.Time) error
}

type cachedIdentity struct {
	id        Identity
	expiresAt time.Time
}

// MemoryCache is a bounded in-process TokenCache. When full, expired entries
// are swept first and then an arbitrary entry is evicted.
type MemoryCache struct {
	mu      sync.Mutex
	max     int
	now     func() time.Time
	entries map[string]cachedIdentity
}

func NewMemoryCache(max int) *MemoryCache {
	if max <= 0 {
		max = 1024
	}
	return &MemoryCache{max: max, now: time.Now, entries: make(map[string]cachedIdentity, max)}
}

func (c *MemoryCache) Get(_ context.Context, token string) (Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[token]
	if !ok {
		return Identity{}, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, token)
		return Identity{}, false
	}
	return e.id, true
}

func (c *MemoryCache) Put(_ context.Context, token string, id Identity, expiresAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[token]; !exists && len(c.entries) >= c.max {
		c.evictLocked()
	}
	c.entries[token] = cachedIdentity{id: id, expiresAt: expiresAt}
	return nil
}

func (c *MemoryCache) evictLocked() {
	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	for k := range c.entries {
		if len(c.entries) < c.max {
			return
		}
		delete(c.entries, k)
	}
}

// Len reports the number of cached tokens.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RedisCache shares verified tokens across server instances.
type RedisCache struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisCache(rdb *redis.Client) *RedisCache { return &RedisCache{rdb: rdb, now: time.Now} }

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "arena:token:" + hex.EncodeToString(sum[:])
}

func (c *RedisCache) Get(ctx context.Context, token string) (Identity, bool) {
	fields, err := c.rdb.HGetAll(ctx, tokenKey(token)).Result()
	if err != nil || len(fields) == 0 {
		return Identity{}, false
	}
	uid, err := strconv.ParseInt(fields["uid"], 10, 64)
	if err != nil || uid <= 0 {
		return Identity{}, false
	}
	return Identity{UserID: uid, Username: fields["username"]}, true
}

func (c *RedisCache) Put(ctx context.Context, token string, id Identity, expiresAt time.Time) error {
	ttl := expiresAt.Sub(c.now())
	if ttl <= 0 {
		return nil
	}
	key := tokenKey(token)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "uid", id.UserID, "username", id.Username)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	return err
}
