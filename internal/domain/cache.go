package domain

import (
	"context"
	"time"
)

// Cache is a byte-valued key/value store with per-entry expiry. fraudguard
// keeps rule validation results in it.
type Cache interface {
	// Get returns nil, nil on a miss or an expired entry.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	Ping(ctx context.Context) error
	Close() error
}

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// CacheConfig selects and tunes the cache backend.
type CacheConfig struct {
	Type string `json:"type"` // memory, redis

	// In-process LRU, also the L1 of the two-phase cache
	LocalMaxSize int           `json:"localMaxSize"`
	LocalTTL     time.Duration `json:"localTtl"`

	// Redis connection; the password is read from the environment only
	RedisAddr     string `json:"redisAddr"`
	RedisPassword string `json:"-"`
	RedisDB       int    `json:"redisDb"`

	// EnableTwoPhase fronts Redis with the local LRU.
	EnableTwoPhase bool `json:"enableTwoPhase"`
}
