package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (standalone) + Redis (clustered).
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetReputation retrieves a cached address reputation entry.
	GetReputation(ctx context.Context, addr string) (*ReputationEntry, error)

	// SetReputation caches an address reputation entry.
	SetReputation(ctx context.Context, addr string, entry *ReputationEntry, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for velocity checks (e.g., failed attempts in time window).
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ReputationEntry holds a cached reputation score for a network address.
type ReputationEntry struct {
	Addr      string  `json:"addr"`
	Score     float64 `json:"score"` // 0-1, higher is worse
	Source    string  `json:"source"`
	Flagged   bool    `json:"flagged"`
	CheckedAt string  `json:"checkedAt"`
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (standalone)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (clustered)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
