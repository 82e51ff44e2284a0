// Package cache stores short-lived upstream responses so that repeated
// requests inside the TTL do not hit the market API.
package cache

import (
	"context"
	"fmt"
	"time"

	"cryptodash/config"
)

// Cache is a byte-oriented TTL cache.
type Cache interface {
	// Get returns ok=false on a miss or an expired entry.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Clear drops every entry owned by this cache.
	Clear(ctx context.Context) error
	Len(ctx context.Context) (int, error)
	Close() error
}

// New builds the backend selected in cfg.
func New(cfg config.CacheConfig) (Cache, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedis(cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
