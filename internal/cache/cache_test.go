package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptodash/config"
)

func TestMemoryTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "markets", []byte("payload"), 30*time.Second))
	v, ok, err := m.Get(ctx, "markets")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "payload", string(v))

	n, _ := m.Len(ctx)
	assert.Equal(t, 1, n)

	now = now.Add(30 * time.Second)
	_, ok, err = m.Get(ctx, "markets")
	require.NoError(t, err)
	assert.False(t, ok, "entry should expire at the ttl boundary")
	n, _ = m.Len(ctx)
	assert.Zero(t, n)
}

func TestMemoryClear(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, m.Set(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, m.Clear(ctx))

	n, err := m.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	buf := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", buf, time.Minute))
	buf[0] = 'z'

	v, _, _ := m.Get(ctx, "k")
	assert.Equal(t, "abc", string(v))
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := New(config.CacheConfig{Backend: "memcached"})
	assert.Error(t, err)

	c, err := New(config.CacheConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, c)
}

// Requires a reachable Redis; set REDIS_ADDR to run.
func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	r, err := NewRedis(config.RedisConfig{Addr: addr, KeyPrefix: "cryptodash-test:"})
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Set(ctx, "markets", []byte("payload"), time.Minute))
	v, ok, err := r.Get(ctx, "markets")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "payload", string(v))

	require.NoError(t, r.Clear(ctx))
	_, ok, err = r.Get(ctx, "markets")
	require.NoError(t, err)
	assert.False(t, ok)
}
