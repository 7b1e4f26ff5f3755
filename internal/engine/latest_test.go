package engine

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLatestStore(t *testing.T) {
	s := NewMemoryLatestStore()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "t-1", "d-1", "temperature")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "t-1", "d-1", "temperature", 21.5))

	v, ok, err := s.Get(ctx, "t-1", "d-1", "temperature")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 21.5, v)

	// Same metric name on another device stays separate.
	_, ok, err = s.Get(ctx, "t-1", "d-2", "temperature")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisLatestStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisLatestStore(client, "fleet-alert:")
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "t-1", "d-1", "temperature")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "t-1", "d-1", "temperature", 21.5))
	require.NoError(t, s.Set(ctx, "t-1", "d-1", "humidity", 55))

	v, ok, err := s.Get(ctx, "t-1", "d-1", "temperature")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 21.5, v)

	// One hash per device.
	assert.True(t, mr.Exists("fleet-alert:t-1:d-1:latest"))

	// Tenant isolation through the key.
	_, ok, err = s.Get(ctx, "t-2", "d-1", "temperature")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisLatestStoreOverwrite(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisLatestStore(client, "")
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "t-1", "d-1", "rpm", 100))
	require.NoError(t, s.Set(ctx, "t-1", "d-1", "rpm", 250))

	v, ok, err := s.Get(ctx, "t-1", "d-1", "rpm")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 250.0, v)
}
