package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()})), mr
}

func TestSetNX(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)

	ok, err := c.SetNX(ctx, "webhook:evt_1", "1", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "webhook:evt_1", "1", 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, mr.Exists("payin3:webhook:evt_1"), "keys are namespaced")

	mr.FastForward(5*time.Minute + time.Second)
	ok, err = c.SetNX(ctx, "webhook:evt_1", "1", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "key is free again after expiry")
}

func TestReleaseIfOwner(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)

	ok, err := c.SetNX(ctx, "lock", "owner-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := c.ReleaseIfOwner(ctx, "lock", "owner-b")
	require.NoError(t, err)
	assert.False(t, released)

	v, err := mr.Get("payin3:lock")
	require.NoError(t, err)
	assert.Equal(t, "owner-a", v)

	released, err = c.ReleaseIfOwner(ctx, "lock", "owner-a")
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, mr.Exists("payin3:lock"))
}

func TestExtendIfOwner(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)

	ok, err := c.SetNX(ctx, "lock", "owner-a", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	extended, err := c.ExtendIfOwner(ctx, "lock", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, extended)
	assert.Equal(t, 10*time.Second, mr.TTL("payin3:lock"))

	extended, err = c.ExtendIfOwner(ctx, "lock", "owner-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, extended)
	assert.Equal(t, time.Minute, mr.TTL("payin3:lock"))

	mr.FastForward(time.Minute + time.Second)
	extended, err = c.ExtendIfOwner(ctx, "lock", "owner-a", time.Minute)
	require.NoError(t, err)
	assert.False(t, extended, "an expired lock cannot be revived")
}

func TestHealthCheck(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	assert.NoError(t, c.HealthCheck(ctx))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	down := NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}))
	mr.Close()
	assert.Error(t, down.HealthCheck(ctx))
}

func TestNewRedisClientBadURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), "not a url")
	assert.Error(t, err)
}
