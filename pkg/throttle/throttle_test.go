package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedis_AllowOncePerWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	l := NewRedis(client, "poll:", 3*time.Second)
	ctx := context.Background()

	ok, err := l.Allow(ctx, "ws_CO_1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Allow(ctx, "ws_CO_1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(ctx, "ws_CO_2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("poll:ws_CO_1"))

	mr.FastForward(3 * time.Second)
	ok, err = l.Allow(ctx, "ws_CO_1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedis_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	_, err = NewRedis(client, "poll:", time.Second).Allow(context.Background(), "ws_CO_1")
	assert.Error(t, err)
}

func TestMemory_AllowOncePerWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	m := NewMemory(3 * time.Second)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := m.Allow(ctx, "ws_CO_1")
	assert.True(t, ok)
	ok, _ = m.Allow(ctx, "ws_CO_1")
	assert.False(t, ok)

	now = now.Add(3 * time.Second)
	ok, _ = m.Allow(ctx, "ws_CO_1")
	assert.True(t, ok)
}

func TestZeroWindowAlwaysAllows(t *testing.T) {
	m := NewMemory(0)
	for i := 0; i < 3; i++ {
		ok, err := m.Allow(context.Background(), "k")
		require.NoError(t, err)
		assert.True(t, ok)
	}
}
