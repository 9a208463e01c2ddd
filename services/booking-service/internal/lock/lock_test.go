package lock

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSerializesPerKey(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "staff:A")
	require.NoError(t, err)

	unlockB, err := l.Lock(ctx, "staff:B")
	require.NoError(t, err, "other keys are independent")
	unlockB()

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(waitCtx, "staff:A")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlockA()
	unlockA()
	again, err := l.Lock(ctx, "staff:A")
	require.NoError(t, err)
	again()
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	l := NewRedis(rdb, RedisConfig{Prefix: "bb", TTL: time.Second, Wait: 50 * time.Millisecond, RetryEvery: 5 * time.Millisecond},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return mr, l
}

func TestRedisLockExcludesAndReleases(t *testing.T) {
	mr, l := newRedis(t)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "staff:A")
	require.NoError(t, err)
	assert.True(t, mr.Exists("bb:staff:A"))

	_, err = l.Lock(ctx, "staff:A")
	assert.ErrorIs(t, err, ErrLockTimeout)

	unlock()
	assert.False(t, mr.Exists("bb:staff:A"))

	unlock2, err := l.Lock(ctx, "staff:A")
	require.NoError(t, err)
	unlock2()
}

func TestRedisUnlockLeavesForeignToken(t *testing.T) {
	mr, l := newRedis(t)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "staff:A")
	require.NoError(t, err)

	// The lease expired and someone else took the key.
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("bb:staff:A", "someone-else"))

	unlock()
	got, err := mr.Get("bb:staff:A")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisLockFailsWhenServerDown(t *testing.T) {
	mr, l := newRedis(t)
	mr.Close()
	_, err := l.Lock(context.Background(), "staff:A")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrLockTimeout)
}
