package cache

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basalt/basalt/internal/model"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewFromClient(client), mr
}

func TestCheckUserRateLimit_Burst(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	now := time.Unix(1_700_000_000, 0)
	c = c.WithClock(func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := c.CheckUserRateLimit(ctx, 42, 60, 3)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d within burst", i)
	}

	res, err := c.CheckUserRateLimit(ctx, 42, 60, 3)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Second, res.RetryAfter)

	// Another user has their own bucket.
	res, err = c.CheckUserRateLimit(ctx, 43, 60, 3)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	// One second later a token has refilled.
	now = now.Add(time.Second)
	res, err = c.CheckUserRateLimit(ctx, 42, 60, 3)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestCheckUserRateLimit_Unlimited(t *testing.T) {
	t.Parallel()

	c, mr := newTestCache(t)
	res, err := c.CheckUserRateLimit(context.Background(), 1, 0, 10)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Empty(t, mr.Keys(), "unlimited tier never touches redis")
}

func TestCheckIPRateLimit_Scoped(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	now := time.Unix(1_700_000_000, 0)
	c = c.WithClock(func() time.Time { return now })
	ctx := context.Background()

	res, err := c.CheckIPRateLimit(ctx, "auth", "10.0.0.1", 1, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = c.CheckIPRateLimit(ctx, "auth", "10.0.0.1", 1, 1)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = c.CheckIPRateLimit(ctx, "other", "10.0.0.1", 1, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestCheckRateLimit_FailOpen(t *testing.T) {
	t.Parallel()

	c, mr := newTestCache(t)
	mr.Close()

	res, err := c.CheckUserRateLimit(context.Background(), 1, 60, 5)
	assert.Error(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Allowed)
	assert.True(t, res.Degraded)
}

func TestUsageBuffer_RecordAndDrain(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	buf := NewUsageBuffer(c)
	ctx := context.Background()

	t1 := time.UnixMilli(1_700_000_000_000).UTC()
	t2 := t1.Add(time.Minute)

	require.NoError(t, buf.Record(ctx, 1, t2))
	require.NoError(t, buf.Record(ctx, 1, t1)) // older timestamp does not win
	require.NoError(t, buf.Record(ctx, 2, t1))

	pending, err := buf.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)

	usage, err := buf.Drain(ctx)
	require.NoError(t, err)
	sort.Slice(usage, func(i, j int) bool { return usage[i].KeyID < usage[j].KeyID })

	assert.Equal(t, []model.APIKeyUsage{
		{KeyID: 1, Count: 2, LastUsed: t2},
		{KeyID: 2, Count: 1, LastUsed: t1},
	}, usage)

	again, err := buf.Drain(ctx)
	require.NoError(t, err)
	assert.Empty(t, again, "drain clears the buffer")
}

func TestUsageBuffer_DrainDeletesBothHashes(t *testing.T) {
	t.Parallel()

	c, mr := newTestCache(t)
	buf := NewUsageBuffer(c)
	ctx := context.Background()

	require.NoError(t, buf.Record(ctx, 3, time.UnixMilli(1_700_000_000_000)))
	require.True(t, mr.Exists(usageCountKey))
	require.True(t, mr.Exists(usageLastKey))

	_, err := buf.Drain(ctx)
	require.NoError(t, err)

	assert.False(t, mr.Exists(usageCountKey))
	assert.False(t, mr.Exists(usageLastKey))
	assert.Len(t, mr.Keys(), 0, "drain leaves no staging keys behind")
}

func TestUsageBuffer_Restore(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	buf := NewUsageBuffer(c)
	ctx := context.Background()

	at := time.UnixMilli(1_700_000_000_000).UTC()
	require.NoError(t, buf.Record(ctx, 9, at))
	require.NoError(t, buf.Restore(ctx, []model.APIKeyUsage{{KeyID: 9, Count: 4, LastUsed: at.Add(-time.Hour)}}))

	usage, err := buf.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, int64(5), usage[0].Count)
	assert.Equal(t, at, usage[0].LastUsed)
}
