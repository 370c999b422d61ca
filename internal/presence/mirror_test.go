package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func newRedisMirror(t *testing.T) *RedisMirror {
	t.Helper()
	if testing.Short() {
		t.Skip("redis container skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	m, err := NewRedisMirror(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestRedisMirror_RoundTrip(t *testing.T) {
	m := newRedisMirror(t)
	ctx := context.Background()
	at := time.Unix(1_700_000_000, 0)

	require.NoError(t, m.MarkOnline(ctx, 1, at))
	require.NoError(t, m.MarkOnline(ctx, 2, at))
	require.NoError(t, m.MarkOnline(ctx, 2, at), "marking twice is harmless")

	ids, err := m.OnlineUserIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, ids)

	left := at.Add(time.Minute)
	require.NoError(t, m.MarkOffline(ctx, 1, left))

	ids, err = m.OnlineUserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids)

	seen, err := m.client.HGet(ctx, lastSeenKey, "1").Int64()
	require.NoError(t, err)
	assert.Equal(t, left.Unix(), seen)

	require.NoError(t, m.Reset(ctx))
	ids, err = m.OnlineUserIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	seen, err = m.client.HGet(ctx, lastSeenKey, "2").Int64()
	require.NoError(t, err)
	assert.Equal(t, at.Unix(), seen, "reset keeps last-seen history")
}

func TestNewRedisMirror_BadURL(t *testing.T) {
	_, err := NewRedisMirror(context.Background(), "not a url")
	assert.Error(t, err)
}
