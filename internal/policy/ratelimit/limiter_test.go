package ratelimit

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterSpacesRequestsPerHost(t *testing.T) {
	t.Parallel()

	var observed atomic.Int64
	l := New(Config{RequestsPerSecond: 10, Burst: 1}, func(time.Duration) { observed.Add(1) })
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://www.example.com/ad-library/detail/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://WWW.example.com/ad-library/detail/2"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	require.Equal(t, int64(1), observed.Load())
}

func TestLimiterIndependentHosts(t *testing.T) {
	t.Parallel()

	l := New(Config{RequestsPerSecond: 1, Burst: 1}, nil)
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://a.example.com/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example.com/1"))
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiterHonoursContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RequestsPerSecond: 0.1, Burst: 1}, nil)
	require.NoError(t, l.Wait(context.Background(), "https://example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://example.com"))
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{}, nil)
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "::bad url"))
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)
}
