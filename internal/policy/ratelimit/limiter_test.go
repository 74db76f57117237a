package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestLimiter_PacesSameHost(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://app.example.com/login"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://app.example.com/channels"))
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_HostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, l.Wait(ctx, "https://a.example.com/"))
	require.NoError(t, l.Wait(ctx, "https://b.example.com/"))
}

func TestLimiter_ContextCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.01, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.example.com/"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://slow.example.com/again"))
}

func TestLimiter_HostOverrideAndDefaults(t *testing.T) {
	t.Parallel()

	l := New(Config{Hosts: map[string]float64{"Fast.Example.com": 5}})
	require.Equal(t, rate.Limit(5), l.limiterFor("fast.example.com").Limit())
	require.Equal(t, rate.Inf, l.limiterFor("other.example.com").Limit())
	require.Equal(t, "unknown", hostOf("::not a url"))

	var nilLimiter *Limiter
	require.NoError(t, nilLimiter.Wait(context.Background(), "https://x.example.com"))
}
