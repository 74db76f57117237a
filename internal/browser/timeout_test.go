package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitTimeout_NoDeadlineUsesFallback(t *testing.T) {
	t.Parallel()

	require.Equal(t, 15*time.Second, WaitTimeout(context.Background(), 15*time.Second))
}

func TestWaitTimeout_LongerDeadlineIsNotCapped(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	got := WaitTimeout(ctx, 15*time.Second)
	require.Greater(t, got, 55*time.Second)
	require.LessOrEqual(t, got, 60*time.Second)
}

func TestWaitTimeout_ShorterDeadlineWins(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.LessOrEqual(t, WaitTimeout(ctx, 15*time.Second), 2*time.Second)
}

func TestWaitTimeout_ExpiredDeadline(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	require.Zero(t, WaitTimeout(ctx, 15*time.Second))
}
