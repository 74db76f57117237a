package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/scrape"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type seqIDs struct{ n atomic.Int64 }

func (g *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("sess-%d", g.n.Add(1)), nil
}

type fakeHandle struct {
	closes  atomic.Int32
	err     error
	started chan struct{}
	block   chan struct{}
}

func (h *fakeHandle) Page() scrape.Page { return nil }

func (h *fakeHandle) Close() error {
	h.closes.Add(1)
	if h.started != nil {
		close(h.started)
	}
	if h.block != nil {
		<-h.block
	}
	return h.err
}

func newTestRegistry(ttl time.Duration) (*Registry, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewRegistry(Config{TTL: ttl}, clock, &seqIDs{}, zap.NewNop()), clock
}

func TestRegistry_CreateAndLookup(t *testing.T) {
	t.Parallel()

	reg, clock := newTestRegistry(time.Hour)
	s, err := reg.Create(&fakeHandle{}, "user@example.com")
	require.NoError(t, err)
	require.Equal(t, s.CreatedAt, s.LastUsedAt)
	require.Equal(t, time.Hour, s.Remaining(clock.Now()))

	clock.Advance(10 * time.Minute)
	got, err := reg.Lookup(s.ID)
	require.NoError(t, err)
	require.Equal(t, "user@example.com", got.Owner)
	require.Equal(t, clock.Now(), got.LastUsedAt)
	require.Equal(t, 50*time.Minute, got.Remaining(clock.Now()))
	require.Equal(t, 1, reg.Count())
}

func TestRegistry_LookupUnknown(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(time.Hour)
	_, err := reg.Lookup("nope")
	require.ErrorIs(t, err, scrape.ErrSessionNotFound)
}

func TestRegistry_HeartbeatDoesNotExtendTTL(t *testing.T) {
	t.Parallel()

	reg, clock := newTestRegistry(time.Hour)
	h := &fakeHandle{}
	s, err := reg.Create(h, "owner")
	require.NoError(t, err)

	clock.Advance(40 * time.Minute)
	_, err = reg.Lookup(s.ID)
	require.NoError(t, err)

	// 40 minutes since the last lookup, 80 since creation.
	clock.Advance(40 * time.Minute)
	_, err = reg.Lookup(s.ID)
	require.ErrorIs(t, err, scrape.ErrSessionExpired)
	require.EqualValues(t, 1, h.closes.Load())

	_, err = reg.Lookup(s.ID)
	require.ErrorIs(t, err, scrape.ErrSessionNotFound, "expiry is not reversible")
	require.EqualValues(t, 1, h.closes.Load())
	require.Zero(t, reg.Count())
}

func TestRegistry_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(time.Hour)
	h := &fakeHandle{}
	s, err := reg.Create(h, "owner")
	require.NoError(t, err)

	require.True(t, reg.Close(s.ID))
	require.False(t, reg.Close(s.ID))
	require.EqualValues(t, 1, h.closes.Load())
}

func TestRegistry_TeardownFailureStillRemovesEntry(t *testing.T) {
	t.Parallel()

	reg, clock := newTestRegistry(time.Minute)
	h := &fakeHandle{err: errors.New("browser crashed")}
	s, err := reg.Create(h, "owner")
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	require.Equal(t, 1, reg.Sweep())
	require.Zero(t, reg.Count())
	_, err = reg.Lookup(s.ID)
	require.ErrorIs(t, err, scrape.ErrSessionNotFound)
}

func TestRegistry_SweepOnlyExpired(t *testing.T) {
	t.Parallel()

	reg, clock := newTestRegistry(time.Hour)
	old := &fakeHandle{}
	_, err := reg.Create(old, "a")
	require.NoError(t, err)
	clock.Advance(30 * time.Minute)
	fresh := &fakeHandle{}
	keep, err := reg.Create(fresh, "b")
	require.NoError(t, err)
	clock.Advance(31 * time.Minute)

	require.Equal(t, 1, reg.Sweep())
	require.EqualValues(t, 1, old.closes.Load())
	require.Zero(t, fresh.closes.Load())
	_, err = reg.Lookup(keep.ID)
	require.NoError(t, err)
}

func TestRegistry_TeardownRunsOutsideLock(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(time.Hour)
	slow := &fakeHandle{started: make(chan struct{}), block: make(chan struct{})}
	a, err := reg.Create(slow, "a")
	require.NoError(t, err)
	b, err := reg.Create(&fakeHandle{}, "b")
	require.NoError(t, err)

	closed := make(chan bool)
	go func() { closed <- reg.Close(a.ID) }()
	<-slow.started

	lookedUp := make(chan error)
	go func() {
		_, err := reg.Lookup(b.ID)
		lookedUp <- err
	}()
	select {
	case err := <-lookedUp:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("lookup blocked behind a slow teardown")
	}

	close(slow.block)
	require.True(t, <-closed)
}

func TestRegistry_CheckoutIsExclusive(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(time.Hour)
	s, err := reg.Create(&fakeHandle{}, "owner")
	require.NoError(t, err)

	lease, err := reg.Checkout(s.ID)
	require.NoError(t, err)
	_, err = reg.Checkout(s.ID)
	require.ErrorIs(t, err, scrape.ErrSessionBusy)

	lease.Release()
	lease.Release()
	again, err := reg.Checkout(s.ID)
	require.NoError(t, err)
	again.Release()
}

func TestRegistry_CloseDuringLeaseDefersTeardown(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(time.Hour)
	h := &fakeHandle{}
	s, err := reg.Create(h, "owner")
	require.NoError(t, err)

	lease, err := reg.Checkout(s.ID)
	require.NoError(t, err)
	require.True(t, reg.Close(s.ID))
	require.Zero(t, h.closes.Load(), "browser must stay open while leased")
	_, err = reg.Lookup(s.ID)
	require.ErrorIs(t, err, scrape.ErrSessionNotFound)

	lease.Release()
	require.EqualValues(t, 1, h.closes.Load())
}

func TestRegistry_ExpiryDuringLeaseClosesOnRelease(t *testing.T) {
	t.Parallel()

	reg, clock := newTestRegistry(time.Hour)
	h := &fakeHandle{}
	s, err := reg.Create(h, "owner")
	require.NoError(t, err)
	lease, err := reg.Checkout(s.ID)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	require.Equal(t, 1, reg.Sweep())
	require.Zero(t, h.closes.Load())

	lease.Release()
	require.EqualValues(t, 1, h.closes.Load())
}

func TestRegistry_OnChangeTracksCount(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(time.Hour)
	var last atomic.Int64
	reg.OnChange(func(active int) { last.Store(int64(active)) })

	a, err := reg.Create(&fakeHandle{}, "a")
	require.NoError(t, err)
	_, err = reg.Create(&fakeHandle{}, "b")
	require.NoError(t, err)
	require.EqualValues(t, 2, last.Load())

	reg.Close(a.ID)
	require.EqualValues(t, 1, last.Load())

	reg.CloseAll()
	require.EqualValues(t, 0, last.Load())
	require.Zero(t, reg.Count())
}
