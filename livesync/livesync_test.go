package livesync

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastianahumada1/Leal/loyalty"
	"github.com/sebastianahumada1/Leal/loyalty/store"
)

// =============================================================================
// POLLER
// =============================================================================

func TestPoller_FetchesImmediatelyAndSkipsSameRevision(t *testing.T) {
	var (
		calls atomic.Int32
		rev   atomic.Int64
	)
	rev.Store(1)

	p := NewPoller("test", func(context.Context) (int64, string, error) {
		calls.Add(1)
		return rev.Load(), "data", nil
	})
	p.Interval = time.Hour

	var (
		mu      sync.Mutex
		changes []int64
	)
	p.OnChange = func(s Snapshot[string]) {
		mu.Lock()
		changes = append(changes, s.Revision)
		mu.Unlock()
	}

	ctx := context.Background()
	assert.True(t, p.Refresh(ctx))
	assert.False(t, p.Refresh(ctx), "same revision must not notify")
	rev.Store(2)
	assert.True(t, p.Refresh(ctx))

	snap, ok := p.Latest()
	require.True(t, ok)
	assert.Equal(t, int64(2), snap.Revision)
	assert.Equal(t, "data", snap.Data)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []int64{1, 2}, changes)
}

func TestPoller_RunStopsOnCancelAndHonoursKick(t *testing.T) {
	var calls atomic.Int32
	fetched := make(chan struct{}, 8)
	p := NewPoller("test", func(context.Context) (int64, int, error) {
		n := calls.Add(1)
		fetched <- struct{}{}
		return int64(n), int(n), nil
	})
	p.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// Immediate fetch on start.
	waitFor(t, fetched)

	// Kick triggers an early fetch long before the hourly tick.
	p.Kick()
	waitFor(t, fetched)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestPoller_KeepsLastSnapshotOnError(t *testing.T) {
	fail := false
	p := NewPoller("test", func(context.Context) (int64, int, error) {
		if fail {
			return 0, 0, errors.New("store down")
		}
		return 7, 42, nil
	})
	var seen error
	p.OnError = func(err error) { seen = err }

	ctx := context.Background()
	require.True(t, p.Refresh(ctx))
	fail = true
	assert.False(t, p.Refresh(ctx))
	assert.EqualError(t, seen, "store down")

	snap, ok := p.Latest()
	require.True(t, ok)
	assert.Equal(t, 42, snap.Data)
}

func TestPoller_KickNeverBlocks(t *testing.T) {
	p := NewPoller("test", func(context.Context) (int64, int, error) { return 0, 0, nil })
	for i := 0; i < 100; i++ {
		p.Kick()
	}
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fetch")
	}
}

// =============================================================================
// BROKER
// =============================================================================

func TestMemoryBroker_TopicRouting(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	staff, err := b.Subscribe(ctx, TopicStaff)
	require.NoError(t, err)
	u1, err := b.Subscribe(ctx, UserTopic("u1"))
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, loyalty.Change{Kind: loyalty.KindVisit, UserID: "u2", Revision: 1}))
	require.NoError(t, b.Publish(ctx, loyalty.Change{Kind: loyalty.KindVisit, UserID: "u1", Revision: 2}))

	assert.Equal(t, int64(1), (<-staff).Revision)
	assert.Equal(t, int64(2), (<-staff).Revision)
	assert.Equal(t, int64(2), (<-u1).Revision)
	assert.Empty(t, u1)
}

func TestMemoryBroker_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	ch, err := b.Subscribe(ctx, TopicStaff)
	require.NoError(t, err)

	for i := 0; i < subscriberBuffer*3; i++ {
		require.NoError(t, b.Publish(ctx, loyalty.Change{Revision: int64(i)}))
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestMemoryBroker_UnsubscribeOnCancel(t *testing.T) {
	b := NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := b.Subscribe(ctx, TopicStaff)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
	require.NoError(t, b.Close())
}

// =============================================================================
// END TO END - ledger change kicks the staff queue
// =============================================================================

func TestQueuePoller_FollowsBroker(t *testing.T) {
	broker := NewMemoryBroker()
	defer broker.Close()
	svc := loyalty.NewServices(store.NewMemory(), loyalty.WithPublisher(broker))

	updates := make(chan Snapshot[Queue], 8)
	p := NewPoller("staff-queue", QueueFetcher(svc))
	p.Interval = time.Hour
	p.OnChange = func(s Snapshot[Queue]) { updates <- s }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subscribed := make(chan struct{})
	go func() {
		events, err := broker.Subscribe(ctx, TopicStaff)
		if err != nil {
			return
		}
		close(subscribed)
		for range events {
			p.Kick()
		}
	}()
	<-subscribed
	go p.Run(ctx)

	first := <-updates
	assert.Zero(t, first.Data.Depth())

	// WHEN: a customer claims a visit
	_, err := svc.Visits.CreateVisit(ctx, "u1", decimal.NewFromInt(15000), "BOG01")
	require.NoError(t, err)

	// THEN: the queue refreshes without waiting for the hourly tick
	select {
	case s := <-updates:
		assert.Equal(t, 1, s.Data.Depth())
		assert.Greater(t, s.Revision, first.Revision)
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not refresh")
	}
}

func TestBalanceFetcher(t *testing.T) {
	svc := loyalty.NewServices(store.NewMemory())
	ctx := context.Background()

	_, err := svc.Visits.GrantVisit(ctx, "u1", "staff-1", "BOG01")
	require.NoError(t, err)

	rev, b, err := BalanceFetcher(svc, "u1")(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)
	assert.Equal(t, 1, b.CurrentStamps)
}

// =============================================================================
// REDIS (needs a server)
// =============================================================================

func TestRedisBroker_RoundTrip(t *testing.T) {
	addr := os.Getenv("LEAL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LEAL_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b, err := NewRedisBroker(ctx, addr)
	require.NoError(t, err)
	defer b.Close()

	events, err := b.Subscribe(ctx, UserTopic("u-redis"))
	require.NoError(t, err)

	want := loyalty.Change{Kind: loyalty.KindRedemption, ClaimID: "x1", UserID: "u-redis", Status: loyalty.StatusApproved, Revision: 9}
	require.NoError(t, b.Publish(ctx, want))

	select {
	case got := <-events:
		assert.Equal(t, want, got)
	case <-ctx.Done():
		t.Fatal("no event received")
	}
}
