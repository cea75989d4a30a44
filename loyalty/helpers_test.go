package loyalty_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sebastianahumada1/Leal/loyalty"
	"github.com/sebastianahumada1/Leal/loyalty/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	staff = "staff-1"
	admin = "admin-1"
)

// stepClock advances one second per reading so createdAt ordering is stable.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// recorder is a Publisher that keeps every change.
type recorder struct {
	mu      sync.Mutex
	changes []loyalty.Change
}

func (r *recorder) Publish(_ context.Context, c loyalty.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
	return nil
}

func (r *recorder) all() []loyalty.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]loyalty.Change(nil), r.changes...)
}

type fixture struct {
	*loyalty.Services
	mem    *store.Memory
	events *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	events := &recorder{}
	svc := loyalty.NewServices(mem,
		loyalty.WithClock(newStepClock().Now),
		loyalty.WithPublisher(events),
	)
	return &fixture{Services: svc, mem: mem, events: events}
}

func (f *fixture) reward(t *testing.T, name string, stamps int) *loyalty.RewardDefinition {
	t.Helper()
	r, err := f.Catalog.CreateReward(context.Background(), loyalty.RewardInput{
		Name:           name,
		RequiredStamps: stamps,
		Active:         true,
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) visit(t *testing.T, user loyalty.UserID) *loyalty.VisitClaim {
	t.Helper()
	v, err := f.Visits.CreateVisit(context.Background(), user, decimal.NewFromInt(25000), "bog01")
	require.NoError(t, err)
	return v
}

// approvedVisits gives user n approved stamps.
func (f *fixture) approvedVisits(t *testing.T, user loyalty.UserID, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		v := f.visit(t, user)
		_, err := f.Workflow.ApproveVisit(context.Background(), v.ID, staff)
		require.NoError(t, err)
	}
}

func (f *fixture) stamps(t *testing.T, user loyalty.UserID) int {
	t.Helper()
	b, err := f.Balances.Balance(context.Background(), user)
	require.NoError(t, err)
	return b.CurrentStamps
}

// ledgerStamps derives the balance straight from the ledger collections.
func (f *fixture) ledgerStamps(t *testing.T, user loyalty.UserID) int {
	t.Helper()
	ctx := context.Background()
	visits, err := f.mem.CountVisits(ctx, user, loyalty.StatusApproved)
	require.NoError(t, err)
	cost, err := f.mem.SumApprovedRedemptionCost(ctx, user)
	require.NoError(t, err)
	return loyalty.Compute(visits, cost)
}
