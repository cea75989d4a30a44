package sqlite

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastianahumada1/Leal/loyalty"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_VisitRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 10, 30, 0, 123456789, time.UTC)

	v := loyalty.VisitClaim{
		ID:           "v1",
		UserID:       "u1",
		Amount:       decimal.RequireFromString("18500.50"),
		LocationCode: "BOG01",
		Status:       loyalty.StatusPending,
		CreatedAt:    at,
	}
	require.NoError(t, s.InsertVisit(ctx, v))

	got, err := s.GetVisit(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(v.Amount))
	assert.True(t, got.CreatedAt.Equal(at))
	assert.Nil(t, got.CollectedBy)

	_, err = s.GetVisit(ctx, "nope")
	assert.ErrorIs(t, err, loyalty.ErrNotFound)
}

func TestStore_TransitionIsConditional(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertVisit(ctx, loyalty.VisitClaim{
		ID: "v1", UserID: "u1", Amount: decimal.NewFromInt(1), LocationCode: "X",
		Status: loyalty.StatusPending, CreatedAt: time.Now(),
	}))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.TransitionVisit(ctx, "v1", loyalty.StatusPending, loyalty.StatusApproved, "s1")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestStore_ListVisitsOrderingAndFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, status := range []loyalty.Status{loyalty.StatusPending, loyalty.StatusApproved, loyalty.StatusPending, loyalty.StatusRejected} {
		require.NoError(t, s.InsertVisit(ctx, loyalty.VisitClaim{
			ID:           loyalty.VisitID([]string{"a", "b", "c", "d"}[i]),
			UserID:       "u1",
			Amount:       decimal.NewFromInt(10),
			LocationCode: "X",
			Status:       status,
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		}))
	}

	pending, err := s.ListVisits(ctx, loyalty.VisitFilter{Statuses: []loyalty.Status{loyalty.StatusPending}})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, loyalty.VisitID("a"), pending[0].ID)
	assert.Equal(t, loyalty.VisitID("c"), pending[1].ID)

	history, err := s.ListVisits(ctx, loyalty.VisitFilter{
		Statuses: []loyalty.Status{loyalty.StatusApproved, loyalty.StatusRejected},
		Newest:   true,
		Limit:    1,
	})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, loyalty.VisitID("d"), history[0].ID)

	recent, err := s.ListVisits(ctx, loyalty.VisitFilter{Since: base.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestStore_PendingRedemptionUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.InsertReward(ctx, loyalty.RewardDefinition{
		ID: "r1", Name: "Coffee", RequiredStamps: 2, Icon: "redeem", Active: true, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, s.InsertRedemption(ctx, loyalty.RedemptionClaim{
		ID: "x1", UserID: "u1", RewardID: "r1", Status: loyalty.StatusPending, CreatedAt: now,
	}))

	err := s.InsertRedemption(ctx, loyalty.RedemptionClaim{
		ID: "x2", UserID: "u1", RewardID: "r1", Status: loyalty.StatusPending, CreatedAt: now,
	})
	assert.ErrorIs(t, err, loyalty.ErrDuplicateRequest)

	err = s.InsertRedemption(ctx, loyalty.RedemptionClaim{
		ID: "x3", UserID: "u1", RewardID: "missing", Status: loyalty.StatusPending, CreatedAt: now,
	})
	assert.ErrorIs(t, err, loyalty.ErrNotFound)

	// Referenced rewards cannot be deleted at the database level either.
	err = s.DeleteReward(ctx, "r1")
	assert.ErrorIs(t, err, loyalty.ErrRewardInUse)
}

func TestStore_WithTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx loyalty.Store) error {
		require.NoError(t, tx.SetBalance(ctx, loyalty.UserBalance{UserID: "u1", CurrentStamps: 4, UpdatedAt: time.Now()}))
		_, err := tx.BumpRevision(ctx)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	b, err := s.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, b.CurrentStamps)
	rev, err := s.Revision(ctx)
	require.NoError(t, err)
	assert.Zero(t, rev)
}

func TestStore_CorruptTimestampIsAnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// GIVEN: rows whose stored timestamps cannot be parsed
	require.NoError(t, s.InsertVisit(ctx, loyalty.VisitClaim{
		ID: "v1", UserID: "u1", Amount: decimal.NewFromInt(1000),
		LocationCode: "BOG01", Status: loyalty.StatusPending, CreatedAt: time.Now(),
	}))
	require.NoError(t, s.SetBalance(ctx, loyalty.UserBalance{UserID: "u1", CurrentStamps: 1, UpdatedAt: time.Now()}))
	_, err := s.db.ExecContext(ctx, `UPDATE visits SET created_at = 'yesterday' WHERE id = 'v1'`)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `UPDATE user_balances SET updated_at = '' WHERE user_id = 'u1'`)
	require.NoError(t, err)

	// WHEN / THEN: reads fail instead of returning a zero time
	_, err = s.GetVisit(ctx, "v1")
	assert.ErrorIs(t, err, loyalty.ErrStore)
	_, err = s.ListVisits(ctx, loyalty.VisitFilter{UserID: "u1"})
	assert.ErrorIs(t, err, loyalty.ErrStore)
	_, err = s.GetBalance(ctx, "u1")
	assert.ErrorIs(t, err, loyalty.ErrStore)
}

func TestStore_FullCycleThroughServices(t *testing.T) {
	s := newTestStore(t)
	svc := loyalty.NewServices(s)
	ctx := context.Background()

	// GIVEN: 5 approved visits and a 5-stamp reward
	for i := 0; i < 5; i++ {
		v, err := svc.Visits.CreateVisit(ctx, "u1", decimal.NewFromInt(20000), "BOG01")
		require.NoError(t, err)
		_, err = svc.Workflow.ApproveVisit(ctx, v.ID, "staff-1")
		require.NoError(t, err)
	}
	reward, err := svc.Catalog.CreateReward(ctx, loyalty.RewardInput{Name: "Coffee", RequiredStamps: 5, Active: true})
	require.NoError(t, err)

	// WHEN: redeemed and approved
	claim, err := svc.Redemptions.RequestRedemption(ctx, "u1", reward.ID)
	require.NoError(t, err)
	approved, err := svc.Workflow.ApproveRedemption(ctx, claim.ID, "staff-1")
	require.NoError(t, err)
	require.NotNil(t, approved.RedeemedAt)

	// THEN: balance is 0 and the next request is refused
	b, err := svc.Balances.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, b.CurrentStamps)

	_, err = svc.Redemptions.RequestRedemption(ctx, "u1", reward.ID)
	assert.ErrorIs(t, err, loyalty.ErrInsufficientBalance)

	stored, err := s.GetRedemption(ctx, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, loyalty.StatusApproved, stored.Status)
	assert.Equal(t, "staff-1", *stored.ProcessedBy)

	audit, err := s.ListAudit(ctx, loyalty.AuditFilter{ClaimID: string(claim.ID)})
	require.NoError(t, err)
	require.Len(t, audit, 2)
	assert.Equal(t, loyalty.AuditRedemptionApproved, audit[0].Action)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []loyalty.UserID{"u1"}, users)

	rev, err := s.Revision(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(13), rev) // 5 creates + 5 approvals + reward + request + approval
}
