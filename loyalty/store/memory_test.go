package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastianahumada1/Leal/loyalty"
)

func TestMemory_WithTxRollsBack(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	boom := errors.New("boom")

	err := m.WithTx(ctx, func(s loyalty.Store) error {
		require.NoError(t, s.InsertVisit(ctx, loyalty.VisitClaim{ID: "v1", UserID: "u1", Status: loyalty.StatusPending}))
		require.NoError(t, s.SetBalance(ctx, loyalty.UserBalance{UserID: "u1", CurrentStamps: 3}))
		_, err := s.BumpRevision(ctx)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = m.GetVisit(ctx, "v1")
	assert.ErrorIs(t, err, loyalty.ErrNotFound)
	b, err := m.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, b.CurrentStamps)
	rev, err := m.Revision(ctx)
	require.NoError(t, err)
	assert.Zero(t, rev)
}

func TestMemory_TransitionIsConditional(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.InsertVisit(ctx, loyalty.VisitClaim{ID: "v1", UserID: "u1", Status: loyalty.StatusPending}))

	ok, err := m.TransitionVisit(ctx, "v1", loyalty.StatusPending, loyalty.StatusApproved, "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.TransitionVisit(ctx, "v1", loyalty.StatusPending, loyalty.StatusRejected, "s2")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.TransitionVisit(ctx, "missing", loyalty.StatusPending, loyalty.StatusApproved, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := m.GetVisit(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, loyalty.StatusApproved, v.Status)
	assert.Equal(t, "s1", *v.CollectedBy)
}

func TestMemory_RedemptionCostAndPendingUniqueness(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, m.InsertReward(ctx, loyalty.RewardDefinition{ID: "r1", Name: "Coffee", RequiredStamps: 3, Active: true}))
	require.NoError(t, m.InsertRedemption(ctx, loyalty.RedemptionClaim{ID: "x1", UserID: "u1", RewardID: "r1", Status: loyalty.StatusPending, CreatedAt: now}))

	err := m.InsertRedemption(ctx, loyalty.RedemptionClaim{ID: "x2", UserID: "u1", RewardID: "r1", Status: loyalty.StatusPending, CreatedAt: now})
	assert.ErrorIs(t, err, loyalty.ErrDuplicateRequest)

	ok, err := m.TransitionRedemption(ctx, "x1", loyalty.StatusPending, loyalty.StatusApproved, "s1", &now)
	require.NoError(t, err)
	require.True(t, ok)

	sum, err := m.SumApprovedRedemptionCost(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, sum)

	n, err := m.CountRedemptions(ctx, loyalty.RedemptionFilter{RewardID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	users, err := m.ListUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []loyalty.UserID{"u1"}, users)
}
