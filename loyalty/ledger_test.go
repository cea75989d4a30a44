/*
ledger_test.go - Visit and redemption ledger tests

Covers creation rules, queue ordering and the catalog's
referential integrity.
*/
package loyalty_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastianahumada1/Leal/loyalty"
	"github.com/sebastianahumada1/Leal/loyalty/store"
)

// =============================================================================
// VISITS
// =============================================================================

func TestCreateVisit_Pending(t *testing.T) {
	f := newFixture(t)

	v, err := f.Visits.CreateVisit(context.Background(), "u1", decimal.RequireFromString("18500.50"), " bog01 ")
	require.NoError(t, err)
	assert.Equal(t, loyalty.StatusPending, v.Status)
	assert.Equal(t, "BOG01", v.LocationCode)
	assert.Nil(t, v.CollectedBy)
	assert.NotEmpty(t, v.ID)
	assert.Equal(t, 0, f.stamps(t, "u1"))
}

func TestCreateVisit_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		user     loyalty.UserID
		amount   decimal.Decimal
		location string
		field    string
	}{
		{"zero amount", "u1", decimal.Zero, "BOG01", "amount"},
		{"negative amount", "u1", decimal.NewFromInt(-5), "BOG01", "amount"},
		{"over ceiling", "u1", decimal.NewFromInt(1_000_001), "BOG01", "amount"},
		{"no user", "", decimal.NewFromInt(10), "BOG01", "user_id"},
		{"no location", "u1", decimal.NewFromInt(10), "  ", "location_code"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Visits.CreateVisit(ctx, tt.user, tt.amount, tt.location)
			var verr *loyalty.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	pending, err := f.Visits.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCreateVisit_LocationMinimum(t *testing.T) {
	mins, err := loyalty.ParseLocationMinimums("med02:15000")
	require.NoError(t, err)
	svc := loyalty.NewServices(store.NewMemory(), loyalty.WithAmountPolicy(loyalty.AmountPolicy{
		Max:           loyalty.DefaultMaxVisitAmount,
		MinByLocation: mins,
	}))
	ctx := context.Background()

	_, err = svc.Visits.CreateVisit(ctx, "u1", decimal.NewFromInt(9000), "MED02")
	assert.ErrorIs(t, err, loyalty.ErrValidation)

	_, err = svc.Visits.CreateVisit(ctx, "u1", decimal.NewFromInt(9000), "BOG01")
	assert.NoError(t, err)
}

func TestListPending_OldestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.visit(t, "u1")
	b := f.visit(t, "u2")
	c := f.visit(t, "u1")
	_, err := f.Workflow.ApproveVisit(ctx, b.ID, staff)
	require.NoError(t, err)

	pending, err := f.Visits.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, a.ID, pending[0].ID)
	assert.Equal(t, c.ID, pending[1].ID)
}

func TestListHistory_NewestFirstWithLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []loyalty.VisitID
	for i := 0; i < 4; i++ {
		v := f.visit(t, "u1")
		ids = append(ids, v.ID)
	}
	_, err := f.Workflow.ApproveVisit(ctx, ids[0], staff)
	require.NoError(t, err)
	_, err = f.Workflow.RejectVisit(ctx, ids[1], staff)
	require.NoError(t, err)
	_, err = f.Workflow.ApproveVisit(ctx, ids[2], staff)
	require.NoError(t, err)

	history, err := f.Visits.ListHistory(ctx, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, ids[2], history[0].ID)
	assert.Equal(t, ids[1], history[1].ID)
}

func TestGrantVisit_ApprovedImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.Visits.GrantVisit(ctx, "u1", staff, "bog01")
	require.NoError(t, err)
	assert.Equal(t, loyalty.StatusApproved, v.Status)
	assert.True(t, v.Amount.IsZero())
	assert.Equal(t, 1, f.stamps(t, "u1"))

	pending, err := f.Visits.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// =============================================================================
// REDEMPTIONS
// =============================================================================

func TestRequestRedemption_InsufficientCreatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.approvedVisits(t, "u1", 2)
	lunch := f.reward(t, "Lunch", 5)

	_, err := f.Redemptions.RequestRedemption(ctx, "u1", lunch.ID)
	var insufficient *loyalty.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 2, insufficient.Available)
	assert.Equal(t, 5, insufficient.Required)
	assert.Equal(t, 3, insufficient.Shortfall())

	all, err := f.Redemptions.ListForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRequestRedemption_DuplicatePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.approvedVisits(t, "u1", 10)
	coffee := f.reward(t, "Coffee", 2)

	first, err := f.Redemptions.RequestRedemption(ctx, "u1", coffee.ID)
	require.NoError(t, err)

	_, err = f.Redemptions.RequestRedemption(ctx, "u1", coffee.ID)
	var dup *loyalty.DuplicateRequestError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.ID, dup.ExistingID)

	// Another user is not affected.
	f.approvedVisits(t, "u2", 2)
	_, err = f.Redemptions.RequestRedemption(ctx, "u2", coffee.ID)
	assert.NoError(t, err)
}

func TestRequestRedemption_InactiveOrUnknownReward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.approvedVisits(t, "u1", 5)
	coffee := f.reward(t, "Coffee", 1)
	_, err := f.Catalog.SetActive(ctx, coffee.ID, false)
	require.NoError(t, err)

	_, err = f.Redemptions.RequestRedemption(ctx, "u1", coffee.ID)
	assert.ErrorIs(t, err, loyalty.ErrValidation)

	_, err = f.Redemptions.RequestRedemption(ctx, "u1", "missing")
	assert.ErrorIs(t, err, loyalty.ErrNotFound)
}

func TestListApprovedHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.approvedVisits(t, "u1", 6)
	coffee := f.reward(t, "Coffee", 2)
	cake := f.reward(t, "Cake", 2)
	a, err := f.Redemptions.RequestRedemption(ctx, "u1", coffee.ID)
	require.NoError(t, err)
	b, err := f.Redemptions.RequestRedemption(ctx, "u1", cake.ID)
	require.NoError(t, err)
	_, err = f.Workflow.ApproveRedemption(ctx, a.ID, staff)
	require.NoError(t, err)
	_, err = f.Workflow.ApproveRedemption(ctx, b.ID, staff)
	require.NoError(t, err)

	history, err := f.Redemptions.ListApprovedHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, b.ID, history[0].ID)

	pending, err := f.Redemptions.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// =============================================================================
// CATALOG
// =============================================================================

func TestCatalog_CreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.Catalog.CreateReward(ctx, loyalty.RewardInput{Name: "", RequiredStamps: 3})
	assert.ErrorIs(t, err, loyalty.ErrValidation)
	_, err = f.Catalog.CreateReward(ctx, loyalty.RewardInput{Name: "Free", RequiredStamps: 0})
	assert.ErrorIs(t, err, loyalty.ErrValidation)

	r, err := f.Catalog.CreateReward(ctx, loyalty.RewardInput{Name: " Cookie ", RequiredStamps: 1})
	require.NoError(t, err)
	assert.Equal(t, "Cookie", r.Name)
	assert.Equal(t, loyalty.DefaultRewardIcon, r.Icon)
	assert.False(t, r.Active)
}

func TestCatalog_ListCheapestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.reward(t, "Lunch", 10)
	f.reward(t, "Coffee", 3)
	hidden := f.reward(t, "Cake", 5)
	_, err := f.Catalog.SetActive(ctx, hidden.ID, false)
	require.NoError(t, err)

	active, err := f.Catalog.ListRewards(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "Coffee", active[0].Name)
	assert.Equal(t, "Lunch", active[1].Name)

	all, err := f.Catalog.ListRewards(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestCatalog_UpdateReward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := f.reward(t, "Coffee", 3)
	got, err := f.Catalog.UpdateReward(ctx, r.ID, loyalty.RewardInput{
		Name:           "Large coffee",
		RequiredStamps: 4,
		Icon:           "local_cafe",
		Active:         true,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, got.RequiredStamps)
	assert.Equal(t, "local_cafe", got.Icon)
	assert.True(t, got.UpdatedAt.After(r.UpdatedAt))

	_, err = f.Catalog.UpdateReward(ctx, "missing", loyalty.RewardInput{Name: "x", RequiredStamps: 1})
	assert.ErrorIs(t, err, loyalty.ErrNotFound)
}

func TestCatalog_RepriceRecomputesHolders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// GIVEN: u1 has 5 stamps and an approved Coffee(3), u2 never redeemed
	f.approvedVisits(t, "u1", 5)
	f.approvedVisits(t, "u2", 1)
	coffee := f.reward(t, "Coffee", 3)
	cake := f.reward(t, "Cake", 2)
	claim, err := f.Redemptions.RequestRedemption(ctx, "u1", coffee.ID)
	require.NoError(t, err)
	_, err = f.Workflow.ApproveRedemption(ctx, claim.ID, staff)
	require.NoError(t, err)
	require.Equal(t, 2, f.stamps(t, "u1"))
	before, err := f.mem.Revision(ctx)
	require.NoError(t, err)

	// WHEN: Coffee now costs 5
	_, err = f.Catalog.UpdateReward(ctx, coffee.ID, loyalty.RewardInput{
		Name: "Coffee", RequiredStamps: 5, Active: true,
	})
	require.NoError(t, err)

	// THEN: the cached balance follows the ledger and spending is checked against it
	assert.Equal(t, 0, f.stamps(t, "u1"))
	assert.Equal(t, f.ledgerStamps(t, "u1"), f.stamps(t, "u1"))
	assert.Equal(t, 1, f.stamps(t, "u2"))
	after, err := f.mem.Revision(ctx)
	require.NoError(t, err)
	assert.Greater(t, after, before)

	_, err = f.Redemptions.RequestRedemption(ctx, "u1", cake.ID)
	var insufficient *loyalty.InsufficientBalanceError
	assert.ErrorAs(t, err, &insufficient)

	// WHEN: a price that would push u1 below zero
	_, err = f.Catalog.UpdateReward(ctx, coffee.ID, loyalty.RewardInput{
		Name: "Coffee", RequiredStamps: 6, Active: true,
	})

	// THEN: refused and nothing changes
	assert.ErrorIs(t, err, loyalty.ErrValidation)
	got, err := f.Catalog.GetReward(ctx, coffee.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.RequiredStamps)
	assert.Equal(t, 0, f.stamps(t, "u1"))

	// WHEN: it gets cheaper, the stamps come back
	_, err = f.Catalog.UpdateReward(ctx, coffee.ID, loyalty.RewardInput{
		Name: "Coffee", RequiredStamps: 1, Active: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, f.stamps(t, "u1"))
	assert.Equal(t, f.ledgerStamps(t, "u1"), f.stamps(t, "u1"))
}

func TestCatalog_DeleteReferencedReward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// GIVEN: a reward someone requested (even if later rejected)
	f.approvedVisits(t, "u1", 3)
	coffee := f.reward(t, "Coffee", 3)
	claim, err := f.Redemptions.RequestRedemption(ctx, "u1", coffee.ID)
	require.NoError(t, err)
	_, err = f.Workflow.RejectRedemption(ctx, claim.ID, staff)
	require.NoError(t, err)

	// WHEN / THEN: deleting it is refused
	err = f.Catalog.DeleteReward(ctx, coffee.ID)
	var inUse *loyalty.RewardInUseError
	require.ErrorAs(t, err, &inUse)
	assert.Equal(t, 1, inUse.Redemptions)

	// An unreferenced reward can go.
	spare := f.reward(t, "Spare", 1)
	require.NoError(t, f.Catalog.DeleteReward(ctx, spare.ID))
	_, err = f.Catalog.GetReward(ctx, spare.ID)
	assert.ErrorIs(t, err, loyalty.ErrNotFound)
}
