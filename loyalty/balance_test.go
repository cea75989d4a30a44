package loyalty_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastianahumada1/Leal/loyalty"
	"github.com/sebastianahumada1/Leal/loyalty/store"
)

func TestCompute(t *testing.T) {
	assert.Equal(t, 0, loyalty.Compute(0, 0))
	assert.Equal(t, 7, loyalty.Compute(7, 0))
	assert.Equal(t, 2, loyalty.Compute(7, 5))
}

func TestRecompute_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.approvedVisits(t, "u1", 4)

	first, err := f.Balances.RecomputeBalance(ctx, "u1")
	require.NoError(t, err)
	second, err := f.Balances.RecomputeBalance(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, 4, first)
	assert.Equal(t, first, second)
}

func TestBalance_UnknownUserIsZero(t *testing.T) {
	f := newFixture(t)

	b, err := f.Balances.Balance(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, loyalty.UserID("nobody"), b.UserID)
	assert.Equal(t, 0, b.CurrentStamps)

	_, err = f.Balances.Balance(context.Background(), "")
	assert.ErrorIs(t, err, loyalty.ErrValidation)
}

func TestReconcile_CorrectsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// GIVEN: two users, one of them with a tampered cache
	f.approvedVisits(t, "u1", 3)
	f.approvedVisits(t, "u2", 1)
	require.NoError(t, f.mem.SetBalance(ctx, loyalty.UserBalance{UserID: "u1", CurrentStamps: 9}))
	before, err := f.Store.Revision(ctx)
	require.NoError(t, err)

	// WHEN: the sweep runs
	report, err := f.Balances.Reconcile(ctx)

	// THEN: the drift is fixed, audited and the revision moved
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	require.Len(t, report.Corrected, 1)
	assert.Equal(t, loyalty.Drift{UserID: "u1", Cached: 9, Computed: 3}, report.Corrected[0])
	assert.Greater(t, report.Revision, before)
	assert.Equal(t, 3, f.stamps(t, "u1"))

	entries, err := f.Store.ListAudit(ctx, loyalty.AuditFilter{
		UserID:  "u1",
		Actions: []loyalty.AuditAction{loyalty.AuditBalanceCorrected},
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "system", entries[0].ActorID)
	assert.Equal(t, "cached 9, ledger 3", entries[0].Reason)
}

func TestReconcile_NoDriftNoRevision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.approvedVisits(t, "u1", 2)

	report, err := f.Balances.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Empty(t, report.Corrected)
	assert.Zero(t, report.Revision)
}

// bumpFails rolls back every transaction at its revision bump.
type bumpFails struct{ *store.Memory }

type bumpFailsTx struct{ loyalty.Store }

func (bumpFailsTx) BumpRevision(context.Context) (int64, error) {
	return 0, errors.New("revision unavailable")
}

func (b bumpFails) WithTx(ctx context.Context, fn func(loyalty.Store) error) error {
	return b.Memory.WithTx(ctx, func(s loyalty.Store) error {
		return fn(bumpFailsTx{s})
	})
}

func TestReconcile_RolledBackCorrectionNotReported(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// GIVEN: a tampered cache and a store that cannot commit the fix
	f.approvedVisits(t, "u1", 3)
	require.NoError(t, f.mem.SetBalance(ctx, loyalty.UserBalance{UserID: "u1", CurrentStamps: 9}))
	calc := &loyalty.BalanceCalculator{Store: bumpFails{f.mem}}

	// WHEN: the sweep runs
	report, err := calc.Reconcile(ctx)

	// THEN: the failure surfaces and the report claims nothing
	require.Error(t, err)
	assert.Empty(t, report.Corrected)
	assert.Zero(t, report.Revision)
	assert.Zero(t, report.Checked)
	assert.Equal(t, 9, f.stamps(t, "u1"))

	entries, err := f.mem.ListAudit(ctx, loyalty.AuditFilter{
		Actions: []loyalty.AuditAction{loyalty.AuditBalanceCorrected},
	})
	require.NoError(t, err)
	assert.Empty(t, entries)
}
